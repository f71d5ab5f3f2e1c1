package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Vault    VaultConfig    `mapstructure:"vault"`
	Executor ExecutorConfig `mapstructure:"executor"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

type ServerConfig struct {
	Port            int `mapstructure:"port"`
	ReadTimeout     int `mapstructure:"read_timeout"`
	WriteTimeout    int `mapstructure:"write_timeout"`
	ShutdownTimeout int `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Name         string `mapstructure:"name"`
	SSLMode      string `mapstructure:"ssl_mode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type VaultConfig struct {
	EncryptionKey string `mapstructure:"encryption_key"`
}

// ExecutorConfig holds the tunables of the scheduling and monitoring loops.
type ExecutorConfig struct {
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	PriceCacheTTL     time.Duration `mapstructure:"price_cache_ttl"`
	SyncInterval      time.Duration `mapstructure:"sync_interval"`
	PriceFetchTimeout time.Duration `mapstructure:"price_fetch_timeout"`
	OrderTimeout      time.Duration `mapstructure:"order_timeout"`
	DefaultExchange   string        `mapstructure:"default_exchange"`
}

type LoggerConfig struct {
	Level     string `mapstructure:"level"`
	Format    string `mapstructure:"format"`
	Output    string `mapstructure:"output"`
	AddCaller bool   `mapstructure:"add_caller"`
}

func Load(serviceName string) (*Config, error) {
	viper.SetConfigName(serviceName)
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("/etc/tradeflow")

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.SetEnvPrefix("TRADEFLOW")

	if err := viper.ReadInConfig(); err != nil {
		// Config file is optional, defaults and env vars cover the rest
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8090)
	viper.SetDefault("server.read_timeout", 30)
	viper.SetDefault("server.write_timeout", 30)
	viper.SetDefault("server.shutdown_timeout", 30)

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "tradeflow")
	viper.SetDefault("database.password", "tradeflow123")
	viper.SetDefault("database.name", "tradeflow")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 25)

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 10)

	viper.SetDefault("kafka.brokers", []string{})
	viper.SetDefault("kafka.topic", "tradeflow.events")

	viper.SetDefault("executor.poll_interval", 10*time.Second)
	viper.SetDefault("executor.price_cache_ttl", 5*time.Second)
	viper.SetDefault("executor.sync_interval", 30*time.Second)
	viper.SetDefault("executor.price_fetch_timeout", 5*time.Second)
	viper.SetDefault("executor.order_timeout", 15*time.Second)
	viper.SetDefault("executor.default_exchange", "binance")

	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.format", "json")
	viper.SetDefault("logger.output", "stdout")
	viper.SetDefault("logger.add_caller", true)
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
