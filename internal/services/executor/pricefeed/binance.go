package pricefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tradeflow-go/pkg/logger"
	"github.com/tradeflow-go/pkg/metrics"
	"github.com/tradeflow-go/pkg/resilience"
	"golang.org/x/time/rate"
)

// ErrSymbolNotFound is returned when the feed does not know the asset.
var ErrSymbolNotFound = errors.New("symbol not found on feed")

// Feed is a source of current prices for an asset symbol.
type Feed interface {
	FetchPrice(ctx context.Context, symbol string) (float64, error)
}

const binanceTickerURL = "https://api.binance.com/api/v3/ticker/price"

// BinanceFeed fetches spot prices from the Binance public ticker. Assets are
// quoted against USDT, matching the editor's asset list.
type BinanceFeed struct {
	client  *http.Client
	breaker *resilience.CircuitBreaker
	limiter *rate.Limiter
	baseURL string
	logger  logger.Logger
}

func NewBinanceFeed(timeout time.Duration, logger logger.Logger) *BinanceFeed {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &BinanceFeed{
		client:  &http.Client{Timeout: timeout},
		breaker: resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig("binance-feed")),
		// Binance allows far more, this just keeps a runaway poll loop polite
		limiter: rate.NewLimiter(rate.Limit(10), 20),
		baseURL: binanceTickerURL,
		logger:  logger,
	}
}

func (f *BinanceFeed) FetchPrice(ctx context.Context, symbol string) (float64, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	result, err := f.breaker.ExecuteWithContext(ctx, func(ctx context.Context) (interface{}, error) {
		return f.fetch(ctx, symbol)
	})
	if err != nil {
		metrics.PriceFetchesTotal.WithLabelValues("binance", "error").Inc()
		return 0, err
	}

	metrics.PriceFetchesTotal.WithLabelValues("binance", "ok").Inc()
	return result.(float64), nil
}

func (f *BinanceFeed) fetch(ctx context.Context, symbol string) (float64, error) {
	endpoint := fmt.Sprintf("%s?symbol=%s", f.baseURL, url.QueryEscape(symbol+"USDT"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create feed request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("price fetch failed for %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusBadRequest {
		return 0, fmt.Errorf("%w: %s", ErrSymbolNotFound, symbol)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("feed returned status %d for %s", resp.StatusCode, symbol)
	}

	var ticker struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ticker); err != nil {
		return 0, fmt.Errorf("failed to decode ticker response: %w", err)
	}

	price, err := strconv.ParseFloat(ticker.Price, 64)
	if err != nil {
		return 0, fmt.Errorf("feed returned unparseable price %q: %w", ticker.Price, err)
	}

	return price, nil
}
