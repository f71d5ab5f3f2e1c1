package notify

import (
	"context"
	"fmt"
	"sync"

	"github.com/tradeflow-go/pkg/logger"
	"github.com/tradeflow-go/pkg/metrics"
)

// Channel delivers one notification to its surface.
type Channel interface {
	Send(ctx context.Context, message string, data map[string]interface{}) error
}

// Notifier routes a notification action to the channel its node names.
type Notifier struct {
	mu       sync.RWMutex
	channels map[string]Channel
	logger   logger.Logger
}

func New(log logger.Logger) *Notifier {
	return &Notifier{
		channels: make(map[string]Channel),
		logger:   log,
	}
}

// Register makes a channel available under the given name.
func (n *Notifier) Register(name string, channel Channel) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.channels[name] = channel
}

// Send delivers message via the named channel, handing the triggering node's
// output along as context.
func (n *Notifier) Send(ctx context.Context, channel, message string, data map[string]interface{}) error {
	n.mu.RLock()
	ch, ok := n.channels[channel]
	n.mu.RUnlock()

	if !ok {
		metrics.NotificationsSentTotal.WithLabelValues(channel, "unsupported").Inc()
		return fmt.Errorf("unsupported notification channel %q", channel)
	}

	if err := ch.Send(ctx, message, data); err != nil {
		metrics.NotificationsSentTotal.WithLabelValues(channel, "failure").Inc()
		return err
	}

	metrics.NotificationsSentTotal.WithLabelValues(channel, "success").Inc()
	n.logger.Info("Notification sent", "channel", channel, "message", message)
	return nil
}

// EmailChannel logs the delivery. SMTP transport is not wired yet.
type EmailChannel struct {
	logger logger.Logger
}

func NewEmailChannel(log logger.Logger) *EmailChannel {
	return &EmailChannel{logger: log}
}

func (c *EmailChannel) Send(ctx context.Context, message string, data map[string]interface{}) error {
	c.logger.Info("Sending email notification", "message", message, "data", data)
	return nil
}

// TelegramChannel logs the delivery. Bot API transport is not wired yet.
type TelegramChannel struct {
	logger logger.Logger
}

func NewTelegramChannel(log logger.Logger) *TelegramChannel {
	return &TelegramChannel{logger: log}
}

func (c *TelegramChannel) Send(ctx context.Context, message string, data map[string]interface{}) error {
	c.logger.Info("Sending telegram notification", "message", message, "data", data)
	return nil
}
