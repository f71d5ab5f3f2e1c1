package dispatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/tradeflow-go/internal/domain/credential"
	"github.com/tradeflow-go/internal/domain/workflow"
	"github.com/tradeflow-go/pkg/logger"
	"github.com/tradeflow-go/pkg/metrics"
)

// OrderRequest is the uniform order shape handed to an exchange adapter.
type OrderRequest struct {
	Symbol   string
	Side     string
	Quantity float64
	Price    float64
	Keys     *credential.KeyMaterial
}

// OrderResult is what an exchange reports back for a placed order.
type OrderResult struct {
	OrderID       string  `json:"orderId"`
	ExecutedPrice float64 `json:"executedPrice"`
	Status        string  `json:"status"`
}

// Exchange is one exchange's order-placement capability. Implementations are
// external collaborators: possibly slow, possibly failing, never retried
// here.
type Exchange interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)
}

// Resolver turns a credential reference into decrypted key material.
type Resolver interface {
	Resolve(ctx context.Context, credentialID, expectedType string) (*credential.KeyMaterial, error)
}

// Dispatcher maps an action node's exchange type to the matching adapter,
// resolving credentials first.
type Dispatcher struct {
	mu        sync.RWMutex
	exchanges map[string]Exchange
	resolver  Resolver
	logger    logger.Logger
}

func NewDispatcher(resolver Resolver, logger logger.Logger) *Dispatcher {
	return &Dispatcher{
		exchanges: make(map[string]Exchange),
		resolver:  resolver,
		logger:    logger,
	}
}

// Register adds an exchange adapter under its node type.
func (d *Dispatcher) Register(exchangeType string, exchange Exchange) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.exchanges[exchangeType] = exchange
}

// Place resolves the credential scoped to the node's exchange type and
// delegates to the matching adapter. Failures propagate to the caller as
// node failures.
func (d *Dispatcher) Place(ctx context.Context, exchangeType, credentialID string, meta *workflow.TradeMeta, price float64) (*OrderResult, error) {
	d.mu.RLock()
	exchange, ok := d.exchanges[exchangeType]
	d.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported exchange: %s", exchangeType)
	}

	keys, err := d.resolver.Resolve(ctx, credentialID, exchangeType)
	if err != nil {
		return nil, err
	}

	d.logger.Info("Placing order",
		"exchange", exchangeType,
		"symbol", meta.Symbol,
		"side", meta.Side,
		"quantity", meta.Quantity,
	)

	result, err := exchange.PlaceOrder(ctx, OrderRequest{
		Symbol:   meta.Symbol,
		Side:     meta.Side,
		Quantity: meta.Quantity,
		Price:    price,
		Keys:     keys,
	})
	if err != nil {
		metrics.OrdersPlacedTotal.WithLabelValues(exchangeType, "error").Inc()
		return nil, fmt.Errorf("failed to place %s order: %w", exchangeType, err)
	}

	metrics.OrdersPlacedTotal.WithLabelValues(exchangeType, result.Status).Inc()
	return result, nil
}
