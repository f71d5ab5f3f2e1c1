package exchanges

import (
	"context"
	"fmt"
	"time"

	"github.com/tradeflow-go/internal/services/executor/dispatch"
	"github.com/tradeflow-go/pkg/logger"
)

// Backpack is the Backpack exchange adapter. Same status as Lighter: orders
// are acknowledged locally until the signed API integration lands.
type Backpack struct {
	logger logger.Logger
}

func NewBackpack(logger logger.Logger) *Backpack {
	return &Backpack{logger: logger}
}

func (b *Backpack) PlaceOrder(ctx context.Context, req dispatch.OrderRequest) (*dispatch.OrderResult, error) {
	if req.Keys == nil || req.Keys.APIKey == "" {
		return nil, fmt.Errorf("backpack order requires an api key")
	}

	b.logger.Info("Placing Backpack order", "symbol", req.Symbol, "side", req.Side, "quantity", req.Quantity)

	return &dispatch.OrderResult{
		OrderID:       fmt.Sprintf("BP-%d", time.Now().UnixMilli()),
		ExecutedPrice: req.Price,
		Status:        "filled",
	}, nil
}
