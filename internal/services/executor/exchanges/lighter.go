package exchanges

import (
	"context"
	"fmt"
	"time"

	"github.com/tradeflow-go/internal/services/executor/dispatch"
	"github.com/tradeflow-go/pkg/logger"
)

// Lighter is the Lighter exchange adapter. The venue's signed-order API is
// not wired yet; orders are acknowledged locally as immediate fills.
// TODO: replace with real Lighter REST calls once API keys are provisioned.
type Lighter struct {
	logger logger.Logger
}

func NewLighter(logger logger.Logger) *Lighter {
	return &Lighter{logger: logger}
}

func (l *Lighter) PlaceOrder(ctx context.Context, req dispatch.OrderRequest) (*dispatch.OrderResult, error) {
	if req.Keys == nil || req.Keys.APIKey == "" {
		return nil, fmt.Errorf("lighter order requires an api key")
	}

	l.logger.Info("Placing Lighter order", "symbol", req.Symbol, "side", req.Side, "quantity", req.Quantity)

	return &dispatch.OrderResult{
		OrderID:       fmt.Sprintf("LT-%d", time.Now().UnixMilli()),
		ExecutedPrice: req.Price,
		Status:        "filled",
	}, nil
}
