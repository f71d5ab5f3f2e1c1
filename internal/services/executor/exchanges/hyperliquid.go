package exchanges

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/tradeflow-go/internal/domain/workflow"
	"github.com/tradeflow-go/internal/services/executor/dispatch"
	"github.com/tradeflow-go/pkg/logger"
)

const hyperliquidExchangeURL = "https://api.hyperliquid.xyz/exchange"

// Hyperliquid places limit orders on the Hyperliquid perp DEX.
type Hyperliquid struct {
	client  *http.Client
	baseURL string
	logger  logger.Logger
}

func NewHyperliquid(timeout time.Duration, logger logger.Logger) *Hyperliquid {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Hyperliquid{
		client:  &http.Client{Timeout: timeout},
		baseURL: hyperliquidExchangeURL,
		logger:  logger,
	}
}

type hyperliquidOrder struct {
	Coin       string                 `json:"coin"`
	IsBuy      bool                   `json:"is_buy"`
	Size       float64                `json:"sz"`
	LimitPrice float64                `json:"limit_px"`
	OrderType  map[string]interface{} `json:"order_type"`
	ReduceOnly bool                   `json:"reduce_only"`
}

type hyperliquidResponse struct {
	Status   string `json:"status"`
	Response struct {
		Data struct {
			Statuses []struct {
				Resting *struct {
					OID int64 `json:"oid"`
				} `json:"resting"`
				Filled *struct {
					OID      int64  `json:"oid"`
					AvgPrice string `json:"avgPx"`
				} `json:"filled"`
				Error string `json:"error"`
			} `json:"statuses"`
		} `json:"data"`
	} `json:"response"`
}

func (h *Hyperliquid) PlaceOrder(ctx context.Context, req dispatch.OrderRequest) (*dispatch.OrderResult, error) {
	order := hyperliquidOrder{
		Coin:       req.Symbol,
		IsBuy:      req.Side != workflow.SideShort,
		Size:       req.Quantity,
		LimitPrice: req.Price,
		OrderType:  map[string]interface{}{"limit": map[string]string{"tif": "Gtc"}},
		ReduceOnly: false,
	}

	payload := map[string]interface{}{
		"action": map[string]interface{}{
			"type":   "order",
			"orders": []hyperliquidOrder{order},
		},
		"wallet": req.Keys.WalletAddress,
		"nonce":  time.Now().UnixMilli(),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal order: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create order request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+req.Keys.APIKey)

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("hyperliquid request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("hyperliquid returned status %d", resp.StatusCode)
	}

	var decoded hyperliquidResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode hyperliquid response: %w", err)
	}

	result := &dispatch.OrderResult{
		OrderID:       fmt.Sprintf("HL-%d", time.Now().UnixMilli()),
		ExecutedPrice: req.Price,
		Status:        "pending",
	}

	statuses := decoded.Response.Data.Statuses
	if len(statuses) > 0 {
		s := statuses[0]
		if s.Error != "" {
			return nil, fmt.Errorf("hyperliquid rejected order: %s", s.Error)
		}
		if s.Filled != nil {
			result.OrderID = fmt.Sprintf("HL-%d", s.Filled.OID)
			result.Status = "filled"
		} else if s.Resting != nil {
			result.OrderID = fmt.Sprintf("HL-%d", s.Resting.OID)
		}
	}

	return result, nil
}
