package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/tradeflow-go/internal/domain/workflow"
)

// executeTrigger handles the root node of a run. Timer and manual firings
// synthesize their output; price firings either echo the monitor's payload
// or, when run manually, validate the condition against a live price.
func (e *Engine) executeTrigger(ctx context.Context, node *workflow.Node, payload *workflow.TriggerPayload) (map[string]interface{}, error) {
	switch node.Type {
	case workflow.NodeTypeTime:
		return e.timeTriggerOutput(node, payload)
	case workflow.NodeTypePrice:
		return e.priceTriggerOutput(ctx, node, payload)
	default:
		return nil, fmt.Errorf("%w: trigger type %q on node %s", workflow.ErrUnknownNodeType, node.Type, node.NodeID)
	}
}

func (e *Engine) timeTriggerOutput(node *workflow.Node, payload *workflow.TriggerPayload) (map[string]interface{}, error) {
	meta, err := node.DecodeTimeTrigger()
	if err != nil {
		return nil, err
	}

	output := map[string]interface{}{
		"type":        workflow.NodeTypeTime,
		"time":        meta.Time,
		"unit":        meta.Unit,
		"triggeredAt": time.Now().UTC().Format(time.RFC3339),
	}
	if payload != nil {
		output["triggeredBy"] = string(payload.TriggeredBy)
		output["missed"] = payload.Missed
	}

	return output, nil
}

func (e *Engine) priceTriggerOutput(ctx context.Context, node *workflow.Node, payload *workflow.TriggerPayload) (map[string]interface{}, error) {
	meta, err := node.DecodePriceTrigger()
	if err != nil {
		return nil, err
	}
	if err := meta.Validate(); err != nil {
		return nil, err
	}

	// The monitor already observed the crossing; trust its snapshot.
	if payload != nil && payload.TriggeredBy == workflow.TriggeredByPrice {
		return map[string]interface{}{
			"type":         workflow.NodeTypePrice,
			"asset":        meta.Asset,
			"currentPrice": payload.CurrentPrice,
			"targetPrice":  payload.TargetPrice,
			"operator":     meta.Operator,
			"triggered":    true,
			"triggeredAt":  payload.Timestamp.UTC().Format(time.RFC3339),
		}, nil
	}

	// Manual or timer-driven run of a price-trigger workflow: check the
	// condition against the current market before letting children run.
	exchange := meta.Exchange
	if exchange == "" {
		exchange = e.defaultExchange
	}

	current, err := e.feed.FetchPrice(ctx, exchange, meta.Asset)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch price for %s: %w", meta.Asset, err)
	}
	if !meta.Evaluate(current) {
		return nil, fmt.Errorf("price condition not met for %s: current %.8f, want %s %.8f",
			meta.Asset, current, meta.Operator, meta.Price)
	}

	return map[string]interface{}{
		"type":         workflow.NodeTypePrice,
		"asset":        meta.Asset,
		"currentPrice": current,
		"targetPrice":  meta.Price,
		"operator":     meta.Operator,
		"triggered":    true,
		"triggeredAt":  time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// executeAction runs an action node: notification nodes send their message,
// every other type places an order on the exchange it names.
func (e *Engine) executeAction(ctx context.Context, node *workflow.Node, input interface{}) (map[string]interface{}, error) {
	if node.Type == workflow.NodeTypeNotification {
		return e.executeNotification(ctx, node, input)
	}

	meta, err := node.DecodeTrade()
	if err != nil {
		return nil, err
	}

	exchange := node.Type
	credentialID := node.CredentialID
	if credentialID == "" {
		credentialID = meta.CredentialID
	}

	price, err := e.feed.FetchPrice(ctx, e.defaultExchange, meta.Symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch price for %s: %w", meta.Symbol, err)
	}

	result, err := e.orders.Place(ctx, exchange, credentialID, meta, price)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"type":          "order",
		"exchange":      exchange,
		"symbol":        meta.Symbol,
		"side":          meta.Side,
		"quantity":      meta.Quantity,
		"price":         price,
		"orderId":       result.OrderID,
		"executedPrice": result.ExecutedPrice,
		"status":        result.Status,
		"placedAt":      time.Now().UTC().Format(time.RFC3339),
	}, nil
}

func (e *Engine) executeNotification(ctx context.Context, node *workflow.Node, input interface{}) (map[string]interface{}, error) {
	meta, err := node.DecodeNotification()
	if err != nil {
		return nil, err
	}
	if e.notifier == nil {
		return nil, fmt.Errorf("no notifier configured for node %s", node.NodeID)
	}

	data, _ := input.(map[string]interface{})
	if err := e.notifier.Send(ctx, meta.Channel, meta.Message, data); err != nil {
		return nil, fmt.Errorf("failed to send %s notification: %w", meta.Channel, err)
	}

	return map[string]interface{}{
		"type":    workflow.NodeTypeNotification,
		"channel": meta.Channel,
		"message": meta.Message,
		"sent":    true,
		"sentAt":  time.Now().UTC().Format(time.RFC3339),
	}, nil
}
