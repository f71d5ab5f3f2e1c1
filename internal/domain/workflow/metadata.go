package workflow

import (
	"encoding/json"
	"fmt"
	"time"
)

// TimeTriggerMeta configures a repeating time trigger. Either Time+Unit or a
// cron Expression must be set.
type TimeTriggerMeta struct {
	Time       int    `json:"time"`
	Unit       string `json:"unit"`
	Expression string `json:"expression,omitempty"`
}

// Interval converts the configured value and unit into a duration. A zero or
// missing value is ErrInvalidInterval unless a cron expression is present.
func (m *TimeTriggerMeta) Interval() (time.Duration, error) {
	if m.Time <= 0 {
		return 0, ErrInvalidInterval
	}

	unit := m.Unit
	if unit == "" {
		unit = "seconds"
	}

	switch unit {
	case "seconds":
		return time.Duration(m.Time) * time.Second, nil
	case "minutes":
		return time.Duration(m.Time) * time.Minute, nil
	case "hours":
		return time.Duration(m.Time) * time.Hour, nil
	case "days":
		return time.Duration(m.Time) * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("%w: unknown time unit %q", ErrInvalidInterval, unit)
	}
}

// Comparison operators for price triggers.
const (
	OperatorGTE = ">="
	OperatorLTE = "<="
	OperatorGT  = ">"
	OperatorLT  = "<"
	OperatorEQ  = "=="
)

// PriceTriggerMeta configures a one-shot price trigger.
type PriceTriggerMeta struct {
	Asset    string  `json:"asset"`
	Price    float64 `json:"price"`
	Exchange string  `json:"exchange,omitempty"`
	Operator string  `json:"operator,omitempty"`
}

// Validate checks the required fields. Operator defaults to <= (reach or
// cross below), matching the original one-shot semantic.
func (m *PriceTriggerMeta) Validate() error {
	if m.Asset == "" {
		return fmt.Errorf("price trigger has no asset")
	}
	if m.Price <= 0 {
		return fmt.Errorf("price trigger has no target price")
	}
	switch m.Operator {
	case "", OperatorGTE, OperatorLTE, OperatorGT, OperatorLT, OperatorEQ:
		return nil
	default:
		return fmt.Errorf("unknown price operator %q", m.Operator)
	}
}

// Evaluate reports whether current satisfies the trigger condition against
// the target price. Equality allows a small relative tolerance.
func (m *PriceTriggerMeta) Evaluate(current float64) bool {
	const equalityTolerance = 1e-6

	switch m.Operator {
	case OperatorGTE:
		return current >= m.Price
	case OperatorGT:
		return current > m.Price
	case OperatorLT:
		return current < m.Price
	case OperatorEQ:
		diff := current - m.Price
		if diff < 0 {
			diff = -diff
		}
		return diff <= m.Price*equalityTolerance
	default:
		return current <= m.Price
	}
}

// Order sides.
const (
	SideLong  = "LONG"
	SideShort = "SHORT"
)

// TradeMeta configures an exchange action node.
type TradeMeta struct {
	Side         string  `json:"type"`
	Quantity     float64 `json:"quantity"`
	Symbol       string  `json:"symbol"`
	CredentialID string  `json:"credentialId,omitempty"`
}

func (m *TradeMeta) Validate() error {
	if m.Symbol == "" {
		return fmt.Errorf("action has no symbol")
	}
	if m.Quantity <= 0 {
		return fmt.Errorf("action has no quantity")
	}
	if m.Side != SideLong && m.Side != SideShort {
		return fmt.Errorf("unknown order side %q", m.Side)
	}
	return nil
}

// NotificationMeta configures a notification action node.
type NotificationMeta struct {
	Channel string `json:"channel"`
	Message string `json:"message"`
}

func (m *NotificationMeta) Validate() error {
	if m.Channel == "" {
		return fmt.Errorf("notification has no channel")
	}
	if m.Message == "" {
		return fmt.Errorf("notification has no message")
	}
	return nil
}

// DecodeTimeTrigger decodes the node's metadata as a time trigger config.
func (n *Node) DecodeTimeTrigger() (*TimeTriggerMeta, error) {
	if n.Type != NodeTypeTime {
		return nil, fmt.Errorf("%w: node %s is %q, not a time trigger", ErrUnknownNodeType, n.NodeID, n.Type)
	}
	var meta TimeTriggerMeta
	if err := json.Unmarshal(n.MetaData, &meta); err != nil {
		return nil, fmt.Errorf("invalid time trigger metadata on node %s: %w", n.NodeID, err)
	}
	return &meta, nil
}

// DecodePriceTrigger decodes the node's metadata as a price trigger config.
func (n *Node) DecodePriceTrigger() (*PriceTriggerMeta, error) {
	if n.Type != NodeTypePrice {
		return nil, fmt.Errorf("%w: node %s is %q, not a price trigger", ErrUnknownNodeType, n.NodeID, n.Type)
	}
	var meta PriceTriggerMeta
	if err := json.Unmarshal(n.MetaData, &meta); err != nil {
		return nil, fmt.Errorf("invalid price trigger metadata on node %s: %w", n.NodeID, err)
	}
	if err := meta.Validate(); err != nil {
		return nil, fmt.Errorf("node %s: %w", n.NodeID, err)
	}
	return &meta, nil
}

// DecodeTrade decodes the node's metadata as an exchange order config.
func (n *Node) DecodeTrade() (*TradeMeta, error) {
	if n.Kind != NodeKindAction {
		return nil, fmt.Errorf("%w: node %s is not an action", ErrUnknownNodeKind, n.NodeID)
	}
	var meta TradeMeta
	if err := json.Unmarshal(n.MetaData, &meta); err != nil {
		return nil, fmt.Errorf("invalid trade metadata on node %s: %w", n.NodeID, err)
	}
	if err := meta.Validate(); err != nil {
		return nil, fmt.Errorf("node %s: %w", n.NodeID, err)
	}
	return &meta, nil
}

// DecodeNotification decodes the node's metadata as a notification config.
func (n *Node) DecodeNotification() (*NotificationMeta, error) {
	if n.Kind != NodeKindAction || n.Type != NodeTypeNotification {
		return nil, fmt.Errorf("%w: node %s is not a notification action", ErrUnknownNodeType, n.NodeID)
	}
	var meta NotificationMeta
	if err := json.Unmarshal(n.MetaData, &meta); err != nil {
		return nil, fmt.Errorf("invalid notification metadata on node %s: %w", n.NodeID, err)
	}
	if err := meta.Validate(); err != nil {
		return nil, fmt.Errorf("node %s: %w", n.NodeID, err)
	}
	return &meta, nil
}
