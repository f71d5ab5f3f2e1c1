package workflow

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrWorkflowNotFound     = errors.New("workflow not found")
	ErrWorkflowInactive     = errors.New("workflow is not active")
	ErrNoTriggerNode        = errors.New("no trigger node found")
	ErrMultipleTriggerNodes = errors.New("workflow has more than one trigger node")
	ErrNodeNotFound         = errors.New("node not found")
	ErrCycleDetected        = errors.New("workflow graph contains a cycle")
	ErrInvalidInterval      = errors.New("trigger has no valid interval")
	ErrUnknownNodeKind      = errors.New("unknown node kind")
	ErrUnknownNodeType      = errors.New("unknown node type")
)

type Workflow struct {
	ID             string     `json:"id" gorm:"primaryKey"`
	Name           string     `json:"name" gorm:"not null"`
	Description    string     `json:"description"`
	UserID         string     `json:"userId" gorm:"index"`
	Active         bool       `json:"active" gorm:"default:false;index"`
	Tags           []string   `json:"tags" gorm:"serializer:json"`
	LastExecutedAt *time.Time `json:"lastExecutedAt"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt" gorm:"index"`
}

// NodeKind discriminates entry points from effects.
type NodeKind string

const (
	NodeKindTrigger NodeKind = "TRIGGER"
	NodeKindAction  NodeKind = "ACTION"
)

// Node types. Trigger nodes carry the condition variant, action nodes the
// exchange they place orders on or the notification they send.
const (
	NodeTypeTime  = "time"
	NodeTypePrice = "price"

	NodeTypeHyperliquid = "hyperliquid"
	NodeTypeLighter     = "lighter"
	NodeTypeBackpack    = "backpack"

	NodeTypeNotification = "notification"
)

// Node belongs to exactly one workflow. NodeID is the stable id the editor
// assigns and edges reference; ID is the persistence key.
type Node struct {
	ID           string          `json:"-" gorm:"primaryKey"`
	WorkflowID   string          `json:"workflowId" gorm:"not null;index"`
	NodeID       string          `json:"id" gorm:"not null;index"`
	Title        string          `json:"title"`
	Kind         NodeKind        `json:"kind" gorm:"not null"`
	Type         string          `json:"type" gorm:"not null"`
	MetaData     json.RawMessage `json:"metaData" gorm:"type:jsonb"`
	CredentialID string          `json:"credentialId"`
	Position     Position        `json:"position" gorm:"embedded;embeddedPrefix:position_"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Edge is a directed arc between two node ids, scoped to a workflow.
type Edge struct {
	ID         string    `json:"id" gorm:"primaryKey"`
	WorkflowID string    `json:"workflowId" gorm:"not null;index"`
	Source     string    `json:"source" gorm:"not null"`
	Target     string    `json:"target" gorm:"not null"`
	CreatedAt  time.Time `json:"createdAt"`
}

func NewWorkflow(name, description, userID string) *Workflow {
	return &Workflow{
		ID:          uuid.New().String(),
		Name:        name,
		Description: description,
		UserID:      userID,
		Active:      false,
		Tags:        []string{},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
}

func (n *Node) IsTrigger() bool {
	return n.Kind == NodeKindTrigger
}

func (n *Node) IsAction() bool {
	return n.Kind == NodeKindAction
}
