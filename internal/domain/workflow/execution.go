package workflow

import (
	"time"

	"github.com/google/uuid"
)

// ExecutionStatus is the lifecycle of one firing attempt. An execution is
// created PENDING and transitions terminal exactly once.
type ExecutionStatus string

const (
	ExecutionPending ExecutionStatus = "PENDING"
	ExecutionSuccess ExecutionStatus = "SUCCESS"
	ExecutionFailure ExecutionStatus = "FAILURE"
)

type ExecutionMode string

const (
	ModeManual  ExecutionMode = "manual"
	ModeTrigger ExecutionMode = "trigger"
)

// TriggerSource identifies which loop fired an execution.
type TriggerSource string

const (
	TriggeredByTimer  TriggerSource = "timer"
	TriggeredByPrice  TriggerSource = "price"
	TriggeredByManual TriggerSource = "manual"
)

// TriggerPayload is handed by a firing loop to the graph executor and becomes
// the trigger node's input.
type TriggerPayload struct {
	TriggeredBy  TriggerSource `json:"triggeredBy"`
	NodeID       string        `json:"nodeId,omitempty"`
	Timestamp    time.Time     `json:"timestamp"`
	Missed       bool          `json:"missed,omitempty"`
	Symbol       string        `json:"symbol,omitempty"`
	CurrentPrice float64       `json:"currentPrice,omitempty"`
	TargetPrice  float64       `json:"targetPrice,omitempty"`
}

// NodeResult is the recorded outcome of a single node within an execution.
type NodeResult struct {
	NodeID     string                 `json:"nodeId"`
	Title      string                 `json:"title"`
	Status     ExecutionStatus        `json:"status"`
	Input      interface{}            `json:"input,omitempty"`
	Output     map[string]interface{} `json:"output,omitempty"`
	Error      *ExecutionError        `json:"error,omitempty"`
	ExecutedAt time.Time              `json:"executedAt"`
}

// ExecutionError is the error descriptor stored on failed executions.
type ExecutionError struct {
	Message string `json:"message"`
	NodeID  string `json:"nodeId,omitempty"`
}

// Execution is the durable audit record of one workflow run.
type Execution struct {
	ID          string                `json:"id" gorm:"primaryKey"`
	WorkflowID  string                `json:"workflowId" gorm:"not null;index"`
	Mode        ExecutionMode         `json:"mode" gorm:"not null"`
	Status      ExecutionStatus       `json:"status" gorm:"default:'PENDING';index"`
	Data        map[string]NodeResult `json:"data" gorm:"serializer:json"`
	Error       *ExecutionError       `json:"error,omitempty" gorm:"serializer:json"`
	CreatedAt   time.Time             `json:"createdAt" gorm:"index"`
	CompletedAt *time.Time            `json:"completedAt"`
}

func NewExecution(workflowID string, mode ExecutionMode) *Execution {
	return &Execution{
		ID:         uuid.New().String(),
		WorkflowID: workflowID,
		Mode:       mode,
		Status:     ExecutionPending,
		Data:       make(map[string]NodeResult),
		CreatedAt:  time.Now(),
	}
}

// IsTerminal reports whether the execution has reached a final status.
func (e *Execution) IsTerminal() bool {
	return e.Status == ExecutionSuccess || e.Status == ExecutionFailure
}
