package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tradeflow-go/internal/domain/workflow"
	executionrepo "github.com/tradeflow-go/internal/services/execution/repository"
	"github.com/tradeflow-go/internal/services/executor/engine"
	"github.com/tradeflow-go/internal/services/executor/monitor"
	"github.com/tradeflow-go/internal/services/executor/scheduler"
	"github.com/tradeflow-go/pkg/logger"
)

// Runner fires one workflow execution.
type Runner interface {
	Run(ctx context.Context, workflowID string, payload *workflow.TriggerPayload) (*engine.Result, error)
}

// ScheduleManager exposes the scheduler's timer table.
type ScheduleManager interface {
	RescheduleWorkflow(ctx context.Context, workflowID string) error
	UnscheduleWorkflow(workflowID string)
	ActiveSchedules() []scheduler.ScheduleInfo
}

// TriggerManager exposes the monitor's trigger table.
type TriggerManager interface {
	RegisterWorkflow(ctx context.Context, workflowID string) error
	UnregisterWorkflow(workflowID string)
	ActiveTriggers() []monitor.TriggerInfo
}

// ExecutionReader serves execution history lookups.
type ExecutionReader interface {
	GetByID(ctx context.Context, id string) (*workflow.Execution, error)
	ListByWorkflow(ctx context.Context, workflowID string, limit int) ([]*workflow.Execution, error)
}

type ExecutorHandlers struct {
	runner     Runner
	schedules  ScheduleManager
	triggers   TriggerManager
	executions ExecutionReader
	logger     logger.Logger
}

func NewExecutorHandlers(
	runner Runner,
	schedules ScheduleManager,
	triggers TriggerManager,
	executions ExecutionReader,
	logger logger.Logger,
) *ExecutorHandlers {
	return &ExecutorHandlers{
		runner:     runner,
		schedules:  schedules,
		triggers:   triggers,
		executions: executions,
		logger:     logger,
	}
}

func (h *ExecutorHandlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// ExecuteWorkflow fires a manual run of the workflow.
func (h *ExecutorHandlers) ExecuteWorkflow(c *gin.Context) {
	workflowID := c.Param("id")

	result, err := h.runner.Run(c.Request.Context(), workflowID, nil)
	if err != nil {
		switch {
		case errors.Is(err, workflow.ErrWorkflowNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Workflow not found"})
		case errors.Is(err, workflow.ErrWorkflowInactive):
			c.JSON(http.StatusConflict, gin.H{"error": "Workflow is not active"})
		default:
			h.logger.Error("Manual execution failed", "workflowId", workflowID, "error", err)
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, result)
}

// RescheduleWorkflow rebuilds the workflow's timers and price triggers from
// its current node definitions.
func (h *ExecutorHandlers) RescheduleWorkflow(c *gin.Context) {
	workflowID := c.Param("id")
	ctx := c.Request.Context()

	if err := h.schedules.RescheduleWorkflow(ctx, workflowID); err != nil {
		h.logger.Error("Failed to reschedule workflow", "workflowId", workflowID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to reschedule workflow"})
		return
	}

	h.triggers.UnregisterWorkflow(workflowID)
	if err := h.triggers.RegisterWorkflow(ctx, workflowID); err != nil {
		h.logger.Error("Failed to re-register price triggers", "workflowId", workflowID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to re-register price triggers"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "rescheduled", "workflowId": workflowID})
}

// ListSchedules returns the active timer table.
func (h *ExecutorHandlers) ListSchedules(c *gin.Context) {
	schedules := h.schedules.ActiveSchedules()
	c.JSON(http.StatusOK, gin.H{"schedules": schedules, "total": len(schedules)})
}

// ListTriggers returns the armed price trigger table.
func (h *ExecutorHandlers) ListTriggers(c *gin.Context) {
	triggers := h.triggers.ActiveTriggers()
	c.JSON(http.StatusOK, gin.H{"triggers": triggers, "total": len(triggers)})
}

func (h *ExecutorHandlers) GetExecution(c *gin.Context) {
	executionID := c.Param("id")

	execution, err := h.executions.GetByID(c.Request.Context(), executionID)
	if err != nil {
		if errors.Is(err, executionrepo.ErrExecutionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Execution not found"})
			return
		}
		h.logger.Error("Failed to get execution", "executionId", executionID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get execution"})
		return
	}

	c.JSON(http.StatusOK, execution)
}

func (h *ExecutorHandlers) ListExecutions(c *gin.Context) {
	workflowID := c.Param("id")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	executions, err := h.executions.ListByWorkflow(c.Request.Context(), workflowID, limit)
	if err != nil {
		h.logger.Error("Failed to list executions", "workflowId", workflowID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list executions"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"executions": executions, "total": len(executions)})
}
