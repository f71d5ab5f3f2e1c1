package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tradeflow-go/internal/domain/workflow"
	"github.com/tradeflow-go/pkg/database"
	"gorm.io/gorm"
)

var ErrExecutionNotFound = errors.New("execution not found")

type ExecutionRepository struct {
	db *database.DB
}

func NewExecutionRepository(db *database.DB) *ExecutionRepository {
	return &ExecutionRepository{db: db}
}

func (r *ExecutionRepository) Create(ctx context.Context, execution *workflow.Execution) error {
	if execution.CreatedAt.IsZero() {
		execution.CreatedAt = time.Now()
	}
	return r.db.WithContext(ctx).Create(execution).Error
}

func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*workflow.Execution, error) {
	var execution workflow.Execution
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&execution).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrExecutionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &execution, nil
}

// Finalize transitions an execution to a terminal status and persists the
// accumulated per-node data. Finalizing an already-terminal record is an
// error, completion happens exactly once.
func (r *ExecutionRepository) Finalize(ctx context.Context, execution *workflow.Execution) error {
	if !execution.IsTerminal() {
		return fmt.Errorf("execution %s finalized with non-terminal status %s", execution.ID, execution.Status)
	}

	now := time.Now()
	execution.CompletedAt = &now

	result := r.db.WithContext(ctx).
		Model(&workflow.Execution{}).
		Where("id = ? AND status = ?", execution.ID, workflow.ExecutionPending).
		Select("status", "data", "error", "completed_at").
		Updates(execution)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("execution %s already finalized", execution.ID)
	}
	return nil
}

// FindLatest returns the most recent execution for a workflow, or
// ErrExecutionNotFound when the workflow has never run. The scheduler's
// missed-execution check compares against its creation time.
func (r *ExecutionRepository) FindLatest(ctx context.Context, workflowID string) (*workflow.Execution, error) {
	var execution workflow.Execution
	err := r.db.WithContext(ctx).
		Where("workflow_id = ?", workflowID).
		Order("created_at DESC").
		First(&execution).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrExecutionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &execution, nil
}

// ListByWorkflow returns a workflow's executions, newest first.
func (r *ExecutionRepository) ListByWorkflow(ctx context.Context, workflowID string, limit int) ([]*workflow.Execution, error) {
	if limit <= 0 {
		limit = 50
	}

	var executions []*workflow.Execution
	err := r.db.WithContext(ctx).
		Where("workflow_id = ?", workflowID).
		Order("created_at DESC").
		Limit(limit).
		Find(&executions).Error
	return executions, err
}
