package repository

import (
	"context"
	"errors"
	"time"

	"github.com/tradeflow-go/internal/domain/workflow"
	"github.com/tradeflow-go/pkg/database"
	"gorm.io/gorm"
)

type WorkflowRepository struct {
	db *database.DB
}

func NewWorkflowRepository(db *database.DB) *WorkflowRepository {
	return &WorkflowRepository{db: db}
}

func (r *WorkflowRepository) Create(ctx context.Context, w *workflow.Workflow) error {
	return r.db.WithContext(ctx).Create(w).Error
}

func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*workflow.Workflow, error) {
	var w workflow.Workflow
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, workflow.ErrWorkflowNotFound
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// GetActive returns every workflow with the active flag set.
func (r *WorkflowRepository) GetActive(ctx context.Context) ([]*workflow.Workflow, error) {
	var workflows []*workflow.Workflow
	err := r.db.WithContext(ctx).Where("active = ?", true).Find(&workflows).Error
	return workflows, err
}

// GetModifiedSince returns workflows updated at or after the given time,
// split by the current active flag. The scheduler's resync pass uses this to
// pick up activation changes without a restart.
func (r *WorkflowRepository) GetModifiedSince(ctx context.Context, since time.Time) (active, inactive []*workflow.Workflow, err error) {
	var workflows []*workflow.Workflow
	if err := r.db.WithContext(ctx).Where("updated_at >= ?", since).Find(&workflows).Error; err != nil {
		return nil, nil, err
	}

	for _, w := range workflows {
		if w.Active {
			active = append(active, w)
		} else {
			inactive = append(inactive, w)
		}
	}
	return active, inactive, nil
}

// SetActive persists the workflow's active flag. Used by the price monitor
// to deactivate a workflow after its one-shot trigger fires.
func (r *WorkflowRepository) SetActive(ctx context.Context, workflowID string, active bool) error {
	updates := map[string]interface{}{
		"active":     active,
		"updated_at": time.Now(),
	}
	if !active {
		updates["last_executed_at"] = time.Now()
	}

	result := r.db.WithContext(ctx).
		Model(&workflow.Workflow{}).
		Where("id = ?", workflowID).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return workflow.ErrWorkflowNotFound
	}
	return nil
}

// GetNodes returns all nodes belonging to a workflow.
func (r *WorkflowRepository) GetNodes(ctx context.Context, workflowID string) ([]workflow.Node, error) {
	var nodes []workflow.Node
	err := r.db.WithContext(ctx).Where("workflow_id = ?", workflowID).Find(&nodes).Error
	return nodes, err
}

// GetNodesByType returns a workflow's nodes filtered by kind and type.
func (r *WorkflowRepository) GetNodesByType(ctx context.Context, workflowID string, kind workflow.NodeKind, nodeType string) ([]workflow.Node, error) {
	var nodes []workflow.Node
	err := r.db.WithContext(ctx).
		Where("workflow_id = ? AND kind = ? AND type = ?", workflowID, kind, nodeType).
		Find(&nodes).Error
	return nodes, err
}

// GetEdges returns all edges belonging to a workflow.
func (r *WorkflowRepository) GetEdges(ctx context.Context, workflowID string) ([]workflow.Edge, error) {
	var edges []workflow.Edge
	err := r.db.WithContext(ctx).Where("workflow_id = ?", workflowID).Find(&edges).Error
	return edges, err
}

func (r *WorkflowRepository) CreateNode(ctx context.Context, n *workflow.Node) error {
	return r.db.WithContext(ctx).Create(n).Error
}

func (r *WorkflowRepository) CreateEdge(ctx context.Context, e *workflow.Edge) error {
	return r.db.WithContext(ctx).Create(e).Error
}
