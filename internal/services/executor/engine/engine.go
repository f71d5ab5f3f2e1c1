package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/tradeflow-go/internal/domain/workflow"
	"github.com/tradeflow-go/internal/services/executor/dispatch"
	"github.com/tradeflow-go/pkg/events"
	"github.com/tradeflow-go/pkg/logger"
	"github.com/tradeflow-go/pkg/metrics"
)

// WorkflowStore is the subset of workflow persistence the engine consumes.
type WorkflowStore interface {
	GetByID(ctx context.Context, id string) (*workflow.Workflow, error)
	GetNodes(ctx context.Context, workflowID string) ([]workflow.Node, error)
	GetEdges(ctx context.Context, workflowID string) ([]workflow.Edge, error)
}

// ExecutionStore records firing attempts.
type ExecutionStore interface {
	Create(ctx context.Context, execution *workflow.Execution) error
	Finalize(ctx context.Context, execution *workflow.Execution) error
}

// PriceFeed supplies current prices for trigger validation and order sizing.
type PriceFeed interface {
	FetchPrice(ctx context.Context, exchange, symbol string) (float64, error)
}

// OrderPlacer dispatches an action node's order to its exchange.
type OrderPlacer interface {
	Place(ctx context.Context, exchangeType, credentialID string, meta *workflow.TradeMeta, price float64) (*dispatch.OrderResult, error)
}

// Notifier delivers a notification action node's message.
type Notifier interface {
	Send(ctx context.Context, channel, message string, data map[string]interface{}) error
}

// Result is what a completed run returns to the firing loop.
type Result struct {
	ExecutionID string                 `json:"executionId"`
	Output      map[string]interface{} `json:"output"`
}

// Engine walks a workflow's node graph from its trigger node, invoking each
// node's handler and threading output to children. Exactly one execution
// record is written per invocation.
type Engine struct {
	workflows       WorkflowStore
	executions      ExecutionStore
	feed            PriceFeed
	orders          OrderPlacer
	notifier        Notifier
	bus             events.EventBus
	logger          logger.Logger
	defaultExchange string
}

func New(
	workflows WorkflowStore,
	executions ExecutionStore,
	feed PriceFeed,
	orders OrderPlacer,
	notifier Notifier,
	bus events.EventBus,
	logger logger.Logger,
	defaultExchange string,
) *Engine {
	if defaultExchange == "" {
		defaultExchange = "binance"
	}

	return &Engine{
		workflows:       workflows,
		executions:      executions,
		feed:            feed,
		orders:          orders,
		notifier:        notifier,
		bus:             bus,
		logger:          logger,
		defaultExchange: defaultExchange,
	}
}

// Run executes a workflow once. A nil payload means a manual invocation.
func (e *Engine) Run(ctx context.Context, workflowID string, payload *workflow.TriggerPayload) (*Result, error) {
	start := time.Now()

	w, err := e.workflows.GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if !w.Active {
		return nil, fmt.Errorf("workflow %s: %w", workflowID, workflow.ErrWorkflowInactive)
	}

	nodes, err := e.workflows.GetNodes(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to load nodes for workflow %s: %w", workflowID, err)
	}
	edges, err := e.workflows.GetEdges(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to load edges for workflow %s: %w", workflowID, err)
	}

	mode := workflow.ModeTrigger
	if payload == nil {
		mode = workflow.ModeManual
	}

	execution := workflow.NewExecution(workflowID, mode)
	if err := e.executions.Create(ctx, execution); err != nil {
		return nil, fmt.Errorf("failed to create execution record: %w", err)
	}

	e.publish(ctx, "execution.started", execution, nil)

	output, runErr := e.walk(ctx, execution, nodes, edges, payload)

	if runErr != nil {
		execution.Status = workflow.ExecutionFailure
		execution.Error = &workflow.ExecutionError{Message: runErr.Error()}
		if nodeErr, ok := runErr.(*nodeError); ok {
			execution.Error.NodeID = nodeErr.nodeID
		}
	} else {
		execution.Status = workflow.ExecutionSuccess
	}

	if err := e.executions.Finalize(ctx, execution); err != nil {
		e.logger.Error("Failed to finalize execution",
			"executionId", execution.ID,
			"workflowId", workflowID,
			"error", err,
		)
	}

	metrics.WorkflowExecutionsTotal.WithLabelValues(string(execution.Status), string(mode)).Inc()
	metrics.WorkflowExecutionDuration.WithLabelValues(string(mode)).Observe(time.Since(start).Seconds())

	if runErr != nil {
		e.publish(ctx, "execution.failed", execution, map[string]interface{}{"error": runErr.Error()})
		return nil, runErr
	}

	e.publish(ctx, "execution.completed", execution, nil)

	return &Result{ExecutionID: execution.ID, Output: output}, nil
}

// walk finds the unique trigger node and executes the graph depth-first from
// it. Any error aborts the walk and fails the execution.
func (e *Engine) walk(
	ctx context.Context,
	execution *workflow.Execution,
	nodes []workflow.Node,
	edges []workflow.Edge,
	payload *workflow.TriggerPayload,
) (map[string]interface{}, error) {
	trigger, err := workflow.SelectTriggerNode(nodes)
	if err != nil {
		return nil, err
	}

	graph := workflow.BuildAdjacency(nodes, edges)
	if workflow.HasCycle(graph) {
		return nil, workflow.ErrCycleDetected
	}

	index := make(map[string]*workflow.Node, len(nodes))
	for i := range nodes {
		index[nodes[i].NodeID] = &nodes[i]
	}

	var input interface{}
	if payload != nil {
		input = payload
	}

	visited := make(map[string]bool)
	return e.executeNode(ctx, execution, trigger, graph, index, input, payload, visited)
}

// executeNode runs one node, records its outcome, then runs its children
// sequentially with this node's output as their input. A child never starts
// before its parent completes, and the per-node map is complete before the
// execution is finalized.
func (e *Engine) executeNode(
	ctx context.Context,
	execution *workflow.Execution,
	node *workflow.Node,
	graph map[string][]string,
	index map[string]*workflow.Node,
	input interface{},
	payload *workflow.TriggerPayload,
	visited map[string]bool,
) (map[string]interface{}, error) {
	if visited[node.NodeID] {
		// Reached again via another path. True cycles were rejected before the
		// walk started, so hand the input through without re-executing.
		out, _ := input.(map[string]interface{})
		return out, nil
	}
	visited[node.NodeID] = true

	e.logger.Debug("Executing node", "nodeId", node.NodeID, "title", node.Title, "kind", node.Kind)

	var (
		output map[string]interface{}
		err    error
	)

	switch node.Kind {
	case workflow.NodeKindTrigger:
		output, err = e.executeTrigger(ctx, node, payload)
	case workflow.NodeKindAction:
		output, err = e.executeAction(ctx, node, input)
	default:
		err = fmt.Errorf("%w: %q on node %s", workflow.ErrUnknownNodeKind, node.Kind, node.NodeID)
	}

	if err != nil {
		execution.Data[node.NodeID] = workflow.NodeResult{
			NodeID:     node.NodeID,
			Title:      node.Title,
			Status:     workflow.ExecutionFailure,
			Input:      input,
			Error:      &workflow.ExecutionError{Message: err.Error(), NodeID: node.NodeID},
			ExecutedAt: time.Now(),
		}
		metrics.NodeExecutionsTotal.WithLabelValues(node.Type, string(workflow.ExecutionFailure)).Inc()
		return nil, &nodeError{nodeID: node.NodeID, err: err}
	}

	execution.Data[node.NodeID] = workflow.NodeResult{
		NodeID:     node.NodeID,
		Title:      node.Title,
		Status:     workflow.ExecutionSuccess,
		Input:      input,
		Output:     output,
		ExecutedAt: time.Now(),
	}
	metrics.NodeExecutionsTotal.WithLabelValues(node.Type, string(workflow.ExecutionSuccess)).Inc()

	for _, nextID := range graph[node.NodeID] {
		next, ok := index[nextID]
		if !ok {
			return nil, &nodeError{
				nodeID: nextID,
				err:    fmt.Errorf("%w: edge targets unknown node %s", workflow.ErrNodeNotFound, nextID),
			}
		}

		// The previous node's output becomes the next node's input
		output, err = e.executeNode(ctx, execution, next, graph, index, output, payload, visited)
		if err != nil {
			return nil, err
		}
	}

	return output, nil
}

func (e *Engine) publish(ctx context.Context, eventType string, execution *workflow.Execution, extra map[string]interface{}) {
	if e.bus == nil {
		return
	}

	builder := events.NewEventBuilder(eventType).
		WithAggregateID(execution.ID).
		WithAggregateType("execution").
		WithPayload("workflowId", execution.WorkflowID).
		WithPayload("mode", string(execution.Mode))
	for k, v := range extra {
		builder = builder.WithPayload(k, v)
	}

	if err := e.bus.Publish(ctx, builder.Build()); err != nil {
		e.logger.Warn("Failed to publish event", "type", eventType, "error", err)
	}
}

// nodeError carries the failing node's id up to the execution error record.
type nodeError struct {
	nodeID string
	err    error
}

func (n *nodeError) Error() string {
	return n.err.Error()
}

func (n *nodeError) Unwrap() error {
	return n.err
}
