package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tradeflow-go/internal/domain/workflow"
	"github.com/tradeflow-go/internal/services/executor/engine"
	"github.com/tradeflow-go/pkg/logger"
	"github.com/tradeflow-go/pkg/metrics"
)

// WorkflowStore is the subset of workflow persistence the monitor consumes.
type WorkflowStore interface {
	GetActive(ctx context.Context) ([]*workflow.Workflow, error)
	GetModifiedSince(ctx context.Context, since time.Time) (active, inactive []*workflow.Workflow, err error)
	GetNodesByType(ctx context.Context, workflowID string, kind workflow.NodeKind, nodeType string) ([]workflow.Node, error)
	SetActive(ctx context.Context, workflowID string, active bool) error
}

// PriceFeed supplies current prices, served from cache when fresh.
type PriceFeed interface {
	FetchPrice(ctx context.Context, exchange, symbol string) (float64, error)
}

// Runner fires one workflow execution.
type Runner interface {
	Run(ctx context.Context, workflowID string, payload *workflow.TriggerPayload) (*engine.Result, error)
}

// TriggerInfo is a read-only snapshot of one armed price trigger.
type TriggerInfo struct {
	Key        string  `json:"key"`
	WorkflowID string  `json:"workflowId"`
	NodeID     string  `json:"nodeId"`
	Asset      string  `json:"asset"`
	Exchange   string  `json:"exchange"`
	Operator   string  `json:"operator"`
	Price      float64 `json:"price"`
}

type trigger struct {
	workflowID string
	nodeID     string
	meta       workflow.PriceTriggerMeta
}

// Monitor polls market prices on a fixed cadence and fires workflows whose
// armed price condition is met. Price triggers are one-shot: a fired trigger
// is removed from the table and its workflow is deactivated, whether or not
// the execution itself succeeds.
type Monitor struct {
	workflows       WorkflowStore
	feed            PriceFeed
	runner          Runner
	logger          logger.Logger
	pollInterval    time.Duration
	syncInterval    time.Duration
	defaultExchange string

	mu       sync.RWMutex
	triggers map[string]trigger

	cancel   context.CancelFunc
	lastSync time.Time
	wg       sync.WaitGroup
}

func New(
	workflows WorkflowStore,
	feed PriceFeed,
	runner Runner,
	logger logger.Logger,
	pollInterval, syncInterval time.Duration,
	defaultExchange string,
) *Monitor {
	if pollInterval <= 0 {
		pollInterval = 10 * time.Second
	}
	if syncInterval <= 0 {
		syncInterval = 30 * time.Second
	}
	if defaultExchange == "" {
		defaultExchange = "binance"
	}

	return &Monitor{
		workflows:       workflows,
		feed:            feed,
		runner:          runner,
		logger:          logger,
		pollInterval:    pollInterval,
		syncInterval:    syncInterval,
		defaultExchange: defaultExchange,
		triggers:        make(map[string]trigger),
	}
}

// Start loads the trigger table from active workflows and launches the poll
// and resync loops.
func (m *Monitor) Start(ctx context.Context) error {
	var loopCtx context.Context
	loopCtx, m.cancel = context.WithCancel(context.Background())
	m.lastSync = time.Now()

	if err := m.LoadTriggers(ctx); err != nil {
		return err
	}

	m.wg.Add(2)
	go m.pollLoop(loopCtx)
	go m.resyncLoop(loopCtx)

	m.logger.Info("Price monitor started", "triggers", len(m.ActiveTriggers()), "pollInterval", m.pollInterval)
	return nil
}

// Stop cancels the loops and waits for an in-flight poll to finish.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()

	m.mu.Lock()
	m.triggers = make(map[string]trigger)
	m.mu.Unlock()
	metrics.PriceTriggers.Set(0)

	m.logger.Info("Price monitor stopped")
}

// LoadTriggers rebuilds the trigger table from every active workflow's price
// trigger nodes.
func (m *Monitor) LoadTriggers(ctx context.Context) error {
	active, err := m.workflows.GetActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to load active workflows: %w", err)
	}

	for _, w := range active {
		if err := m.RegisterWorkflow(ctx, w.ID); err != nil {
			m.logger.Error("Failed to register price triggers", "workflowId", w.ID, "error", err)
		}
	}
	return nil
}

// RegisterWorkflow arms a trigger for each valid price-trigger node of the
// workflow. Nodes with invalid metadata are skipped with a warning.
func (m *Monitor) RegisterWorkflow(ctx context.Context, workflowID string) error {
	nodes, err := m.workflows.GetNodesByType(ctx, workflowID, workflow.NodeKindTrigger, workflow.NodeTypePrice)
	if err != nil {
		return fmt.Errorf("failed to load price trigger nodes for workflow %s: %w", workflowID, err)
	}

	for i := range nodes {
		node := &nodes[i]
		meta, err := node.DecodePriceTrigger()
		if err == nil {
			err = meta.Validate()
		}
		if err != nil {
			m.logger.Warn("Skipping invalid price trigger",
				"workflowId", workflowID,
				"nodeId", node.NodeID,
				"error", err,
			)
			continue
		}
		if meta.Exchange == "" {
			meta.Exchange = m.defaultExchange
		}
		m.register(trigger{workflowID: workflowID, nodeID: node.NodeID, meta: *meta})
	}
	return nil
}

func (m *Monitor) register(t trigger) {
	key := triggerKey(t.workflowID, t.nodeID)

	m.mu.Lock()
	m.triggers[key] = t
	count := len(m.triggers)
	m.mu.Unlock()
	metrics.PriceTriggers.Set(float64(count))

	m.logger.Info("Armed price trigger",
		"workflowId", t.workflowID,
		"nodeId", t.nodeID,
		"asset", t.meta.Asset,
		"condition", fmt.Sprintf("%s %s %v", t.meta.Asset, t.meta.Operator, t.meta.Price),
	)
}

// UnregisterWorkflow disarms every trigger belonging to the workflow.
func (m *Monitor) UnregisterWorkflow(workflowID string) {
	m.mu.Lock()
	for key, t := range m.triggers {
		if t.workflowID == workflowID {
			delete(m.triggers, key)
		}
	}
	count := len(m.triggers)
	m.mu.Unlock()
	metrics.PriceTriggers.Set(float64(count))
}

func (m *Monitor) remove(key string) {
	m.mu.Lock()
	delete(m.triggers, key)
	count := len(m.triggers)
	m.mu.Unlock()
	metrics.PriceTriggers.Set(float64(count))
}

// ActiveTriggers returns a snapshot of every armed trigger.
func (m *Monitor) ActiveTriggers() []TriggerInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]TriggerInfo, 0, len(m.triggers))
	for key, t := range m.triggers {
		out = append(out, TriggerInfo{
			Key:        key,
			WorkflowID: t.workflowID,
			NodeID:     t.nodeID,
			Asset:      t.meta.Asset,
			Exchange:   t.meta.Exchange,
			Operator:   t.meta.Operator,
			Price:      t.meta.Price,
		})
	}
	return out
}

func (m *Monitor) pollLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Poll(ctx)
		}
	}
}

// Poll evaluates every armed trigger against current prices, firing the ones
// whose condition holds. Each distinct exchange/symbol pair is fetched once
// per pass; triggers are evaluated against a snapshot so registrations made
// while a pass runs are picked up next pass.
func (m *Monitor) Poll(ctx context.Context) {
	m.mu.RLock()
	snapshot := make([]trigger, 0, len(m.triggers))
	for _, t := range m.triggers {
		snapshot = append(snapshot, t)
	}
	m.mu.RUnlock()

	if len(snapshot) == 0 {
		return
	}

	prices := make(map[string]float64)
	for _, t := range snapshot {
		priceKey := t.meta.Exchange + ":" + t.meta.Asset
		current, ok := prices[priceKey]
		if !ok {
			var err error
			current, err = m.feed.FetchPrice(ctx, t.meta.Exchange, t.meta.Asset)
			if err != nil {
				m.logger.Warn("Price fetch failed", "exchange", t.meta.Exchange, "asset", t.meta.Asset, "error", err)
				continue
			}
			prices[priceKey] = current
		}

		if t.meta.Evaluate(current) {
			m.fire(t, current)
		}
	}
}

// fire runs the workflow and consumes the trigger. Deactivation happens even
// when the execution fails: a one-shot trigger never fires twice. The run and
// the deactivation use a fresh context so a shutdown begun mid-fire cannot
// leave the execution unrecorded or the trigger re-armed.
func (m *Monitor) fire(t trigger, current float64) {
	ctx := context.Background()

	m.logger.Info("Price trigger fired",
		"workflowId", t.workflowID,
		"nodeId", t.nodeID,
		"asset", t.meta.Asset,
		"currentPrice", current,
		"targetPrice", t.meta.Price,
	)

	payload := &workflow.TriggerPayload{
		TriggeredBy:  workflow.TriggeredByPrice,
		NodeID:       t.nodeID,
		Timestamp:    time.Now(),
		Symbol:       t.meta.Asset,
		CurrentPrice: current,
		TargetPrice:  t.meta.Price,
	}

	metrics.TriggerFiresTotal.WithLabelValues(string(workflow.TriggeredByPrice)).Inc()

	_, runErr := m.runner.Run(ctx, t.workflowID, payload)
	if runErr != nil {
		m.logger.Error("Triggered execution failed", "workflowId", t.workflowID, "error", runErr)
	}

	m.remove(triggerKey(t.workflowID, t.nodeID))
	if err := m.workflows.SetActive(ctx, t.workflowID, false); err != nil {
		m.logger.Error("Failed to deactivate workflow after trigger", "workflowId", t.workflowID, "error", err)
	}
}

// resyncLoop reconciles the trigger table against workflows activated or
// deactivated since the last pass.
func (m *Monitor) resyncLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.resync(ctx)
		}
	}
}

func (m *Monitor) resync(ctx context.Context) {
	since := m.lastSync
	m.lastSync = time.Now()

	active, inactive, err := m.workflows.GetModifiedSince(ctx, since)
	if err != nil {
		m.logger.Error("Monitor resync failed", "error", err)
		return
	}

	for _, w := range inactive {
		m.UnregisterWorkflow(w.ID)
	}
	for _, w := range active {
		m.UnregisterWorkflow(w.ID)
		if err := m.RegisterWorkflow(ctx, w.ID); err != nil {
			m.logger.Error("Failed to re-register price triggers", "workflowId", w.ID, "error", err)
		}
	}
}

func triggerKey(workflowID, nodeID string) string {
	return workflowID + "-" + nodeID
}
