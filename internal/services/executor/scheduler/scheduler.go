package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tradeflow-go/internal/domain/workflow"
	executionrepo "github.com/tradeflow-go/internal/services/execution/repository"
	"github.com/tradeflow-go/internal/services/executor/engine"
	"github.com/tradeflow-go/pkg/logger"
	"github.com/tradeflow-go/pkg/metrics"
)

// WorkflowStore is the subset of workflow persistence the scheduler consumes.
type WorkflowStore interface {
	GetActive(ctx context.Context) ([]*workflow.Workflow, error)
	GetModifiedSince(ctx context.Context, since time.Time) (active, inactive []*workflow.Workflow, err error)
	GetNodesByType(ctx context.Context, workflowID string, kind workflow.NodeKind, nodeType string) ([]workflow.Node, error)
}

// ExecutionStore answers "when did this workflow last run".
type ExecutionStore interface {
	FindLatest(ctx context.Context, workflowID string) (*workflow.Execution, error)
}

// Runner fires one workflow execution.
type Runner interface {
	Run(ctx context.Context, workflowID string, payload *workflow.TriggerPayload) (*engine.Result, error)
}

// ScheduleInfo is a read-only snapshot of one registered timer.
type ScheduleInfo struct {
	Key        string    `json:"key"`
	WorkflowID string    `json:"workflowId"`
	NodeID     string    `json:"nodeId"`
	Interval   string    `json:"interval,omitempty"`
	Expression string    `json:"expression,omitempty"`
	NextRun    time.Time `json:"nextRun"`
}

type entry struct {
	id         cron.EntryID
	workflowID string
	nodeID     string
	interval   time.Duration
	expression string
}

// Scheduler keeps one repeating timer per active time-trigger node and fires
// the graph executor when a timer elapses. On startup it recovers executions
// missed while the process was down, and a background loop resyncs the timer
// table against workflow activations and deactivations.
type Scheduler struct {
	workflows    WorkflowStore
	executions   ExecutionStore
	runner       Runner
	logger       logger.Logger
	syncInterval time.Duration

	cron *cron.Cron

	mu      sync.RWMutex
	entries map[string]entry

	baseCtx  context.Context
	cancel   context.CancelFunc
	lastSync time.Time
	wg       sync.WaitGroup
}

func New(
	workflows WorkflowStore,
	executions ExecutionStore,
	runner Runner,
	logger logger.Logger,
	syncInterval time.Duration,
) *Scheduler {
	if syncInterval <= 0 {
		syncInterval = 30 * time.Second
	}

	return &Scheduler{
		workflows:    workflows,
		executions:   executions,
		runner:       runner,
		logger:       logger,
		syncInterval: syncInterval,
		cron:         cron.New(),
		entries:      make(map[string]entry),
	}
}

// Start recovers missed executions, registers timers for every active
// workflow and launches the resync loop. It returns once the initial load
// completes; timers fire on background goroutines.
func (s *Scheduler) Start(ctx context.Context) error {
	s.baseCtx, s.cancel = context.WithCancel(context.Background())
	s.lastSync = time.Now()

	active, err := s.workflows.GetActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to load active workflows: %w", err)
	}

	for _, w := range active {
		s.recoverWorkflow(ctx, w.ID)
		if err := s.ScheduleWorkflow(ctx, w.ID); err != nil {
			s.logger.Error("Failed to schedule workflow", "workflowId", w.ID, "error", err)
		}
	}

	s.cron.Start()

	s.wg.Add(1)
	go s.resyncLoop()

	s.logger.Info("Scheduler started", "workflows", len(active), "timers", len(s.ActiveSchedules()))
	return nil
}

// Stop cancels the resync loop and waits for in-flight timer jobs to finish
// before clearing the timer table.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.cron.Stop().Done()
	s.wg.Wait()

	s.mu.Lock()
	s.entries = make(map[string]entry)
	s.mu.Unlock()
	metrics.ScheduledJobs.Set(0)

	s.logger.Info("Scheduler stopped")
}

// ScheduleWorkflow registers a timer for each time-trigger node of the
// workflow, replacing any existing timer for the same node. It never fires a
// run by itself; catch-up for missed executions happens once, at startup.
func (s *Scheduler) ScheduleWorkflow(ctx context.Context, workflowID string) error {
	nodes, err := s.workflows.GetNodesByType(ctx, workflowID, workflow.NodeKindTrigger, workflow.NodeTypeTime)
	if err != nil {
		return fmt.Errorf("failed to load time trigger nodes for workflow %s: %w", workflowID, err)
	}

	for i := range nodes {
		node := &nodes[i]
		if err := s.scheduleNode(workflowID, node); err != nil {
			// One bad node must not block the rest of the table.
			s.logger.Warn("Skipping unschedulable trigger node",
				"workflowId", workflowID,
				"nodeId", node.NodeID,
				"error", err,
			)
		}
	}

	return nil
}

func (s *Scheduler) scheduleNode(workflowID string, node *workflow.Node) error {
	meta, err := node.DecodeTimeTrigger()
	if err != nil {
		return err
	}

	key := jobKey(workflowID, node.NodeID)
	nodeID := node.NodeID

	fire := func() {
		s.fire(workflowID, nodeID, false)
	}

	var ent entry
	if meta.Expression != "" {
		id, err := s.cron.AddFunc(meta.Expression, fire)
		if err != nil {
			return fmt.Errorf("%w: bad cron expression %q", workflow.ErrInvalidInterval, meta.Expression)
		}
		ent = entry{id: id, workflowID: workflowID, nodeID: nodeID, expression: meta.Expression}
	} else {
		interval, err := meta.Interval()
		if err != nil {
			return err
		}
		id := s.cron.Schedule(cron.Every(interval), cron.FuncJob(fire))
		ent = entry{id: id, workflowID: workflowID, nodeID: nodeID, interval: interval}
	}

	s.mu.Lock()
	if old, ok := s.entries[key]; ok {
		s.cron.Remove(old.id)
	}
	s.entries[key] = ent
	count := len(s.entries)
	s.mu.Unlock()
	metrics.ScheduledJobs.Set(float64(count))

	s.logger.Info("Scheduled time trigger",
		"workflowId", workflowID,
		"nodeId", nodeID,
		"interval", ent.interval,
		"expression", ent.expression,
	)
	return nil
}

// recoverWorkflow runs the startup missed-execution check for each of the
// workflow's interval-based trigger nodes. It is called from Start only;
// reschedules and resync passes must never repeat a catch-up fire.
func (s *Scheduler) recoverWorkflow(ctx context.Context, workflowID string) {
	nodes, err := s.workflows.GetNodesByType(ctx, workflowID, workflow.NodeKindTrigger, workflow.NodeTypeTime)
	if err != nil {
		s.logger.Warn("Failed to load trigger nodes for recovery", "workflowId", workflowID, "error", err)
		return
	}

	for i := range nodes {
		meta, err := nodes[i].DecodeTimeTrigger()
		if err != nil || meta.Expression != "" {
			continue
		}
		interval, err := meta.Interval()
		if err != nil {
			continue
		}
		s.recoverMissed(ctx, workflowID, nodes[i].NodeID, interval)
	}
}

// recoverMissed fires a catch-up run when the workflow's most recent
// execution is older than one interval. A workflow that has never executed
// is not recovered; its first run waits for the first tick.
func (s *Scheduler) recoverMissed(ctx context.Context, workflowID, nodeID string, interval time.Duration) {
	latest, err := s.executions.FindLatest(ctx, workflowID)
	if err != nil {
		if !errors.Is(err, executionrepo.ErrExecutionNotFound) {
			s.logger.Warn("Failed to look up latest execution", "workflowId", workflowID, "error", err)
		}
		return
	}

	elapsed := time.Since(latest.CreatedAt)
	if elapsed <= interval {
		return
	}

	s.logger.Info("Recovering missed execution",
		"workflowId", workflowID,
		"nodeId", nodeID,
		"elapsed", elapsed,
		"interval", interval,
	)
	s.fire(workflowID, nodeID, true)
}

// UnscheduleWorkflow removes every timer belonging to the workflow.
func (s *Scheduler) UnscheduleWorkflow(workflowID string) {
	s.mu.Lock()
	for key, ent := range s.entries {
		if ent.workflowID == workflowID {
			s.cron.Remove(ent.id)
			delete(s.entries, key)
		}
	}
	count := len(s.entries)
	s.mu.Unlock()
	metrics.ScheduledJobs.Set(float64(count))
}

// RescheduleWorkflow re-reads the workflow's trigger nodes and replaces its
// timers, picking up interval edits without a process restart.
func (s *Scheduler) RescheduleWorkflow(ctx context.Context, workflowID string) error {
	s.UnscheduleWorkflow(workflowID)
	return s.ScheduleWorkflow(ctx, workflowID)
}

// ActiveSchedules returns a snapshot of every registered timer.
func (s *Scheduler) ActiveSchedules() []ScheduleInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ScheduleInfo, 0, len(s.entries))
	for key, ent := range s.entries {
		info := ScheduleInfo{
			Key:        key,
			WorkflowID: ent.workflowID,
			NodeID:     ent.nodeID,
			Expression: ent.expression,
			NextRun:    s.cron.Entry(ent.id).Next,
		}
		if ent.interval > 0 {
			info.Interval = ent.interval.String()
		}
		out = append(out, info)
	}
	return out
}

func (s *Scheduler) fire(workflowID, nodeID string, missed bool) {
	payload := &workflow.TriggerPayload{
		TriggeredBy: workflow.TriggeredByTimer,
		NodeID:      nodeID,
		Timestamp:   time.Now(),
		Missed:      missed,
	}

	metrics.TriggerFiresTotal.WithLabelValues(string(workflow.TriggeredByTimer)).Inc()

	// A run that has started must finish and record its outcome even while
	// shutdown is in progress, so it does not inherit the loop context.
	if _, err := s.runner.Run(context.Background(), workflowID, payload); err != nil {
		// An inactive workflow means the resync hasn't caught up yet;
		// the next sync pass removes the timer.
		if errors.Is(err, workflow.ErrWorkflowInactive) || errors.Is(err, workflow.ErrWorkflowNotFound) {
			s.UnscheduleWorkflow(workflowID)
			return
		}
		s.logger.Error("Scheduled execution failed", "workflowId", workflowID, "nodeId", nodeID, "error", err)
	}
}

// resyncLoop reconciles the timer table against workflows activated or
// deactivated since the last pass.
func (s *Scheduler) resyncLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.baseCtx.Done():
			return
		case <-ticker.C:
			s.resync()
		}
	}
}

func (s *Scheduler) resync() {
	since := s.lastSync
	s.lastSync = time.Now()

	active, inactive, err := s.workflows.GetModifiedSince(s.baseCtx, since)
	if err != nil {
		s.logger.Error("Scheduler resync failed", "error", err)
		return
	}

	for _, w := range inactive {
		s.UnscheduleWorkflow(w.ID)
	}
	for _, w := range active {
		if err := s.RescheduleWorkflow(s.baseCtx, w.ID); err != nil {
			s.logger.Error("Failed to reschedule workflow", "workflowId", w.ID, "error", err)
		}
	}

	if len(active) > 0 || len(inactive) > 0 {
		s.logger.Info("Scheduler resynced", "activated", len(active), "deactivated", len(inactive))
	}
}

func jobKey(workflowID, nodeID string) string {
	return workflowID + "-" + nodeID
}
