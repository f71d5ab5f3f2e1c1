package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradeflow-go/internal/domain/workflow"
	executionrepo "github.com/tradeflow-go/internal/services/execution/repository"
	"github.com/tradeflow-go/internal/services/executor/engine"
	"github.com/tradeflow-go/pkg/logger"
)

type fakeWorkflowStore struct {
	mu        sync.Mutex
	workflows map[string]*workflow.Workflow
	nodes     map[string][]workflow.Node
}

func newFakeWorkflowStore() *fakeWorkflowStore {
	return &fakeWorkflowStore{
		workflows: make(map[string]*workflow.Workflow),
		nodes:     make(map[string][]workflow.Node),
	}
}

func (s *fakeWorkflowStore) GetActive(ctx context.Context) ([]*workflow.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*workflow.Workflow
	for _, w := range s.workflows {
		if w.Active {
			out = append(out, w)
		}
	}
	return out, nil
}

func (s *fakeWorkflowStore) GetModifiedSince(ctx context.Context, since time.Time) (active, inactive []*workflow.Workflow, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.workflows {
		if w.UpdatedAt.Before(since) {
			continue
		}
		if w.Active {
			active = append(active, w)
		} else {
			inactive = append(inactive, w)
		}
	}
	return active, inactive, nil
}

func (s *fakeWorkflowStore) GetNodesByType(ctx context.Context, workflowID string, kind workflow.NodeKind, nodeType string) ([]workflow.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []workflow.Node
	for _, n := range s.nodes[workflowID] {
		if n.Kind == kind && n.Type == nodeType {
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *fakeWorkflowStore) addWorkflow(active bool, nodes ...workflow.Node) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New().String()
	s.workflows[id] = &workflow.Workflow{ID: id, Active: active, UpdatedAt: time.Now()}
	s.nodes[id] = nodes
	return id
}

type fakeExecutionStore struct {
	mu     sync.Mutex
	latest map[string]*workflow.Execution
}

func (s *fakeExecutionStore) FindLatest(ctx context.Context, workflowID string) (*workflow.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	execution, ok := s.latest[workflowID]
	if !ok {
		return nil, executionrepo.ErrExecutionNotFound
	}
	return execution, nil
}

type fakeRunner struct {
	mu       sync.Mutex
	payloads []*workflow.TriggerPayload
	ctxErrs  []error
}

func (r *fakeRunner) Run(ctx context.Context, workflowID string, payload *workflow.TriggerPayload) (*engine.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = append(r.payloads, payload)
	r.ctxErrs = append(r.ctxErrs, ctx.Err())
	return &engine.Result{ExecutionID: uuid.New().String()}, nil
}

func (r *fakeRunner) runs() []*workflow.TriggerPayload {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*workflow.TriggerPayload, len(r.payloads))
	copy(out, r.payloads)
	return out
}

func timeNode(nodeID string, value int, unit string) workflow.Node {
	meta := fmt.Sprintf(`{"time": %d, "unit": %q}`, value, unit)
	return workflow.Node{
		ID:       uuid.New().String(),
		NodeID:   nodeID,
		Kind:     workflow.NodeKindTrigger,
		Type:     workflow.NodeTypeTime,
		MetaData: json.RawMessage(meta),
	}
}

func cronNode(nodeID, expression string) workflow.Node {
	meta := fmt.Sprintf(`{"expression": %q}`, expression)
	return workflow.Node{
		ID:       uuid.New().String(),
		NodeID:   nodeID,
		Kind:     workflow.NodeKindTrigger,
		Type:     workflow.NodeTypeTime,
		MetaData: json.RawMessage(meta),
	}
}

func newTestScheduler(store *fakeWorkflowStore, executions *fakeExecutionStore, runner *fakeRunner) *Scheduler {
	if executions.latest == nil {
		executions.latest = make(map[string]*workflow.Execution)
	}
	return New(store, executions, runner, logger.NewNop(), time.Hour)
}

func TestScheduler_StartRegistersActiveWorkflows(t *testing.T) {
	store := newFakeWorkflowStore()
	scheduled := store.addWorkflow(true, timeNode("t1", 1, "hours"))
	store.addWorkflow(false, timeNode("t1", 1, "hours"))
	s := newTestScheduler(store, &fakeExecutionStore{}, &fakeRunner{})

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	schedules := s.ActiveSchedules()
	require.Len(t, schedules, 1)
	assert.Equal(t, scheduled, schedules[0].WorkflowID)
	assert.Equal(t, "t1", schedules[0].NodeID)
	assert.Equal(t, time.Hour.String(), schedules[0].Interval)
	assert.False(t, schedules[0].NextRun.IsZero())
}

func TestScheduler_InvalidIntervalSkipped(t *testing.T) {
	store := newFakeWorkflowStore()
	id := store.addWorkflow(true,
		timeNode("bad", 0, "seconds"),
		timeNode("ok", 30, "minutes"),
	)
	s := newTestScheduler(store, &fakeExecutionStore{}, &fakeRunner{})

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	schedules := s.ActiveSchedules()
	require.Len(t, schedules, 1)
	assert.Equal(t, id, schedules[0].WorkflowID)
	assert.Equal(t, "ok", schedules[0].NodeID)
}

func TestScheduler_CronExpression(t *testing.T) {
	store := newFakeWorkflowStore()
	store.addWorkflow(true, cronNode("t1", "0 9 * * 1"))
	s := newTestScheduler(store, &fakeExecutionStore{}, &fakeRunner{})

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	schedules := s.ActiveSchedules()
	require.Len(t, schedules, 1)
	assert.Equal(t, "0 9 * * 1", schedules[0].Expression)
}

func TestScheduler_BadCronExpressionSkipped(t *testing.T) {
	store := newFakeWorkflowStore()
	store.addWorkflow(true, cronNode("t1", "not a cron line"))
	s := newTestScheduler(store, &fakeExecutionStore{}, &fakeRunner{})

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Empty(t, s.ActiveSchedules())
}

func TestScheduler_MissedExecutionRecovery(t *testing.T) {
	store := newFakeWorkflowStore()
	id := store.addWorkflow(true, timeNode("t1", 30, "seconds"))

	// Last run happened more than one interval ago
	stale := workflow.NewExecution(id, workflow.ModeTrigger)
	stale.CreatedAt = time.Now().Add(-61 * time.Second)
	executions := &fakeExecutionStore{latest: map[string]*workflow.Execution{id: stale}}
	runner := &fakeRunner{}
	s := newTestScheduler(store, executions, runner)

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	runs := runner.runs()
	require.Len(t, runs, 1)
	assert.Equal(t, workflow.TriggeredByTimer, runs[0].TriggeredBy)
	assert.True(t, runs[0].Missed)
	assert.Equal(t, "t1", runs[0].NodeID)
}

func TestScheduler_RescheduleDoesNotRepeatRecovery(t *testing.T) {
	store := newFakeWorkflowStore()
	id := store.addWorkflow(true, timeNode("t1", 30, "seconds"))

	stale := workflow.NewExecution(id, workflow.ModeTrigger)
	stale.CreatedAt = time.Now().Add(-61 * time.Second)
	executions := &fakeExecutionStore{latest: map[string]*workflow.Execution{id: stale}}
	runner := &fakeRunner{}
	s := newTestScheduler(store, executions, runner)

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	require.Len(t, runner.runs(), 1)

	// The latest execution is still stale, but only startup checks for a
	// missed run; a reschedule must never fire one.
	require.NoError(t, s.RescheduleWorkflow(context.Background(), id))
	require.NoError(t, s.RescheduleWorkflow(context.Background(), id))

	assert.Len(t, runner.runs(), 1)
	require.Len(t, s.ActiveSchedules(), 1)
}

func TestScheduler_RecentExecutionNotRecovered(t *testing.T) {
	store := newFakeWorkflowStore()
	id := store.addWorkflow(true, timeNode("t1", 30, "seconds"))

	recent := workflow.NewExecution(id, workflow.ModeTrigger)
	recent.CreatedAt = time.Now().Add(-10 * time.Second)
	executions := &fakeExecutionStore{latest: map[string]*workflow.Execution{id: recent}}
	runner := &fakeRunner{}
	s := newTestScheduler(store, executions, runner)

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Empty(t, runner.runs())
}

func TestScheduler_NeverExecutedNotRecovered(t *testing.T) {
	store := newFakeWorkflowStore()
	store.addWorkflow(true, timeNode("t1", 30, "seconds"))
	runner := &fakeRunner{}
	s := newTestScheduler(store, &fakeExecutionStore{}, runner)

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	// First run waits for the first tick
	assert.Empty(t, runner.runs())
}

func TestScheduler_UnscheduleWorkflow(t *testing.T) {
	store := newFakeWorkflowStore()
	keep := store.addWorkflow(true, timeNode("t1", 1, "hours"))
	drop := store.addWorkflow(true, timeNode("t1", 2, "hours"))
	s := newTestScheduler(store, &fakeExecutionStore{}, &fakeRunner{})

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	require.Len(t, s.ActiveSchedules(), 2)

	s.UnscheduleWorkflow(drop)

	schedules := s.ActiveSchedules()
	require.Len(t, schedules, 1)
	assert.Equal(t, keep, schedules[0].WorkflowID)
}

func TestScheduler_FireDuringShutdownCompletesRun(t *testing.T) {
	store := newFakeWorkflowStore()
	id := store.addWorkflow(true, timeNode("t1", 1, "hours"))
	runner := &fakeRunner{}
	s := newTestScheduler(store, &fakeExecutionStore{}, runner)

	require.NoError(t, s.Start(context.Background()))
	s.Stop()

	// A timer job that is already running when Stop begins still gets a live
	// context, so its execution is recorded rather than aborted mid-flight.
	s.fire(id, "t1", false)

	runs := runner.runs()
	require.Len(t, runs, 1)
	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.NoError(t, runner.ctxErrs[0])
}

func TestScheduler_RescheduleWorkflowPicksUpChanges(t *testing.T) {
	store := newFakeWorkflowStore()
	id := store.addWorkflow(true, timeNode("t1", 1, "hours"))
	s := newTestScheduler(store, &fakeExecutionStore{}, &fakeRunner{})

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	// Interval edited from one hour to five minutes
	store.mu.Lock()
	store.nodes[id] = []workflow.Node{timeNode("t1", 5, "minutes")}
	store.mu.Unlock()

	require.NoError(t, s.RescheduleWorkflow(context.Background(), id))

	schedules := s.ActiveSchedules()
	require.Len(t, schedules, 1)
	assert.Equal(t, (5 * time.Minute).String(), schedules[0].Interval)
}
