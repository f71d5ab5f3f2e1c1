package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradeflow-go/internal/domain/workflow"
	"github.com/tradeflow-go/internal/services/executor/engine"
	"github.com/tradeflow-go/pkg/logger"
)

type fakeWorkflowStore struct {
	mu          sync.Mutex
	workflows   map[string]*workflow.Workflow
	nodes       map[string][]workflow.Node
	deactivated []string
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

func (s *fakeWorkflowStore) SetActive(ctx context.Context, workflowID string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workflows[workflowID]
	if !ok {
		return workflow.ErrWorkflowNotFound
	}
	w.Active = active
	w.UpdatedAt = time.Now()
	if !active {
		s.deactivated = append(s.deactivated, workflowID)
	}
	return nil
}

func (s *fakeWorkflowStore) addWorkflow(nodes ...workflow.Node) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New().String()
	s.workflows[id] = &workflow.Workflow{ID: id, Active: true, UpdatedAt: time.Now()}
	s.nodes[id] = nodes
	return id
}

type fakeFeed struct {
	mu     sync.Mutex
	prices map[string]float64
	calls  int
}

func (f *fakeFeed) FetchPrice(ctx context.Context, exchange, symbol string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	price, ok := f.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("no price for %s", symbol)
	}
	return price, nil
}

type fakeRunner struct {
	mu       sync.Mutex
	payloads []*workflow.TriggerPayload
	ctxErrs  []error
	err      error
}

func (r *fakeRunner) Run(ctx context.Context, workflowID string, payload *workflow.TriggerPayload) (*engine.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = append(r.payloads, payload)
	r.ctxErrs = append(r.ctxErrs, ctx.Err())
	if r.err != nil {
		return nil, r.err
	}
	return &engine.Result{ExecutionID: uuid.New().String()}, nil
}

func (r *fakeRunner) runs() []*workflow.TriggerPayload {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*workflow.TriggerPayload, len(r.payloads))
	copy(out, r.payloads)
	return out
}

func priceNode(nodeID, asset string, target float64, operator string) workflow.Node {
	meta := fmt.Sprintf(`{"asset": %q, "price": %f, "operator": %q}`, asset, target, operator)
	return workflow.Node{
		ID:       uuid.New().String(),
		NodeID:   nodeID,
		Kind:     workflow.NodeKindTrigger,
		Type:     workflow.NodeTypePrice,
		MetaData: json.RawMessage(meta),
	}
}

func newTestMonitor(store *fakeWorkflowStore, feed *fakeFeed, runner *fakeRunner) *Monitor {
	return New(store, feed, runner, logger.NewNop(), time.Second, time.Second, "binance")
}

func TestMonitor_RegisterWorkflow(t *testing.T) {
	store := newFakeWorkflowStore()
	id := store.addWorkflow(
		priceNode("t1", "BTC", 48000, "<="),
		priceNode("t2", "ETH", 4000, ">="),
	)
	m := newTestMonitor(store, &fakeFeed{}, &fakeRunner{})

	require.NoError(t, m.RegisterWorkflow(context.Background(), id))

	triggers := m.ActiveTriggers()
	require.Len(t, triggers, 2)
}

func TestMonitor_InvalidTriggerSkipped(t *testing.T) {
	store := newFakeWorkflowStore()
	bad := workflow.Node{
		ID:       uuid.New().String(),
		NodeID:   "bad",
		Kind:     workflow.NodeKindTrigger,
		Type:     workflow.NodeTypePrice,
		MetaData: json.RawMessage(`{"asset": "", "price": 0}`),
	}
	id := store.addWorkflow(bad, priceNode("ok", "BTC", 48000, "<="))
	m := newTestMonitor(store, &fakeFeed{}, &fakeRunner{})

	require.NoError(t, m.RegisterWorkflow(context.Background(), id))

	triggers := m.ActiveTriggers()
	require.Len(t, triggers, 1)
	assert.Equal(t, "ok", triggers[0].NodeID)
}

func TestMonitor_PollFiresWhenConditionMet(t *testing.T) {
	store := newFakeWorkflowStore()
	id := store.addWorkflow(priceNode("t1", "BTC", 48000, "<="))
	feed := &fakeFeed{prices: map[string]float64{"BTC": 47500}}
	runner := &fakeRunner{}
	m := newTestMonitor(store, feed, runner)

	require.NoError(t, m.RegisterWorkflow(context.Background(), id))
	m.Poll(context.Background())

	runs := runner.runs()
	require.Len(t, runs, 1)
	payload := runs[0]
	assert.Equal(t, workflow.TriggeredByPrice, payload.TriggeredBy)
	assert.Equal(t, "t1", payload.NodeID)
	assert.Equal(t, "BTC", payload.Symbol)
	assert.Equal(t, 47500.0, payload.CurrentPrice)
	assert.Equal(t, 48000.0, payload.TargetPrice)

	// One-shot: trigger consumed, workflow deactivated
	assert.Empty(t, m.ActiveTriggers())
	assert.Equal(t, []string{id}, store.deactivated)
}

func TestMonitor_PollHoldsWhenConditionNotMet(t *testing.T) {
	store := newFakeWorkflowStore()
	id := store.addWorkflow(priceNode("t1", "BTC", 48000, "<="))
	feed := &fakeFeed{prices: map[string]float64{"BTC": 52000}}
	runner := &fakeRunner{}
	m := newTestMonitor(store, feed, runner)

	require.NoError(t, m.RegisterWorkflow(context.Background(), id))
	m.Poll(context.Background())

	assert.Empty(t, runner.runs())
	assert.Len(t, m.ActiveTriggers(), 1)
	assert.Empty(t, store.deactivated)
}

func TestMonitor_FiredTriggerConsumedEvenWhenRunFails(t *testing.T) {
	store := newFakeWorkflowStore()
	id := store.addWorkflow(priceNode("t1", "BTC", 48000, "<="))
	feed := &fakeFeed{prices: map[string]float64{"BTC": 47000}}
	runner := &fakeRunner{err: errors.New("exchange rejected order")}
	m := newTestMonitor(store, feed, runner)

	require.NoError(t, m.RegisterWorkflow(context.Background(), id))
	m.Poll(context.Background())

	require.Len(t, runner.runs(), 1)
	assert.Empty(t, m.ActiveTriggers())
	assert.Equal(t, []string{id}, store.deactivated)

	// A second pass must not fire again
	m.Poll(context.Background())
	assert.Len(t, runner.runs(), 1)
}

func TestMonitor_FireDuringShutdownRecordsOutcome(t *testing.T) {
	store := newFakeWorkflowStore()
	id := store.addWorkflow(priceNode("t1", "BTC", 48000, "<="))
	feed := &fakeFeed{prices: map[string]float64{"BTC": 47500}}
	runner := &fakeRunner{}
	m := newTestMonitor(store, feed, runner)

	require.NoError(t, m.RegisterWorkflow(context.Background(), id))

	// A poll whose parent context is already cancelled still completes a fire
	// with a live context, so the run is recorded and the one-shot trigger is
	// consumed instead of re-arming on the next start.
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	m.Poll(cancelled)

	runs := runner.runs()
	require.Len(t, runs, 1)
	runner.mu.Lock()
	assert.NoError(t, runner.ctxErrs[0])
	runner.mu.Unlock()

	assert.Empty(t, m.ActiveTriggers())
	assert.Equal(t, []string{id}, store.deactivated)
}

func TestMonitor_OneFetchPerSymbolPerPass(t *testing.T) {
	store := newFakeWorkflowStore()
	a := store.addWorkflow(priceNode("t1", "BTC", 48000, "<="))
	b := store.addWorkflow(priceNode("t1", "BTC", 100000, "<="))
	feed := &fakeFeed{prices: map[string]float64{"BTC": 200000}}
	runner := &fakeRunner{}
	m := newTestMonitor(store, feed, runner)

	require.NoError(t, m.RegisterWorkflow(context.Background(), a))
	require.NoError(t, m.RegisterWorkflow(context.Background(), b))
	m.Poll(context.Background())

	assert.Equal(t, 1, feed.calls)
	assert.Empty(t, runner.runs())
}

func TestMonitor_FetchFailureSkipsTrigger(t *testing.T) {
	store := newFakeWorkflowStore()
	id := store.addWorkflow(priceNode("t1", "DOGE", 1, "<="))
	feed := &fakeFeed{prices: map[string]float64{}}
	runner := &fakeRunner{}
	m := newTestMonitor(store, feed, runner)

	require.NoError(t, m.RegisterWorkflow(context.Background(), id))
	m.Poll(context.Background())

	// The trigger stays armed for the next pass
	assert.Empty(t, runner.runs())
	assert.Len(t, m.ActiveTriggers(), 1)
}

func TestMonitor_UnregisterWorkflow(t *testing.T) {
	store := newFakeWorkflowStore()
	keep := store.addWorkflow(priceNode("t1", "BTC", 48000, "<="))
	drop := store.addWorkflow(priceNode("t1", "ETH", 4000, ">="))
	m := newTestMonitor(store, &fakeFeed{}, &fakeRunner{})

	require.NoError(t, m.RegisterWorkflow(context.Background(), keep))
	require.NoError(t, m.RegisterWorkflow(context.Background(), drop))
	require.Len(t, m.ActiveTriggers(), 2)

	m.UnregisterWorkflow(drop)

	triggers := m.ActiveTriggers()
	require.Len(t, triggers, 1)
	assert.Equal(t, keep, triggers[0].WorkflowID)
}

func TestMonitor_LoadTriggers(t *testing.T) {
	store := newFakeWorkflowStore()
	store.addWorkflow(priceNode("t1", "BTC", 48000, "<="))
	store.addWorkflow(priceNode("t1", "ETH", 4000, ">="))
	m := newTestMonitor(store, &fakeFeed{}, &fakeRunner{})

	require.NoError(t, m.LoadTriggers(context.Background()))
	assert.Len(t, m.ActiveTriggers(), 2)
}

func TestMonitor_DefaultExchangeApplied(t *testing.T) {
	store := newFakeWorkflowStore()
	id := store.addWorkflow(priceNode("t1", "BTC", 48000, "<="))
	m := newTestMonitor(store, &fakeFeed{}, &fakeRunner{})

	require.NoError(t, m.RegisterWorkflow(context.Background(), id))

	triggers := m.ActiveTriggers()
	require.Len(t, triggers, 1)
	assert.Equal(t, "binance", triggers[0].Exchange)
}
