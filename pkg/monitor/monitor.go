// Package monitor keeps one live timeline session per active workflow.
//
// Each workflow is owned by a single goroutine that pulls new rows from the
// event store, folds them into its session and publishes an immutable
// Snapshot for readers. Workflows are created on first query or on activity
// announced over the global notification channel, and retired after an idle
// period.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/codeready-toolchain/flowscope/pkg/config"
	"github.com/codeready-toolchain/flowscope/pkg/models"
	"github.com/codeready-toolchain/flowscope/pkg/timeline"
)

var (
	// ErrUnknownWorkflow is returned for workflows with no stored events.
	ErrUnknownWorkflow = errors.New("unknown workflow")

	// ErrStopped is returned once the monitor has been stopped.
	ErrStopped = errors.New("monitor stopped")

	errRetired = errors.New("workflow retired")
)

// Store is the read side of the event table.
type Store interface {
	ListSince(ctx context.Context, workflowID string, afterID int64, limit int) ([]*models.StoredEvent, error)
}

// Broadcaster delivers messages to local subscribers of a channel.
type Broadcaster interface {
	Broadcast(channel string, payload []byte)
}

// Monitor manages the per-workflow live sessions.
type Monitor struct {
	store       Store
	broadcaster Broadcaster
	config      *config.MonitorConfig
	reducer     *timeline.Reducer

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	wg       sync.WaitGroup

	// workflow_id → owner
	workflows map[string]*workflow
	mu        sync.Mutex
	started   bool
}

// New creates a Monitor. store may be nil for sources that push events
// through Append and Replace; broadcaster may be nil when nobody listens.
func New(store Store, broadcaster Broadcaster, cfg *config.MonitorConfig, reducerCfg timeline.Config) *Monitor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		store:       store,
		broadcaster: broadcaster,
		config:      cfg,
		reducer:     timeline.NewReducer(reducerCfg),
		ctx:         ctx,
		cancel:      cancel,
		workflows:   make(map[string]*workflow),
	}
}

// Start launches the idle janitor. It is safe to call multiple times;
// subsequent calls are no-ops.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		slog.Warn("Monitor already started, ignoring duplicate Start call")
		return
	}
	m.started = true

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.runJanitor(ctx)
	}()
	slog.Info("Monitor started",
		"max_events", m.config.MaxEvents,
		"idle_timeout", m.config.IdleTimeout)
}

// Stop cancels every workflow goroutine and waits for them to exit.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		count := len(m.workflows)
		m.mu.Unlock()
		slog.Info("Stopping monitor", "workflows", count)
		m.cancel()
	})
	m.wg.Wait()
}

// Count returns the number of tracked workflows.
func (m *Monitor) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.workflows)
}

// Snapshot brings the workflow up to date with the store and returns its
// current state.
func (m *Monitor) Snapshot(ctx context.Context, workflowID string) (*Snapshot, error) {
	if m.store == nil {
		w, ok := m.lookup(workflowID)
		if !ok {
			return nil, ErrUnknownWorkflow
		}
		return w.snapshot.Load(), nil
	}

	var snap *Snapshot
	err := m.withWorkflow(workflowID, func(w *workflow) error {
		if err := w.do(ctx, command{op: opRefresh}); err != nil {
			return err
		}
		snap = w.snapshot.Load()
		return nil
	})
	if err != nil {
		return nil, err
	}
	if snap.Empty() {
		m.retireIfEmpty(workflowID)
		return nil, ErrUnknownWorkflow
	}
	return snap, nil
}

// Append folds events delivered outside the store.
func (m *Monitor) Append(ctx context.Context, workflowID string, events ...timeline.Event) error {
	return m.withWorkflow(workflowID, func(w *workflow) error {
		return w.do(ctx, command{op: opAppend, events: events})
	})
}

// Replace discards the workflow's state and folds events as its full history.
func (m *Monitor) Replace(ctx context.Context, workflowID string, events []timeline.Event) error {
	return m.withWorkflow(workflowID, func(w *workflow) error {
		return w.do(ctx, command{op: opReplace, events: events})
	})
}

// Reset clears the workflow's state and rereads whatever the store still
// holds. Unknown workflows are ignored.
func (m *Monitor) Reset(ctx context.Context, workflowID string) error {
	w, ok := m.lookup(workflowID)
	if !ok {
		return nil
	}
	err := w.do(ctx, command{op: opReset})
	if errors.Is(err, errRetired) {
		return nil
	}
	return err
}

// Refresh asks the workflow to pull new rows without waiting.
func (m *Monitor) Refresh(workflowID string) {
	if w, ok := m.ensure(workflowID); ok {
		w.kick()
	}
}

// withWorkflow runs fn against the workflow owner, retrying once when the
// janitor retired it in between.
func (m *Monitor) withWorkflow(workflowID string, fn func(w *workflow) error) error {
	for attempt := 0; ; attempt++ {
		w, ok := m.ensure(workflowID)
		if !ok {
			return ErrStopped
		}
		err := fn(w)
		if errors.Is(err, errRetired) && attempt == 0 {
			continue
		}
		if errors.Is(err, errRetired) {
			return ErrStopped
		}
		return err
	}
}

func (m *Monitor) lookup(workflowID string) (*workflow, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workflows[workflowID]
	return w, ok
}

// ensure returns the workflow owner, starting one if needed.
func (m *Monitor) ensure(workflowID string) (*workflow, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx.Err() != nil {
		return nil, false
	}
	if w, ok := m.workflows[workflowID]; ok {
		return w, true
	}

	w := newWorkflow(m.ctx, workflowID, m)
	m.workflows[workflowID] = w
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		w.run()
	}()
	slog.Debug("Tracking workflow", "workflow_id", workflowID)
	return w, true
}

func (m *Monitor) retire(w *workflow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.workflows[w.id]; ok && cur == w {
		delete(m.workflows, w.id)
	}
	w.cancel()
}

func (m *Monitor) retireIfEmpty(workflowID string) {
	if w, ok := m.lookup(workflowID); ok && w.snapshot.Load().Empty() {
		m.retire(w)
	}
}

func (m *Monitor) runJanitor(ctx context.Context) {
	interval := max(m.config.IdleTimeout/4, 10*time.Millisecond)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.retireIdle(time.Now())
		}
	}
}

func (m *Monitor) retireIdle(now time.Time) {
	m.mu.Lock()
	var idle []*workflow
	for _, w := range m.workflows {
		if now.Sub(w.lastActiveAt()) > m.config.IdleTimeout {
			idle = append(idle, w)
		}
	}
	m.mu.Unlock()

	for _, w := range idle {
		slog.Debug("Retiring idle workflow", "workflow_id", w.id)
		m.retire(w)
	}
}
