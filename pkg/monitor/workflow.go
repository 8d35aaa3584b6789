package monitor

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/codeready-toolchain/flowscope/pkg/events"
	"github.com/codeready-toolchain/flowscope/pkg/timeline"
)

// Snapshot is an immutable view of one workflow's session.
type Snapshot struct {
	WorkflowID  string                     `json:"workflow_id"`
	Sections    []timeline.AgentSection    `json:"sections"`
	Subagents   []timeline.SubagentSession `json:"subagents"`
	Diagnostics []timeline.Diagnostic      `json:"diagnostics"`
	Cursor      int                        `json:"cursor"`
	ApproxBytes int                        `json:"approx_bytes"`
	Window      int                        `json:"window"`
	LastEventID int64                      `json:"last_event_id"`
	Skipped     int                        `json:"skipped"`
	UpdatedAt   time.Time                  `json:"updated_at"`
}

// Empty reports whether nothing was ever read for the workflow.
func (s *Snapshot) Empty() bool {
	return s.Cursor == 0 && s.LastEventID == 0 && s.Skipped == 0
}

type opKind int

const (
	opRefresh opKind = iota
	opAppend
	opReplace
	opReset
)

type command struct {
	op     opKind
	events []timeline.Event
	done   chan error
}

// workflow owns one session. Only run touches window, session and lastID.
type workflow struct {
	id      string
	monitor *Monitor

	ctx    context.Context
	cancel context.CancelFunc

	cmds         chan command
	kicks        chan struct{}
	pendingReset atomic.Bool
	lastActive   atomic.Int64

	snapshot atomic.Pointer[Snapshot]

	session *timeline.Session
	window  []timeline.Event
	lastID  int64
	skipped int
}

func newWorkflow(parent context.Context, id string, m *Monitor) *workflow {
	ctx, cancel := context.WithCancel(parent)
	w := &workflow{
		id:      id,
		monitor: m,
		ctx:     ctx,
		cancel:  cancel,
		cmds:    make(chan command, m.config.QueueSize),
		kicks:   make(chan struct{}, 1),
		session: timeline.NewSession(),
	}
	w.touch()
	w.snapshot.Store(&Snapshot{WorkflowID: id, UpdatedAt: time.Now()})
	return w
}

func (w *workflow) touch() {
	w.lastActive.Store(time.Now().UnixNano())
}

func (w *workflow) lastActiveAt() time.Time {
	return time.Unix(0, w.lastActive.Load())
}

// do enqueues cmd and waits for it to be applied.
func (w *workflow) do(ctx context.Context, cmd command) error {
	w.touch()
	cmd.done = make(chan error, 1)

	select {
	case w.cmds <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-w.ctx.Done():
		return errRetired
	}

	select {
	case err := <-cmd.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-w.ctx.Done():
		return errRetired
	}
}

// kick requests an asynchronous refresh. Concurrent kicks coalesce.
func (w *workflow) kick() {
	w.touch()
	select {
	case w.kicks <- struct{}{}:
	default:
	}
}

func (w *workflow) requestReset() {
	w.pendingReset.Store(true)
	w.kick()
}

func (w *workflow) run() {
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.kicks:
			if w.pendingReset.Swap(false) {
				w.reset()
			}
			if err := w.refresh(); err != nil {
				slog.Warn("Failed to refresh workflow", "workflow_id", w.id, "error", err)
			}
		case cmd := <-w.cmds:
			cmd.done <- w.handle(cmd)
		}
	}
}

func (w *workflow) handle(cmd command) error {
	switch cmd.op {
	case opRefresh:
		return w.refresh()
	case opAppend:
		w.window = append(w.window, cmd.events...)
		w.fold(false)
		return nil
	case opReplace:
		w.window = append([]timeline.Event(nil), cmd.events...)
		w.session = timeline.NewSession()
		w.fold(true)
		return nil
	case opReset:
		w.pendingReset.Store(false)
		w.reset()
		return w.refresh()
	}
	return nil
}

// refresh pulls every row after lastID from the store.
func (w *workflow) refresh() error {
	store := w.monitor.store
	if store == nil {
		return nil
	}
	limit := w.monitor.config.FetchLimit

	added := 0
	for {
		rows, err := store.ListSince(w.ctx, w.id, w.lastID, limit)
		if err != nil {
			if added > 0 {
				w.fold(false)
			}
			return err
		}
		for _, row := range rows {
			w.lastID = row.ID
			ev, err := timeline.Decode(int(row.ID), row.Envelope())
			if err != nil {
				w.skipped++
				slog.Warn("Skipping undecodable stored event",
					"workflow_id", w.id,
					"event_id", row.ID,
					"error", err)
				continue
			}
			w.window = append(w.window, ev)
			added++
		}
		if len(rows) < limit {
			break
		}
	}

	if added > 0 {
		w.fold(false)
	}
	return nil
}

func (w *workflow) reset() {
	w.window = nil
	w.session = timeline.NewSession()
	w.lastID = 0
	w.skipped = 0
	w.publish(timeline.ApplyResult{Reset: true})
}

// fold applies the unseen suffix of the window. Once the window outgrows
// MaxEvents the newest half is kept and the session rebuilt from it.
func (w *workflow) fold(reset bool) {
	if maxEvents := w.monitor.config.MaxEvents; len(w.window) > maxEvents {
		keep := maxEvents / 2
		w.window = append([]timeline.Event(nil), w.window[len(w.window)-keep:]...)
		w.session = timeline.NewSession()
		reset = true
		slog.Debug("Event window trimmed", "workflow_id", w.id, "kept", keep)
	}

	res := w.monitor.reducer.Apply(w.session, w.window)
	res.Reset = res.Reset || reset
	if res.Folded == 0 && !res.Reset {
		return
	}
	w.publish(res)
}

func (w *workflow) publish(res timeline.ApplyResult) {
	now := time.Now()
	snap := &Snapshot{
		WorkflowID:  w.id,
		Sections:    w.session.Sections(),
		Subagents:   w.session.SubagentSessions(),
		Diagnostics: w.session.Diagnostics(),
		Cursor:      w.session.Cursor(),
		ApproxBytes: w.session.ApproxBytes(),
		Window:      len(w.window),
		LastEventID: w.lastID,
		Skipped:     w.skipped,
		UpdatedAt:   now,
	}
	w.snapshot.Store(snap)

	b := w.monitor.broadcaster
	if b == nil {
		return
	}
	payload := events.NewSessionUpdatedPayload(w.id, now)
	payload.Cursor = snap.Cursor
	payload.SectionCount = len(snap.Sections)
	payload.SubagentCount = len(snap.Subagents)
	payload.ApproxBytes = snap.ApproxBytes
	payload.LastEventID = snap.LastEventID
	payload.Folded = res.Folded
	payload.Reset = res.Reset
	payload.Evicted = res.Evicted
	payload.Dropped = res.Dropped

	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("Failed to marshal session update", "workflow_id", w.id, "error", err)
		return
	}
	b.Broadcast(events.WorkflowChannel(w.id), data)
}
