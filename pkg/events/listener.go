package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
)

const (
	// waitSlice bounds how long the receive loop blocks in
	// WaitForNotification before it looks at queued LISTEN commands.
	waitSlice = 100 * time.Millisecond

	minReconnectDelay = time.Second
	maxReconnectDelay = 30 * time.Second
)

var errNotListening = errors.New("LISTEN connection not established")

// NotificationHandler receives every NOTIFY delivered to the listener.
// Implementations must not block; the receive loop calls them inline.
type NotificationHandler interface {
	HandleNotification(channel string, payload []byte)
}

// ReconnectHandler is implemented by handlers that need to know when the
// LISTEN connection was re-established. Notifications sent while the
// connection was down are lost, so such handlers resynchronize from the
// store.
type ReconnectHandler interface {
	HandleReconnect()
}

type channelOp struct {
	verb    string // LISTEN or UNLISTEN
	channel string
	result  chan error
}

// NotifyListener owns a dedicated pgx connection for LISTEN and fans
// notifications out to local handlers (ConnectionManager, monitor). Only
// the receive loop touches the connection; Subscribe and Unsubscribe hand
// their statements to it through ops.
type NotifyListener struct {
	connString string
	handlers   []NotificationHandler

	conn *pgx.Conn // owned by the receive loop once started

	mu       sync.RWMutex
	channels map[string]bool // channel -> pinned

	ops       chan channelOp
	running   atomic.Bool
	delivered atomic.Int64

	cancel context.CancelFunc
	done   chan struct{}
}

// NewNotifyListener creates a listener for connString. Call Start before
// subscribing.
func NewNotifyListener(connString string, handlers ...NotificationHandler) *NotifyListener {
	return &NotifyListener{
		connString: connString,
		handlers:   handlers,
		channels:   make(map[string]bool),
		ops:        make(chan channelOp, 16),
	}
}

// Start connects and launches the receive loop.
func (l *NotifyListener) Start(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, l.connString)
	if err != nil {
		return fmt.Errorf("failed to connect for LISTEN: %w", err)
	}
	l.conn = conn
	l.running.Store(true)

	loopCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	go func() {
		defer close(l.done)
		l.receiveLoop(loopCtx)
	}()

	slog.Info("NotifyListener started")
	return nil
}

// Subscribe starts listening on channel. Repeated calls are no-ops.
func (l *NotifyListener) Subscribe(ctx context.Context, channel string) error {
	if l.isListening(channel) {
		return nil
	}
	if err := l.submit(ctx, "LISTEN", channel); err != nil {
		return err
	}
	l.mu.Lock()
	if _, ok := l.channels[channel]; !ok {
		l.channels[channel] = false
	}
	l.mu.Unlock()
	slog.Debug("Subscribed to NOTIFY channel", "channel", channel)
	return nil
}

// Pin subscribes to a channel that stays LISTENed until Stop, even after
// its last WebSocket subscriber leaves.
func (l *NotifyListener) Pin(ctx context.Context, channel string) error {
	if err := l.Subscribe(ctx, channel); err != nil {
		return err
	}
	l.mu.Lock()
	l.channels[channel] = true
	l.mu.Unlock()
	return nil
}

// Unsubscribe stops listening on channel. Pinned and unknown channels are
// left alone.
func (l *NotifyListener) Unsubscribe(ctx context.Context, channel string) error {
	l.mu.RLock()
	pinned, ok := l.channels[channel]
	l.mu.RUnlock()
	if !ok || pinned || !l.running.Load() {
		return nil
	}
	if err := l.submit(ctx, "UNLISTEN", channel); err != nil {
		return err
	}
	l.mu.Lock()
	delete(l.channels, channel)
	l.mu.Unlock()
	return nil
}

// Delivered returns the number of notifications dispatched so far.
func (l *NotifyListener) Delivered() int64 {
	return l.delivered.Load()
}

// submit queues a statement for the receive loop and waits for its result.
func (l *NotifyListener) submit(ctx context.Context, verb, channel string) error {
	if !l.running.Load() {
		return errNotListening
	}
	op := channelOp{verb: verb, channel: channel, result: make(chan error, 1)}

	select {
	case l.ops <- op:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-op.result:
		if err != nil {
			return fmt.Errorf("%s %s failed: %w", verb, channel, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *NotifyListener) receiveLoop(ctx context.Context) {
	for ctx.Err() == nil {
		l.drainOps(ctx)

		if l.conn == nil {
			l.reconnect(ctx)
			continue
		}

		waitCtx, cancel := context.WithTimeout(ctx, waitSlice)
		n, err := l.conn.WaitForNotification(waitCtx)
		cancel()

		switch {
		case err == nil:
			l.dispatch(n.Channel, []byte(n.Payload))
		case ctx.Err() != nil:
			return
		case waitCtx.Err() != nil:
			// Slice elapsed; go back for queued ops.
		default:
			slog.Error("NOTIFY receive error", "error", err)
			l.closeConn(ctx)
		}
	}
}

func (l *NotifyListener) dispatch(channel string, payload []byte) {
	l.delivered.Add(1)
	for _, h := range l.handlers {
		h.HandleNotification(channel, payload)
	}
}

func (l *NotifyListener) drainOps(ctx context.Context) {
	for {
		select {
		case op := <-l.ops:
			if l.conn == nil {
				op.result <- errNotListening
				continue
			}
			_, err := l.conn.Exec(ctx, op.verb+" "+pgx.Identifier{op.channel}.Sanitize())
			op.result <- err
		default:
			return
		}
	}
}

func (l *NotifyListener) closeConn(ctx context.Context) {
	if l.conn != nil {
		_ = l.conn.Close(ctx)
		l.conn = nil
	}
}

// reconnect dials with exponential backoff, restores every LISTEN and
// tells ReconnectHandlers that notifications may have been missed.
func (l *NotifyListener) reconnect(ctx context.Context) {
	l.closeConn(ctx)

	delay := minReconnectDelay
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		conn, err := pgx.Connect(ctx, l.connString)
		if err != nil {
			slog.Error("LISTEN reconnect failed", "error", err, "backoff", delay)
			delay = min(delay*2, maxReconnectDelay)
			continue
		}
		l.conn = conn
		break
	}

	l.mu.RLock()
	channels := make([]string, 0, len(l.channels))
	for ch := range l.channels {
		channels = append(channels, ch)
	}
	l.mu.RUnlock()
	for _, ch := range channels {
		if _, err := l.conn.Exec(ctx, "LISTEN "+pgx.Identifier{ch}.Sanitize()); err != nil {
			slog.Error("Re-LISTEN failed", "channel", ch, "error", err)
		}
	}

	slog.Info("NotifyListener reconnected", "channels", len(channels))
	for _, h := range l.handlers {
		if rh, ok := h.(ReconnectHandler); ok {
			rh.HandleReconnect()
		}
	}
}

// Stop ends the receive loop and closes the connection.
func (l *NotifyListener) Stop(ctx context.Context) {
	l.running.Store(false)
	if l.cancel != nil {
		l.cancel()
	}
	if l.done != nil {
		<-l.done
	}
	l.closeConn(ctx)
}

func (l *NotifyListener) isListening(channel string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.channels[channel]
	return ok
}
