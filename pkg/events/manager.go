package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// defaultCatchupLimit caps one catchup response unless configured
// otherwise. Past it the client gets catchup.overflow and reloads over REST.
const defaultCatchupLimit = 200

// listenTimeout bounds the LISTEN issued for a channel's first subscriber,
// which runs on that client's read loop.
const listenTimeout = 10 * time.Second

// Server → client message types.
const (
	msgConnectionEstablished = "connection.established"
	msgSubscriptionConfirmed = "subscription.confirmed"
	msgSubscriptionError     = "subscription.error"
	msgCatchupOverflow       = "catchup.overflow"
	msgPong                  = "pong"
	msgError                 = "error"
)

// CatchupEvent is one stored event replayed to a client.
type CatchupEvent struct {
	ID      int64
	Payload map[string]any
}

// CatchupQuerier queries events for catchup. Implemented by EventServiceAdapter.
type CatchupQuerier interface {
	GetCatchupEvents(ctx context.Context, channel string, sinceID int64, limit int) ([]CatchupEvent, error)
}

// channelListener is the part of NotifyListener the manager drives.
type channelListener interface {
	Subscribe(ctx context.Context, channel string) error
	Unsubscribe(ctx context.Context, channel string) error
}

// serverMessage is every control message the manager sends. Event payloads
// are forwarded verbatim and never go through it.
type serverMessage struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connection_id,omitempty"`
	Channel      string `json:"channel,omitempty"`
	Message      string `json:"message,omitempty"`
	HasMore      bool   `json:"has_more,omitempty"`
	LastEventID  int64  `json:"last_event_id,omitempty"`
}

// client is one WebSocket connection. subscriptions is only touched by the
// goroutine running HandleConnection for it.
type client struct {
	id            string
	conn          *websocket.Conn
	subscriptions map[string]bool
	ctx           context.Context
	cancel        context.CancelFunc
}

// ConnectionManager fans workflow channel messages out to WebSocket
// clients of this process and replays stored events on (re)subscribe.
type ConnectionManager struct {
	catchup      CatchupQuerier
	writeTimeout time.Duration
	catchupLimit int

	mu          sync.RWMutex
	clients     map[string]*client
	subscribers map[string]map[string]*client // channel -> client id -> client
	listener    channelListener
}

// NewConnectionManager creates a ConnectionManager. A non-positive
// catchupLimit selects the default of 200.
func NewConnectionManager(catchup CatchupQuerier, writeTimeout time.Duration, catchupLimit int) *ConnectionManager {
	if catchupLimit <= 0 {
		catchupLimit = defaultCatchupLimit
	}
	return &ConnectionManager{
		catchup:      catchup,
		writeTimeout: writeTimeout,
		catchupLimit: catchupLimit,
		clients:      make(map[string]*client),
		subscribers:  make(map[string]map[string]*client),
	}
}

// SetListener wires the NotifyListener that backs channel subscriptions.
func (m *ConnectionManager) SetListener(l *NotifyListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l == nil {
		m.listener = nil
		return
	}
	m.listener = l
}

func (m *ConnectionManager) currentListener() channelListener {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listener
}

// HandleConnection serves one upgraded connection until it closes.
func (m *ConnectionManager) HandleConnection(parentCtx context.Context, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(parentCtx)
	c := &client{
		id:            uuid.New().String(),
		conn:          conn,
		subscriptions: make(map[string]bool),
		ctx:           ctx,
		cancel:        cancel,
	}

	m.mu.Lock()
	m.clients[c.id] = c
	m.mu.Unlock()
	defer m.disconnect(c)

	m.send(c, serverMessage{Type: msgConnectionEstablished, ConnectionID: c.id})

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("Invalid WebSocket message", "connection_id", c.id, "error", err)
			continue
		}
		m.dispatch(ctx, c, &msg)
	}
}

// Broadcast writes payload to every local subscriber of channel.
func (m *ConnectionManager) Broadcast(channel string, payload []byte) {
	m.mu.RLock()
	targets := make([]*client, 0, len(m.subscribers[channel]))
	for _, c := range m.subscribers[channel] {
		targets = append(targets, c)
	}
	m.mu.RUnlock()

	for _, c := range targets {
		if err := m.write(c, payload); err != nil {
			slog.Warn("Failed to send to WebSocket client", "connection_id", c.id, "error", err)
		}
	}
}

// HandleNotification implements NotificationHandler.
func (m *ConnectionManager) HandleNotification(channel string, payload []byte) {
	m.Broadcast(channel, payload)
}

// ActiveConnections returns the number of open connections.
func (m *ConnectionManager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

func (m *ConnectionManager) subscriberCount(channel string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscribers[channel])
}

func (m *ConnectionManager) dispatch(ctx context.Context, c *client, msg *ClientMessage) {
	if msg.Action == "ping" {
		m.send(c, serverMessage{Type: msgPong})
		return
	}
	if msg.Channel == "" {
		m.send(c, serverMessage{Type: msgError, Message: fmt.Sprintf("channel is required for %s", msg.Action)})
		return
	}

	switch msg.Action {
	case "subscribe":
		if !validChannel(msg.Channel) {
			m.send(c, serverMessage{Type: msgSubscriptionError, Channel: msg.Channel, Message: "unknown channel"})
			return
		}
		if err := m.subscribe(c, msg.Channel); err != nil {
			m.send(c, serverMessage{Type: msgSubscriptionError, Channel: msg.Channel, Message: "failed to subscribe to channel"})
			return
		}
		m.send(c, serverMessage{Type: msgSubscriptionConfirmed, Channel: msg.Channel})
		// A subscribe carrying last_event_id resumes; otherwise the whole
		// stored history is replayed.
		var since int64
		if msg.LastEventID != nil {
			since = *msg.LastEventID
		}
		m.replay(ctx, c, msg.Channel, since)

	case "unsubscribe":
		m.unsubscribe(c, msg.Channel)

	case "catchup":
		if msg.LastEventID != nil {
			m.replay(ctx, c, msg.Channel, *msg.LastEventID)
		}
	}
}

func validChannel(channel string) bool {
	if channel == GlobalWorkflowsChannel {
		return true
	}
	_, ok := WorkflowIDFromChannel(channel)
	return ok
}

// subscribe adds c to channel. The first subscriber issues LISTEN and
// waits for it, so the replay that follows cannot miss an event published
// in between.
func (m *ConnectionManager) subscribe(c *client, channel string) error {
	m.mu.Lock()
	subs, existed := m.subscribers[channel]
	if !existed {
		subs = make(map[string]*client)
		m.subscribers[channel] = subs
	}
	subs[c.id] = c
	l := m.listener
	m.mu.Unlock()

	if !existed && l != nil {
		ctx, cancel := context.WithTimeout(context.Background(), listenTimeout)
		defer cancel()
		if err := l.Subscribe(ctx, channel); err != nil {
			slog.Error("Failed to LISTEN on channel", "channel", channel, "error", err)
			m.dropChannel(c, channel)
			return fmt.Errorf("LISTEN on channel %s: %w", channel, err)
		}
	}

	c.subscriptions[channel] = true
	return nil
}

// dropChannel removes a channel whose LISTEN failed. Clients that joined
// while it was in flight were already confirmed, so they get
// subscription.error; the triggering client is told by its caller.
func (m *ConnectionManager) dropChannel(trigger *client, channel string) {
	m.mu.Lock()
	orphans := make([]*client, 0, len(m.subscribers[channel]))
	for id, c := range m.subscribers[channel] {
		if id != trigger.id {
			orphans = append(orphans, c)
		}
	}
	delete(m.subscribers, channel)
	m.mu.Unlock()

	for _, c := range orphans {
		slog.Warn("Removing orphaned subscriber after LISTEN failure", "connection_id", c.id, "channel", channel)
		m.send(c, serverMessage{
			Type:    msgSubscriptionError,
			Channel: channel,
			Message: "channel listen failed; subscription removed",
		})
	}
}

// unsubscribe removes c from channel. The last subscriber leaving stops
// LISTEN in the background unless someone resubscribed in the meantime.
func (m *ConnectionManager) unsubscribe(c *client, channel string) {
	delete(c.subscriptions, channel)

	m.mu.Lock()
	subs, ok := m.subscribers[channel]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(subs, c.id)
	last := len(subs) == 0
	if last {
		delete(m.subscribers, channel)
	}
	l := m.listener
	m.mu.Unlock()

	if !last || l == nil {
		return
	}
	go func() {
		m.mu.RLock()
		_, resubscribed := m.subscribers[channel]
		m.mu.RUnlock()
		if resubscribed {
			return
		}
		if err := l.Unsubscribe(context.Background(), channel); err != nil {
			slog.Error("Failed to UNLISTEN channel", "channel", channel, "error", err)
		}
	}()
}

// replay sends stored events of channel after sinceID. Overflow carries
// the last id delivered so the client can keep paging with catchup.
func (m *ConnectionManager) replay(ctx context.Context, c *client, channel string, sinceID int64) {
	if m.catchup == nil {
		return
	}
	stored, err := m.catchup.GetCatchupEvents(ctx, channel, sinceID, m.catchupLimit+1)
	if err != nil {
		slog.Error("Catchup query failed", "channel", channel, "error", err)
		return
	}

	overflow := len(stored) > m.catchupLimit
	if overflow {
		stored = stored[:m.catchupLimit]
	}

	last := sinceID
	for _, evt := range stored {
		// db_event_id is injected into NOTIFY payloads at publish time and
		// is not part of the stored row.
		evt.Payload["db_event_id"] = evt.ID
		payload, err := json.Marshal(evt.Payload)
		if err != nil {
			slog.Warn("Skipping unencodable catchup event", "event_id", evt.ID, "error", err)
			continue
		}
		if err := m.write(c, payload); err != nil {
			slog.Warn("Failed to send catchup event", "connection_id", c.id, "error", err)
			return
		}
		last = evt.ID
	}

	if overflow {
		m.send(c, serverMessage{Type: msgCatchupOverflow, Channel: channel, HasMore: true, LastEventID: last})
	}
}

func (m *ConnectionManager) disconnect(c *client) {
	for channel := range c.subscriptions {
		m.unsubscribe(c, channel)
	}
	m.mu.Lock()
	delete(m.clients, c.id)
	m.mu.Unlock()

	c.cancel()
	_ = c.conn.Close(websocket.StatusNormalClosure, "")
}

func (m *ConnectionManager) send(c *client, msg serverMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Warn("Failed to marshal WebSocket message", "connection_id", c.id, "error", err)
		return
	}
	if err := m.write(c, data); err != nil {
		slog.Warn("Failed to send WebSocket message", "connection_id", c.id, "error", err)
	}
}

func (m *ConnectionManager) write(c *client, data []byte) error {
	ctx, cancel := context.WithTimeout(c.ctx, m.writeTimeout)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, data)
}
