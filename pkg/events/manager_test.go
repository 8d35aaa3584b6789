package events

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockCatchupQuerier implements CatchupQuerier for tests.
type mockCatchupQuerier struct {
	events []CatchupEvent
	err    error
}

func (m *mockCatchupQuerier) GetCatchupEvents(_ context.Context, _ string, sinceID int64, limit int) ([]CatchupEvent, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []CatchupEvent
	for _, evt := range m.events {
		if evt.ID <= sinceID {
			continue
		}
		// Copy the payload: the manager mutates it.
		payload := make(map[string]any, len(evt.Payload))
		for k, v := range evt.Payload {
			payload[k] = v
		}
		out = append(out, CatchupEvent{ID: evt.ID, Payload: payload})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// recordingHandler implements NotificationHandler for tests.
type recordingHandler struct {
	mu    sync.Mutex
	calls []string
}

func (h *recordingHandler) HandleNotification(channel string, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, channel+" "+string(payload))
}

func (h *recordingHandler) snapshot() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls...)
}

func startManager(t *testing.T, manager *ConnectionManager) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			t.Logf("WebSocket accept error: %v", err)
			return
		}
		manager.HandleConnection(r.Context(), conn)
	}))
	t.Cleanup(func() { server.Close() })
	return server
}

func setupTestManager(t *testing.T) (*ConnectionManager, *httptest.Server) {
	t.Helper()
	manager := NewConnectionManager(&mockCatchupQuerier{}, 5*time.Second, 0)
	return manager, startManager(t, manager)
}

func connectWS(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + server.URL[len("http"):]
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func send(t *testing.T, conn *websocket.Conn, msg ClientMessage) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))
}

func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, _, err := conn.Read(ctx)
	assert.Error(t, err, "expected no further messages")
}

// subscribe connects, subscribes to channel and consumes the handshake.
func subscribe(t *testing.T, server *httptest.Server, channel string) *websocket.Conn {
	t.Helper()
	conn := connectWS(t, server)
	require.Equal(t, "connection.established", readJSON(t, conn)["type"])
	send(t, conn, ClientMessage{Action: "subscribe", Channel: channel})
	msg := readJSON(t, conn)
	require.Equal(t, "subscription.confirmed", msg["type"])
	require.Equal(t, channel, msg["channel"])
	return conn
}

func TestConnectionManager_ConnectionEstablished(t *testing.T) {
	manager, server := setupTestManager(t)
	conn := connectWS(t, server)

	msg := readJSON(t, conn)
	assert.Equal(t, "connection.established", msg["type"])
	assert.NotEmpty(t, msg["connection_id"])
	assert.Equal(t, 1, manager.ActiveConnections())
}

func TestConnectionManager_BroadcastViaNotification(t *testing.T) {
	manager, server := setupTestManager(t)
	channel := WorkflowChannel("broadcast-test")

	conn1 := subscribe(t, server, channel)
	conn2 := subscribe(t, server, channel)
	other := subscribe(t, server, WorkflowChannel("other"))
	assert.Equal(t, 2, manager.subscriberCount(channel))

	payload, _ := json.Marshal(map[string]string{"type": EventTypeExecutionEvent, "workflow_id": "broadcast-test"})
	manager.HandleNotification(channel, payload)

	for _, conn := range []*websocket.Conn{conn1, conn2} {
		msg := readJSON(t, conn)
		assert.Equal(t, EventTypeExecutionEvent, msg["type"])
		assert.Equal(t, "broadcast-test", msg["workflow_id"])
	}
	expectSilence(t, other)
}

func TestConnectionManager_BroadcastToNonExistentChannel(t *testing.T) {
	manager, _ := setupTestManager(t)
	assert.NotPanics(t, func() {
		manager.Broadcast("workflow:nobody", []byte(`{"type":"x"}`))
	})
}

func TestConnectionManager_PingPong(t *testing.T) {
	_, server := setupTestManager(t)
	conn := connectWS(t, server)
	readJSON(t, conn)

	send(t, conn, ClientMessage{Action: "ping"})
	assert.Equal(t, "pong", readJSON(t, conn)["type"])
}

func TestConnectionManager_Unsubscribe(t *testing.T) {
	manager, server := setupTestManager(t)
	channel := WorkflowChannel("unsub-test")
	conn := subscribe(t, server, channel)

	send(t, conn, ClientMessage{Action: "unsubscribe", Channel: channel})
	// Messages are handled in order, so the pong proves the unsubscribe ran.
	send(t, conn, ClientMessage{Action: "ping"})
	require.Equal(t, "pong", readJSON(t, conn)["type"])
	assert.Equal(t, 0, manager.subscriberCount(channel))

	manager.Broadcast(channel, []byte(`{"type":"late"}`))
	expectSilence(t, conn)
}

func TestConnectionManager_EmptyChannelValidation(t *testing.T) {
	_, server := setupTestManager(t)
	conn := connectWS(t, server)
	readJSON(t, conn)

	for _, action := range []string{"subscribe", "unsubscribe", "catchup"} {
		send(t, conn, ClientMessage{Action: action})
		msg := readJSON(t, conn)
		assert.Equal(t, "error", msg["type"], action)
		assert.Contains(t, msg["message"], "channel is required")
	}
}

func TestConnectionManager_AutoCatchupOnSubscribe(t *testing.T) {
	querier := &mockCatchupQuerier{events: []CatchupEvent{
		{ID: 10, Payload: map[string]any{"type": EventTypeExecutionEvent, "event_type": "on_chain_start"}},
		{ID: 11, Payload: map[string]any{"type": EventTypeExecutionEvent, "event_type": "on_llm_new_token"}},
		{ID: 12, Payload: map[string]any{"type": EventTypeExecutionEvent, "event_type": "on_chain_end"}},
	}}
	manager := NewConnectionManager(querier, 5*time.Second, 0)
	server := startManager(t, manager)

	conn := subscribe(t, server, WorkflowChannel("catchup-test"))
	for _, want := range []float64{10, 11, 12} {
		msg := readJSON(t, conn)
		assert.Equal(t, want, msg["db_event_id"])
	}
	expectSilence(t, conn)
}

func TestConnectionManager_CatchupSinceLastEvent(t *testing.T) {
	querier := &mockCatchupQuerier{events: []CatchupEvent{
		{ID: 1, Payload: map[string]any{"seq": float64(1)}},
		{ID: 2, Payload: map[string]any{"seq": float64(2)}},
		{ID: 3, Payload: map[string]any{"seq": float64(3)}},
	}}
	manager := NewConnectionManager(querier, 5*time.Second, 0)
	server := startManager(t, manager)

	channel := WorkflowChannel("resume")
	conn := subscribe(t, server, channel)
	for range 3 {
		readJSON(t, conn)
	}

	lastEventID := int64(2)
	send(t, conn, ClientMessage{Action: "catchup", Channel: channel, LastEventID: &lastEventID})
	msg := readJSON(t, conn)
	assert.Equal(t, float64(3), msg["seq"])
	assert.Equal(t, float64(3), msg["db_event_id"])
	expectSilence(t, conn)
}

func TestConnectionManager_CatchupOverflow(t *testing.T) {
	events := make([]CatchupEvent, 5)
	for i := range events {
		events[i] = CatchupEvent{ID: int64(i + 1), Payload: map[string]any{"seq": float64(i + 1)}}
	}
	manager := NewConnectionManager(&mockCatchupQuerier{events: events}, 5*time.Second, 2)
	server := startManager(t, manager)

	channel := WorkflowChannel("overflow-test")
	conn := subscribe(t, server, channel)

	assert.Equal(t, float64(1), readJSON(t, conn)["seq"])
	assert.Equal(t, float64(2), readJSON(t, conn)["seq"])
	msg := readJSON(t, conn)
	assert.Equal(t, "catchup.overflow", msg["type"])
	assert.Equal(t, channel, msg["channel"])
	assert.Equal(t, true, msg["has_more"])
	assert.Equal(t, float64(2), msg["last_event_id"])

	// Paging on from the overflow marker.
	lastEventID := int64(2)
	send(t, conn, ClientMessage{Action: "catchup", Channel: channel, LastEventID: &lastEventID})
	assert.Equal(t, float64(3), readJSON(t, conn)["seq"])
	assert.Equal(t, float64(4), readJSON(t, conn)["seq"])
	assert.Equal(t, "catchup.overflow", readJSON(t, conn)["type"])
}

func TestConnectionManager_SubscribeResumesFromLastEventID(t *testing.T) {
	querier := &mockCatchupQuerier{events: []CatchupEvent{
		{ID: 1, Payload: map[string]any{"seq": float64(1)}},
		{ID: 2, Payload: map[string]any{"seq": float64(2)}},
	}}
	server := startManager(t, NewConnectionManager(querier, 5*time.Second, 0))

	conn := connectWS(t, server)
	readJSON(t, conn)
	lastEventID := int64(1)
	send(t, conn, ClientMessage{Action: "subscribe", Channel: WorkflowChannel("resume"), LastEventID: &lastEventID})
	require.Equal(t, "subscription.confirmed", readJSON(t, conn)["type"])
	assert.Equal(t, float64(2), readJSON(t, conn)["seq"])
	expectSilence(t, conn)
}

func TestConnectionManager_RejectsUnknownChannels(t *testing.T) {
	manager, server := setupTestManager(t)
	conn := connectWS(t, server)
	readJSON(t, conn)

	for _, channel := range []string{"sessions", "workflow:"} {
		send(t, conn, ClientMessage{Action: "subscribe", Channel: channel})
		msg := readJSON(t, conn)
		assert.Equal(t, "subscription.error", msg["type"], channel)
		assert.Equal(t, "unknown channel", msg["message"])
		assert.Zero(t, manager.subscriberCount(channel))
	}
}

func TestConnectionManager_CatchupError(t *testing.T) {
	manager := NewConnectionManager(&mockCatchupQuerier{err: fmt.Errorf("database unreachable")}, 5*time.Second, 0)
	server := startManager(t, manager)

	conn := subscribe(t, server, WorkflowChannel("err-test"))

	// The connection stays usable after a failed catchup query.
	send(t, conn, ClientMessage{Action: "ping"})
	assert.Equal(t, "pong", readJSON(t, conn)["type"])
}

func TestConnectionManager_ConcurrentBroadcast(t *testing.T) {
	manager, server := setupTestManager(t)
	channel := WorkflowChannel("concurrent-test")
	conn := subscribe(t, server, channel)

	const n = 20
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload, _ := json.Marshal(map[string]int{"seq": i})
			manager.Broadcast(channel, payload)
		}(i)
	}
	wg.Wait()

	seen := make(map[float64]bool)
	for range n {
		seen[readJSON(t, conn)["seq"].(float64)] = true
	}
	assert.Len(t, seen, n)
}

func TestConnectionManager_SetListener(t *testing.T) {
	manager := NewConnectionManager(&mockCatchupQuerier{}, 5*time.Second, 0)
	listener := NewNotifyListener("host=localhost", manager)
	manager.SetListener(listener)

	assert.Same(t, listener, manager.currentListener())

	manager.SetListener(nil)
	assert.Nil(t, manager.currentListener())
}

func TestConnectionManager_CleanupOnDisconnect(t *testing.T) {
	manager, server := setupTestManager(t)
	channel := WorkflowChannel("disconnect-test")
	conn := subscribe(t, server, channel)
	require.Equal(t, 1, manager.subscriberCount(channel))

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))

	assert.Eventually(t, func() bool {
		return manager.ActiveConnections() == 0 && manager.subscriberCount(channel) == 0
	}, 2*time.Second, 10*time.Millisecond)
}
