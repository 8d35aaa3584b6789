package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/codeready-toolchain/flowscope/pkg/events"
	"github.com/codeready-toolchain/flowscope/pkg/timeline"
)

type fakePublisher struct {
	mu      sync.Mutex
	batches map[string][]events.PendingEvent
	err     error
}

func (p *fakePublisher) PublishExecutionEvents(_ context.Context, workflowID string, batch []events.PendingEvent) ([]int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	if p.batches == nil {
		p.batches = make(map[string][]events.PendingEvent)
	}
	p.batches[workflowID] = append(p.batches[workflowID], batch...)
	ids := make([]int64, len(batch))
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	return ids, nil
}

func (p *fakePublisher) stored(workflowID string) []events.PendingEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.PendingEvent(nil), p.batches[workflowID]...)
}

type fakeRefresher struct {
	mu  sync.Mutex
	ids []string
}

func (r *fakeRefresher) Refresh(workflowID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, workflowID)
}

// startServer runs an in-process gRPC server on a random port and returns a client.
func startServer(t *testing.T, pub Publisher, ref Refresher) *Client {
	t.Helper()

	srv := NewServer(pub, ref, 3)
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(lis) }()

	client, err := NewClient(lis.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.Close()
		srv.GracefulStop()
	})
	return client
}

func envelope(t *testing.T, eventType, data string) timeline.Envelope {
	t.Helper()
	return timeline.Envelope{Type: eventType, Data: json.RawMessage(data)}
}

func callCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestPublish_StoresBatch(t *testing.T) {
	pub := &fakePublisher{}
	ref := &fakeRefresher{}
	client := startServer(t, pub, ref)

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	start := envelope(t, "on_chain_start", `{"node_id":7,"agent_label":"Planner","run_id":"c1"}`)
	start.Timestamp = &ts

	err := client.Publish(callCtx(t), "wf-1",
		start,
		envelope(t, "on_tool_start", `{"run_id":"t1","tool_name":"search","inputs":{"q":"go"}}`),
	)
	require.NoError(t, err)

	stored := pub.stored("wf-1")
	require.Len(t, stored, 2)
	assert.Equal(t, "on_chain_start", stored[0].Envelope.Type)
	assert.Equal(t, "c1", stored[0].RunID)
	require.NotNil(t, stored[0].Envelope.Timestamp)
	assert.True(t, ts.Equal(*stored[0].Envelope.Timestamp))
	assert.Equal(t, "t1", stored[1].RunID)

	ev, err := timeline.Decode(0, stored[0].Envelope)
	require.NoError(t, err)
	assert.Equal(t, "7", ev.Route.NodeID)

	assert.Equal(t, []string{"wf-1"}, ref.ids)
}

func TestPublish_SingleEventField(t *testing.T) {
	pub := &fakePublisher{}
	srv := NewServer(pub, nil, 3)

	req, err := structpb.NewStruct(map[string]any{
		"workflow_id": "wf-2",
		"event":       map[string]any{"type": "token", "data": map[string]any{"token": "hi"}},
	})
	require.NoError(t, err)

	_, err = srv.Publish(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, pub.stored("wf-2"), 1)
}

func TestPublish_InvalidArgument(t *testing.T) {
	client := startServer(t, &fakePublisher{}, nil)

	tests := []struct {
		name     string
		workflow string
		envs     []timeline.Envelope
		msg      string
	}{
		{"missing workflow id", "", []timeline.Envelope{envelope(t, "token", `{}`)}, "workflow_id is required"},
		{"no events", "wf", nil, "non-empty list"},
		{"missing type", "wf", []timeline.Envelope{envelope(t, "token", `{}`), envelope(t, "", `{}`)}, "events[1]"},
		{"non-object data", "wf", []timeline.Envelope{envelope(t, "token", `[1,2]`)}, "events[0]"},
		{"non-boolean success", "wf", []timeline.Envelope{envelope(t, "on_chain_end", `{"success":"yes"}`)}, "success"},
		{"batch too large", "wf", []timeline.Envelope{
			envelope(t, "token", `{}`), envelope(t, "token", `{}`), envelope(t, "token", `{}`), envelope(t, "token", `{}`),
		}, "at most 3 events"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := client.Publish(callCtx(t), tt.workflow, tt.envs...)
			require.Error(t, err)
			assert.Equal(t, codes.InvalidArgument, status.Code(err))
			assert.Contains(t, status.Convert(err).Message(), tt.msg)
		})
	}
}

func TestPublish_StoreFailureIsInternal(t *testing.T) {
	client := startServer(t, &fakePublisher{err: errors.New("db down")}, nil)

	err := client.Publish(callCtx(t), "wf", envelope(t, "token", `{"token":"x"}`))
	require.Error(t, err)
	assert.Equal(t, codes.Internal, status.Code(err))
	assert.NotContains(t, status.Convert(err).Message(), "db down")
}

func TestBuildRequest(t *testing.T) {
	req, err := BuildRequest("wf", envelope(t, "token", `{"token":"a","n":1}`))
	require.NoError(t, err)

	fields := req.GetFields()
	assert.Equal(t, "wf", fields["workflow_id"].GetStringValue())
	list := fields["events"].GetListValue().GetValues()
	require.Len(t, list, 1)
	ev := list[0].GetStructValue().GetFields()
	assert.Equal(t, "token", ev["type"].GetStringValue())
	assert.Equal(t, "a", ev["data"].GetStructValue().GetFields()["token"].GetStringValue())
	assert.Nil(t, ev["timestamp"])
}
