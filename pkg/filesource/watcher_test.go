package filesource

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/flowscope/pkg/timeline"
)

type sinkCall struct {
	replace bool
	events  []timeline.Event
}

type recordingSink struct {
	mu    sync.Mutex
	calls []sinkCall
}

func (s *recordingSink) Append(_ context.Context, events []timeline.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sinkCall{events: events})
	return nil
}

func (s *recordingSink) Replace(_ context.Context, events []timeline.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sinkCall{replace: true, events: events})
	return nil
}

func (s *recordingSink) snapshot() []sinkCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sinkCall(nil), s.calls...)
}

func (s *recordingSink) last() sinkCall {
	calls := s.snapshot()
	if len(calls) == 0 {
		return sinkCall{}
	}
	return calls[len(calls)-1]
}

func startWatcher(t *testing.T, path string) *recordingSink {
	t.Helper()
	sink := &recordingSink{}
	w, err := NewWatcher(path, sink, 20*time.Millisecond)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
	return sink
}

func appendLines(t *testing.T, path string, lines ...string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	for _, l := range lines {
		_, err = f.WriteString(l + "\n")
		require.NoError(t, err)
	}
	require.NoError(t, f.Close())
}

func TestWatcher_FollowsAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(lineStart+"\n"), 0o644))

	sink := startWatcher(t, path)

	require.Eventually(t, func() bool { return len(sink.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	first := sink.last()
	assert.True(t, first.replace)
	require.Len(t, first.events, 1)

	appendLines(t, path, lineToken, lineEnd)

	require.Eventually(t, func() bool {
		c := sink.last()
		return !c.replace && len(c.events) > 0 && c.events[len(c.events)-1].Kind() == timeline.KindChainEnd
	}, 2*time.Second, 10*time.Millisecond)

	total := 0
	for _, c := range sink.snapshot()[1:] {
		assert.False(t, c.replace)
		total += len(c.events)
	}
	assert.Equal(t, 2, total)
	assert.Equal(t, 3, sink.last().events[len(sink.last().events)-1].Sequence)
}

func TestWatcher_TruncationReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(lineStart+"\n"+lineToken+"\n"+lineEnd+"\n"), 0o644))

	sink := startWatcher(t, path)
	require.Eventually(t, func() bool { return len(sink.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte(lineToken+"\n"), 0o644))

	require.Eventually(t, func() bool {
		c := sink.last()
		return c.replace && len(c.events) == 1 && c.events[0].Kind() == timeline.KindToken
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatcher_RewriteReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(lineToken+"\n"), 0o644))

	sink := startWatcher(t, path)
	require.Eventually(t, func() bool { return len(sink.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte(lineStart+"\n"+lineEnd+"\n"), 0o644))

	require.Eventually(t, func() bool {
		c := sink.last()
		return c.replace && len(c.events) == 2 && c.events[0].Kind() == timeline.KindChainStart
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatcher_FileCreatedLater(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.jsonl")

	sink := startWatcher(t, path)
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, sink.snapshot())

	require.NoError(t, os.WriteFile(path, []byte(lineStart+"\n"), 0o644))

	require.Eventually(t, func() bool {
		c := sink.last()
		return c.replace && len(c.events) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatcher_RemovalReplacesWithNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(lineStart+"\n"), 0o644))

	sink := startWatcher(t, path)
	require.Eventually(t, func() bool { return len(sink.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Remove(path))

	require.Eventually(t, func() bool {
		calls := sink.snapshot()
		c := calls[len(calls)-1]
		return len(calls) == 2 && c.replace && len(c.events) == 0
	}, 2*time.Second, 10*time.Millisecond)
}
