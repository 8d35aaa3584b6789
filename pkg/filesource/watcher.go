package filesource

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/codeready-toolchain/flowscope/pkg/timeline"
)

// DefaultDebounce is the quiet period after the last file event before the
// file is read again.
const DefaultDebounce = 200 * time.Millisecond

// headSize is how many leading bytes are compared to detect in-place rewrites.
const headSize = 256

// Sink receives decoded events. Append carries new lines; Replace carries
// the whole file after it was truncated, rewritten or removed.
type Sink interface {
	Append(ctx context.Context, events []timeline.Event) error
	Replace(ctx context.Context, events []timeline.Event) error
}

// Watcher follows one JSONL history file.
type Watcher struct {
	path     string
	sink     Sink
	debounce time.Duration

	info   os.FileInfo
	offset int64
	lines  int
	seq    int
	head   []byte
}

// NewWatcher creates a watcher for path. A zero debounce uses DefaultDebounce.
func NewWatcher(path string, sink Sink, debounce time.Duration) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %q: %w", path, err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{path: abs, sink: sink, debounce: debounce}, nil
}

// Run delivers the current file content, then follows changes until ctx is
// cancelled. The parent directory is watched so the file may be created,
// replaced or removed while running.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch %q: %w", filepath.Dir(w.path), err)
	}

	if err := w.sync(ctx); err != nil {
		return err
	}

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-timer.C:
			if err := w.sync(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				slog.Warn("Failed to sync history file", "path", w.path, "error", err)
			}

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op == fsnotify.Chmod {
				continue
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("File watcher error", "path", w.path, "error", err)
		}
	}
}

// sync brings the sink up to date with the file on disk.
func (w *Watcher) sync(ctx context.Context) error {
	info, err := os.Stat(w.path)
	if errors.Is(err, fs.ErrNotExist) {
		if w.info == nil {
			return nil
		}
		w.forget()
		slog.Info("History file removed", "path", w.path)
		return w.sink.Replace(ctx, nil)
	}
	if err != nil {
		return fmt.Errorf("failed to stat %q: %w", w.path, err)
	}

	if w.info == nil || !os.SameFile(w.info, info) || info.Size() < w.offset {
		return w.reload(ctx, info)
	}
	intact, err := w.headIntact()
	if err != nil {
		return err
	}
	if !intact {
		return w.reload(ctx, info)
	}
	return w.tail(ctx, info)
}

func (w *Watcher) forget() {
	w.info = nil
	w.offset = 0
	w.lines = 0
	w.seq = 0
	w.head = nil
}

// reload reads the whole file and hands it over as a replacement.
func (w *Watcher) reload(ctx context.Context, info os.FileInfo) error {
	data, err := w.readFrom(0)
	if err != nil {
		return err
	}
	w.forget()
	c := decodeLines(data, 0, 0, false)
	w.advance(info, data, c)
	logSkipped(w.path, c.skipped)

	slog.Debug("History file loaded", "path", w.path, "events", len(c.events))
	return w.sink.Replace(ctx, c.events)
}

// tail reads lines appended since the last sync.
func (w *Watcher) tail(ctx context.Context, info os.FileInfo) error {
	if info.Size() == w.offset {
		return nil
	}
	data, err := w.readFrom(w.offset)
	if err != nil {
		return err
	}
	c := decodeLines(data, w.lines, w.seq, false)
	w.advance(info, data, c)
	logSkipped(w.path, c.skipped)

	if len(c.events) == 0 {
		return nil
	}
	return w.sink.Append(ctx, c.events)
}

func (w *Watcher) advance(info os.FileInfo, data []byte, c chunk) {
	if len(w.head) < headSize {
		n := min(headSize-len(w.head), c.consumed)
		w.head = append(w.head, data[:n]...)
	}
	w.info = info
	w.offset += int64(c.consumed)
	w.lines += c.lines
	w.seq += len(c.events)
}

// headIntact reports whether the consumed prefix of the file is unchanged.
func (w *Watcher) headIntact() (bool, error) {
	if len(w.head) == 0 {
		return true, nil
	}
	f, err := os.Open(w.path)
	if err != nil {
		return false, fmt.Errorf("failed to open %q: %w", w.path, err)
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, len(w.head))
	if _, err := io.ReadFull(f, buf); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read %q: %w", w.path, err)
	}
	return bytes.Equal(buf, w.head), nil
}

func (w *Watcher) readFrom(offset int64) ([]byte, error) {
	f, err := os.Open(w.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %q: %w", w.path, err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to seek %q: %w", w.path, err)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read %q: %w", w.path, err)
	}
	return data, nil
}

func logSkipped(path string, skipped []LineError) {
	for _, le := range skipped {
		slog.Warn("Skipping undecodable history line", "path", path, "line", le.Line, "error", le.Err)
	}
}
