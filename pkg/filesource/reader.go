// Package filesource reads JSONL execution histories and follows them as
// they grow. Each non-blank line holds one event envelope.
package filesource

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/codeready-toolchain/flowscope/pkg/timeline"
)

// LineError describes a line that could not be decoded.
type LineError struct {
	Line int
	Err  error
}

func (e LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e LineError) Unwrap() error { return e.Err }

// File is the decoded content of a history file.
type File struct {
	Events  []timeline.Event
	Skipped []LineError
	Lines   int
}

// ReadFile decodes every line of the file at path.
func ReadFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Read(f)
}

// Read decodes every line from r, including a final line without a newline.
// Undecodable lines are reported in Skipped and do not consume a sequence.
func Read(r io.Reader) (*File, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	c := decodeLines(data, 0, 0, true)
	return &File{Events: c.events, Skipped: c.skipped, Lines: c.lines}, nil
}

type chunk struct {
	events   []timeline.Event
	skipped  []LineError
	consumed int
	lines    int
}

// decodeLines decodes newline-terminated lines from data. Unless final is
// set, a trailing line without a newline is left unconsumed since a writer
// may still be producing it. Sequences continue from seq.
func decodeLines(data []byte, line, seq int, final bool) chunk {
	var c chunk
	for len(data) > 0 {
		var raw []byte
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			if !final {
				break
			}
			raw, data = data, nil
			c.consumed += len(raw)
		} else {
			raw, data = data[:i], data[i+1:]
			c.consumed += i + 1
		}
		c.lines++

		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 {
			continue
		}
		ev, err := timeline.DecodeJSON(seq+len(c.events)+1, raw)
		if err != nil {
			c.skipped = append(c.skipped, LineError{Line: line + c.lines, Err: err})
			continue
		}
		c.events = append(c.events, ev)
	}
	return c
}
