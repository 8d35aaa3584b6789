package timeline

import (
	"sort"
	"strings"
)

// DefaultMarkers are the structural delimiters models and agent frameworks
// interleave with streamed text.
var DefaultMarkers = []string{
	"<think>", "</think>",
	"<thinking>", "</thinking>",
	"<tool_call>", "</tool_call>",
	"<|im_start|>", "<|im_end|>",
}

// Cleaner removes exact occurrences of a fixed marker set from text and
// leaves everything else untouched. It is safe for concurrent use.
type Cleaner struct {
	markers []string // longest first
	starts  [256]bool
}

// NewCleaner builds a Cleaner. Empty markers are ignored.
func NewCleaner(markers []string) *Cleaner {
	c := &Cleaner{}
	for _, m := range markers {
		if m == "" {
			continue
		}
		c.markers = append(c.markers, m)
		c.starts[m[0]] = true
	}
	sort.SliceStable(c.markers, func(i, j int) bool { return len(c.markers[i]) > len(c.markers[j]) })
	return c
}

// Clean strips every marker from a complete string.
func (c *Cleaner) Clean(s string) string {
	out, rest := c.Feed("", s)
	return out + rest
}

// Feed cleans a streamed chunk. carry is the undecided tail returned by the
// previous call; the returned rest is a proper marker prefix at the end of
// the input that must be held back until more text arrives.
func (c *Cleaner) Feed(carry, chunk string) (out, rest string) {
	s := carry + chunk
	if len(c.markers) == 0 {
		return s, ""
	}

	var b strings.Builder
	b.Grow(len(s))
	i := 0
scan:
	for i < len(s) {
		if !c.starts[s[i]] {
			b.WriteByte(s[i])
			i++
			continue
		}
		tail := s[i:]
		for _, m := range c.markers {
			if strings.HasPrefix(tail, m) {
				i += len(m)
				continue scan
			}
		}
		for _, m := range c.markers {
			if len(tail) < len(m) && strings.HasPrefix(m, tail) {
				rest = tail
				break scan
			}
		}
		b.WriteByte(s[i])
		i++
	}
	return b.String(), rest
}
