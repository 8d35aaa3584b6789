package timeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleaner_Clean(t *testing.T) {
	c := NewCleaner(DefaultMarkers)

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain prose untouched", "if a < b and c > d then <b>bold</b>", "if a < b and c > d then <b>bold</b>"},
		{"think block delimiters", "<think>plan</think>answer", "plananswer"},
		{"longest marker wins", "<thinking>deep</thinking>", "deep"},
		{"chat template tokens", "<|im_start|>assistant\nhi<|im_end|>", "assistant\nhi"},
		{"tool echo delimiters", "<tool_call>{\"name\":\"x\"}</tool_call>", "{\"name\":\"x\"}"},
		{"dangling partial marker kept", "ends with <thin", "ends with <thin"},
		{"multibyte text", "héllo <think>wörld</think>", "héllo wörld"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Clean(tt.in))
		})
	}
}

func TestCleaner_Feed(t *testing.T) {
	c := NewCleaner(DefaultMarkers)

	out, rest := c.Feed("", "text <|im_")
	assert.Equal(t, "text ", out)
	assert.Equal(t, "<|im_", rest)

	out, rest = c.Feed(rest, "end|>more")
	assert.Equal(t, "more", out)
	assert.Empty(t, rest)

	out, rest = c.Feed("", "<tool")
	assert.Empty(t, out)
	assert.Equal(t, "<tool", rest)

	out, rest = c.Feed(rest, "box>")
	assert.Equal(t, "<toolbox>", out, "abandoned prefix is emitted as text")
	assert.Empty(t, rest)
}

func TestCleaner_NoMarkers(t *testing.T) {
	c := NewCleaner([]string{"", ""})
	out, rest := c.Feed("", "<think>")
	assert.Equal(t, "<think>", out)
	assert.Empty(t, rest)
}
