package hook

import (
	"context"
	"unicode/utf8"

	"github.com/opensearch-project/mlagent/core"
)

// DefaultMaxOutputLength is the truncation bound when max_output_length is
// not configured.
const DefaultMaxOutputLength = 40000

// Truncator cuts tool output to at most MaxLength characters, keeping the
// prefix. It applies to the buffer text and to tool messages.
type Truncator struct {
	MaxLength int
}

var _ Hook = (*Truncator)(nil)

// NewTruncator parses a truncation config. Activation rules are rejected.
func NewTruncator(config map[string]any) (*Truncator, error) {
	if _, ok := config[ConfigActivation]; ok {
		return nil, core.Validationf("%s does not support activation rules", TypeTruncate)
	}
	n, err := intConfig(config, "max_output_length", DefaultMaxOutputLength)
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, core.Validationf("max_output_length must be positive, got %d", n)
	}
	return &Truncator{MaxLength: n}, nil
}

func truncateFactory(config map[string]any, _ Dependencies) (Hook, error) {
	return NewTruncator(config)
}

// Type implements Hook.
func (t *Truncator) Type() string { return TypeTruncate }

// Apply implements Hook.
func (t *Truncator) Apply(_ context.Context, buf Buffer) (Buffer, error) {
	out := buf.Clone()
	out.Text = Truncate(out.Text, t.MaxLength)
	for i := range out.Messages {
		if out.Messages[i].Role == core.RoleTool {
			out.Messages[i].Content = Truncate(out.Messages[i].Content, t.MaxLength)
		}
	}
	return out, nil
}

// Truncate returns the first n characters of s.
func Truncate(s string, n int) string {
	if n < 0 {
		n = 0
	}
	if len(s) <= n || utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
