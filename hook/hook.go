package hook

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/opensearch-project/mlagent/core"
	"github.com/opensearch-project/mlagent/model"
)

// Built-in hook types.
const (
	TypeTruncate  = "ToolsOutputTruncateManager"
	TypeSummarize = "SummarizationManager"
)

// ConfigActivation is the hook config key holding activation rules.
const ConfigActivation = "activation"

// Buffer is the content a hook point exposes to its hooks. PRE_LLM, PRE/POST
// EXECUTION operate on Messages, POST_TOOL and POST_LLM on Text, PRE_TOOL on
// Params.
type Buffer struct {
	Messages []core.Message
	Text     string
	Params   map[string]string
}

// Clone returns a copy sharing no mutable state with b.
func (b Buffer) Clone() Buffer {
	c := Buffer{Messages: core.CloneMessages(b.Messages), Text: b.Text}
	if b.Params != nil {
		c.Params = core.CloneStringMap(b.Params)
	}
	return c
}

// Tokens approximates the token count of the buffer as characters / 4.
func (b Buffer) Tokens() int {
	n := utf8.RuneCountInString(b.Text)
	for _, m := range b.Messages {
		n += utf8.RuneCountInString(m.Content)
	}
	return n / 4
}

// Hook transforms a buffer. Implementations must not mutate their input.
type Hook interface {
	Type() string
	Apply(ctx context.Context, buf Buffer) (Buffer, error)
}

// Dependencies are the collaborators hooks may need.
type Dependencies struct {
	Models model.Resolver
}

// Factory builds a hook from its config.
type Factory func(config map[string]any, deps Dependencies) (Hook, error)

// Activation gates a hook on the size of the buffer. Zero fields are
// ignored; a hook runs only when every set rule holds.
type Activation struct {
	MessageCountExceed int `json:"message_count_exceed,omitempty"`
	TokensExceed       int `json:"tokens_exceed,omitempty"`
}

// Active reports whether the rules hold for buf.
func (a *Activation) Active(buf Buffer) bool {
	if a == nil {
		return true
	}
	if a.MessageCountExceed > 0 && len(buf.Messages) <= a.MessageCountExceed {
		return false
	}
	if a.TokensExceed > 0 && buf.Tokens() <= a.TokensExceed {
		return false
	}
	return true
}

func parseActivation(config map[string]any) (*Activation, error) {
	raw, ok := config[ConfigActivation]
	if !ok || raw == nil {
		return nil, nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, core.Validationf("activation must be an object, got %T", raw)
	}
	var a Activation
	var err error
	if a.MessageCountExceed, err = intConfig(m, "message_count_exceed", 0); err != nil {
		return nil, err
	}
	if a.TokensExceed, err = intConfig(m, "tokens_exceed", 0); err != nil {
		return nil, err
	}
	if a.MessageCountExceed < 0 || a.TokensExceed < 0 {
		return nil, core.Validationf("activation thresholds must not be negative")
	}
	return &a, nil
}

func intConfig(config map[string]any, key string, def int) (int, error) {
	v, ok := config[key]
	if !ok || v == nil {
		return def, nil
	}
	switch x := v.(type) {
	case int:
		return x, nil
	case int64:
		return int(x), nil
	case float64:
		if x != float64(int(x)) {
			return 0, core.Validationf("%s must be an integer, got %v", key, x)
		}
		return int(x), nil
	case json.Number:
		n, err := x.Int64()
		if err != nil {
			return 0, core.Validationf("%s must be an integer, got %s", key, x)
		}
		return int(n), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return 0, core.Validationf("%s must be an integer, got %q", key, x)
		}
		return n, nil
	}
	return 0, core.Validationf("%s must be an integer, got %T", key, v)
}

func floatConfig(config map[string]any, key string, def float64) (float64, error) {
	v, ok := config[key]
	if !ok || v == nil {
		return def, nil
	}
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0, core.Validationf("%s must be a number, got %s", key, x)
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, core.Validationf("%s must be a number, got %q", key, x)
		}
		return f, nil
	}
	return 0, core.Validationf("%s must be a number, got %T", key, v)
}

func stringConfig(config map[string]any, key string) string {
	v, ok := config[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

type modelKey struct{}

// ContextWithModel attaches the agent's model so hooks without a configured
// model of their own can use it.
func ContextWithModel(ctx context.Context, m model.Model) context.Context {
	return context.WithValue(ctx, modelKey{}, m)
}

// ModelFromContext returns the model attached by ContextWithModel.
func ModelFromContext(ctx context.Context) (model.Model, bool) {
	m, ok := ctx.Value(modelKey{}).(model.Model)
	return m, ok && m != nil
}
