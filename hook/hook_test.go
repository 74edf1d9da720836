package hook

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensearch-project/mlagent/core"
	"github.com/opensearch-project/mlagent/internal/testutil"
	"github.com/opensearch-project/mlagent/model"
)

var (
	_ Hook = (*Truncator)(nil)
	_ Hook = (*Summarizer)(nil)
)

func TestTruncatorDefaults(t *testing.T) {
	tr, err := NewTruncator(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxOutputLength, tr.MaxLength)

	tr, err = NewTruncator(map[string]any{"max_output_length": float64(10)})
	require.NoError(t, err)
	assert.Equal(t, 10, tr.MaxLength)

	tr, err = NewTruncator(map[string]any{"max_output_length": "25"})
	require.NoError(t, err)
	assert.Equal(t, 25, tr.MaxLength)
}

func TestTruncatorRejectsInvalidConfig(t *testing.T) {
	_, err := NewTruncator(map[string]any{ConfigActivation: map[string]any{"tokens_exceed": 10}})
	require.ErrorIs(t, err, core.ErrValidation)

	_, err = NewTruncator(map[string]any{"max_output_length": 0})
	require.ErrorIs(t, err, core.ErrValidation)

	_, err = NewTruncator(map[string]any{"max_output_length": "ten"})
	require.ErrorIs(t, err, core.ErrValidation)
}

func TestTruncatorApply(t *testing.T) {
	tr := &Truncator{MaxLength: 5}
	in := Buffer{
		Text: "abcdefghij",
		Messages: []core.Message{
			core.NewTextMessage(core.RoleUser, "user text is untouched"),
			{Role: core.RoleTool, Content: "0123456789", Name: "ListIndexTool"},
		},
	}
	out, err := tr.Apply(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, "abcde", out.Text)
	assert.Equal(t, "user text is untouched", out.Messages[0].Content)
	assert.Equal(t, "01234", out.Messages[1].Content)
	assert.Equal(t, "0123456789", in.Messages[1].Content, "input must not be mutated")
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "héll", Truncate("héllo", 4))
	assert.Equal(t, "日本", Truncate("日本語", 2))
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "", Truncate("abc", 0))
}

func TestTruncateProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("output never exceeds the bound", prop.ForAll(
		func(s string, n int) bool {
			tr := &Truncator{MaxLength: n}
			out, err := tr.Apply(context.Background(), Buffer{Text: s})
			return err == nil && utf8.RuneCountInString(out.Text) <= n
		},
		gen.AnyString(),
		gen.IntRange(1, 64),
	))

	properties.Property("output is a prefix of the input", prop.ForAll(
		func(s string, n int) bool {
			return strings.HasPrefix(s, Truncate(s, n))
		},
		gen.AnyString(),
		gen.IntRange(1, 64),
	))

	properties.Property("truncation is idempotent", prop.ForAll(
		func(s string, n int) bool {
			once := Truncate(s, n)
			return Truncate(once, n) == once
		},
		gen.AnyString(),
		gen.IntRange(1, 64),
	))

	properties.TestingRun(t)
}

func TestActivation(t *testing.T) {
	msgs := []core.Message{
		core.NewTextMessage(core.RoleUser, strings.Repeat("a", 40)),
		core.NewTextMessage(core.RoleAssistant, strings.Repeat("b", 40)),
	}
	buf := Buffer{Messages: msgs}
	assert.Equal(t, 20, buf.Tokens())

	var nilAct *Activation
	assert.True(t, nilAct.Active(buf))
	assert.True(t, (&Activation{MessageCountExceed: 1}).Active(buf))
	assert.False(t, (&Activation{MessageCountExceed: 2}).Active(buf))
	assert.True(t, (&Activation{TokensExceed: 19}).Active(buf))
	assert.False(t, (&Activation{TokensExceed: 20}).Active(buf))
	assert.False(t, (&Activation{MessageCountExceed: 1, TokensExceed: 100}).Active(buf))

	act, err := parseActivation(map[string]any{ConfigActivation: map[string]any{"message_count_exceed": float64(3)}})
	require.NoError(t, err)
	assert.Equal(t, 3, act.MessageCountExceed)

	_, err = parseActivation(map[string]any{ConfigActivation: "yes"})
	require.ErrorIs(t, err, core.ErrValidation)
}

func conversation(n int) []core.Message {
	msgs := []core.Message{core.NewTextMessage(core.RoleSystem, "system prompt")}
	for i := 0; i < n; i++ {
		role := core.RoleUser
		if i%2 == 1 {
			role = core.RoleAssistant
		}
		msgs = append(msgs, core.NewTextMessage(role, "message "+string(rune('a'+i))))
	}
	return msgs
}

func TestSummarizerConfig(t *testing.T) {
	s, err := NewSummarizer(nil, Dependencies{})
	require.NoError(t, err)
	assert.Equal(t, DefaultSummaryRatio, s.Ratio)
	assert.Equal(t, DefaultPreserveRecentMessages, s.Preserve)
	assert.Equal(t, DefaultSummarizationTimeout, s.Timeout)

	for _, ratio := range []float64{0.05, 0.9, 2} {
		s, err = NewSummarizer(map[string]any{"summary_ratio": ratio}, Dependencies{})
		require.NoError(t, err)
		assert.Equal(t, DefaultSummaryRatio, s.Ratio, "ratio %v", ratio)
	}
	s, err = NewSummarizer(map[string]any{"summary_ratio": 0.5, "preserve_recent_messages": 2}, Dependencies{})
	require.NoError(t, err)
	assert.Equal(t, 0.5, s.Ratio)
	assert.Equal(t, 2, s.Preserve)

	_, err = NewSummarizer(map[string]any{"preserve_recent_messages": -1}, Dependencies{})
	require.ErrorIs(t, err, core.ErrValidation)
}

func TestSummarizerApply(t *testing.T) {
	m := model.NewMockModel("summarizer", "mock").Enqueue("the user greeted the assistant")
	s, err := NewSummarizer(map[string]any{"summary_ratio": 0.5, "preserve_recent_messages": 2}, Dependencies{})
	require.NoError(t, err)

	in := Buffer{Messages: conversation(6)}
	ctx := ContextWithModel(context.Background(), m)
	out, err := s.Apply(ctx, in)
	require.NoError(t, err)

	// system + summary + 3 kept messages
	require.Len(t, out.Messages, 5)
	assert.Equal(t, core.RoleSystem, out.Messages[0].Role)
	assert.Equal(t, SummaryPrefix+"the user greeted the assistant", out.Messages[1].Content)
	assert.Equal(t, "message d", out.Messages[2].Content)
	assert.Equal(t, "message f", out.Messages[4].Content)

	reqs := m.Requests()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].Messages[0].Content, "message a")
	assert.NotContains(t, reqs[0].Messages[0].Content, "message d")
}

func TestSummarizerKeepsToolCallGroups(t *testing.T) {
	body := testutil.NewTranscriptBuilder().
		User("list the indices").
		ToolCall("c1", "ListIndexTool", "").
		ToolResult("c1", "ListIndexTool", "index-a,index-b").
		Assistant("there are two").
		User("thanks").
		Build()
	s := &Summarizer{Ratio: 0.5, Preserve: 1}
	// 5*0.5 = 2 would split the call from its result.
	assert.Equal(t, 1, s.cutPoint(body))

	s = &Summarizer{Ratio: 0.3, Preserve: 10}
	assert.Equal(t, 0, s.cutPoint(body))

	s = &Summarizer{Ratio: 0.1, Preserve: 0}
	assert.Equal(t, 1, s.cutPoint(body), "at least one message is summarized")
}

func TestSummarizerFallbacks(t *testing.T) {
	s := &Summarizer{Ratio: 0.5, Preserve: 1, Timeout: time.Second}
	in := Buffer{Messages: conversation(4)}

	out, err := s.Apply(context.Background(), in)
	require.ErrorIs(t, err, core.ErrNotFound)
	assert.Equal(t, in, out)

	failing := model.NewMockModel("m", "mock").EnqueueError(core.Unavailable("model", errors.New("503")))
	out, err = s.Apply(ContextWithModel(context.Background(), failing), in)
	require.ErrorIs(t, err, core.ErrUpstreamUnavailable)
	assert.Equal(t, in, out)

	empty := model.NewMockModel("m", "mock").Enqueue("   ")
	_, err = s.Apply(ContextWithModel(context.Background(), empty), in)
	require.ErrorIs(t, err, ErrEmptySummary)

	silent := model.Func(func(context.Context, model.Request) (*model.Response, error) { return nil, nil })
	require.NotPanics(t, func() {
		out, err = s.Apply(ContextWithModel(context.Background(), silent), in)
	})
	require.ErrorIs(t, err, ErrEmptySummary)
	assert.Equal(t, in, out)
}

func TestSummarizerResolvesConfiguredModel(t *testing.T) {
	resolver := model.NewRegistry("remote")
	resolver.Register("summary-model", model.NewMockModel("summary-model", "mock").Enqueue(`{"summary":"short"}`))

	s, err := NewSummarizer(map[string]any{
		"summary_ratio":            0.5,
		"preserve_recent_messages": 1,
		"summarization_model_id":   "summary-model",
	}, Dependencies{Models: resolver})
	require.NoError(t, err)

	out, err := s.Apply(context.Background(), Buffer{Messages: conversation(4)})
	require.NoError(t, err)
	assert.Equal(t, SummaryPrefix+"short", out.Messages[1].Content)
}

func TestPipelineOrderAndFallback(t *testing.T) {
	var events []Event
	reg := NewRegistry(func(o *RegistryOptions) {
		o.Observer = func(ev Event) { events = append(events, ev) }
	})

	tmpl := &core.ContextManagementTemplate{
		Name: "shrink",
		Hooks: map[core.HookPoint][]core.HookSpec{
			core.HookPostTool: {
				{Type: TypeTruncate, Config: map[string]any{"max_output_length": 8}},
				{Type: "NoSuchManager"},
				{Type: TypeTruncate, Config: map[string]any{"max_output_length": 4}},
			},
			core.HookPreLLM: {
				{Type: TypeSummarize, Config: map[string]any{"preserve_recent_messages": 1}},
			},
		},
	}
	p, err := reg.Pipeline(tmpl)
	require.NoError(t, err)
	assert.True(t, p.Has(core.HookPostTool))
	assert.False(t, p.Has(core.HookPostLLM))

	out := p.Apply(context.Background(), core.HookPostTool, Buffer{Text: "0123456789"})
	assert.Equal(t, "0123", out.Text)
	require.Len(t, events, 2)
	assert.True(t, events[0].Applied)

	// No model in context: the summarizer fails and the buffer passes through.
	in := Buffer{Messages: conversation(4)}
	out = p.Apply(context.Background(), core.HookPreLLM, in)
	assert.Equal(t, in.Messages, out.Messages)
	require.Len(t, events, 3)
	assert.False(t, events[2].Applied)
	assert.Error(t, events[2].Err)
}

func TestPipelineActivationSkipsHook(t *testing.T) {
	m := model.NewMockModel("m", "mock").Enqueue("summary")
	reg := NewRegistry()
	p, err := reg.Pipeline(&core.ContextManagementTemplate{
		Name: "gated",
		Hooks: map[core.HookPoint][]core.HookSpec{
			core.HookPreLLM: {{Type: TypeSummarize, Config: map[string]any{
				"preserve_recent_messages": 1,
				ConfigActivation:           map[string]any{"message_count_exceed": 10},
			}}},
		},
	})
	require.NoError(t, err)

	ctx := ContextWithModel(context.Background(), m)
	in := Buffer{Messages: conversation(4)}
	assert.Equal(t, in.Messages, p.Apply(ctx, core.HookPreLLM, in).Messages)
	assert.Empty(t, m.Requests())

	in = Buffer{Messages: conversation(12)}
	out := p.Apply(ctx, core.HookPreLLM, in)
	assert.Less(t, len(out.Messages), len(in.Messages))
}

func TestRegistryPipelineCache(t *testing.T) {
	reg := NewRegistry()
	tmpl := &core.ContextManagementTemplate{
		Name:         "cached",
		LastModified: time.Now(),
		Hooks:        map[core.HookPoint][]core.HookSpec{core.HookPostTool: {{Type: TypeTruncate}}},
	}
	p1, err := reg.Pipeline(tmpl)
	require.NoError(t, err)
	p2, err := reg.Pipeline(tmpl)
	require.NoError(t, err)
	assert.Same(t, p1, p2)

	updated := tmpl.Clone()
	updated.LastModified = tmpl.LastModified.Add(time.Second)
	p3, err := reg.Pipeline(updated)
	require.NoError(t, err)
	assert.NotSame(t, p1, p3)

	inline := tmpl.Clone()
	inline.LastModified = time.Time{}
	p4, err := reg.Pipeline(inline)
	require.NoError(t, err)
	p5, err := reg.Pipeline(inline)
	require.NoError(t, err)
	assert.NotSame(t, p4, p5)

	_, err = reg.Pipeline(&core.ContextManagementTemplate{
		Name: "bad",
		Hooks: map[core.HookPoint][]core.HookSpec{core.HookPostTool: {{
			Type:   TypeTruncate,
			Config: map[string]any{ConfigActivation: map[string]any{"tokens_exceed": 1}},
		}}},
	})
	require.ErrorIs(t, err, core.ErrValidation)

	assert.Equal(t, []string{TypeSummarize, TypeTruncate}, reg.Types())
}

func TestNilPipelinePassesThrough(t *testing.T) {
	var p *Pipeline
	buf := Buffer{Text: "unchanged"}
	assert.Equal(t, buf, p.Apply(context.Background(), core.HookPostTool, buf))
	assert.False(t, p.Has(core.HookPostTool))

	reg := NewRegistry()
	p, err := reg.Pipeline(nil)
	require.NoError(t, err)
	assert.Nil(t, p)
}
