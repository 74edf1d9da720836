package hook

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/opensearch-project/mlagent/core"
	"github.com/opensearch-project/mlagent/model"
)

// Summarizer defaults.
const (
	DefaultSummaryRatio           = 0.3
	DefaultPreserveRecentMessages = 10
	DefaultSummarizationTimeout   = 30 * time.Second

	minSummaryRatio = 0.1
	maxSummaryRatio = 0.8

	SummaryPrefix = "Summarized previous interactions: "

	defaultSummarizationPrompt = "You are a helpful assistant that summarizes conversations. " +
		"Keep the key facts, decisions, tool results and open questions. Be concise."
)

// ErrEmptySummary is returned when the model produced no summary text.
var ErrEmptySummary = errors.New("summarization model returned an empty summary")

// Summarizer replaces the older part of a transcript with a model written
// summary. The most recent Preserve messages and leading system messages are
// always kept verbatim.
type Summarizer struct {
	Ratio        float64
	Preserve     int
	ModelID      string
	SystemPrompt string
	Timeout      time.Duration

	models model.Resolver
}

var _ Hook = (*Summarizer)(nil)

// NewSummarizer parses a summarization config. A summary_ratio outside
// [0.1, 0.8] falls back to the default.
func NewSummarizer(config map[string]any, deps Dependencies) (*Summarizer, error) {
	ratio, err := floatConfig(config, "summary_ratio", DefaultSummaryRatio)
	if err != nil {
		return nil, err
	}
	if ratio < minSummaryRatio || ratio > maxSummaryRatio {
		ratio = DefaultSummaryRatio
	}
	preserve, err := intConfig(config, "preserve_recent_messages", DefaultPreserveRecentMessages)
	if err != nil {
		return nil, err
	}
	if preserve < 0 {
		return nil, core.Validationf("preserve_recent_messages must not be negative, got %d", preserve)
	}
	timeoutMS, err := intConfig(config, "timeout_ms", 0)
	if err != nil {
		return nil, err
	}
	s := &Summarizer{
		Ratio:        ratio,
		Preserve:     preserve,
		ModelID:      stringConfig(config, "summarization_model_id"),
		SystemPrompt: stringConfig(config, "summarization_system_prompt"),
		Timeout:      DefaultSummarizationTimeout,
		models:       deps.Models,
	}
	if timeoutMS > 0 {
		s.Timeout = time.Duration(timeoutMS) * time.Millisecond
	}
	if s.SystemPrompt == "" {
		s.SystemPrompt = defaultSummarizationPrompt
	}
	return s, nil
}

func summarizeFactory(config map[string]any, deps Dependencies) (Hook, error) {
	return NewSummarizer(config, deps)
}

// Type implements Hook.
func (s *Summarizer) Type() string { return TypeSummarize }

// Apply implements Hook. Buffers too short to summarize are returned as is.
func (s *Summarizer) Apply(ctx context.Context, buf Buffer) (Buffer, error) {
	msgs := buf.Messages
	head := 0
	for head < len(msgs) && msgs[head].Role == core.RoleSystem {
		head++
	}
	body := msgs[head:]

	n := s.cutPoint(body)
	if n <= 0 {
		return buf, nil
	}

	m, err := s.model(ctx)
	if err != nil {
		return buf, err
	}

	sctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()
	resp, err := m.Generate(sctx, model.Request{
		SystemPrompt: s.SystemPrompt,
		Messages: []core.Message{core.NewTextMessage(core.RoleUser,
			"Summarize the following conversation:\n\n"+model.RenderTranscript("", body[:n]))},
	})
	if err != nil {
		return buf, fmt.Errorf("summarize %d messages: %w", n, err)
	}
	if resp == nil {
		return buf, ErrEmptySummary
	}
	summary := extractSummary(resp.Message.Content)
	if summary == "" {
		return buf, ErrEmptySummary
	}

	out := buf.Clone()
	kept := make([]core.Message, 0, head+1+len(body)-n)
	kept = append(kept, out.Messages[:head]...)
	kept = append(kept, core.NewTextMessage(core.RoleUser, SummaryPrefix+summary))
	kept = append(kept, out.Messages[head+n:]...)
	out.Messages = kept
	return out, nil
}

// cutPoint returns how many leading messages of body to summarize. The
// count is max(1, len*ratio) capped at len-Preserve, then moved back so an
// assistant tool call stays with its tool results.
func (s *Summarizer) cutPoint(body []core.Message) int {
	total := len(body)
	if total <= s.Preserve {
		return 0
	}
	n := int(float64(total) * s.Ratio)
	if n < 1 {
		n = 1
	}
	if limit := total - s.Preserve; n > limit {
		n = limit
	}
	for n > 0 && n < total && body[n].Role == core.RoleTool {
		n--
	}
	return n
}

func (s *Summarizer) model(ctx context.Context) (model.Model, error) {
	if s.ModelID != "" {
		if s.models == nil {
			return nil, core.NotFoundf("model", "no resolver for summarization model %s", s.ModelID)
		}
		return s.models.Resolve(ctx, &core.ModelSpec{ModelID: s.ModelID})
	}
	if m, ok := ModelFromContext(ctx); ok {
		return m, nil
	}
	return nil, core.NotFoundf("model", "no model available for summarization")
}

// extractSummary accepts plain text or a JSON object carrying the summary in
// one of the usual fields.
func extractSummary(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "{") && gjson.Valid(content) {
		for _, path := range []string{"summary", "response", "content", "final_answer"} {
			if r := gjson.Get(content, path); r.Exists() && r.Type == gjson.String {
				return strings.TrimSpace(r.String())
			}
		}
	}
	return content
}
