package agent

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/opensearch-project/mlagent/core"
)

// ReAct output fields.
const (
	FieldThought     = "thought"
	FieldAction      = "action"
	FieldActionInput = "action_input"
	FieldFinalAnswer = "final_answer"
)

// Step is the interpreted output of one model call.
type Step struct {
	Thought   string
	ToolCalls []core.ToolCall
	// HasFinal distinguishes an explicit empty final answer from none.
	HasFinal    bool
	FinalAnswer string
}

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// Interpret reads a model message. Native tool calls win. Otherwise the text
// is parsed as a ReAct JSON object, either fenced or bare, repairing minor
// syntax errors. Text that is not a ReAct object is the final answer.
func Interpret(msg core.Message) Step {
	text := strings.TrimSpace(msg.Content)
	if len(msg.ToolCalls) > 0 {
		return Step{Thought: text, ToolCalls: append([]core.ToolCall(nil), msg.ToolCalls...)}
	}

	fields, ok := parseReAct(text)
	if !ok {
		return Step{Thought: text, HasFinal: true, FinalAnswer: text}
	}

	step := Step{Thought: stringField(fields, FieldThought)}
	if v, ok := fields[FieldFinalAnswer]; ok && v != nil {
		step.HasFinal = true
		step.FinalAnswer = strings.TrimSpace(stringValue(v))
		return step
	}
	if action := strings.TrimSpace(stringField(fields, FieldAction)); action != "" {
		step.ToolCalls = []core.ToolCall{{
			Name:  action,
			Input: stringField(fields, FieldActionInput),
		}}
	}
	return step
}

// parseReAct extracts the ReAct object from text.
func parseReAct(text string) (map[string]any, bool) {
	candidate := text
	if m := fencedJSON.FindStringSubmatch(text); m != nil {
		candidate = strings.TrimSpace(m[1])
	} else if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		candidate = text[start : end+1]
	}
	if !strings.HasPrefix(candidate, "{") {
		return nil, false
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(candidate), &fields); err != nil {
		repaired, rerr := jsonrepair.JSONRepair(candidate)
		if rerr != nil {
			return nil, false
		}
		if err := json.Unmarshal([]byte(repaired), &fields); err != nil {
			return nil, false
		}
	}
	for _, k := range []string{FieldThought, FieldAction, FieldFinalAnswer} {
		if _, ok := fields[k]; ok {
			return fields, true
		}
	}
	return nil, false
}

func stringField(fields map[string]any, key string) string {
	v, ok := fields[key]
	if !ok || v == nil {
		return ""
	}
	return stringValue(v)
}

func stringValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
