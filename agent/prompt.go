package agent

import (
	"strings"

	"github.com/opensearch-project/mlagent/core"
	"github.com/opensearch-project/mlagent/internal/util"
	"github.com/opensearch-project/mlagent/model"
)

// ReActInstructions is the system prompt used for models without native tool
// calling when the agent does not set system_prompt.
const ReActInstructions = `Answer the question as best you can. You can use the following tools:
${parameters.tool_descriptions}
Reply with exactly one JSON object and nothing else. To use a tool:
{"thought": "what to do next", "action": "one of [${parameters.tool_names}]", "action_input": "the tool input"}
When you know the answer:
{"thought": "I now know the final answer", "final_answer": "the answer"}`

// Parameters merges the parameter layers of a run, from low to high
// precedence: model spec, agent, request. The input is exposed as question.
func Parameters(def *core.AgentDefinition, input string, request map[string]string) map[string]string {
	out := make(map[string]string)
	if def.LLM != nil {
		for k, v := range def.LLM.Parameters {
			out[k] = v
		}
	}
	for k, v := range def.Parameters {
		out[k] = v
	}
	for k, v := range request {
		out[k] = v
	}
	if _, ok := out[core.ParamQuestion]; !ok {
		out[core.ParamQuestion] = input
	}
	return out
}

// SystemPrompt renders the system prompt of a run. Models without native tool
// calling fall back to ReActInstructions when tools are available.
func SystemPrompt(params map[string]string, tools []model.ToolDefinition, native bool) string {
	prompt := params[core.ParamSystemPrompt]
	if prompt == "" && !native && len(tools) > 0 {
		prompt = ReActInstructions
	}
	if prompt == "" {
		return ""
	}

	scope := core.CloneStringMap(params)
	names := make([]string, len(tools))
	var desc strings.Builder
	for i, t := range tools {
		names[i] = t.Name
		desc.WriteString(t.Name + ": " + t.Description + "\n")
	}
	if _, ok := scope["tool_names"]; !ok {
		scope["tool_names"] = strings.Join(names, ", ")
	}
	if _, ok := scope["tool_descriptions"]; !ok {
		scope["tool_descriptions"] = desc.String()
	}
	return util.RenderParameters(prompt, scope)
}
