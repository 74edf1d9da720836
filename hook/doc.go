// Package hook implements the context management pipeline: hooks bound to
// fixed points of an execution that shrink or rewrite the transcript and
// tool output before they are reused.
//
// Two hook types are built in:
//
//   - ToolsOutputTruncateManager keeps the first max_output_length characters
//     of tool output.
//   - SummarizationManager asks a model to summarize older messages and keeps
//     the most recent preserve_recent_messages verbatim.
//
// A Registry turns a core.ContextManagementTemplate into a Pipeline:
//
//	reg := hook.NewRegistry()
//	p, err := reg.Pipeline(template)
//	buf = p.Apply(ctx, core.HookPostTool, hook.Buffer{Text: output})
//
// Pipeline.Apply never fails. A hook that errors leaves the buffer as it was.
package hook
