// Package logging holds the Logger interface shared by every package and the
// AgentLogger built on log/slog.
//
// Any *slog.Logger is a Logger. AgentLogger adds run scoped attributes
// (component, agent_id, run_id) and one helper per execution event:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	logger.WithAgent(agentID, runID).LogToolCall("SearchIndexTool", dur, true, nil)
//
// Components accept a nil Logger and fall back to OrNoOp.
package logging
