// Package tool implements the tool registry and dispatcher that let agents
// invoke typed capabilities (index listing, connector calls, model calls,
// plain Go functions) with schema validated arguments and uniform,
// recoverable error reporting.
package tool

import (
	"context"
	"fmt"
	"time"

	"github.com/opensearch-project/mlagent/core"
	"github.com/opensearch-project/mlagent/internal/util"
)

// Tool defines the interface for extending agent capabilities.
//
// Tool implementations should:
//   - Provide clear, descriptive names and descriptions
//   - Define a JSON schema for structured arguments when they accept any
//   - Be safe for concurrent use; one instance serves every run of an agent
type Tool interface {
	// Name returns the identifier the model must emit to call the tool.
	Name() string

	// Description is shown to the model to explain when to use the tool.
	Description() string

	// Parameters returns a JSON schema for Call.Args, or nil for free-form input.
	Parameters() map[string]any

	// Run executes the tool and returns its textual output.
	Run(ctx context.Context, call Call) (string, error)
}

// Call is the fully resolved input of one tool execution.
type Call struct {
	ID   string
	Name string
	// Input is the raw argument payload the model produced.
	Input string
	// Args holds Input decoded as a JSON object, or nil for plain text.
	Args map[string]any
	// Parameters are the ToolSpec parameters overlaid with run overrides and the
	// stringified Args. "input" always carries Input.
	Parameters map[string]string
}

// ValidationError represents parameter validation errors with detailed information.
type ValidationError = util.ValidationError

// Error codes.
const (
	CodeValidation   = "VALIDATION_ERROR"
	CodeExecution    = "EXECUTION_ERROR"
	CodeUnknownTool  = "UNKNOWN_TOOL"
	CodeNoSuchAction = "NO_SUCH_ACTION"
	CodeUnavailable  = "UNAVAILABLE"
)

// ToolError represents a recoverable failure of a tool execution. It is fed
// back to the model as the tool result.
type ToolError struct {
	Tool    string `json:"tool"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
	cause   error
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// Unwrap classifies every ToolError as core.ErrRecoverableTool and exposes
// the underlying cause.
func (e *ToolError) Unwrap() []error {
	if e.cause == nil {
		return []error{core.ErrRecoverableTool}
	}
	return []error{core.ErrRecoverableTool, e.cause}
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{Tool: tool, Message: message, Code: code}
}

func wrapToolError(tool, code string, err error) *ToolError {
	return &ToolError{Tool: tool, Message: err.Error(), Code: code, cause: err}
}

// Result is the outcome of one dispatched tool call. Exactly one of Output and
// Err is meaningful.
type Result struct {
	CallID   string        `json:"call_id,omitempty"`
	Tool     string        `json:"tool"`
	Output   string        `json:"output,omitempty"`
	Err      *ToolError    `json:"error,omitempty"`
	Duration time.Duration `json:"-"`
}

// Observation is the text fed back to the model.
func (r Result) Observation() string {
	if r.Err == nil {
		return r.Output
	}
	if r.Err.Code == CodeUnknownTool {
		return r.Err.Message
	}
	return "Error: " + r.Err.Message
}
