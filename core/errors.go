package core

import (
	"errors"
	"fmt"
)

// Error kinds. Every error produced by this module wraps exactly one of these
// so callers can branch with errors.Is.
var (
	ErrValidation          = errors.New("validation error")
	ErrNotFound            = errors.New("not found")
	ErrAlreadyExists       = errors.New("already exists")
	ErrRecoverableTool     = errors.New("recoverable tool error")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrFeatureDisabled     = errors.New("feature disabled")
	ErrNoSuchAction        = errors.New("no such action found")
)

// ErrTemplateNotFound is returned when an agent references a context
// management template that does not exist. It matches ErrNotFound as well.
var ErrTemplateNotFound error = &Error{Kind: ErrNotFound, Op: "template", Message: "context management template not found"}

// Error is a classified error carrying the failing operation.
type Error struct {
	Kind    error  // one of the Err* kinds
	Op      string // operation or collaborator, e.g. "model", "tool", "register"
	Message string
	Err     error // optional cause
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.Error()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// TemplateNotFound reports a missing context management template by name.
func TemplateNotFound(name string) error {
	return fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
}

// Validationf returns an ErrValidation error.
func Validationf(format string, args ...any) error {
	return &Error{Kind: ErrValidation, Message: fmt.Sprintf(format, args...)}
}

// NotFoundf returns an ErrNotFound error for the given resource.
func NotFoundf(resource, format string, args ...any) error {
	return &Error{Kind: ErrNotFound, Op: resource, Message: fmt.Sprintf(format, args...)}
}

// AlreadyExistsf returns an ErrAlreadyExists error for the given resource.
func AlreadyExistsf(resource, format string, args ...any) error {
	return &Error{Kind: ErrAlreadyExists, Op: resource, Message: fmt.Sprintf(format, args...)}
}

// Unavailable wraps a transport or timeout failure of a collaborator
// ("model", "tool", "memory") as ErrUpstreamUnavailable.
func Unavailable(op string, err error) error {
	return &Error{Kind: ErrUpstreamUnavailable, Op: op, Message: op + " unavailable", Err: err}
}

// NoSuchAction reports that a connector lacks the requested action type.
func NoSuchAction(connector, actionType string) error {
	return &Error{
		Kind:    ErrNoSuchAction,
		Op:      "connector",
		Message: fmt.Sprintf("no %s action found for connector %s", actionType, connector),
	}
}

// FeatureDisabled reports that the agent framework is switched off.
func FeatureDisabled(feature string) error {
	return &Error{Kind: ErrFeatureDisabled, Message: feature + " is disabled"}
}

// Stage names a state of the executor state machine.
type Stage string

// Executor stages.
const (
	StageInit             Stage = "INIT"
	StageBuildPrompt      Stage = "BUILD_PROMPT"
	StageCallModel        Stage = "CALL_MODEL"
	StageInterpret        Stage = "INTERPRET"
	StageCallTool         Stage = "CALL_TOOL"
	StagePostToolHooks    Stage = "POST_TOOL_HOOKS"
	StageCheckTermination Stage = "CHECK_TERMINATION"
	StageTerminated       Stage = "TERMINATED"
)

// ExecutionError is a terminal execution failure annotated with where it
// happened.
type ExecutionError struct {
	AgentID   string
	RunID     string
	Iteration int
	Stage     Stage
	Err       error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("agent %s run %s failed at %s (iteration %d): %v", e.AgentID, e.RunID, e.Stage, e.Iteration, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
