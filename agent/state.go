package agent

import (
	"github.com/opensearch-project/mlagent/core"
)

// Termination is the reason a run stopped.
type Termination string

// Termination reasons.
const (
	TerminationFinalAnswer   Termination = "FINAL_ANSWER"
	TerminationMaxIterations Termination = "MAX_ITERATIONS"
	TerminationNoToolFound   Termination = "NO_TOOL_FOUND"
	TerminationError         Termination = "ERROR"
)

// ToolOutput is the last output of one tool, reported in the run result.
type ToolOutput struct {
	Name   string `json:"name"`
	Result string `json:"result"`
}

// ExecutionState is the transient state of one run. It is owned by a single
// runner invocation and never shared.
type ExecutionState struct {
	AgentID   string
	RunID     string
	Stage     core.Stage
	Iteration int
	// Transcript is the working conversation, history included.
	Transcript   []core.Message
	LastToolCall *core.ToolCall
	Termination  Termination
	Answer       string
	// Outputs lists the reported tool outputs in tool declaration order.
	Outputs []ToolOutput
	// HistoryLen is the number of leading transcript messages loaded from
	// memory.
	HistoryLen int
	// Prompt is the rendered system prompt sent to the model. Flow runs leave
	// it empty.
	Prompt string

	added       []core.Message
	lastThought string
	outputs     map[string]string
}

func newState(run *Run) *ExecutionState {
	s := &ExecutionState{
		AgentID:    run.AgentID,
		RunID:      run.RunID,
		Stage:      core.StageInit,
		Transcript: core.CloneMessages(run.History),
		HistoryLen: len(run.History),
		outputs:    make(map[string]string),
	}
	if s.Transcript == nil {
		s.Transcript = []core.Message{}
	}
	return s
}

func (s *ExecutionState) enter(stage core.Stage) { s.Stage = stage }

func (s *ExecutionState) append(msgs ...core.Message) {
	s.Transcript = append(s.Transcript, msgs...)
	s.added = append(s.added, msgs...)
}

func (s *ExecutionState) recordOutput(tool, output string) {
	s.outputs[tool] = output
}

// Output returns the last output recorded for tool.
func (s *ExecutionState) Output(tool string) (string, bool) {
	out, ok := s.outputs[tool]
	return out, ok
}

// NewMessages returns the messages appended during this run as they were
// appended. Hooks rewriting Transcript do not affect them.
func (s *ExecutionState) NewMessages() []core.Message {
	return core.CloneMessages(s.added)
}

// fail terminates the state with an error raised at the current stage.
func (s *ExecutionState) fail(err error) error {
	s.Termination = TerminationError
	return &core.ExecutionError{
		AgentID:   s.AgentID,
		RunID:     s.RunID,
		Iteration: s.Iteration,
		Stage:     s.Stage,
		Err:       err,
	}
}

func (s *ExecutionState) finish(reason Termination, answer string) {
	s.Termination = reason
	s.Answer = answer
	s.Stage = core.StageTerminated
}

// collectOutputs fills Outputs with the flagged tools, plus always when it is
// non-empty, in declaration order.
func (s *ExecutionState) collectOutputs(specs []core.ToolSpec, always string) {
	s.Outputs = []ToolOutput{}
	for _, spec := range specs {
		name := spec.ToolName()
		if !spec.IncludeOutputInAgentResponse && name != always {
			continue
		}
		if out, ok := s.outputs[name]; ok {
			s.Outputs = append(s.Outputs, ToolOutput{Name: name, Result: out})
		}
	}
}
