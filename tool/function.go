package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/opensearch-project/mlagent/core"
	"github.com/opensearch-project/mlagent/internal/util"
)

// Func is the signature wrapped by FunctionTool. Args are the decoded model
// arguments (empty for plain text input); params are the resolved call
// parameters.
type Func func(ctx context.Context, args map[string]any, params map[string]string) (any, error)

// FunctionTool exposes a Go function as a tool. Arguments are checked against
// the JSON schema before fn runs, failures surface as *ToolError with
// CodeValidation, other errors of fn as CodeExecution. A *ToolError returned
// by fn passes through unchanged. Non-string results are rendered as JSON.
type FunctionTool struct {
	name        string
	description string
	parameters  map[string]any
	fn          Func
	schema      *lazySchema
}

var _ Tool = (*FunctionTool)(nil)

// lazySchema compiles the parameter schema on first use and is shared by
// the copies FunctionFactory hands out.
type lazySchema struct {
	once     sync.Once
	compiled *jsonschema.Schema
	err      error
}

func (l *lazySchema) get(doc map[string]any) (*jsonschema.Schema, error) {
	l.once.Do(func() {
		if len(doc) > 0 {
			l.compiled, l.err = util.CompileSchema(doc)
		}
	})
	return l.compiled, l.err
}

// NewFunctionTool wraps fn with an explicit parameter schema.
//
//	sum := tool.NewFunctionTool("calculate_sum", "Add two numbers",
//		map[string]any{
//			"type":       "object",
//			"properties": map[string]any{"a": map[string]any{"type": "number"}, "b": map[string]any{"type": "number"}},
//			"required":   []any{"a", "b"},
//		},
//		func(_ context.Context, args map[string]any, _ map[string]string) (any, error) {
//			return args["a"].(float64) + args["b"].(float64), nil
//		})
func NewFunctionTool(name, description string, parameters map[string]any, fn Func) *FunctionTool {
	return &FunctionTool{name: name, description: description, parameters: parameters, fn: fn, schema: &lazySchema{}}
}

// NewFunctionToolFromStruct derives the schema from the fields of structType.
func NewFunctionToolFromStruct(name, description string, structType any, fn Func) *FunctionTool {
	return NewFunctionTool(name, description, util.CreateSchema(structType), fn)
}

// FunctionFactory registers t as a tool type. Each instance takes the name
// and description of its ToolSpec.
func FunctionFactory(t *FunctionTool) Factory {
	return func(spec core.ToolSpec) (Tool, error) {
		inst := *t
		inst.name = spec.ToolName()
		if spec.Description != "" {
			inst.description = spec.Description
		}
		return &inst, nil
	}
}

func (t *FunctionTool) Name() string               { return t.name }
func (t *FunctionTool) Description() string        { return t.description }
func (t *FunctionTool) Parameters() map[string]any { return t.parameters }

// Run validates call.Args and invokes the wrapped function.
func (t *FunctionTool) Run(ctx context.Context, call Call) (string, error) {
	if err := t.validate(call.Args); err != nil {
		return "", &ToolError{
			Tool:    t.name,
			Message: "parameter validation failed: " + err.Error(),
			Code:    CodeValidation,
			Details: err,
		}
	}

	out, err := t.fn(ctx, nonNil(call.Args), call.Parameters)
	if err != nil {
		var te *ToolError
		if errors.As(err, &te) {
			return "", te
		}
		return "", &ToolError{Tool: t.name, Message: err.Error(), Code: CodeExecution, cause: err}
	}
	return render(out), nil
}

func (t *FunctionTool) validate(args map[string]any) error {
	s, err := t.schema.get(t.parameters)
	if err != nil {
		return err
	}
	return util.ValidateWith(s, nonNil(args))
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func render(v any) string {
	switch r := v.(type) {
	case nil:
		return ""
	case string:
		return r
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
