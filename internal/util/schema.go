package util

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ValidationError reports the first parameter that failed schema validation.
type ValidationError struct {
	Field   string `json:"field"`
	Value   any    `json:"value,omitempty"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid parameters: " + e.Message
	}
	return fmt.Sprintf("invalid parameter %q: %s", e.Field, e.Message)
}

var jsonKinds = map[reflect.Kind]string{
	reflect.String: "string", reflect.Bool: "boolean",
	reflect.Float32: "number", reflect.Float64: "number",
	reflect.Slice: "array", reflect.Array: "array",
	reflect.Map: "object", reflect.Struct: "object",
}

func jsonKind(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if k, ok := jsonKinds[t.Kind()]; ok {
		return k
	}
	if t.ConvertibleTo(reflect.TypeOf(int64(0))) {
		return "integer"
	}
	return "string"
}

// CreateSchema derives an object schema from the exported fields of a struct.
// Field names follow the json tag and the description tag becomes the
// property description. Fields that are neither pointers nor omitempty are
// required. Non-struct inputs yield an empty object schema.
func CreateSchema(v any) map[string]any {
	props := map[string]any{}
	schema := map[string]any{"type": "object", "properties": props}

	t := reflect.TypeOf(v)
	if t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return schema
	}

	var required []any
	for _, f := range reflect.VisibleFields(t) {
		if !f.IsExported() || f.Anonymous {
			continue
		}
		name, opts, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			continue
		}
		if name == "" {
			name = f.Name
		}

		prop := map[string]any{"type": jsonKind(f.Type)}
		if d := f.Tag.Get("description"); d != "" {
			prop["description"] = d
		}
		props[name] = prop

		if f.Type.Kind() != reflect.Pointer && !strings.Contains(","+opts+",", ",omitempty,") {
			required = append(required, name)
		}
	}
	if required != nil {
		schema["required"] = required
	}
	return schema
}

// CompileSchema compiles a schema document held as a generic map.
func CompileSchema(schema map[string]any) (*jsonschema.Schema, error) {
	doc, err := toJSONValue(schema)
	if err != nil {
		return nil, fmt.Errorf("schema: %w", err)
	}
	const url = "mem://tool/parameters.json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("schema: %w", err)
	}
	return c.Compile(url)
}

// ValidateParameters checks params against schema. An empty schema accepts
// everything.
func ValidateParameters(params, schema map[string]any) error {
	if len(schema) == 0 {
		return nil
	}
	s, err := CompileSchema(schema)
	if err != nil {
		return err
	}
	return ValidateWith(s, params)
}

// ValidateWith checks params against a compiled schema and reports the
// deepest failing location.
func ValidateWith(s *jsonschema.Schema, params map[string]any) error {
	if s == nil {
		return nil
	}
	if params == nil {
		params = map[string]any{}
	}
	inst, err := toJSONValue(params)
	if err != nil {
		return &ValidationError{Message: err.Error()}
	}
	err = s.Validate(inst)
	if err == nil {
		return nil
	}

	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return &ValidationError{Message: err.Error()}
	}
	for len(verr.Causes) > 0 {
		verr = verr.Causes[0]
	}
	field := strings.Join(verr.InstanceLocation, ".")
	return &ValidationError{Field: field, Value: params[field], Message: verr.Error()}
}

// toJSONValue converts v into the value kinds the validator expects
// (json.Number for numbers, []any and map[string]any for containers).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(bytes.NewReader(b))
}
