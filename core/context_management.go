package core

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"
)

// HookPoint is a fixed position in the execution pipeline where context
// management hooks run.
type HookPoint string

// Hook points. PRE_LLM and POST_TOOL are the primary shrinking points.
const (
	HookPreExecution  HookPoint = "PRE_EXECUTION"
	HookPreLLM        HookPoint = "PRE_LLM"
	HookPostLLM       HookPoint = "POST_LLM"
	HookPreTool       HookPoint = "PRE_TOOL"
	HookPostTool      HookPoint = "POST_TOOL"
	HookPostExecution HookPoint = "POST_EXECUTION"
)

// HookPoints lists every valid hook point in pipeline order.
var HookPoints = []HookPoint{HookPreExecution, HookPreLLM, HookPostLLM, HookPreTool, HookPostTool, HookPostExecution}

// Valid reports whether p is a known hook point.
func (p HookPoint) Valid() bool { return slices.Contains(HookPoints, p) }

// HookSpec configures a single hook.
type HookSpec struct {
	Type   string         `json:"type" yaml:"type"`
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// ContextManagementTemplate is a named context management policy: an ordered
// list of hooks per hook point.
type ContextManagementTemplate struct {
	Name         string                   `json:"name" yaml:"name"`
	Description  string                   `json:"description,omitempty" yaml:"description,omitempty"`
	Hooks        map[HookPoint][]HookSpec `json:"hooks" yaml:"hooks"`
	CreatedBy    string                   `json:"created_by,omitempty" yaml:"-"`
	CreatedTime  time.Time                `json:"created_time,omitempty" yaml:"-"`
	LastModified time.Time                `json:"last_modified,omitempty" yaml:"-"`
}

var templateNamePattern = regexp.MustCompile(`^[a-z0-9_\-.]+$`)

// Validate checks a template before it is stored under its name.
func (t *ContextManagementTemplate) Validate() error {
	if t == nil {
		return Validationf("context management template is required")
	}
	if len(t.Name) == 0 || len(t.Name) >= 50 || !templateNamePattern.MatchString(t.Name) {
		return Validationf("invalid context management name: must not contain spaces or capital letters, and must be less than 50 characters")
	}
	return t.validateHooks()
}

func (t *ContextManagementTemplate) validateInline() error {
	if strings.TrimSpace(t.Name) == "" {
		return Validationf("context management configuration name cannot be null or empty")
	}
	return t.validateHooks()
}

func (t *ContextManagementTemplate) validateHooks() error {
	if len(t.Hooks) == 0 {
		return Validationf("context management configuration must define at least one hook")
	}
	for point, specs := range t.Hooks {
		if !point.Valid() {
			return Validationf("invalid hook name: %s. Valid hook names are: %v", point, HookPoints)
		}
		if len(specs) == 0 {
			return Validationf("hook %s must have at least one context manager configuration", point)
		}
		for i, s := range specs {
			if strings.TrimSpace(s.Type) == "" {
				return Validationf("invalid context manager configuration at index %d in hook %s: type cannot be null or empty", i, point)
			}
		}
	}
	return nil
}

// Version identifies a template revision for caching resolved pipelines.
func (t *ContextManagementTemplate) Version() string {
	if t == nil {
		return ""
	}
	return fmt.Sprintf("%s@%d", t.Name, t.LastModified.UnixNano())
}

// Clone returns a deep copy of the template.
func (t *ContextManagementTemplate) Clone() *ContextManagementTemplate {
	if t == nil {
		return nil
	}
	c := *t
	if t.Hooks != nil {
		c.Hooks = make(map[HookPoint][]HookSpec, len(t.Hooks))
		for p, specs := range t.Hooks {
			cp := make([]HookSpec, len(specs))
			for i, s := range specs {
				cp[i] = HookSpec{Type: s.Type, Config: CloneAnyMap(s.Config)}
			}
			c.Hooks[p] = cp
		}
	}
	return &c
}
