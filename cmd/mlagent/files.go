package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/opensearch-project/mlagent/core"
	"github.com/opensearch-project/mlagent/registry"
)

func readAgentFile(path string) (*core.AgentDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read agent: %w", err)
	}
	var def core.AgentDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse agent %s: %w", path, err)
	}
	return &def, nil
}

func readTemplatesFile(path string) ([]*core.ContextManagementTemplate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read templates: %w", err)
	}
	var ts []*core.ContextManagementTemplate
	if err := yaml.Unmarshal(data, &ts); err != nil {
		return nil, fmt.Errorf("parse templates %s: %w", path, err)
	}
	return ts, nil
}

// installTemplates creates the templates of path. Templates already present
// in the store are replaced.
func installTemplates(ctx context.Context, reg *registry.Registry, path string) error {
	if path == "" {
		return nil
	}
	ts, err := readTemplatesFile(path)
	if err != nil {
		return err
	}
	for _, t := range ts {
		err := reg.CreateTemplate(ctx, t)
		if errors.Is(err, core.ErrAlreadyExists) {
			err = reg.UpdateTemplate(ctx, t)
		}
		if err != nil {
			return fmt.Errorf("template %s: %w", t.Name, err)
		}
	}
	return nil
}

// parseParams turns repeated k=v flags into a map. Later keys win.
func parseParams(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --param %q, expected key=value", p)
		}
		out[k] = v
	}
	return out, nil
}
