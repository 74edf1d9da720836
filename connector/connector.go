// Package connector invokes external model and service endpoints described by
// templated connector definitions.
//
// A Connector carries named actions (predict, execute, metadata). Each action
// is a request skeleton whose ${parameters.x} and ${credential.x} placeholders
// are substituted before the call; a response filter then extracts the value
// handed back to the caller.
package connector

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/opensearch-project/mlagent/core"
)

// Well-known action types.
const (
	ActionPredict  = "predict"
	ActionExecute  = "execute"
	ActionMetadata = "metadata"
)

// Action is one named request a connector can send.
type Action struct {
	ActionType     string            `json:"action_type" yaml:"action_type"`
	Method         string            `json:"method" yaml:"method"`
	URL            string            `json:"url" yaml:"url"`
	Headers        map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	RequestBody    string            `json:"request_body,omitempty" yaml:"request_body,omitempty"`
	ResponseFilter string            `json:"response_filter,omitempty" yaml:"response_filter,omitempty"`
}

// Connector describes how to reach one external endpoint.
type Connector struct {
	ID          string            `json:"connector_id" yaml:"connector_id"`
	Name        string            `json:"name" yaml:"name"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Protocol    string            `json:"protocol" yaml:"protocol"`
	Parameters  map[string]string `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Credential  map[string]string `json:"credential,omitempty" yaml:"credential,omitempty"`
	Actions     []Action          `json:"actions" yaml:"actions"`
}

// Action returns the action with the given type. Types compare
// case-insensitively so PREDICT and predict are the same action.
func (c *Connector) Action(actionType string) (*Action, error) {
	for i := range c.Actions {
		if strings.EqualFold(c.Actions[i].ActionType, actionType) {
			return &c.Actions[i], nil
		}
	}
	return nil, core.NoSuchAction(c.ID, strings.ToLower(actionType))
}

// Validate checks the connector is usable.
func (c *Connector) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return core.Validationf("connector id is required")
	}
	if c.Protocol != "" && !strings.EqualFold(c.Protocol, "http") {
		return core.Validationf("connector %s: unsupported protocol %q", c.ID, c.Protocol)
	}
	if len(c.Actions) == 0 {
		return core.Validationf("connector %s: at least one action is required", c.ID)
	}
	seen := map[string]struct{}{}
	for _, a := range c.Actions {
		t := strings.ToLower(a.ActionType)
		if t == "" {
			return core.Validationf("connector %s: action type is required", c.ID)
		}
		if _, dup := seen[t]; dup {
			return core.Validationf("connector %s: duplicate action %s", c.ID, t)
		}
		seen[t] = struct{}{}
		if a.URL == "" {
			return core.Validationf("connector %s: action %s has no url", c.ID, t)
		}
	}
	return nil
}

// Clone returns a deep copy.
func (c *Connector) Clone() *Connector {
	cp := *c
	cp.Parameters = core.CloneStringMap(c.Parameters)
	cp.Credential = core.CloneStringMap(c.Credential)
	cp.Actions = make([]Action, len(c.Actions))
	for i, a := range c.Actions {
		a.Headers = core.CloneStringMap(a.Headers)
		cp.Actions[i] = a
	}
	return &cp
}

// Store resolves connectors by id.
type Store interface {
	GetConnector(ctx context.Context, id string) (*Connector, error)
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu         sync.RWMutex
	connectors map[string]*Connector
}

// NewMemoryStore creates a store holding the given connectors.
func NewMemoryStore(conns ...*Connector) *MemoryStore {
	s := &MemoryStore{connectors: make(map[string]*Connector)}
	for _, c := range conns {
		s.connectors[c.ID] = c.Clone()
	}
	return s
}

// Put validates and stores a connector, replacing any previous one.
func (s *MemoryStore) Put(c *Connector) error {
	if err := c.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectors[c.ID] = c.Clone()
	return nil
}

// GetConnector implements Store.
func (s *MemoryStore) GetConnector(_ context.Context, id string) (*Connector, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.connectors[id]
	if !ok {
		return nil, core.NotFoundf("connector", "connector %s not found", id)
	}
	return c.Clone(), nil
}

// LoadFile reads a YAML list of connectors.
func LoadFile(path string) ([]*Connector, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read connectors: %w", err)
	}
	var conns []*Connector
	if err := yaml.Unmarshal(data, &conns); err != nil {
		return nil, fmt.Errorf("parse connectors: %w", err)
	}
	for _, c := range conns {
		if err := c.Validate(); err != nil {
			return nil, err
		}
	}
	return conns, nil
}
