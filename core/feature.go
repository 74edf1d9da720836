package core

import (
	"context"
	"sync/atomic"
)

// FeatureAgentFramework names the gate checked by register and execute.
const FeatureAgentFramework = "agent framework"

// FeatureGate reports whether the agent framework is enabled. The hosting
// process owns the flag; the runtime only reads it per call.
type FeatureGate interface {
	AgentFrameworkEnabled(ctx context.Context) bool
}

// StaticFeatureGate is a FeatureGate backed by an atomic flag that the host
// can flip at runtime.
type StaticFeatureGate struct {
	enabled atomic.Bool
}

// NewStaticFeatureGate returns a gate initialized to enabled.
func NewStaticFeatureGate(enabled bool) *StaticFeatureGate {
	g := &StaticFeatureGate{}
	g.enabled.Store(enabled)
	return g
}

// AgentFrameworkEnabled implements FeatureGate.
func (g *StaticFeatureGate) AgentFrameworkEnabled(context.Context) bool { return g.enabled.Load() }

// Set updates the flag.
func (g *StaticFeatureGate) Set(enabled bool) { g.enabled.Store(enabled) }

// CheckAgentFramework returns ErrFeatureDisabled when the gate is off. A nil
// gate is treated as enabled.
func CheckAgentFramework(ctx context.Context, g FeatureGate) error {
	if g == nil || g.AgentFrameworkEnabled(ctx) {
		return nil
	}
	return FeatureDisabled(FeatureAgentFramework)
}
