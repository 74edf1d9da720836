// Package engine implements the Agent Executor, the entry point that runs a
// registered or inline agent against one input.
//
// # Core Responsibilities
//
// Admission:
//   - Feature gate checked before anything else
//   - Bounded concurrency through a weighted semaphore
//
// INIT:
//   - Agent lookup with tenant isolation, or validation of an inline body
//   - Snapshot of the definition so registry edits never reach a running execution
//   - Template, toolset and model resolution (toolsets and pipelines are
//     cached per snapshot)
//   - Chat history of the memory session
//
// Run and termination:
//   - CONVERSATIONAL and FLOW runners from package agent
//   - Persistence of the exchange to the Memory Store at TERMINATED
//   - Cancelled or failed runs persist nothing
//
// Telemetry:
//   - One span per execution with child spans for INIT, the run and memory I/O
//   - Prometheus counters for executions, iterations, tool calls and hook outcomes
//   - Lifecycle callbacks for auditing and admission control
//
// # Architecture
//
//	┌─────────────────────────────────────────────────────────┐
//	│                 api / cmd / embedding host              │
//	├─────────────────────────────────────────────────────────┤
//	│                      Engine.Execute                     │
//	│  ┌─────────────┐ ┌─────────────┐ ┌─────────────────┐    │
//	│  │    Gate     │ │  Callbacks  │ │   Semaphore     │    │
//	│  └─────────────┘ └─────────────┘ └─────────────────┘    │
//	├─────────────────────────────────────────────────────────┤
//	│                 agent.Conversational / Flow             │
//	├─────────────────────────────────────────────────────────┤
//	│  ┌─────────────┐ ┌─────────────┐ ┌─────────────────┐    │
//	│  │  Registry   │ │ Tool / Hook │ │  Memory Store   │    │
//	│  │             │ │ registries  │ │                 │    │
//	│  └─────────────┘ └─────────────┘ └─────────────────┘    │
//	└─────────────────────────────────────────────────────────┘
//
// # Usage Example
//
//	reg := registry.NewInMemory()
//	tools := tool.NewRegistry()
//	tool.RegisterBuiltins(tools, tool.Dependencies{Catalog: catalog})
//
//	eng := engine.New(reg, func(o *engine.Options) {
//	    o.Tools = tools
//	    o.Models = models
//	    o.Metrics = engine.DefaultMetrics()
//	})
//
//	res, err := eng.Execute(ctx, &engine.Request{
//	    AgentID: id,
//	    Input:   "which indices exist?",
//	})
//
// # Error Handling
//
// Errors before INIT (feature gate, concurrency wait) are returned as they
// are. Every later failure is a *core.ExecutionError naming the stage, so
// errors.Is(err, core.ErrNotFound) and friends still work through it.
// Recoverable tool errors never surface here; the model sees them as tool
// results.
package engine
