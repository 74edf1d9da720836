// Package core provides the foundational domain types and interfaces shared by
// the agent runtime. It defines:
//
//   - Agent definitions (model, tool, memory and context-management specs)
//   - Context-management templates and hook points
//   - Conversation sessions and interactions persisted by memory stores
//   - Transcript messages exchanged with models during an execution
//   - The error taxonomy used across packages
//   - The feature gate consulted before registration and execution
//
// The package performs no I/O. Persistence, transport and orchestration live
// in the memory, registry, connector and engine packages, which depend on the
// small interfaces declared here.
package core
