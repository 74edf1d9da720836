// Package model defines the provider-agnostic abstractions for talking to
// language models from the executor.
//
// Core goals:
//   - One synchronous Generate call per CALL_MODEL stage
//   - Normalize tool definitions and tool calls across vendors
//   - Resolve an agent's model spec to a Model (Registry)
//   - Lightweight scripted mocking for tests (MockModel)
//
// Providers (remote connectors, OpenAI, Anthropic) live in sub-packages.
package model
