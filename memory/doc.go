// Package memory contains core.MemoryStore implementations. Depend on
// core.MemoryStore in your code and select an implementation at wiring time:
// the in-memory store below for tests and single-process servers, or
// memory/redis for a shared backend.
package memory
