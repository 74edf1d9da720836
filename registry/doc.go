// Package registry stores agent definitions and context management
// templates.
//
// Registry applies the registration rules (structure, tool types, template
// references, feature gate) in front of pluggable stores. The in-memory
// stores here serve tests and single-process servers; registry/mongo
// provides a MongoDB backend.
package registry
