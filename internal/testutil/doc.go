// Package testutil contains helper builders used across tests to reduce
// boilerplate when constructing agent definitions, context management
// templates and transcripts. They are not intended for production usage.
package testutil
