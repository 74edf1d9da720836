package tool

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/opensearch-project/mlagent/core"
)

// ListIndexToolType is the registered type of ListIndexTool.
const ListIndexToolType = "ListIndexTool"

// IndexInfo describes one index as reported by the catalog.
type IndexInfo struct {
	Health       string
	Status       string
	Index        string
	UUID         string
	Primaries    int
	Replicas     int
	DocsCount    int64
	DocsDeleted  int64
	StoreSize    string
	PriStoreSize string
}

// IndexCatalog is the collaborator ListIndexTool reads from.
type IndexCatalog interface {
	// ListIndices returns indices matching any of the wildcard patterns, or
	// every index when patterns is empty.
	ListIndices(ctx context.Context, patterns []string) ([]IndexInfo, error)
}

// StaticCatalog is an in-memory IndexCatalog.
type StaticCatalog struct {
	mu      sync.RWMutex
	indices []IndexInfo
}

var _ IndexCatalog = (*StaticCatalog)(nil)

// NewStaticCatalog creates a catalog holding indices.
func NewStaticCatalog(indices ...IndexInfo) *StaticCatalog {
	return &StaticCatalog{indices: append([]IndexInfo(nil), indices...)}
}

// Add appends an index.
func (c *StaticCatalog) Add(info IndexInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.indices = append(c.indices, info)
}

// ListIndices implements IndexCatalog.
func (c *StaticCatalog) ListIndices(ctx context.Context, patterns []string) ([]IndexInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []IndexInfo
	for _, idx := range c.indices {
		if matchesAny(idx.Index, patterns) {
			out = append(out, idx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func matchesAny(name string, patterns []string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if ok, err := path.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}

var listIndexHeader = []string{"health", "status", "index", "uuid", "pri", "rep", "docs.count", "docs.deleted", "store.size", "pri.store.size"}

// ListIndexTool lists indices with their health and size as CSV.
type ListIndexTool struct {
	name    string
	catalog IndexCatalog
}

var _ Tool = (*ListIndexTool)(nil)

// NewListIndexTool creates the tool over catalog.
func NewListIndexTool(name string, catalog IndexCatalog) *ListIndexTool {
	if name == "" {
		name = ListIndexToolType
	}
	return &ListIndexTool{name: name, catalog: catalog}
}

// ListIndexFactory returns the Factory for ListIndexTool.
func ListIndexFactory(catalog IndexCatalog) Factory {
	return func(spec core.ToolSpec) (Tool, error) {
		return NewListIndexTool(spec.ToolName(), catalog), nil
	}
}

// Name implements Tool.
func (t *ListIndexTool) Name() string { return t.name }

// Description implements Tool.
func (t *ListIndexTool) Description() string {
	return "Use this tool to get index information (health, status, index, uuid, primary shards, replica shards, " +
		"docs.count, docs.deleted, store.size, pri.store.size). It takes an optional 'indices' parameter: a comma " +
		"separated list of index names or wildcard patterns; all indices are listed when it is empty."
}

// Parameters implements Tool.
func (t *ListIndexTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"indices": map[string]any{"type": []any{"string", "array"}, "description": "index names or patterns"},
		},
	}
}

// Run implements Tool.
func (t *ListIndexTool) Run(ctx context.Context, call Call) (string, error) {
	raw := call.Parameters["indices"]
	patterns := parseIndices(raw)

	indices, err := t.catalog.ListIndices(ctx, patterns)
	if err != nil {
		return "", err
	}
	if len(indices) == 0 {
		return fmt.Sprintf("There were no results searching the indices parameter [%s].", raw), nil
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write(listIndexHeader)
	for _, idx := range indices {
		_ = w.Write([]string{
			idx.Health, idx.Status, idx.Index, idx.UUID,
			strconv.Itoa(idx.Primaries), strconv.Itoa(idx.Replicas),
			strconv.FormatInt(idx.DocsCount, 10), strconv.FormatInt(idx.DocsDeleted, 10),
			idx.StoreSize, idx.PriStoreSize,
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// parseIndices accepts a JSON array or a comma separated list.
func parseIndices(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if strings.HasPrefix(raw, "[") {
		var list []string
		if err := json.Unmarshal([]byte(raw), &list); err == nil {
			return compact(list)
		}
	}
	return compact(strings.Split(raw, ","))
}

func compact(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
