package mongo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/opensearch-project/mlagent/core"
	"github.com/opensearch-project/mlagent/registry"
)

func TestNewRequiresClientAndDatabase(t *testing.T) {
	_, err := New(context.Background(), Options{})
	require.EqualError(t, err, "mongo client is required")
}

func TestAgentRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	def := &core.AgentDefinition{
		ID:   "agent-1",
		Name: "flow",
		Type: core.AgentTypeFlow,
		Tools: []core.ToolSpec{{
			Type:       "ConnectorTool",
			Parameters: map[string]string{"connector_id": "c1"},
		}},
		ContextManagement: &core.ContextManagementTemplate{
			Name:  "inline",
			Hooks: map[core.HookPoint][]core.HookSpec{core.HookPostTool: {{Type: "ToolsOutputTruncateManager"}}},
		},
		LastUpdatedTime: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.PutAgent(ctx, def))

	got, err := s.GetAgent(ctx, "agent-1")
	require.NoError(t, err)
	require.Equal(t, "flow", got.Name)
	require.Equal(t, "c1", got.Tools[0].Parameters["connector_id"])
	require.Len(t, got.ContextManagement.Hooks[core.HookPostTool], 1)
	require.True(t, def.LastUpdatedTime.Equal(got.LastUpdatedTime))

	def.Description = "replaced"
	require.NoError(t, s.PutAgent(ctx, def))
	got, err = s.GetAgent(ctx, "agent-1")
	require.NoError(t, err)
	require.Equal(t, "replaced", got.Description)

	ok, err := s.DeleteAgent(ctx, "agent-1")
	require.NoError(t, err)
	require.True(t, ok)
	_, err = s.GetAgent(ctx, "agent-1")
	require.ErrorIs(t, err, core.ErrNotFound)
	ok, err = s.DeleteAgent(ctx, "agent-1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestTemplateOperations(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.CreateTemplate(ctx, &core.ContextManagementTemplate{
			Name:  fmt.Sprintf("t%d", i),
			Hooks: map[core.HookPoint][]core.HookSpec{core.HookPreLLM: {{Type: "SummarizationManager"}}},
		}))
	}
	err := s.CreateTemplate(ctx, &core.ContextManagementTemplate{Name: "t1"})
	require.ErrorIs(t, err, core.ErrAlreadyExists)

	page, err := s.ListTemplates(ctx, 1, 5)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, "t1", page[0].Name)

	require.NoError(t, s.UpdateTemplate(ctx, &core.ContextManagementTemplate{Name: "t1", Description: "new"}))
	got, err := s.GetTemplate(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, "new", got.Description)

	err = s.UpdateTemplate(ctx, &core.ContextManagementTemplate{Name: "missing"})
	require.ErrorIs(t, err, core.ErrTemplateNotFound)

	_, err = s.GetTemplate(ctx, "missing")
	require.ErrorIs(t, err, core.ErrNotFound)

	ok, err := s.DeleteTemplate(ctx, "t0")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.DeleteTemplate(ctx, "t0")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRegistryOverMongoStore(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	r := registry.New(s, s)

	require.NoError(t, r.CreateTemplate(ctx, &core.ContextManagementTemplate{
		Name:  "trunc",
		Hooks: map[core.HookPoint][]core.HookSpec{core.HookPostTool: {{Type: "ToolsOutputTruncateManager"}}},
	}))
	id, err := r.RegisterAgent(ctx, &core.AgentDefinition{
		Name:                  "flow",
		Type:                  core.AgentTypeFlow,
		ContextManagementName: "trunc",
	})
	require.NoError(t, err)

	def, err := r.GetAgent(ctx, id, "")
	require.NoError(t, err)
	tmpl, err := r.ResolveTemplate(ctx, def)
	require.NoError(t, err)
	require.Equal(t, "trunc", tmpl.Name)
}

func TestStoreErrorsAreUnavailable(t *testing.T) {
	s := newStore(&failingCollection{}, &failingCollection{}, time.Second)
	_, err := s.GetAgent(context.Background(), "x")
	require.ErrorIs(t, err, core.ErrUpstreamUnavailable)
	_, err = s.ListTemplates(context.Background(), 0, 10)
	require.ErrorIs(t, err, core.ErrUpstreamUnavailable)
}

func newTestStore() *Store {
	return newStore(newFakeCollection("_id"), newFakeCollection("name"), time.Second)
}

// fakeCollection is an in-memory collection keyed by a single field. Documents
// are stored BSON encoded so decoding follows the driver's rules.
type fakeCollection struct {
	mu    sync.Mutex
	key   string
	docs  map[string][]byte
	index bool
}

func newFakeCollection(key string) *fakeCollection {
	return &fakeCollection{key: key, docs: make(map[string][]byte)}
}

func (c *fakeCollection) filterKey(filter any) string {
	m, ok := filter.(bson.M)
	if !ok {
		return ""
	}
	v, _ := m[c.key].(string)
	return v
}

func (c *fakeCollection) docKey(raw []byte) (string, error) {
	var m bson.M
	if err := bson.Unmarshal(raw, &m); err != nil {
		return "", err
	}
	v, _ := m[c.key].(string)
	return v, nil
}

func (c *fakeCollection) InsertOne(_ context.Context, doc any) error {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return err
	}
	key, err := c.docKey(raw)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.docs[key]; ok {
		return mongodriver.WriteException{WriteErrors: []mongodriver.WriteError{{Code: 11000, Message: "duplicate key"}}}
	}
	c.docs[key] = raw
	return nil
}

func (c *fakeCollection) ReplaceOne(_ context.Context, filter, doc any, upsert bool) (int64, error) {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return 0, err
	}
	key := c.filterKey(filter)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.docs[key]; !ok && !upsert {
		return 0, nil
	}
	c.docs[key] = raw
	return 1, nil
}

func (c *fakeCollection) FindOne(_ context.Context, filter any) singleResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.docs[c.filterKey(filter)]
	if !ok {
		return fakeSingleResult{err: mongodriver.ErrNoDocuments}
	}
	return fakeSingleResult{raw: raw}
}

func (c *fakeCollection) Find(_ context.Context, _ any, _ bson.D, skip, limit int64, results any) error {
	out, ok := results.(*[]templateDocument)
	if !ok {
		return fmt.Errorf("unsupported result type %T", results)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.docs))
	for k := range c.docs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for i := int(skip); i < len(keys) && (limit <= 0 || int64(len(*out)) < limit); i++ {
		var doc templateDocument
		if err := bson.Unmarshal(c.docs[keys[i]], &doc); err != nil {
			return err
		}
		*out = append(*out, doc)
	}
	return nil
}

func (c *fakeCollection) DeleteOne(_ context.Context, filter any) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := c.filterKey(filter)
	if _, ok := c.docs[key]; !ok {
		return 0, nil
	}
	delete(c.docs, key)
	return 1, nil
}

func (c *fakeCollection) EnsureUniqueIndex(context.Context, string) error {
	c.index = true
	return nil
}

type fakeSingleResult struct {
	raw []byte
	err error
}

func (r fakeSingleResult) Decode(val any) error {
	if r.err != nil {
		return r.err
	}
	return bson.Unmarshal(r.raw, val)
}

type failingCollection struct{}

var errConnection = errors.New("connection refused")

func (failingCollection) InsertOne(context.Context, any) error { return errConnection }
func (failingCollection) ReplaceOne(context.Context, any, any, bool) (int64, error) {
	return 0, errConnection
}
func (failingCollection) FindOne(context.Context, any) singleResult {
	return fakeSingleResult{err: errConnection}
}
func (failingCollection) Find(context.Context, any, bson.D, int64, int64, any) error {
	return errConnection
}
func (failingCollection) DeleteOne(context.Context, any) (int64, error) { return 0, errConnection }
func (failingCollection) EnsureUniqueIndex(context.Context, string) error { return nil }
