// Package mongo implements the registry stores on MongoDB.
//
// Agents and templates are kept in two collections. Each document carries the
// lookup keys as top-level fields and the full definition as its JSON
// encoding, the same representation the HTTP API accepts.
package mongo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/opensearch-project/mlagent/core"
	"github.com/opensearch-project/mlagent/registry"
)

const (
	defaultAgentCollection    = "ml_agents"
	defaultTemplateCollection = "ml_context_management_templates"
	defaultTimeout            = 5 * time.Second
)

// Options configures the stores.
type Options struct {
	Client             *mongodriver.Client
	Database           string
	AgentCollection    string
	TemplateCollection string
	Timeout            time.Duration
}

// Store implements registry.AgentStore and registry.TemplateStore.
type Store struct {
	agents    collection
	templates collection
	timeout   time.Duration
}

var (
	_ registry.AgentStore    = (*Store)(nil)
	_ registry.TemplateStore = (*Store)(nil)
)

// New returns a Store backed by the provided MongoDB client and ensures the
// template name index exists.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	agents := opts.AgentCollection
	if agents == "" {
		agents = defaultAgentCollection
	}
	templates := opts.TemplateCollection
	if templates == "" {
		templates = defaultTemplateCollection
	}
	db := opts.Client.Database(opts.Database)
	s := newStore(mongoCollection{coll: db.Collection(agents)}, mongoCollection{coll: db.Collection(templates)}, opts.Timeout)

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.templates.EnsureUniqueIndex(ctx, "name"); err != nil {
		return nil, fmt.Errorf("create template index: %w", err)
	}
	return s, nil
}

// Connect opens a client for uri.
func Connect(uri string) (*mongodriver.Client, error) {
	return mongodriver.Connect(options.Client().ApplyURI(uri))
}

func newStore(agents, templates collection, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Store{agents: agents, templates: templates, timeout: timeout}
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

type agentDocument struct {
	ID         string    `bson:"_id"`
	Name       string    `bson:"name"`
	TenantID   string    `bson:"tenant_id,omitempty"`
	Definition string    `bson:"definition"`
	UpdatedAt  time.Time `bson:"updated_at"`
}

type templateDocument struct {
	Name       string    `bson:"name"`
	Definition string    `bson:"definition"`
	UpdatedAt  time.Time `bson:"updated_at"`
}

func storeErr(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return core.Unavailable("registry", err)
}

// PutAgent implements registry.AgentStore.
func (s *Store) PutAgent(ctx context.Context, def *core.AgentDefinition) error {
	body, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("encode agent: %w", err)
	}
	doc := agentDocument{
		ID:         def.ID,
		Name:       def.Name,
		TenantID:   def.TenantID,
		Definition: string(body),
		UpdatedAt:  def.LastUpdatedTime,
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := s.agents.ReplaceOne(ctx, bson.M{"_id": def.ID}, doc, true); err != nil {
		return storeErr(err)
	}
	return nil
}

// GetAgent implements registry.AgentStore.
func (s *Store) GetAgent(ctx context.Context, id string) (*core.AgentDefinition, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var doc agentDocument
	if err := s.agents.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, core.NotFoundf("agent", "agent %s not found", id)
		}
		return nil, storeErr(err)
	}
	var def core.AgentDefinition
	if err := json.Unmarshal([]byte(doc.Definition), &def); err != nil {
		return nil, fmt.Errorf("decode agent %s: %w", id, err)
	}
	def.ID = doc.ID
	return &def, nil
}

// DeleteAgent implements registry.AgentStore.
func (s *Store) DeleteAgent(ctx context.Context, id string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	n, err := s.agents.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return false, storeErr(err)
	}
	return n > 0, nil
}

func encodeTemplate(t *core.ContextManagementTemplate) (templateDocument, error) {
	body, err := json.Marshal(t)
	if err != nil {
		return templateDocument{}, fmt.Errorf("encode template: %w", err)
	}
	return templateDocument{Name: t.Name, Definition: string(body), UpdatedAt: t.LastModified}, nil
}

func decodeTemplate(doc templateDocument) (*core.ContextManagementTemplate, error) {
	var t core.ContextManagementTemplate
	if err := json.Unmarshal([]byte(doc.Definition), &t); err != nil {
		return nil, fmt.Errorf("decode template %s: %w", doc.Name, err)
	}
	return &t, nil
}

// CreateTemplate implements registry.TemplateStore.
func (s *Store) CreateTemplate(ctx context.Context, t *core.ContextManagementTemplate) error {
	doc, err := encodeTemplate(t)
	if err != nil {
		return err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.templates.InsertOne(ctx, doc); err != nil {
		if mongodriver.IsDuplicateKeyError(err) {
			return core.AlreadyExistsf("template", "context management template %s already exists", t.Name)
		}
		return storeErr(err)
	}
	return nil
}

// UpdateTemplate implements registry.TemplateStore.
func (s *Store) UpdateTemplate(ctx context.Context, t *core.ContextManagementTemplate) error {
	doc, err := encodeTemplate(t)
	if err != nil {
		return err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	matched, err := s.templates.ReplaceOne(ctx, bson.M{"name": t.Name}, doc, false)
	if err != nil {
		return storeErr(err)
	}
	if matched == 0 {
		return core.TemplateNotFound(t.Name)
	}
	return nil
}

// GetTemplate implements registry.TemplateStore.
func (s *Store) GetTemplate(ctx context.Context, name string) (*core.ContextManagementTemplate, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var doc templateDocument
	if err := s.templates.FindOne(ctx, bson.M{"name": name}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, core.TemplateNotFound(name)
		}
		return nil, storeErr(err)
	}
	return decodeTemplate(doc)
}

// ListTemplates implements registry.TemplateStore.
func (s *Store) ListTemplates(ctx context.Context, from, size int) ([]*core.ContextManagementTemplate, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var docs []templateDocument
	if err := s.templates.Find(ctx, bson.M{}, bson.D{{Key: "name", Value: 1}}, int64(from), int64(size), &docs); err != nil {
		return nil, storeErr(err)
	}
	out := make([]*core.ContextManagementTemplate, 0, len(docs))
	for _, d := range docs {
		t, err := decodeTemplate(d)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// DeleteTemplate implements registry.TemplateStore.
func (s *Store) DeleteTemplate(ctx context.Context, name string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	n, err := s.templates.DeleteOne(ctx, bson.M{"name": name})
	if err != nil {
		return false, storeErr(err)
	}
	return n > 0, nil
}

// collection is the subset of the driver the stores use.
type collection interface {
	InsertOne(ctx context.Context, doc any) error
	ReplaceOne(ctx context.Context, filter, doc any, upsert bool) (matched int64, err error)
	FindOne(ctx context.Context, filter any) singleResult
	Find(ctx context.Context, filter any, sort bson.D, skip, limit int64, results any) error
	DeleteOne(ctx context.Context, filter any) (int64, error)
	EnsureUniqueIndex(ctx context.Context, field string) error
}

type singleResult interface {
	Decode(val any) error
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) InsertOne(ctx context.Context, doc any) error {
	_, err := c.coll.InsertOne(ctx, doc)
	return err
}

func (c mongoCollection) ReplaceOne(ctx context.Context, filter, doc any, upsert bool) (int64, error) {
	res, err := c.coll.ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(upsert))
	if err != nil {
		return 0, err
	}
	return res.MatchedCount + res.UpsertedCount, nil
}

func (c mongoCollection) FindOne(ctx context.Context, filter any) singleResult {
	return c.coll.FindOne(ctx, filter)
}

func (c mongoCollection) Find(ctx context.Context, filter any, sort bson.D, skip, limit int64, results any) error {
	cur, err := c.coll.Find(ctx, filter, options.Find().SetSort(sort).SetSkip(skip).SetLimit(limit))
	if err != nil {
		return err
	}
	return cur.All(ctx, results)
}

func (c mongoCollection) DeleteOne(ctx context.Context, filter any) (int64, error) {
	res, err := c.coll.DeleteOne(ctx, filter)
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (c mongoCollection) EnsureUniqueIndex(ctx context.Context, field string) error {
	_, err := c.coll.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys:    bson.D{{Key: field, Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}
