package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/opensearch-project/mlagent/core"
)

type sessionRecord struct {
	mu           sync.Mutex
	session      *core.Session
	interactions []core.Interaction
	seq          int64
	deleted      bool
}

// InMemoryStore is a process-local core.MemoryStore.
//
// The session map is guarded by one RWMutex; each session has its own mutex
// so appends to one session are serialized while other sessions proceed in
// parallel. Returned values are clones.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*sessionRecord
	now      func() time.Time
}

var _ core.MemoryStore = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[string]*sessionRecord),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateSession stores a copy of session. An empty id is assigned.
func (m *InMemoryStore) CreateSession(ctx context.Context, session *core.Session) (*core.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if session == nil {
		return nil, core.Validationf("session is required")
	}
	s := session.Clone()
	if s.ID == "" {
		s.ID = core.NewID()
	}
	now := m.now()
	if s.CreatedTime.IsZero() {
		s.CreatedTime = now
	}
	s.UpdatedTime = now

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[s.ID]; exists {
		return nil, core.AlreadyExistsf("session", "session %s already exists", s.ID)
	}
	m.sessions[s.ID] = &sessionRecord{session: s}
	return s.Clone(), nil
}

func (m *InMemoryStore) record(sessionID string) (*sessionRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.sessions[sessionID]
	return rec, ok
}

// GetSession returns the session or core.ErrNotFound.
func (m *InMemoryStore) GetSession(ctx context.Context, sessionID string) (*core.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec, ok := m.record(sessionID)
	if !ok {
		return nil, core.NotFoundf("session", "session %s not found", sessionID)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.session.Clone(), nil
}

// AppendInteraction stores in with the next sequence number of its session.
func (m *InMemoryStore) AppendInteraction(ctx context.Context, in core.Interaction) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	rec, ok := m.record(in.SessionID)
	if !ok {
		return "", core.NotFoundf("session", "session %s not found", in.SessionID)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.deleted {
		return "", core.NotFoundf("session", "session %s not found", in.SessionID)
	}
	rec.seq++
	stored := in.Clone()
	stored.Sequence = rec.seq
	if stored.ID == "" {
		stored.ID = core.NewID()
	}
	now := m.now()
	if stored.CreatedTime.IsZero() {
		stored.CreatedTime = now
	}
	rec.interactions = append(rec.interactions, stored)
	rec.session.UpdatedTime = now
	return stored.ID, nil
}

// ListInteractions implements core.MemoryStore.
func (m *InMemoryStore) ListInteractions(ctx context.Context, sessionID string, limit int) ([]core.Interaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec, ok := m.record(sessionID)
	if !ok {
		return nil, core.NotFoundf("session", "session %s not found", sessionID)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	items := rec.interactions
	if limit > 0 && len(items) > limit {
		items = items[len(items)-limit:]
	}
	return cloneInteractions(items), nil
}

// SearchInteractions returns matches in sequence order. A missing session
// yields no hits.
func (m *InMemoryStore) SearchInteractions(ctx context.Context, q core.InteractionQuery) ([]core.Interaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec, ok := m.record(q.SessionID)
	if !ok {
		return []core.Interaction{}, nil
	}
	rec.mu.Lock()
	hits := make([]core.Interaction, 0)
	for _, in := range rec.interactions {
		if Matches(in, q.Text) {
			hits = append(hits, in.Clone())
		}
	}
	rec.mu.Unlock()
	return Page(hits, q.From, q.Size), nil
}

// DeleteSession removes the session together with its interactions.
func (m *InMemoryStore) DeleteSession(ctx context.Context, sessionID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	rec, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	if !ok {
		return false, nil
	}
	rec.mu.Lock()
	rec.deleted = true
	rec.interactions = nil
	rec.mu.Unlock()
	return true, nil
}

// Matches reports whether text occurs in the input or response of in,
// ignoring case. Empty text matches everything.
func Matches(in core.Interaction, text string) bool {
	if text == "" {
		return true
	}
	text = strings.ToLower(text)
	return strings.Contains(strings.ToLower(in.Input), text) ||
		strings.Contains(strings.ToLower(in.Response), text)
}

// Page applies from/size pagination. A size <= 0 returns everything after
// from.
func Page(items []core.Interaction, from, size int) []core.Interaction {
	if from < 0 {
		from = 0
	}
	if from >= len(items) {
		return []core.Interaction{}
	}
	items = items[from:]
	if size > 0 && len(items) > size {
		items = items[:size]
	}
	return items
}

func cloneInteractions(in []core.Interaction) []core.Interaction {
	out := make([]core.Interaction, len(in))
	for i, it := range in {
		out[i] = it.Clone()
	}
	return out
}
