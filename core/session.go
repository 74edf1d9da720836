package core

import (
	"time"
)

// Session is a conversation thread persisted by a MemoryStore.
type Session struct {
	ID          string            `json:"session_id"`
	Name        string            `json:"name,omitempty"`
	TenantID    string            `json:"tenant_id,omitempty"`
	CreatedTime time.Time         `json:"create_time"`
	UpdatedTime time.Time         `json:"updated_time"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// NewSession creates a session with a fresh id.
func NewSession(name string) *Session {
	now := time.Now().UTC()
	return &Session{ID: NewID(), Name: name, CreatedTime: now, UpdatedTime: now, Attributes: map[string]string{}}
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	c := *s
	c.Attributes = CloneStringMap(s.Attributes)
	return &c
}

// Interaction is one exchange of a session. Interactions are append-only and
// ordered by Sequence, which stores assign monotonically per session.
type Interaction struct {
	ID          string         `json:"interaction_id"`
	SessionID   string         `json:"session_id"`
	Sequence    int64          `json:"sequence"`
	Input       string         `json:"input"`
	Prompt      string         `json:"prompt_template,omitempty"`
	Response    string         `json:"response"`
	Origin      string         `json:"origin,omitempty"` // responding agent id
	Attributes  map[string]any `json:"additional_info,omitempty"`
	CreatedTime time.Time      `json:"create_time"`
}

// Clone returns a deep copy of the interaction.
func (i Interaction) Clone() Interaction {
	i.Attributes = CloneAnyMap(i.Attributes)
	return i
}
