package core

import "context"

// InteractionQuery filters interactions of one session. Text, when set, is
// matched case-insensitively against input and response. Results are ordered
// by sequence.
type InteractionQuery struct {
	SessionID string
	Text      string
	From      int
	Size      int
}

// MemoryStore persists conversation sessions and their interactions.
//
// Appends to the same session are serialized and receive increasing sequence
// numbers. Appends to different sessions never wait on each other.
type MemoryStore interface {
	CreateSession(ctx context.Context, session *Session) (*Session, error)
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	// AppendInteraction stores in under its session and returns its id.
	AppendInteraction(ctx context.Context, in Interaction) (string, error)
	// ListInteractions returns the last limit interactions oldest first;
	// limit <= 0 returns all of them.
	ListInteractions(ctx context.Context, sessionID string, limit int) ([]Interaction, error)
	SearchInteractions(ctx context.Context, q InteractionQuery) ([]Interaction, error)
	// DeleteSession removes the session and all of its interactions. It
	// reports whether the session existed.
	DeleteSession(ctx context.Context, sessionID string) (bool, error)
}
