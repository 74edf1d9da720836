// Package redis implements core.MemoryStore on Redis.
//
// A session is stored under <prefix>:session:{<id>}. Its interactions live in
// a list at <prefix>:session:{<id>}:interactions and are appended by a Lua
// script that assigns the next sequence number and pushes the record in one
// atomic step, so appends to a session are ordered without client-side
// locking. The braces are a cluster hash tag: every key of a session lands in
// the same slot, which the script and the delete transaction require.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/opensearch-project/mlagent/core"
	"github.com/opensearch-project/mlagent/logging"
	"github.com/opensearch-project/mlagent/memory"
)

// Options configures a Store.
type Options struct {
	// Prefix namespaces every key.
	Prefix string
	// Timeout bounds every Redis round trip; zero disables it.
	Timeout time.Duration
	// TTL expires idle sessions; zero keeps them forever.
	TTL    time.Duration
	Logger logging.Logger
}

// Store is a Redis backed core.MemoryStore.
type Store struct {
	rdb     goredis.UniversalClient
	prefix  string
	timeout time.Duration
	ttl     time.Duration
	logger  logging.Logger
}

var _ core.MemoryStore = (*Store)(nil)

// appendScript decodes ARGV[1] (a JSON interaction), sets its sequence field to
// the next number and pushes it. Returns -1 when the session does not exist.
var appendScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
local seq = redis.call('INCR', KEYS[2])
local item = cjson.decode(ARGV[1])
item['sequence'] = seq
redis.call('RPUSH', KEYS[3], cjson.encode(item))
redis.call('SET', KEYS[4], ARGV[2])
local ttl = tonumber(ARGV[3])
if ttl > 0 then
  for i = 1, 4 do redis.call('PEXPIRE', KEYS[i], ttl) end
end
return seq
`)

// New creates a Store over rdb.
func New(rdb goredis.UniversalClient, optFns ...func(o *Options)) *Store {
	opts := Options{Prefix: "mlagent", Timeout: 5 * time.Second, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Store{
		rdb:     rdb,
		prefix:  opts.Prefix,
		timeout: opts.Timeout,
		ttl:     opts.TTL,
		logger:  logging.OrNoOp(opts.Logger),
	}
}

func (s *Store) sessionKey(id string) string { return fmt.Sprintf("%s:session:{%s}", s.prefix, id) }
func (s *Store) seqKey(id string) string { return s.sessionKey(id) + ":seq" }
func (s *Store) interactionsKey(id string) string { return s.sessionKey(id) + ":interactions" }
func (s *Store) updatedKey(id string) string { return s.sessionKey(id) + ":updated" }

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func unavailable(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return core.Unavailable("memory", err)
}

// CreateSession implements core.MemoryStore.
func (s *Store) CreateSession(ctx context.Context, session *core.Session) (*core.Session, error) {
	if session == nil {
		return nil, core.Validationf("session is required")
	}
	out := session.Clone()
	if out.ID == "" {
		out.ID = core.NewID()
	}
	now := time.Now().UTC()
	if out.CreatedTime.IsZero() {
		out.CreatedTime = now
	}
	out.UpdatedTime = now

	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode session: %w", err)
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	ok, err := s.rdb.SetNX(ctx, s.sessionKey(out.ID), data, s.ttl).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	if !ok {
		return nil, core.AlreadyExistsf("session", "session %s already exists", out.ID)
	}
	s.logger.Debug("memory.session.created", "session_id", out.ID)
	return out, nil
}

// GetSession implements core.MemoryStore.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*core.Session, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	vals, err := s.rdb.MGet(ctx, s.sessionKey(sessionID), s.updatedKey(sessionID)).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	raw, ok := vals[0].(string)
	if !ok {
		return nil, core.NotFoundf("session", "session %s not found", sessionID)
	}
	var out core.Session
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	if updated, ok := vals[1].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, updated); err == nil {
			out.UpdatedTime = t
		}
	}
	return &out, nil
}

// AppendInteraction implements core.MemoryStore.
func (s *Store) AppendInteraction(ctx context.Context, in core.Interaction) (string, error) {
	stored := in.Clone()
	if stored.ID == "" {
		stored.ID = core.NewID()
	}
	now := time.Now().UTC()
	if stored.CreatedTime.IsZero() {
		stored.CreatedTime = now
	}
	data, err := json.Marshal(stored)
	if err != nil {
		return "", fmt.Errorf("encode interaction: %w", err)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	id := in.SessionID
	keys := []string{s.sessionKey(id), s.seqKey(id), s.interactionsKey(id), s.updatedKey(id)}
	seq, err := appendScript.Run(ctx, s.rdb, keys, string(data), now.Format(time.RFC3339Nano), s.ttl.Milliseconds()).Int64()
	if err != nil {
		return "", unavailable(err)
	}
	if seq < 0 {
		return "", core.NotFoundf("session", "session %s not found", id)
	}
	s.logger.Debug("memory.interaction.appended", "session_id", id, "sequence", seq)
	return stored.ID, nil
}

// ListInteractions implements core.MemoryStore.
func (s *Store) ListInteractions(ctx context.Context, sessionID string, limit int) ([]core.Interaction, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	n, err := s.rdb.Exists(ctx, s.sessionKey(sessionID)).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	if n == 0 {
		return nil, core.NotFoundf("session", "session %s not found", sessionID)
	}
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	return s.load(ctx, sessionID, start)
}

// SearchInteractions implements core.MemoryStore. Matching happens client
// side over the session's list.
func (s *Store) SearchInteractions(ctx context.Context, q core.InteractionQuery) ([]core.Interaction, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	all, err := s.load(ctx, q.SessionID, 0)
	if err != nil {
		return nil, err
	}
	hits := make([]core.Interaction, 0, len(all))
	for _, in := range all {
		if memory.Matches(in, q.Text) {
			hits = append(hits, in)
		}
	}
	return memory.Page(hits, q.From, q.Size), nil
}

func (s *Store) load(ctx context.Context, sessionID string, start int64) ([]core.Interaction, error) {
	raw, err := s.rdb.LRange(ctx, s.interactionsKey(sessionID), start, -1).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	out := make([]core.Interaction, 0, len(raw))
	for _, r := range raw {
		var in core.Interaction
		if err := json.Unmarshal([]byte(r), &in); err != nil {
			return nil, fmt.Errorf("decode interaction of %s: %w", sessionID, err)
		}
		out = append(out, in)
	}
	return out, nil
}

// DeleteSession implements core.MemoryStore.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var del *goredis.IntCmd
	_, err := s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		del = pipe.Del(ctx, s.sessionKey(sessionID))
		pipe.Del(ctx, s.seqKey(sessionID), s.interactionsKey(sessionID), s.updatedKey(sessionID))
		return nil
	})
	if err != nil {
		return false, unavailable(err)
	}
	existed := del.Val() > 0
	if existed {
		s.logger.Debug("memory.session.deleted", "session_id", sessionID)
	}
	return existed, nil
}
