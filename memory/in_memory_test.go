package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensearch-project/mlagent/core"
)

func newSession(t *testing.T, store *InMemoryStore, name string) *core.Session {
	t.Helper()
	s, err := store.CreateSession(context.Background(), core.NewSession(name))
	if err != nil {
		t.Fatalf("create session failed: %v", err)
	}
	return s
}

func TestInMemoryStore_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	s := newSession(t, store, "list my indices")
	got, err := store.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "list my indices", got.Name)

	_, err = store.CreateSession(ctx, &core.Session{ID: s.ID})
	require.ErrorIs(t, err, core.ErrAlreadyExists)

	_, err = store.GetSession(ctx, "missing")
	require.ErrorIs(t, err, core.ErrNotFound)

	_, err = store.CreateSession(ctx, nil)
	require.ErrorIs(t, err, core.ErrValidation)

	generated, err := store.CreateSession(ctx, &core.Session{Name: "no id"})
	require.NoError(t, err)
	assert.NotEmpty(t, generated.ID)
}

func TestInMemoryStore_AppendAndList(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	s := newSession(t, store, "chat")

	for i := 0; i < 5; i++ {
		_, err := store.AppendInteraction(ctx, core.Interaction{
			SessionID: s.ID,
			Input:     fmt.Sprintf("question %d", i),
			Response:  fmt.Sprintf("answer %d", i),
			Origin:    "agent-1",
		})
		if err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	all, err := store.ListInteractions(ctx, s.ID, 0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	for i, in := range all {
		assert.Equal(t, int64(i+1), in.Sequence)
	}

	last, err := store.ListInteractions(ctx, s.ID, 2)
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, "question 3", last[0].Input)
	assert.Equal(t, "question 4", last[1].Input)

	_, err = store.AppendInteraction(ctx, core.Interaction{SessionID: "missing"})
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestInMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	s := newSession(t, store, "chat")
	_, err := store.AppendInteraction(ctx, core.Interaction{
		SessionID:  s.ID,
		Input:      "hi",
		Attributes: map[string]any{"k": "v"},
	})
	require.NoError(t, err)

	list, _ := store.ListInteractions(ctx, s.ID, 0)
	list[0].Attributes["k"] = "changed"
	list[0].Input = "changed"

	again, _ := store.ListInteractions(ctx, s.ID, 0)
	if again[0].Attributes["k"] != "v" || again[0].Input != "hi" {
		t.Fatalf("expected copy isolation, got %#v", again[0])
	}
}

func TestInMemoryStore_Search(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	s := newSession(t, store, "chat")
	inputs := []string{"List indices", "how many docs", "Delete INDEX foo", "weather"}
	for _, in := range inputs {
		_, err := store.AppendInteraction(ctx, core.Interaction{SessionID: s.ID, Input: in, Response: "ok"})
		require.NoError(t, err)
	}

	hits, err := store.SearchInteractions(ctx, core.InteractionQuery{SessionID: s.ID, Text: "index"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "Delete INDEX foo", hits[0].Input)

	hits, err = store.SearchInteractions(ctx, core.InteractionQuery{SessionID: s.ID, Text: "indices"})
	require.NoError(t, err)
	assert.Len(t, hits, 1)

	paged, err := store.SearchInteractions(ctx, core.InteractionQuery{SessionID: s.ID, From: 1, Size: 2})
	require.NoError(t, err)
	require.Len(t, paged, 2)
	assert.Equal(t, "how many docs", paged[0].Input)

	none, err := store.SearchInteractions(ctx, core.InteractionQuery{SessionID: s.ID, From: 10})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestInMemoryStore_DeleteCascades(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	s := newSession(t, store, "chat")
	for i := 0; i < 3; i++ {
		_, err := store.AppendInteraction(ctx, core.Interaction{SessionID: s.ID, Input: "q", Response: "a"})
		require.NoError(t, err)
	}

	ok, err := store.DeleteSession(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	hits, err := store.SearchInteractions(ctx, core.InteractionQuery{SessionID: s.ID})
	require.NoError(t, err)
	assert.Empty(t, hits)

	_, err = store.ListInteractions(ctx, s.ID, 0)
	require.ErrorIs(t, err, core.ErrNotFound)

	ok, err = store.DeleteSession(ctx, s.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInMemoryStore_ConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	a := newSession(t, store, "a")
	b := newSession(t, store, "b")

	const perSession = 50
	var wg sync.WaitGroup
	for _, id := range []string{a.ID, b.ID} {
		for i := 0; i < perSession; i++ {
			wg.Add(1)
			go func(sessionID string, i int) {
				defer wg.Done()
				if _, err := store.AppendInteraction(ctx, core.Interaction{SessionID: sessionID, Input: fmt.Sprint(i)}); err != nil {
					t.Errorf("append failed: %v", err)
				}
			}(id, i)
		}
	}
	wg.Wait()

	for _, id := range []string{a.ID, b.ID} {
		list, err := store.ListInteractions(ctx, id, 0)
		require.NoError(t, err)
		require.Len(t, list, perSession)
		seqs := make([]int, len(list))
		for i, in := range list {
			seqs[i] = int(in.Sequence)
		}
		assert.True(t, sort.IntsAreSorted(seqs))
		assert.Equal(t, 1, seqs[0])
		assert.Equal(t, perSession, seqs[len(seqs)-1])
	}
}

func TestInMemoryStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := NewInMemoryStore()
	_, err := store.CreateSession(ctx, core.NewSession("x"))
	require.ErrorIs(t, err, context.Canceled)
}
