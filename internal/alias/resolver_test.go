package alias

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubStore struct {
	entries map[string]string // scope|owner|key -> activity
}

func newStubStore() *stubStore {
	return &stubStore{entries: make(map[string]string)}
}

func (s *stubStore) keyFor(scope Scope, ownerID, key string) string {
	return string(scope) + "|" + ownerID + "|" + key
}

func (s *stubStore) GetAlias(_ context.Context, _ string, scope Scope, ownerID, key string) (string, bool, error) {
	activity, ok := s.entries[s.keyFor(scope, ownerID, key)]
	return activity, ok, nil
}

func (s *stubStore) SetAlias(_ context.Context, _ string, scope Scope, ownerID, key, activity string) error {
	s.entries[s.keyFor(scope, ownerID, key)] = activity
	return nil
}

func (s *stubStore) RemoveAlias(_ context.Context, _ string, scope Scope, ownerID, key string) (bool, error) {
	k := s.keyFor(scope, ownerID, key)
	_, ok := s.entries[k]
	delete(s.entries, k)
	return ok, nil
}

func (s *stubStore) ListAliases(_ context.Context, _ string, scope Scope, ownerID string) (map[string]string, error) {
	prefix := string(scope) + "|" + ownerID + "|"
	out := make(map[string]string)
	for k, v := range s.entries {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			out[k[len(prefix):]] = v
		}
	}
	return out, nil
}

func TestResolveFallsThroughToNormalizedInput(t *testing.T) {
	resolver := NewResolver(newStubStore())

	got, err := resolver.Resolve(context.Background(), "guild-1", "user-1", "Deep Workkkk")
	require.NoError(t, err)
	require.Equal(t, "deep work", got)
}

func TestResolveUserAliasWinsOverGuildAlias(t *testing.T) {
	store := newStubStore()
	resolver := NewResolver(store)
	ctx := context.Background()

	require.NoError(t, resolver.Set(ctx, "guild-1", ScopeGuild, "", "bs", "bot-stuff"))
	require.NoError(t, resolver.Set(ctx, "guild-1", ScopeUser, "user-1", "bs", "backend-stuff"))

	got, err := resolver.Resolve(ctx, "guild-1", "user-1", "bs")
	require.NoError(t, err)
	require.Equal(t, "backend-stuff", got)

	// Another user only sees the guild alias.
	got, err = resolver.Resolve(ctx, "guild-1", "user-2", "bs")
	require.NoError(t, err)
	require.Equal(t, "bot-stuff", got)
}

func TestResolveGuildAlias(t *testing.T) {
	store := newStubStore()
	resolver := NewResolver(store)
	ctx := context.Background()

	require.NoError(t, resolver.Set(ctx, "guild-1", ScopeGuild, "", "dm", "design-mockup"))

	got, err := resolver.Resolve(ctx, "guild-1", "anyone", "DM")
	require.NoError(t, err)
	require.Equal(t, "design-mockup", got)
}

func TestRemoveReportsMissingKey(t *testing.T) {
	resolver := NewResolver(newStubStore())

	removed, err := resolver.Remove(context.Background(), "guild-1", ScopeUser, "user-1", "nope")
	require.NoError(t, err)
	require.False(t, removed)
}

func TestListIsKeySorted(t *testing.T) {
	store := newStubStore()
	resolver := NewResolver(store)
	ctx := context.Background()

	require.NoError(t, resolver.Set(ctx, "guild-1", ScopeGuild, "", "zz", "last"))
	require.NoError(t, resolver.Set(ctx, "guild-1", ScopeGuild, "", "aa", "first"))
	require.NoError(t, resolver.Set(ctx, "guild-1", ScopeGuild, "", "mm", "middle"))

	entries, err := resolver.List(ctx, "guild-1", ScopeGuild, "")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, "aa", entries[0].Key)
	require.Equal(t, "mm", entries[1].Key)
	require.Equal(t, "zz", entries[2].Key)
}
