package alias

import (
	"context"
	"sort"
)

// Scope identifies which namespace an alias lives in.
type Scope string

const (
	// ScopeUser aliases belong to a single user and win over guild aliases.
	ScopeUser Scope = "user"
	// ScopeGuild aliases are shared by the whole community.
	ScopeGuild Scope = "guild"
)

// Store captures alias persistence. Owner is the user ID for user-scoped
// aliases and empty for guild-scoped ones.
type Store interface {
	GetAlias(ctx context.Context, guildID string, scope Scope, ownerID, key string) (string, bool, error)
	SetAlias(ctx context.Context, guildID string, scope Scope, ownerID, key, activity string) error
	RemoveAlias(ctx context.Context, guildID string, scope Scope, ownerID, key string) (bool, error)
	ListAliases(ctx context.Context, guildID string, scope Scope, ownerID string) (map[string]string, error)
}

// Resolver maps raw command input to a canonical activity name.
type Resolver struct {
	store Store
}

// NewResolver constructs a Resolver.
func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve looks up the normalized input as a user alias, then a guild alias,
// and finally falls through to the normalized input itself. It never fails on
// a missing alias; only storage errors propagate.
func (r *Resolver) Resolve(ctx context.Context, guildID, userID, raw string) (string, error) {
	key := Normalize(raw)
	if key == "" {
		return "", nil
	}

	if activity, ok, err := r.store.GetAlias(ctx, guildID, ScopeUser, userID, key); err != nil {
		return "", err
	} else if ok {
		return activity, nil
	}

	if activity, ok, err := r.store.GetAlias(ctx, guildID, ScopeGuild, "", key); err != nil {
		return "", err
	} else if ok {
		return activity, nil
	}

	return key, nil
}

// Set stores an alias under the normalized key with a normalized target.
func (r *Resolver) Set(ctx context.Context, guildID string, scope Scope, ownerID, key, activity string) error {
	return r.store.SetAlias(ctx, guildID, scope, ownerID, Normalize(key), Normalize(activity))
}

// Remove deletes an alias; it reports whether the key existed.
func (r *Resolver) Remove(ctx context.Context, guildID string, scope Scope, ownerID, key string) (bool, error) {
	return r.store.RemoveAlias(ctx, guildID, scope, ownerID, Normalize(key))
}

// Entry is one alias mapping for display.
type Entry struct {
	Key      string
	Activity string
}

// List returns the scope's aliases in key-sorted order.
func (r *Resolver) List(ctx context.Context, guildID string, scope Scope, ownerID string) ([]Entry, error) {
	mapping, err := r.store.ListAliases(ctx, guildID, scope, ownerID)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(mapping))
	for key, activity := range mapping {
		entries = append(entries, Entry{Key: key, Activity: activity})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}
