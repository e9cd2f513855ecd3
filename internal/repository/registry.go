package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/Lllllllleong/fleetsync/internal/localstore"
)

// Registry hands out one Repository per collection. Repositories of a registry
// share the local store, the identity, the quota breaker and the write cache.
type Registry struct {
	local    localstore.Storage
	identity IdentityProvider
	opts     []Option

	mu    sync.Mutex
	repos map[string]*Repository
}

// NewRegistry prepares a registry; repositories are created on first use with
// opts applied.
func NewRegistry(local localstore.Storage, identity IdentityProvider, opts ...Option) *Registry {
	shared := []Option{WithBreaker(NewBreaker(0)), WithWriteCache(NewWriteCache(0))}
	return &Registry{
		local:    local,
		identity: identity,
		opts:     append(shared, opts...),
		repos:    map[string]*Repository{},
	}
}

// Collection returns the repository for name, creating it if needed.
func (g *Registry) Collection(name string) *Repository {
	g.mu.Lock()
	defer g.mu.Unlock()
	if r, ok := g.repos[name]; ok {
		return r
	}
	r := New(name, g.local, g.identity, g.opts...)
	g.repos[name] = r
	return r
}

// Names lists the collections opened so far.
func (g *Registry) Names() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	names := make([]string, 0, len(g.repos))
	for name := range g.repos {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SyncPending replays the journal of every open collection.
func (g *Registry) SyncPending(ctx context.Context) (map[string]SyncResult, error) {
	out := map[string]SyncResult{}
	var errs []error
	for _, name := range g.Names() {
		res, err := g.Collection(name).SyncPending(ctx)
		out[name] = res
		if err != nil {
			errs = append(errs, fmt.Errorf("sync %s: %w", name, err))
		}
	}
	return out, errors.Join(errs...)
}
