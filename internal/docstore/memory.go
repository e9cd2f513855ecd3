package docstore

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Lllllllleong/fleetsync/internal/models"
)

// Memory is an in-process Store used by tests and local development. Failures
// and latency can be injected to exercise offline paths.
type Memory struct {
	mu    sync.Mutex
	docs  map[string]map[string]any // path -> document
	err   error
	delay time.Duration
	leak  bool
	calls map[string]int
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{docs: map[string]map[string]any{}, calls: map[string]int{}}
}

// FailWith makes every subsequent call return err (nil restores normal service).
func (m *Memory) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Delay makes every call block for d or until its context is done.
func (m *Memory) Delay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// LeakTenants disables the tenant filter of GetAll, simulating a broken
// server-side query.
func (m *Memory) LeakTenants(leak bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leak = leak
}

// Calls returns how many times op was invoked.
func (m *Memory) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Put stores a raw document, bypassing the tenant path. Tests use it to plant
// foreign or malformed data.
func (m *Memory) Put(tenantID, collection, id string, doc map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[path(tenantID, collection, id)] = maps.Clone(doc)
}

func (m *Memory) Get(ctx context.Context, tenantID, collection, id string) (models.Record, error) {
	if err := m.enter(ctx, "get"); err != nil {
		return models.Record{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[path(tenantID, collection, id)]
	if !ok {
		return models.Record{}, ErrNotFound
	}
	return models.NewRecord(id, maps.Clone(doc)), nil
}

func (m *Memory) GetAll(ctx context.Context, tenantID, collection string, filters ...Filter) ([]models.Record, error) {
	if err := m.enter(ctx, "getAll"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.docs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var out []models.Record
	for _, k := range keys {
		docTenant, docCollection, id := splitPath(k)
		if docCollection != collection {
			continue
		}
		if docTenant != tenantID && !m.leak {
			continue
		}
		doc := m.docs[k]
		if !m.leak && !matches(doc, filters) {
			continue
		}
		out = append(out, models.NewRecord(id, maps.Clone(doc)))
	}
	return out, nil
}

func (m *Memory) Set(ctx context.Context, tenantID, collection, id string, data map[string]any, merge bool) error {
	if err := m.enter(ctx, "set"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p := path(tenantID, collection, id)
	doc := m.docs[p]
	if !merge || doc == nil {
		doc = map[string]any{}
	}
	maps.Copy(doc, data)
	m.docs[p] = doc
	return nil
}

func (m *Memory) Delete(ctx context.Context, tenantID, collection, id string) error {
	if err := m.enter(ctx, "delete"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, path(tenantID, collection, id))
	return nil
}

func (m *Memory) Ping(ctx context.Context) error {
	return m.enter(ctx, "ping")
}

func (m *Memory) enter(ctx context.Context, op string) error {
	m.mu.Lock()
	m.calls[op]++
	delay, err := m.delay, m.err
	m.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func matches(doc map[string]any, filters []Filter) bool {
	for _, f := range filters {
		if fmt.Sprint(doc[f.Field]) != fmt.Sprint(f.Value) {
			return false
		}
	}
	return true
}

func path(tenantID, collection, id string) string {
	return tenantID + "\x00" + collection + "\x00" + id
}

func splitPath(p string) (tenantID, collection, id string) {
	parts := strings.SplitN(p, "\x00", 3)
	for len(parts) < 3 {
		parts = append(parts, "")
	}
	return parts[0], parts[1], parts[2]
}
