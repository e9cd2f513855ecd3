// Package repository keeps one tenant's records for a collection consistent
// between the remote document store and the local cache. Remote failures are
// absorbed: reads fall back to the cache and writes are mirrored locally and
// journaled for a later SyncPending.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Lllllllleong/fleetsync/internal/docstore"
	"github.com/Lllllllleong/fleetsync/internal/localstore"
	"github.com/Lllllllleong/fleetsync/internal/models"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrNotReady means no tenant could be resolved for the session.
	ErrNotReady = errors.New("repository: not ready")
	// ErrNotFound is the document store's not-found error.
	ErrNotFound = docstore.ErrNotFound

	errInvalidID = errors.New("repository: record id is empty")
	errCorrupt   = errors.New("repository: local data is corrupt")
)

const (
	DefaultRemoteTimeout = 5 * time.Second
	DefaultReadyAttempts = 10
	DefaultReadyDelay    = 300 * time.Millisecond
	DefaultReprobeAfter  = 30 * time.Second

	cachePrefix   = "erp_"
	journalPrefix = "erp_pending_sync_"
	corruptSuffix = "_corrupt_"
)

// Mode says whether the remote store is in use.
type Mode string

const (
	ModeRemote    Mode = "remote"
	ModeLocalOnly Mode = "local-only"
)

// Readiness is the outcome of Init.
type Readiness struct {
	Mode     Mode
	TenantID string
	UserID   string
}

// Source says where a list came from.
type Source string

const (
	SourceRemote Source = "remote"
	SourceLocal  Source = "local"
	SourceNone   Source = "none"
)

// WriteResult reports how a Save or Delete was stored. Stored is false only
// when both the remote store and the local cache rejected the write.
type WriteResult struct {
	Stored   bool
	Remote   bool
	Degraded bool
	Err      error
}

// ListResult is the outcome of GetAll.
type ListResult struct {
	Records  []models.Record
	Source   Source
	Degraded bool
}

// FailureHandler is told about writes that could not be stored anywhere.
type FailureHandler func(collection, id string, err error)

// Option configures a Repository.
type Option func(*Repository)

// WithRemote sets the remote document store. Without one the repository runs
// local-only.
func WithRemote(store docstore.Store) Option {
	return func(r *Repository) { r.remote = store }
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Repository) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) {
		if now != nil {
			r.now = now
		}
	}
}

// WithRemoteTimeout bounds every remote call.
func WithRemoteTimeout(d time.Duration) Option {
	return func(r *Repository) {
		if d > 0 {
			r.remoteTimeout = d
		}
	}
}

// WithReadyRetry sets how many times steady-state operations try Init before
// giving up, and the pause between tries.
func WithReadyRetry(attempts int, delay time.Duration) Option {
	return func(r *Repository) {
		if attempts > 0 {
			r.readyAttempts = attempts
		}
		if delay >= 0 {
			r.readyDelay = delay
		}
	}
}

// WithReprobeAfter sets how long a local-only repository waits before probing
// the remote store again.
func WithReprobeAfter(d time.Duration) Option {
	return func(r *Repository) {
		if d >= 0 {
			r.reprobeAfter = d
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(r *Repository) { r.metrics = m }
}

// WithBreaker shares a quota breaker between repositories.
func WithBreaker(b *Breaker) Option {
	return func(r *Repository) {
		if b != nil {
			r.breaker = b
		}
	}
}

// WithWriteCache shares a write de-duplication cache between repositories.
func WithWriteCache(c *WriteCache) Option {
	return func(r *Repository) {
		if c != nil {
			r.writes = c
		}
	}
}

func WithFailureHandler(h FailureHandler) Option {
	return func(r *Repository) { r.onFailure = h }
}

// Repository serves one collection for the active tenant.
type Repository struct {
	collection string
	local      localstore.Storage
	identity   IdentityProvider
	remote     docstore.Store
	logger     *slog.Logger
	now        func() time.Time
	metrics    *Metrics
	breaker    *Breaker
	writes     *WriteCache
	onFailure  FailureHandler

	remoteTimeout time.Duration
	readyAttempts int
	readyDelay    time.Duration
	reprobeAfter  time.Duration

	initGroup singleflight.Group

	mu        sync.Mutex
	ready     bool
	readiness Readiness
	probedAt  time.Time

	// cacheMu serialises read-modify-write cycles on the local cache keys.
	cacheMu sync.Mutex
}

// New returns a repository for collection. local is required; identity
// resolves the tenant at Init.
func New(collection string, local localstore.Storage, identity IdentityProvider, opts ...Option) *Repository {
	r := &Repository{
		collection:    collection,
		local:         local,
		identity:      identity,
		logger:        slog.Default(),
		now:           time.Now,
		remoteTimeout: DefaultRemoteTimeout,
		readyAttempts: DefaultReadyAttempts,
		readyDelay:    DefaultReadyDelay,
		reprobeAfter:  DefaultReprobeAfter,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.breaker == nil {
		r.breaker = NewBreaker(0)
	}
	if r.writes == nil {
		r.writes = NewWriteCache(0)
	}
	r.logger = r.logger.With("collection", collection)
	return r
}

// Collection returns the collection name.
func (r *Repository) Collection() string { return r.collection }

// Init resolves the session identity and probes the remote store. It is safe
// to call repeatedly; concurrent callers share one attempt. A missing or
// unreachable remote store yields ModeLocalOnly rather than an error.
func (r *Repository) Init(ctx context.Context) (Readiness, error) {
	if rd, ok := r.cached(); ok {
		return rd, nil
	}
	v, err, _ := r.initGroup.Do("init", func() (any, error) {
		if rd, ok := r.cached(); ok {
			return rd, nil
		}
		return r.probe(ctx)
	})
	if err != nil {
		return Readiness{}, err
	}
	return v.(Readiness), nil
}

// cached returns the last probe result while it is still fresh. Local-only
// results expire after the reprobe interval.
func (r *Repository) cached() (Readiness, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ready && (r.readiness.Mode == ModeRemote || r.now().Sub(r.probedAt) < r.reprobeAfter) {
		return r.readiness, true
	}
	return Readiness{}, false
}

func (r *Repository) probe(ctx context.Context) (Readiness, error) {
	if r.identity == nil {
		return Readiness{}, fmt.Errorf("%w: no identity provider", ErrNotReady)
	}
	id, err := r.identity.Identity(ctx)
	if err != nil {
		return Readiness{}, fmt.Errorf("%w: %w", ErrNotReady, err)
	}
	if strings.TrimSpace(id.TenantID) == "" {
		return Readiness{}, fmt.Errorf("%w: %w", ErrNotReady, errNoTenant)
	}

	rd := Readiness{Mode: ModeLocalOnly, TenantID: id.TenantID, UserID: id.UserID}
	now := r.now()
	switch {
	case r.remote == nil:
		r.logger.Info("No remote store configured, running local-only.")
	case !r.breaker.Allow(now):
		r.logger.Warn("Quota breaker open, running local-only.", "retryAfter", r.breaker.Status(now).RetryAfter)
	default:
		pingCtx, cancel := context.WithTimeout(ctx, r.remoteTimeout)
		err := r.remote.Ping(pingCtx)
		cancel()
		r.metrics.remote(r.collection, "ping", err)
		if err != nil {
			r.logger.Warn("Remote store unreachable, running local-only.", "error", err)
		} else {
			rd.Mode = ModeRemote
		}
	}

	r.mu.Lock()
	r.ready = true
	r.readiness = rd
	r.probedAt = r.now()
	r.mu.Unlock()
	return rd, nil
}

// awaitReady retries Init a bounded number of times. It reports false when no
// tenant could be resolved.
func (r *Repository) awaitReady(ctx context.Context) (Readiness, bool) {
	var lastErr error
	for i := 0; i < r.readyAttempts; i++ {
		rd, err := r.Init(ctx)
		if err == nil {
			return rd, true
		}
		lastErr = err
		if i == r.readyAttempts-1 {
			break
		}
		select {
		case <-time.After(r.readyDelay):
		case <-ctx.Done():
			r.logger.Warn("Context cancelled while waiting for readiness.", "error", ctx.Err())
			return Readiness{}, false
		}
	}
	r.logger.Error("Repository not ready after all attempts.", "attempts", r.readyAttempts, "error", lastErr)
	return Readiness{}, false
}

func (r *Repository) remoteUsable() bool {
	r.mu.Lock()
	mode := r.readiness.Mode
	r.mu.Unlock()
	return mode == ModeRemote && r.remote != nil && r.breaker.Allow(r.now())
}

// remoteFailed classifies a remote error and degrades the repository when the
// store is out of reach.
func (r *Repository) remoteFailed(op string, err error) {
	switch {
	case docstore.IsResourceExhausted(err):
		r.breaker.Trip(r.now())
		r.metrics.trip(r.collection)
		r.logger.Warn("Remote quota exhausted, disabling remote access.", "op", op, "error", err)
	case docstore.IsUnreachable(err), docstore.IsPermissionDenied(err):
		r.mu.Lock()
		r.readiness.Mode = ModeLocalOnly
		r.probedAt = r.now()
		r.mu.Unlock()
		r.logger.Warn("Remote store unavailable, switching to local-only.", "op", op, "error", err)
	default:
		r.logger.Warn("Remote operation failed.", "op", op, "error", err)
	}
}

// Save merges data into the record id and stamps tenantId, userId, createdAt
// and updatedAt. Caller-supplied values for those fields are ignored.
func (r *Repository) Save(ctx context.Context, id string, data map[string]any) WriteResult {
	return r.save(ctx, id, models.NewRecord(id, data))
}

// Delete marks the record deleted. Nothing is physically removed.
func (r *Repository) Delete(ctx context.Context, id string) WriteResult {
	return r.save(ctx, id, models.Record{ID: id, Deleted: true})
}

func (r *Repository) save(ctx context.Context, id string, patch models.Record) WriteResult {
	logger := r.logger.With("recordId", id)
	if strings.TrimSpace(id) == "" {
		return r.failed(logger, id, errInvalidID)
	}
	rd, ok := r.awaitReady(ctx)
	if !ok {
		return r.failed(logger, id, ErrNotReady)
	}

	now := r.now().UTC()
	patch.ID = id
	patch.TenantID = rd.TenantID
	patch.UserID = rd.UserID
	patch.CreatedAt = time.Time{}
	patch.UpdatedAt = now

	merged := patch.Clone()
	existing, found := r.existing(ctx, rd, id)
	if found {
		merged = existing.Merge(patch)
	}
	if merged.CreatedAt.IsZero() {
		merged.CreatedAt = now
	}
	payload := remotePatch(patch, merged, !found)

	var res WriteResult
	var remoteErr error
	if r.remoteUsable() {
		remoteErr = r.writeRemote(ctx, rd, id, payload)
		if remoteErr == nil {
			res.Remote = true
		} else {
			r.remoteFailed("set", remoteErr)
		}
	} else {
		remoteErr = errors.New("remote store not in use")
	}

	localErr := r.putLocal(merged)
	if localErr != nil {
		logger.Warn("Local mirror write failed.", "error", localErr)
	}
	if !res.Remote {
		r.metrics.fallback(r.collection, "save")
		if err := r.journalAdd(id, payload); err != nil {
			logger.Warn("Could not journal pending sync.", "error", err)
		}
	}

	res.Stored = res.Remote || localErr == nil
	res.Degraded = !res.Remote
	if !res.Stored {
		res.Err = errors.Join(remoteErr, localErr)
		r.notifyFailure(logger, id, res.Err)
		return res
	}
	logger.Debug("Record saved.", "remote", res.Remote, "deleted", merged.Deleted)
	return res
}

func (r *Repository) failed(logger *slog.Logger, id string, err error) WriteResult {
	r.notifyFailure(logger, id, err)
	return WriteResult{Degraded: true, Err: err}
}

func (r *Repository) notifyFailure(logger *slog.Logger, id string, err error) {
	logger.Error("Record could not be saved.", "error", err)
	if r.onFailure != nil {
		r.onFailure(r.collection, id, err)
	}
}

// remotePatch is the document body sent for a write: the caller's fields and
// the managed metadata. Fields the caller did not send keep whatever value the
// remote store has; createdAt is only sent for a record not seen before.
func remotePatch(patch, merged models.Record, isNew bool) map[string]any {
	payload := patch.ToMap()
	if isNew {
		payload[models.FieldCreatedAt] = merged.CreatedAt
	}
	return payload
}

func (r *Repository) writeRemote(ctx context.Context, rd Readiness, id string, payload map[string]any) error {
	key := rd.TenantID + "/" + r.collection + "/" + id
	if r.writes.Unchanged(key, payload, r.now()) {
		r.metrics.skipped(r.collection)
		return nil
	}
	tctx, cancel := context.WithTimeout(ctx, r.remoteTimeout)
	defer cancel()
	err := r.remote.Set(tctx, rd.TenantID, r.collection, id, payload, true)
	r.metrics.remote(r.collection, "set", err)
	if err != nil {
		r.writes.Forget(key)
		return fmt.Errorf("remote set %s/%s: %w", r.collection, id, err)
	}
	r.writes.Mark(key, payload, r.now())
	return nil
}

// existing finds the stored version of id for the active tenant, local cache
// first.
func (r *Repository) existing(ctx context.Context, rd Readiness, id string) (models.Record, bool) {
	if rec, ok, err := r.getLocal(id); err == nil && ok && rec.TenantID == rd.TenantID {
		return rec, true
	}
	if !r.remoteUsable() {
		return models.Record{}, false
	}
	rec, err := r.getRemote(ctx, rd, id)
	if err != nil {
		if !errors.Is(err, docstore.ErrNotFound) {
			r.remoteFailed("get", err)
		}
		return models.Record{}, false
	}
	if rec.TenantID != rd.TenantID {
		return models.Record{}, false
	}
	return rec, true
}

func (r *Repository) getRemote(ctx context.Context, rd Readiness, id string) (models.Record, error) {
	tctx, cancel := context.WithTimeout(ctx, r.remoteTimeout)
	defer cancel()
	rec, err := r.remote.Get(tctx, rd.TenantID, r.collection, id)
	if errors.Is(err, docstore.ErrNotFound) {
		r.metrics.remote(r.collection, "get", nil)
		return models.Record{}, err
	}
	r.metrics.remote(r.collection, "get", err)
	if err != nil {
		return models.Record{}, err
	}
	rec.ID = id
	return rec, nil
}

// Get returns the record id for the active tenant. Deleted records and records
// of other tenants are never returned.
func (r *Repository) Get(ctx context.Context, id string) (models.Record, bool) {
	if strings.TrimSpace(id) == "" {
		return models.Record{}, false
	}
	rd, ok := r.awaitReady(ctx)
	if !ok {
		return models.Record{}, false
	}
	logger := r.logger.With("recordId", id)

	if r.remoteUsable() {
		rec, err := r.getRemote(ctx, rd, id)
		switch {
		case err == nil && rec.TenantID == rd.TenantID:
			if err := r.putLocal(rec); err != nil {
				logger.Warn("Local mirror refresh failed.", "error", err)
			}
			if rec.Deleted {
				return models.Record{}, false
			}
			return rec, true
		case err == nil:
			logger.Warn("Remote returned a record of another tenant, ignoring it.", "recordTenant", rec.TenantID)
		case errors.Is(err, docstore.ErrNotFound):
		default:
			r.remoteFailed("get", err)
		}
		r.metrics.fallback(r.collection, "get")
	}

	rec, found, err := r.getLocal(id)
	if err != nil {
		logger.Warn("Local cache read failed.", "error", err)
		return models.Record{}, false
	}
	if !found || rec.TenantID != rd.TenantID || rec.Deleted {
		return models.Record{}, false
	}
	return rec, true
}

// GetAll lists the active tenant's non-deleted records sorted by id. Remote
// results refresh the local cache; when the remote store cannot be read the
// local snapshot is returned and the result is marked degraded.
func (r *Repository) GetAll(ctx context.Context) ListResult {
	rd, ok := r.awaitReady(ctx)
	if !ok {
		return ListResult{Source: SourceNone, Degraded: true}
	}

	if r.remoteUsable() {
		recs, err := r.listRemote(ctx, rd)
		if err == nil {
			if err := r.refreshLocal(recs); err != nil {
				r.logger.Warn("Local cache refresh failed.", "error", err)
			}
			return ListResult{Records: visible(recs, rd.TenantID), Source: SourceRemote}
		}
		r.remoteFailed("list", err)
	}
	r.metrics.fallback(r.collection, "list")

	cache, err := r.loadCache()
	if err != nil {
		r.logger.Warn("Local cache read failed, nothing to list.", "error", err)
		return ListResult{Source: SourceNone, Degraded: true}
	}
	recs := make([]models.Record, 0, len(cache))
	for _, rec := range cache {
		recs = append(recs, rec)
	}
	return ListResult{Records: visible(recs, rd.TenantID), Source: SourceLocal, Degraded: true}
}

func (r *Repository) listRemote(ctx context.Context, rd Readiness) ([]models.Record, error) {
	tctx, cancel := context.WithTimeout(ctx, r.remoteTimeout)
	defer cancel()
	recs, err := r.remote.GetAll(tctx, rd.TenantID, r.collection,
		docstore.Filter{Field: models.FieldTenantID, Value: rd.TenantID},
		docstore.Filter{Field: models.FieldDeleted, Value: false},
	)
	r.metrics.remote(r.collection, "list", err)
	if err != nil {
		return nil, fmt.Errorf("remote list %s: %w", r.collection, err)
	}
	return recs, nil
}

// visible drops deleted and foreign records and sorts by id.
func visible(recs []models.Record, tenantID string) []models.Record {
	out := make([]models.Record, 0, len(recs))
	for _, rec := range recs {
		if rec.TenantID != tenantID || rec.Deleted || rec.ID == "" {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SyncResult reports a SyncPending run.
type SyncResult struct {
	Synced    int
	Remaining int
}

// SyncPending replays journaled writes to the remote store. Each id's
// accumulated patch is sent, not the cached record, so fields changed remotely
// in the meantime are kept. Ids that reach the store leave the journal; the
// rest stay for the next run.
func (r *Repository) SyncPending(ctx context.Context) (SyncResult, error) {
	rd, ok := r.awaitReady(ctx)
	if !ok {
		return SyncResult{}, ErrNotReady
	}
	entries, err := r.journal()
	if err != nil {
		return SyncResult{}, fmt.Errorf("read sync journal: %w", err)
	}
	if len(entries) == 0 {
		return SyncResult{}, nil
	}
	if !r.remoteUsable() {
		return SyncResult{Remaining: len(entries)}, nil
	}

	var res SyncResult
	synced := map[string]map[string]any{}
	for _, id := range sortedIDs(entries) {
		entry := entries[id]
		rec := models.FromMap(entry)
		if rec.TenantID != rd.TenantID {
			continue
		}
		if err := r.writeRemote(ctx, rd, id, rec.ToMap()); err != nil {
			r.remoteFailed("sync", err)
			if !r.remoteUsable() {
				break
			}
			continue
		}
		synced[id] = entry
		res.Synced++
	}
	remaining, err := r.journalRemove(synced)
	if err != nil {
		return res, fmt.Errorf("write sync journal: %w", err)
	}
	res.Remaining = remaining
	r.logger.Info("Pending sync finished.", "synced", res.Synced, "remaining", res.Remaining)
	return res, nil
}

// Pending returns the ids waiting in the sync journal, sorted.
func (r *Repository) Pending() ([]string, error) {
	entries, err := r.journal()
	if err != nil {
		return nil, err
	}
	return sortedIDs(entries), nil
}

func sortedIDs(entries map[string]map[string]any) []string {
	ids := make([]string, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Repository) cacheKey() string   { return cachePrefix + r.collection }
func (r *Repository) journalKey() string { return journalPrefix + r.collection }

func (r *Repository) loadCache() (map[string]models.Record, error) {
	raw, ok, err := r.local.GetItem(r.cacheKey())
	if err != nil {
		return nil, err
	}
	cache := map[string]models.Record{}
	if !ok || raw == "" {
		return cache, nil
	}
	if err := json.Unmarshal([]byte(raw), &cache); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", errCorrupt, r.cacheKey(), err)
	}
	for id, rec := range cache {
		rec.ID = id
		cache[id] = rec
	}
	return cache, nil
}

func (r *Repository) storeCache(cache map[string]models.Record) error {
	b, err := json.Marshal(cache)
	if err != nil {
		return fmt.Errorf("encode cache %s: %w", r.cacheKey(), err)
	}
	return r.local.SetItem(r.cacheKey(), string(b))
}

// quarantine copies the undecodable value of key to a backup key so that it
// can be recovered by hand before key is rewritten. Callers hold cacheMu.
func (r *Repository) quarantine(key string, cause error) error {
	raw, _, err := r.local.GetItem(key)
	if err != nil {
		return err
	}
	backup := fmt.Sprintf("%s%s%d", key, corruptSuffix, r.now().UnixNano())
	if err := r.local.SetItem(backup, raw); err != nil {
		return fmt.Errorf("back up %s: %w", key, err)
	}
	r.logger.Error("Local data is corrupt, moved it aside.", "key", key, "backupKey", backup, "error", cause)
	return nil
}

func (r *Repository) getLocal(id string) (models.Record, bool, error) {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	cache, err := r.loadCache()
	if err != nil {
		return models.Record{}, false, err
	}
	rec, ok := cache[id]
	return rec, ok, nil
}

func (r *Repository) putLocal(rec models.Record) error {
	return r.refreshLocal([]models.Record{rec})
}

// refreshLocal overwrites the cached copies of recs by id. A cache that cannot
// be read is left alone; one that cannot be decoded is backed up first.
func (r *Repository) refreshLocal(recs []models.Record) error {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	cache, err := r.loadCache()
	switch {
	case errors.Is(err, errCorrupt):
		if qerr := r.quarantine(r.cacheKey(), err); qerr != nil {
			return qerr
		}
		cache = map[string]models.Record{}
	case err != nil:
		return err
	}
	for _, rec := range recs {
		if rec.ID == "" {
			continue
		}
		cache[rec.ID] = rec
	}
	return r.storeCache(cache)
}

func (r *Repository) journal() (map[string]map[string]any, error) {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	return r.readJournal()
}

// readJournal decodes the journal: record id to the patch still owed to the
// remote store. Callers hold cacheMu.
func (r *Repository) readJournal() (map[string]map[string]any, error) {
	entries := map[string]map[string]any{}
	raw, ok, err := r.local.GetItem(r.journalKey())
	if err != nil {
		return nil, err
	}
	if !ok || raw == "" {
		return entries, nil
	}
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", errCorrupt, r.journalKey(), err)
	}
	return entries, nil
}

// journalAdd folds payload into the patch owed for id; later values win.
func (r *Repository) journalAdd(id string, payload map[string]any) error {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	entries, err := r.readJournal()
	switch {
	case errors.Is(err, errCorrupt):
		if qerr := r.quarantine(r.journalKey(), err); qerr != nil {
			return qerr
		}
		entries = map[string]map[string]any{}
	case err != nil:
		return err
	}
	entry := entries[id]
	if entry == nil {
		entry = map[string]any{}
	}
	maps.Copy(entry, payload)
	entries[id] = entry
	return r.writeJournal(entries)
}

// journalRemove drops the synced entries that were not changed while the sync
// ran and returns how many entries remain.
func (r *Repository) journalRemove(synced map[string]map[string]any) (int, error) {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	entries, err := r.readJournal()
	if err != nil {
		return 0, err
	}
	for id, sent := range synced {
		current, ok := entries[id]
		if !ok {
			continue
		}
		a, errA := json.Marshal(current)
		b, errB := json.Marshal(sent)
		if errA == nil && errB == nil && string(a) == string(b) {
			delete(entries, id)
		}
	}
	return len(entries), r.writeJournal(entries)
}

func (r *Repository) writeJournal(entries map[string]map[string]any) error {
	if len(entries) == 0 {
		return r.local.RemoveItem(r.journalKey())
	}
	b, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode journal %s: %w", r.journalKey(), err)
	}
	return r.local.SetItem(r.journalKey(), string(b))
}
