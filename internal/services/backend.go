package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Lllllllleong/fleetsync/internal/docstore"
	"github.com/Lllllllleong/fleetsync/internal/gcp"
	"github.com/Lllllllleong/fleetsync/internal/localstore"
	"github.com/Lllllllleong/fleetsync/internal/pipeline"
	"github.com/Lllllllleong/fleetsync/internal/reconcile"
	"github.com/Lllllllleong/fleetsync/internal/repository"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// BackendConfig holds the storage shared by the functions of one instance.
type BackendConfig struct {
	// Remote is the document store; nil runs every repository local-only.
	Remote docstore.Store
	// Cache backs the repositories' local mirror.
	Cache localstore.Storage
	// State backs the pipeline tracker.
	State         localstore.Storage
	Stages        []string
	RemoteTimeout time.Duration
}

// Backend hands out tenant-scoped repositories and trackers over shared
// storage, quota breaker, write cache and metrics.
type Backend struct {
	config  BackendConfig
	metrics *prometheus.Registry

	repoMetrics    *repository.Metrics
	pendingMetrics *reconcile.Metrics
	stageCounters  *pipeline.Counters
	breaker        *repository.Breaker
	writes         *repository.WriteCache

	mu         sync.Mutex
	registries map[repository.Identity]*repository.Registry
	watchers   map[string]*reconcile.Watcher
}

func NewBackend(config BackendConfig) *Backend {
	if len(config.Stages) == 0 {
		config.Stages = pipeline.DefaultStages
	}
	if config.RemoteTimeout <= 0 {
		config.RemoteTimeout = repository.DefaultRemoteTimeout
	}
	reg := prometheus.NewRegistry()
	return &Backend{
		config:         config,
		metrics:        reg,
		repoMetrics:    repository.NewMetrics(reg),
		pendingMetrics: reconcile.NewMetrics(reg),
		stageCounters:  pipeline.NewCounters(reg),
		breaker:        repository.NewBreaker(0),
		writes:         repository.NewWriteCache(0),
		registries:     map[repository.Identity]*repository.Registry{},
		watchers:       map[string]*reconcile.Watcher{},
	}
}

// Registry returns the repositories of one tenant and user. The local mirror
// is namespaced by tenant.
func (b *Backend) Registry(id repository.Identity) *repository.Registry {
	b.mu.Lock()
	defer b.mu.Unlock()
	if reg, ok := b.registries[id]; ok {
		return reg
	}
	opts := []repository.Option{
		repository.WithRemoteTimeout(b.config.RemoteTimeout),
		repository.WithMetrics(b.repoMetrics),
		repository.WithBreaker(b.breaker),
		repository.WithWriteCache(b.writes),
		repository.WithLogger(slog.With("tenantId", id.TenantID)),
		repository.WithFailureHandler(func(collection, recordID string, err error) {
			slog.Error("Record lost: neither remote nor local store accepted it.",
				"tenantId", id.TenantID, "collection", collection, "recordId", recordID, "error", err)
		}),
	}
	if b.config.Remote != nil {
		opts = append(opts, repository.WithRemote(b.config.Remote))
	}
	reg := repository.NewRegistry(localstore.NewNamespaced(b.config.Cache, id.TenantID), repository.StaticIdentity(id), opts...)
	b.registries[id] = reg
	return reg
}

// Tracker returns the pipeline tracker of tenantID.
func (b *Backend) Tracker(tenantID string, opts ...pipeline.Option) *pipeline.Tracker {
	base := []pipeline.Option{
		pipeline.WithStages(b.config.Stages...),
		pipeline.WithTenant(tenantID),
		pipeline.WithCounters(b.stageCounters),
		pipeline.WithLogger(slog.With("tenantId", tenantID)),
	}
	return pipeline.New(localstore.NewNamespaced(b.config.State, tenantID), append(base, opts...)...)
}

// Stages returns the configured pipeline order.
func (b *Backend) Stages() []string {
	return append([]string(nil), b.config.Stages...)
}

// IsStage reports whether name is a configured stage.
func (b *Backend) IsStage(name string) bool {
	for _, s := range b.config.Stages {
		if s == name {
			return true
		}
	}
	return false
}

// NextStage returns the stage after stage.
func (b *Backend) NextStage(stage string) (string, bool) {
	for i, s := range b.config.Stages {
		if s == stage && i+1 < len(b.config.Stages) {
			return b.config.Stages[i+1], true
		}
	}
	return "", false
}

// Engine reconciles upstream against downstream for one tenant.
func (b *Backend) Engine(id repository.Identity, upstream, downstream string) *reconcile.Engine {
	reg := b.Registry(id)
	return &reconcile.Engine{
		Name:       upstream + "-" + downstream,
		Upstream:   reg.Collection(upstream),
		Downstream: reg.Collection(downstream),
		Logger:     slog.With("tenantId", id.TenantID),
		Metrics:    b.pendingMetrics,
	}
}

// Watcher returns the badge watcher of one tenant's stage pair. It lives as
// long as the backend, so a badge change is relative to the last request this
// instance served for the pair.
func (b *Backend) Watcher(id repository.Identity, upstream, downstream string) *reconcile.Watcher {
	key := id.TenantID + "|" + upstream + "|" + downstream
	b.mu.Lock()
	w, ok := b.watchers[key]
	b.mu.Unlock()
	if ok {
		return w
	}
	logger := slog.With("tenantId", id.TenantID, "upstream", upstream, "downstream", downstream)
	w = reconcile.NewWatcher(b.Engine(id, upstream, downstream), 0, func(badge reconcile.Badge) {
		logger.Info("Pending badge changed.", "pendingCount", badge.Count, "degraded", badge.Degraded)
	})
	b.mu.Lock()
	defer b.mu.Unlock()
	if existing, ok := b.watchers[key]; ok {
		return existing
	}
	b.watchers[key] = w
	return w
}

// MetricsHandler serves the backend's Prometheus metrics.
func (b *Backend) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(b.metrics, promhttp.HandlerOpts{})
}

// Closer releases the clients opened by LoadBackend.
type Closer func() error

// LoadBackend builds the production backend from the environment: Firestore
// for records and tracker state, SQLite for the local mirror.
func LoadBackend(ctx context.Context) (*Backend, Closer, error) {
	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return nil, nil, fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	timeout := gcp.GetEnvDuration("REMOTE_TIMEOUT", repository.DefaultRemoteTimeout)
	cachePath := gcp.GetEnv("LOCAL_CACHE_PATH", filepath.Join(os.TempDir(), "fleetsync-cache.db"))

	client, err := gcp.NewFirestoreClient(ctx, projectID, gcp.GetEnv("FIRESTORE_DATABASE", ""))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	cache, err := localstore.NewSQLite(cachePath)
	if err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to open local cache: %w", err)
	}

	b := NewBackend(BackendConfig{
		Remote:        gcp.NewFirestoreStore(client),
		Cache:         cache,
		State:         gcp.NewFirestoreKV(client, gcp.GetEnv("STATE_COLLECTION", "fleetsync_state"), timeout),
		Stages:        gcp.GetEnvList("PIPELINE_STAGES", pipeline.DefaultStages),
		RemoteTimeout: timeout,
	})
	slog.Info("Backend initialized.", "projectId", projectID, "stages", b.config.Stages, "cachePath", cachePath)
	return b, closeAll(cache.Close, client.Close), nil
}

func closeAll(fns ...func() error) Closer {
	return func() error {
		var errs []error
		for _, fn := range fns {
			errs = append(errs, fn())
		}
		return errors.Join(errs...)
	}
}
