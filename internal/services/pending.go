package services

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/Lllllllleong/fleetsync/internal/gcp"
	"github.com/Lllllllleong/fleetsync/internal/models"
	"github.com/Lllllllleong/fleetsync/internal/repository"
)

// PendingConfig holds configuration for the pending-counter function.
type PendingConfig struct {
	TenantHeader string
}

// PendingFunction reports the records waiting between two adjacent stages.
type PendingFunction struct {
	backend *Backend
	config  PendingConfig
}

// NewPending creates the pending-counter function from the environment.
func NewPending(ctx context.Context) (*PendingFunction, Closer, error) {
	backend, closer, err := LoadBackend(ctx)
	if err != nil {
		return nil, nil, err
	}
	return NewPendingWithBackend(backend, PendingConfig{
		TenantHeader: gcp.GetEnv("TENANT_HEADER", DefaultTenantHeader),
	}), closer, nil
}

func NewPendingWithBackend(backend *Backend, config PendingConfig) *PendingFunction {
	return &PendingFunction{backend: backend, config: config}
}

func (f *PendingFunction) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	serveJSON(w, r, f.config.TenantHeader, f.backend.MetricsHandler(), f.Process)
}

// Process reconciles the requested stage pair.
func (f *PendingFunction) Process(ctx context.Context, id repository.Identity, req *models.PendingRequest) (*models.PendingResponse, error) {
	if !f.backend.IsStage(req.Upstream) {
		return nil, badRequest("unknown upstream stage %q", req.Upstream)
	}
	downstream := req.Downstream
	if downstream == "" {
		next, ok := f.backend.NextStage(req.Upstream)
		if !ok {
			return nil, badRequest("stage %q has no downstream stage", req.Upstream)
		}
		downstream = next
	}
	if !f.backend.IsStage(downstream) {
		return nil, badRequest("unknown downstream stage %q", downstream)
	}
	logCtx := slog.With("tenantId", id.TenantID, "upstream", req.Upstream, "downstream", downstream)

	res := f.backend.Engine(id, req.Upstream, downstream).Run(ctx)
	logCtx.Info("Pending records computed.", "pendingCount", res.PendingCount, "degraded", res.Degraded)
	_, changed := f.backend.Watcher(id, req.Upstream, downstream).Observe(res)

	return &models.PendingResponse{
		Status:        "success",
		Upstream:      req.Upstream,
		Downstream:    downstream,
		PendingCount:  res.PendingCount,
		Degraded:      res.Degraded,
		BadgeChanged:  changed,
		RecordPage:    pageOf(res.Pending, req.Page, req.PageSize),
		AwaitingStage: f.backend.Tracker(id.TenantID).PendingForStage(downstream),
	}, nil
}
