package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Lllllllleong/fleetsync/internal/gcp"
	"github.com/Lllllllleong/fleetsync/internal/models"
	"github.com/Lllllllleong/fleetsync/internal/pagination"
	"github.com/Lllllllleong/fleetsync/internal/repository"
)

// RecordsConfig holds configuration for the record-store function.
type RecordsConfig struct {
	TenantHeader string
	// Collections restricts which collections may be used; empty allows any.
	Collections []string
}

// RecordsFunction serves save, get, delete, list and sync on tenant records.
type RecordsFunction struct {
	backend *Backend
	config  RecordsConfig
}

// NewRecords creates the record-store function from the environment.
func NewRecords(ctx context.Context) (*RecordsFunction, Closer, error) {
	backend, closer, err := LoadBackend(ctx)
	if err != nil {
		return nil, nil, err
	}
	config := RecordsConfig{
		TenantHeader: gcp.GetEnv("TENANT_HEADER", DefaultTenantHeader),
		Collections:  gcp.GetEnvList("ALLOWED_COLLECTIONS", nil),
	}
	return NewRecordsWithBackend(backend, config), closer, nil
}

func NewRecordsWithBackend(backend *Backend, config RecordsConfig) *RecordsFunction {
	return &RecordsFunction{backend: backend, config: config}
}

func (f *RecordsFunction) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	serveJSON(w, r, f.config.TenantHeader, f.backend.MetricsHandler(), f.Process)
}

// Process runs one record action for the identity.
func (f *RecordsFunction) Process(ctx context.Context, id repository.Identity, req *models.RecordRequest) (*models.RecordResponse, error) {
	logCtx := slog.With("tenantId", id.TenantID, "collection", req.Collection, "action", req.Action, "recordId", req.ID)
	if err := f.checkCollection(req.Collection); err != nil {
		return nil, err
	}
	repo := f.backend.Registry(id).Collection(req.Collection)

	switch strings.ToLower(req.Action) {
	case "save":
		if strings.TrimSpace(req.ID) == "" {
			return nil, badRequest("id is required")
		}
		return f.write(logCtx, repo.Save(ctx, req.ID, req.Data))
	case "delete":
		if strings.TrimSpace(req.ID) == "" {
			return nil, badRequest("id is required")
		}
		return f.write(logCtx, repo.Delete(ctx, req.ID))
	case "get":
		rec, ok := repo.Get(ctx, req.ID)
		res := &models.RecordResponse{Status: "success", Found: ok}
		if ok {
			res.Record = &rec
		}
		return res, nil
	case "list", "":
		list := repo.GetAll(ctx)
		return &models.RecordResponse{
			Status:     "success",
			Degraded:   list.Degraded,
			Source:     string(list.Source),
			RecordPage: pageOf(list.Records, req.Page, req.PageSize),
		}, nil
	case "sync":
		res, err := repo.SyncPending(ctx)
		if err != nil {
			logCtx.Error("Pending sync failed.", "error", err)
			return nil, fmt.Errorf("sync %s: %w", req.Collection, err)
		}
		return &models.RecordResponse{Status: "success", Synced: res.Synced, Remaining: res.Remaining, Degraded: res.Remaining > 0}, nil
	default:
		return nil, badRequest("unknown action %q", req.Action)
	}
}

func (f *RecordsFunction) write(logCtx *slog.Logger, res repository.WriteResult) (*models.RecordResponse, error) {
	if !res.Stored {
		logCtx.Error("Write failed on every store.", "error", res.Err)
		return nil, fmt.Errorf("record not stored: %w", res.Err)
	}
	if res.Degraded {
		logCtx.Warn("Record stored locally only.")
	}
	return &models.RecordResponse{Status: "success", Remote: res.Remote, Degraded: res.Degraded}, nil
}

func (f *RecordsFunction) checkCollection(name string) error {
	if strings.TrimSpace(name) == "" {
		return badRequest("collection is required")
	}
	if len(f.config.Collections) == 0 {
		return nil
	}
	for _, c := range f.config.Collections {
		if c == name {
			return nil
		}
	}
	return badRequest("collection %q is not allowed", name)
}

// pageOf paginates records and moves to page when it exists.
func pageOf(records []models.Record, page, pageSize int) *models.RecordPage {
	p := pagination.New(records, pageSize)
	if page > 1 {
		p.GoToPage(page)
	}
	snap := p.Page()
	return &models.RecordPage{
		Items:        snap.Items,
		PageNumber:   snap.PageNumber,
		PageSize:     snap.PageSize,
		TotalItems:   snap.TotalItems,
		TotalPages:   snap.TotalPages,
		VisiblePages: p.VisiblePages(0),
	}
}
