package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Lllllllleong/fleetsync/internal/pipeline"
	"github.com/Lllllllleong/fleetsync/internal/repository"
)

const (
	DefaultTenantHeader = "X-Tenant-ID"
	UserHeader          = "X-User-ID"
)

var (
	// ErrBadRequest marks errors caused by the request itself.
	ErrBadRequest = errors.New("bad request")
	// ErrMissingTenant is returned when the tenant header is absent.
	ErrMissingTenant = errors.New("missing tenant")
)

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrBadRequest, fmt.Sprintf(format, args...))
}

// HeaderIdentity reads the session identity from the request headers.
func HeaderIdentity(r *http.Request, tenantHeader string) (repository.Identity, error) {
	if tenantHeader == "" {
		tenantHeader = DefaultTenantHeader
	}
	id := repository.Identity{
		TenantID: strings.TrimSpace(r.Header.Get(tenantHeader)),
		UserID:   strings.TrimSpace(r.Header.Get(UserHeader)),
	}
	if id.TenantID == "" {
		return repository.Identity{}, fmt.Errorf("%w: header %s is empty", ErrMissingTenant, tenantHeader)
	}
	return id, nil
}

type processFunc[Req, Res any] func(ctx context.Context, id repository.Identity, req *Req) (*Res, error)

// serveJSON decodes a Req, resolves the identity and writes the Res returned
// by process. GET requests to */metrics are served by metrics.
func serveJSON[Req, Res any](w http.ResponseWriter, r *http.Request, tenantHeader string, metrics http.Handler, process processFunc[Req, Res]) {
	if r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/metrics") && metrics != nil {
		metrics.ServeHTTP(w, r)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	id, err := HeaderIdentity(r, tenantHeader)
	if err != nil {
		slog.Warn("Rejected request without tenant.", "error", err)
		http.Error(w, "Unauthorized: tenant header required", http.StatusUnauthorized)
		return
	}

	var req Req
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Error("Could not decode request body.", "error", err)
		http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
		return
	}

	res, err := process(r.Context(), id, &req)
	switch {
	case errors.Is(err, ErrBadRequest):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, repository.ErrNotReady):
		http.Error(w, "Service Unavailable: repository not ready", http.StatusServiceUnavailable)
		return
	case errors.Is(err, pipeline.ErrStateUnavailable):
		http.Error(w, "Service Unavailable: pipeline state unavailable", http.StatusServiceUnavailable)
		return
	case err != nil:
		// Already logged by process.
		http.Error(w, "Internal Server Error: processing failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(res); err != nil {
		slog.Error("Failed to write response.", "error", err)
	}
}
