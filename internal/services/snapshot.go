package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/fleetsync/internal/gcp"
	"github.com/Lllllllleong/fleetsync/internal/models"
	"github.com/Lllllllleong/fleetsync/internal/repository"
	"golang.org/x/sync/errgroup"
)

// ObjectWriter stores content under name unless the object already exists.
type ObjectWriter func(ctx context.Context, name, content string) error

// SnapshotConfig holds configuration for the pending-snapshot function.
type SnapshotConfig struct {
	Bucket      string
	Concurrency int
}

// SnapshotFunction writes the pending sets of every adjacent stage pair of a
// tenant to a bucket as one JSON document.
type SnapshotFunction struct {
	backend *Backend
	write   ObjectWriter
	config  SnapshotConfig
	now     func() time.Time
}

// NewSnapshot creates the pending-snapshot function from the environment.
func NewSnapshot(ctx context.Context) (*SnapshotFunction, Closer, error) {
	config := SnapshotConfig{
		Bucket:      gcp.GetEnv("SNAPSHOT_BUCKET", ""),
		Concurrency: 4,
	}
	if config.Bucket == "" {
		return nil, nil, fmt.Errorf("SNAPSHOT_BUCKET environment variable must be set")
	}
	backend, closer, err := LoadBackend(ctx)
	if err != nil {
		return nil, nil, err
	}
	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		_ = closer()
		return nil, nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	bucket := storageClient.Bucket(config.Bucket)
	write := func(ctx context.Context, name, content string) error {
		return gcp.SaveToGCSAtomically(ctx, bucket, name, content)
	}
	return NewSnapshotWithBackend(backend, write, config), closeAll(closer, storageClient.Close), nil
}

func NewSnapshotWithBackend(backend *Backend, write ObjectWriter, config SnapshotConfig) *SnapshotFunction {
	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}
	return &SnapshotFunction{backend: backend, write: write, config: config, now: time.Now}
}

// Process computes every pair concurrently and stores the snapshot under
// {tenant}/{timestamp}/pending.json.
func (f *SnapshotFunction) Process(ctx context.Context, req *models.SnapshotRequest) (*models.SnapshotResponse, error) {
	if req.TenantID == "" {
		return nil, badRequest("tenantId is required")
	}
	logCtx := slog.With("tenantId", req.TenantID)
	id := repository.Identity{TenantID: req.TenantID, UserID: "pending-snapshot"}
	stages := f.backend.Stages()
	if len(stages) < 2 {
		return nil, badRequest("at least two stages are required")
	}

	pairs := make([]models.PendingPair, len(stages)-1)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(f.config.Concurrency)
	for i := 0; i < len(stages)-1; i++ {
		up, down := stages[i], stages[i+1]
		eg.Go(func() error {
			res := f.backend.Engine(id, up, down).Run(egCtx)
			ids := make([]string, 0, len(res.Pending))
			for _, rec := range res.Pending {
				ids = append(ids, rec.ID)
			}
			pairs[i] = models.PendingPair{
				Upstream:     up,
				Downstream:   down,
				PendingCount: res.PendingCount,
				Degraded:     res.Degraded,
				PendingIDs:   ids,
			}
			return nil
		})
	}
	_ = eg.Wait()

	generated := f.now().UTC()
	snapshot := models.PendingSnapshot{
		TenantID:    req.TenantID,
		GeneratedAt: generated.Format(time.RFC3339),
		Pairs:       pairs,
	}
	content, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	objectName := fmt.Sprintf("%s/%s/pending.json", req.TenantID, generated.Format("20060102T150405Z"))
	if err := f.write(ctx, objectName, string(content)); err != nil {
		logCtx.Error("Failed to store pending snapshot.", "gcsObject", objectName, "error", err)
		return nil, fmt.Errorf("failed to store snapshot: %w", err)
	}
	logCtx.Info("Pending snapshot stored.", "gcsObject", objectName, "pairs", len(pairs))
	return &models.SnapshotResponse{
		Status:    "success",
		ObjectURI: fmt.Sprintf("gs://%s/%s", f.config.Bucket, objectName),
		Pairs:     len(pairs),
	}, nil
}
