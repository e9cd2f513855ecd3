package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	executions "cloud.google.com/go/workflows/executions/apiv1"
	"github.com/Lllllllleong/fleetsync/internal/gcp"
	"github.com/Lllllllleong/fleetsync/internal/models"
	"github.com/Lllllllleong/fleetsync/internal/notify"
	"github.com/Lllllllleong/fleetsync/internal/pipeline"
	"github.com/Lllllllleong/fleetsync/internal/repository"
)

// StageConfig holds configuration for the stage-completer function.
type StageConfig struct {
	TenantHeader  string
	NotifyTimeout time.Duration
}

// StageFunction marks pipeline stages completed and reports progress.
type StageFunction struct {
	backend  *Backend
	notifier pipeline.Notifier
	config   StageConfig
}

// NewStage creates the stage-completer function from the environment. Stage
// events always go to the log, and additionally to EVENTS_TARGET and the
// Cloud Workflow WORKFLOW_ID when those are set.
func NewStage(ctx context.Context) (*StageFunction, Closer, error) {
	backend, closer, err := LoadBackend(ctx)
	if err != nil {
		return nil, nil, err
	}
	config := StageConfig{
		TenantHeader:  gcp.GetEnv("TENANT_HEADER", DefaultTenantHeader),
		NotifyTimeout: gcp.GetEnvDuration("NOTIFY_TIMEOUT", pipeline.DefaultNotifyTimeout),
	}

	notifiers := notify.Multi{notify.Log{}}
	if target := gcp.GetEnv("EVENTS_TARGET", ""); target != "" {
		ce, err := notify.NewCloudEvents(target, gcp.GetEnv("EVENTS_SOURCE", notify.DefaultSource))
		if err != nil {
			_ = closer()
			return nil, nil, err
		}
		notifiers = append(notifiers, ce)
	}
	if workflowID := gcp.GetEnv("WORKFLOW_ID", ""); workflowID != "" {
		executionsClient, err := executions.NewClient(ctx)
		if err != nil {
			_ = closer()
			return nil, nil, fmt.Errorf("failed to create Workflows Executions client: %w", err)
		}
		closer = closeAll(closer, executionsClient.Close)
		notifiers = append(notifiers, notify.NewWorkflow(executionsClient,
			gcp.GetEnv("PROJECT_ID", ""), gcp.GetEnv("WORKFLOW_LOCATION", "us-central1"), workflowID))
	}
	slog.Info("Stage completer initialized.", "notifiers", len(notifiers))
	return NewStageWithBackend(backend, notifiers, config), closer, nil
}

func NewStageWithBackend(backend *Backend, notifier pipeline.Notifier, config StageConfig) *StageFunction {
	return &StageFunction{backend: backend, notifier: notifier, config: config}
}

func (f *StageFunction) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	serveJSON(w, r, f.config.TenantHeader, f.backend.MetricsHandler(), f.Process)
}

// Process runs one tracker action for the identity's tenant. Notifications of
// a completion are delivered before the response is returned; their failure
// does not change the result.
func (f *StageFunction) Process(ctx context.Context, id repository.Identity, req *models.StageRequest) (*models.StageResponse, error) {
	logCtx := slog.With("tenantId", id.TenantID, "recordId", req.RecordID, "stage", req.Stage, "action", req.Action)

	switch strings.ToLower(req.Action) {
	case "complete", "":
		if req.RecordID == "" || req.Stage == "" {
			return nil, badRequest("recordId and stage are required")
		}
		var opts []pipeline.Option
		var dispatcher *pipeline.Dispatcher
		if f.notifier != nil {
			dispatcher = pipeline.NewDispatcher(f.notifier, 1, f.config.NotifyTimeout, logCtx)
			opts = append(opts, pipeline.WithDispatcher(dispatcher))
		}
		tracker := f.backend.Tracker(id.TenantID, opts...)
		changed, err := tracker.Complete(ctx, req.RecordID, req.Stage)
		if dispatcher != nil {
			dispatcher.Close()
		}
		if err != nil {
			return nil, fmt.Errorf("complete %s/%s: %w", req.RecordID, req.Stage, err)
		}
		return &models.StageResponse{Status: "success", Changed: changed, Progress: tracker.Progress(req.RecordID)}, nil
	case "init":
		if req.RecordID == "" {
			return nil, badRequest("recordId is required")
		}
		st := f.backend.Tracker(id.TenantID).InitRecord(req.RecordID, req.Stages...)
		if st == nil {
			logCtx.Error("Pipeline state could not be initialized.")
			return nil, fmt.Errorf("init %s: %w", req.RecordID, pipeline.ErrStateUnavailable)
		}
		return &models.StageResponse{Status: "success", State: st}, nil
	case "progress":
		return &models.StageResponse{Status: "success", Progress: f.backend.Tracker(id.TenantID).Progress(req.RecordID)}, nil
	case "status":
		tracker := f.backend.Tracker(id.TenantID)
		st, ok := tracker.Status(req.RecordID)
		if !ok {
			return &models.StageResponse{Status: "unknown"}, nil
		}
		return &models.StageResponse{Status: "success", State: st, Progress: tracker.Progress(req.RecordID)}, nil
	case "metrics":
		summary := f.backend.Tracker(id.TenantID).Metrics()
		return &models.StageResponse{Status: "success", Summary: &summary}, nil
	case "pending":
		if !f.backend.IsStage(req.Stage) {
			return nil, badRequest("unknown stage %q", req.Stage)
		}
		return &models.StageResponse{Status: "success", Pending: f.backend.Tracker(id.TenantID).PendingForStage(req.Stage)}, nil
	default:
		return nil, badRequest("unknown action %q", req.Action)
	}
}
