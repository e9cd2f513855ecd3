package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/fleetsync/internal/models"
	"github.com/Lllllllleong/fleetsync/internal/services"
	cloudevents "github.com/cloudevents/sdk-go/v2"
)

var (
	snapshotInstance *services.SnapshotFunction
	once             sync.Once
	initErr          error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// One event per tenant; the event data is a SnapshotRequest.
	functions.CloudEvent("SnapshotPending", snapshotPending)
}

// main is required by the Go Functions Framework.
func main() {}

func snapshotPending(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		snapshotInstance, _, initErr = services.NewSnapshot(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	var req models.SnapshotRequest
	if err := json.Unmarshal(e.Data(), &req); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}

	// Errors are logged with context inside Process.
	_, err := snapshotInstance.Process(ctx, &req)
	return err
}
