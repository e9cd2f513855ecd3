package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/fleetsync/internal/services"
)

var (
	stageInstance *services.StageFunction
	once          sync.Once
	initErr       error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// "HandleStage" is called by the workflow after each stage finishes.
	functions.HTTP("HandleStage", handleStage)
}

// main is required by the Go Functions Framework.
func main() {}

func handleStage(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		stageInstance, _, initErr = services.NewStage(context.Background())
	})
	if initErr != nil {
		slog.Error("Stage completer initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}
	stageInstance.ServeHTTP(w, r)
}
