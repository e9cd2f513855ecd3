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
	pendingInstance *services.PendingFunction
	once            sync.Once
	initErr         error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("HandlePending", handlePending)
}

// main is required by the Go Functions Framework.
func main() {}

func handlePending(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		pendingInstance, _, initErr = services.NewPending(context.Background())
	})
	if initErr != nil {
		slog.Error("Pending counter initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}
	pendingInstance.ServeHTTP(w, r)
}
