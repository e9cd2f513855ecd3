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
	recordsInstance *services.RecordsFunction
	once            sync.Once
	initErr         error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// "HandleRecords" is the entry point name configured in GCP.
	functions.HTTP("HandleRecords", handleRecords)
}

// main is required by the Go Functions Framework.
func main() {}

// handleRecords serves tenant record reads and writes. The Firestore and
// SQLite handles live for the lifetime of the instance.
func handleRecords(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		recordsInstance, _, initErr = services.NewRecords(context.Background())
	})
	if initErr != nil {
		slog.Error("Record store initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}
	recordsInstance.ServeHTTP(w, r)
}
