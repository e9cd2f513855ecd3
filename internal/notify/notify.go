// Package notify delivers pipeline stage events to the outside world: the
// log, a CloudEvents endpoint or a Cloud Workflow.
package notify

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Lllllllleong/fleetsync/internal/pipeline"
)

// Log writes every event to a structured logger.
type Log struct {
	Logger *slog.Logger
}

func (l Log) Notify(ctx context.Context, e pipeline.StageCompleted) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "Stage completed event.",
		"recordId", e.RecordID,
		"stage", e.Stage,
		"completedAt", e.CompletedAt,
		"progress", e.Progress,
	)
	return nil
}

// Multi sends each event to every notifier and joins their errors.
type Multi []pipeline.Notifier

func (m Multi) Notify(ctx context.Context, e pipeline.StageCompleted) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
