package reconcile

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultPollInterval is how often a Watcher recomputes its badge.
const DefaultPollInterval = 10 * time.Second

// Badge is what a UI shows next to a stage: the pending count and whether it
// may be stale.
type Badge struct {
	Count    int
	Degraded bool
}

// Runner computes a pending set. *Engine implements it.
type Runner interface {
	Run(ctx context.Context) Result
}

// Watcher polls a Runner and publishes the badge whenever it changes.
type Watcher struct {
	runner   Runner
	interval time.Duration
	publish  func(Badge)
	logger   *slog.Logger

	mu   sync.Mutex
	last *Badge
}

// NewWatcher returns a watcher polling runner every interval (DefaultPollInterval
// when interval is not positive).
func NewWatcher(runner Runner, interval time.Duration, publish func(Badge)) *Watcher {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Watcher{runner: runner, interval: interval, publish: publish, logger: slog.Default()}
}

// Check runs one reconciliation and publishes the badge if it differs from the
// last one published. It reports whether it published.
func (w *Watcher) Check(ctx context.Context) (Badge, bool) {
	return w.Observe(w.runner.Run(ctx))
}

// Observe feeds a result computed elsewhere, such as by a request handler
// that needs the pending records too, and publishes its badge on change.
func (w *Watcher) Observe(res Result) (Badge, bool) {
	b := Badge{Count: res.PendingCount, Degraded: res.Degraded}

	w.mu.Lock()
	changed := w.last == nil || *w.last != b
	if changed {
		w.last = &b
	}
	w.mu.Unlock()

	if changed && w.publish != nil {
		w.publish(b)
	}
	return b, changed
}

// Last returns the last published badge.
func (w *Watcher) Last() (Badge, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.last == nil {
		return Badge{}, false
	}
	return *w.last, true
}

// Run checks immediately and then on every tick until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	w.Check(ctx)
	for {
		select {
		case <-ticker.C:
			w.Check(ctx)
		case <-ctx.Done():
			w.logger.Debug("Pending watcher stopped.", "error", ctx.Err())
			return ctx.Err()
		}
	}
}
