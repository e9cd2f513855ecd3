package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// StageCompleted is published after a stage transition has been persisted.
type StageCompleted struct {
	TenantID    string    `json:"tenantId,omitempty"`
	RecordID    string    `json:"recordId"`
	Stage       string    `json:"stage"`
	CompletedAt time.Time `json:"completedAt"`
	Completed   int       `json:"completed"`
	TotalStages int       `json:"totalStages"`
	Progress    float64   `json:"progress"`
}

// Notifier receives stage events. Errors are logged by the dispatcher and
// never reach the tracker.
type Notifier interface {
	Notify(ctx context.Context, e StageCompleted) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, e StageCompleted) error

func (f NotifierFunc) Notify(ctx context.Context, e StageCompleted) error { return f(ctx, e) }

const (
	DefaultQueueSize     = 64
	DefaultNotifyTimeout = 10 * time.Second
)

type queued struct {
	ctx   context.Context
	event StageCompleted
}

// Dispatcher delivers events to a Notifier from a single goroutine through a
// bounded queue. Publish never blocks; events that do not fit are dropped.
type Dispatcher struct {
	notifier Notifier
	timeout  time.Duration
	logger   *slog.Logger
	queue    chan queued
	done     chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewDispatcher starts a dispatcher. size and timeout fall back to
// DefaultQueueSize and DefaultNotifyTimeout when not positive.
func NewDispatcher(n Notifier, size int, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if timeout <= 0 {
		timeout = DefaultNotifyTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		notifier: n,
		timeout:  timeout,
		logger:   logger,
		queue:    make(chan queued, size),
		done:     make(chan struct{}),
	}
	go d.loop()
	return d
}

// Publish queues e. Request values of ctx are kept for delivery but its
// cancellation is not. It reports false when the queue is full or closed.
func (d *Dispatcher) Publish(ctx context.Context, e StageCompleted) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	select {
	case d.queue <- queued{ctx: context.WithoutCancel(ctx), event: e}:
		return true
	default:
		return false
	}
}

// Close stops accepting events and waits until the queued ones are delivered.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	<-d.done
}

func (d *Dispatcher) loop() {
	defer close(d.done)
	for q := range d.queue {
		ctx, cancel := context.WithTimeout(q.ctx, d.timeout)
		if err := d.notifier.Notify(ctx, q.event); err != nil {
			d.logger.Error("Stage notification failed.",
				"recordId", q.event.RecordID,
				"stage", q.event.Stage,
				"error", err,
			)
		}
		cancel()
	}
}

// Counters counts stage completions.
type Counters struct {
	completions *prometheus.CounterVec
}

// NewCounters registers the tracker counters on reg when it is not nil.
func NewCounters(reg prometheus.Registerer) *Counters {
	c := &Counters{
		completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fleetsync",
			Subsystem: "pipeline",
			Name:      "stage_completions_total",
			Help:      "Stages marked completed.",
		}, []string{"stage"}),
	}
	if reg != nil {
		reg.MustRegister(c.completions)
	}
	return c
}

func (c *Counters) completed(stage string) {
	if c == nil {
		return
	}
	c.completions.WithLabelValues(stage).Inc()
}
