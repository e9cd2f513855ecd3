// Package reconcile computes the records still pending between two adjacent
// pipeline stages: upstream records whose identifier is not yet present
// downstream.
package reconcile

import (
	"context"
	"log/slog"

	"github.com/Lllllllleong/fleetsync/internal/models"
	"github.com/Lllllllleong/fleetsync/internal/repository"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

// Lister lists the active tenant's records of one stage.
type Lister interface {
	GetAll(ctx context.Context) repository.ListResult
}

// Result is the pending set of one stage pair.
type Result struct {
	PendingCount int
	Pending      []models.Record
	// Degraded is set when either side was read from the local cache or could
	// not be read at all.
	Degraded         bool
	UpstreamSource   repository.Source
	DownstreamSource repository.Source
}

// Engine reconciles Upstream against Downstream. Extractors default to
// DefaultExtractors.
type Engine struct {
	Name       string
	Upstream   Lister
	Downstream Lister
	Extractors []Extractor
	Logger     *slog.Logger
	Metrics    *Metrics
}

// Run fetches both stages concurrently and returns the pending upstream
// records in upstream order. Running it twice on unchanged data gives the same
// result.
func (e *Engine) Run(ctx context.Context) Result {
	var up, down repository.ListResult
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		up = e.Upstream.GetAll(gctx)
		return nil
	})
	g.Go(func() error {
		down = e.Downstream.GetAll(gctx)
		return nil
	})
	_ = g.Wait()

	res := Result{UpstreamSource: up.Source, DownstreamSource: down.Source}
	if up.Source == repository.SourceNone || down.Source == repository.SourceNone {
		e.logger().Warn("Stage could not be read, reporting no pending records.",
			"upstream", up.Source, "downstream", down.Source)
		res.Degraded = true
		e.Metrics.observe(e.Name, res)
		return res
	}

	res.Pending = Pending(up.Records, down.Records, e.extractors())
	res.PendingCount = len(res.Pending)
	res.Degraded = up.Degraded || down.Degraded
	e.Metrics.observe(e.Name, res)
	return res
}

// Pending returns the upstream records whose identifier is missing from
// downstream. Records without an identifier are ignored on both sides. When an
// identifier repeats upstream the last record wins, kept at the position of the
// first.
func Pending(upstream, downstream []models.Record, extractors []Extractor) []models.Record {
	present := make(map[string]struct{}, len(downstream))
	for _, rec := range downstream {
		if id := Identifier(rec, extractors); id != "" {
			present[id] = struct{}{}
		}
	}

	pending := []models.Record{}
	position := map[string]int{}
	for _, rec := range upstream {
		id := Identifier(rec, extractors)
		if id == "" {
			continue
		}
		if _, ok := present[id]; ok {
			continue
		}
		if i, seen := position[id]; seen {
			pending[i] = rec
			continue
		}
		position[id] = len(pending)
		pending = append(pending, rec)
	}
	return pending
}

func (e *Engine) extractors() []Extractor {
	if len(e.Extractors) == 0 {
		return DefaultExtractors()
	}
	return e.Extractors
}

func (e *Engine) logger() *slog.Logger {
	l := e.Logger
	if l == nil {
		l = slog.Default()
	}
	return l.With("pair", e.Name)
}

// Metrics exposes the last pending count per stage pair.
type Metrics struct {
	pending  *prometheus.GaugeVec
	degraded *prometheus.GaugeVec
}

// NewMetrics registers the reconciliation gauges on reg when it is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		pending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "fleetsync",
			Subsystem: "reconcile",
			Name:      "pending_records",
			Help:      "Records present upstream and missing downstream.",
		}, []string{"pair"}),
		degraded: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "fleetsync",
			Subsystem: "reconcile",
			Name:      "degraded",
			Help:      "1 when the last count was computed from incomplete data.",
		}, []string{"pair"}),
	}
	if reg != nil {
		reg.MustRegister(m.pending, m.degraded)
	}
	return m
}

func (m *Metrics) observe(pair string, res Result) {
	if m == nil {
		return
	}
	m.pending.WithLabelValues(pair).Set(float64(res.PendingCount))
	degraded := 0.0
	if res.Degraded {
		degraded = 1
	}
	m.degraded.WithLabelValues(pair).Set(degraded)
}
