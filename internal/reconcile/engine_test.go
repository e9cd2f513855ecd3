package reconcile

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Lllllllleong/fleetsync/internal/localstore"
	"github.com/Lllllllleong/fleetsync/internal/models"
	"github.com/Lllllllleong/fleetsync/internal/repository"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticLister repository.ListResult

func (s staticLister) GetAll(context.Context) repository.ListResult {
	return repository.ListResult(s)
}

func remoteList(recs ...models.Record) staticLister {
	return staticLister{Records: recs, Source: repository.SourceRemote}
}

func rec(id string, fields map[string]any) models.Record {
	return models.NewRecord(id, fields)
}

func ids(recs []models.Record) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.ID)
	}
	return out
}

func TestPendingScenario(t *testing.T) {
	e := &Engine{
		Name: "intake-dispatch",
		Upstream: remoteList(
			rec("24A001", nil), rec("24A002", nil), rec("24A003", nil),
		),
		Downstream: remoteList(rec("d1", map[string]any{"numeroRegistro": "24A001"})),
	}
	res := e.Run(context.Background())
	assert.Equal(t, 2, res.PendingCount)
	assert.Equal(t, []string{"24A002", "24A003"}, ids(res.Pending))
	assert.False(t, res.Degraded)

	again := e.Run(context.Background())
	assert.Equal(t, res, again)
}

func TestPendingIdentifierRules(t *testing.T) {
	tests := []struct {
		name       string
		upstream   []models.Record
		downstream []models.Record
		want       []string
	}{
		{
			name:       "trimmed compare",
			upstream:   []models.Record{rec("a", map[string]any{"numeroRegistro": " 24A001 "})},
			downstream: []models.Record{rec("b", map[string]any{"numeroRegistro": "24A001"})},
			want:       []string{},
		},
		{
			name:       "falls back to registroId downstream",
			upstream:   []models.Record{rec("24A001", nil), rec("24A002", nil)},
			downstream: []models.Record{{Fields: map[string]any{"registroId": "24A002"}}},
			want:       []string{"24A001"},
		},
		{
			name:       "numeric identifiers",
			upstream:   []models.Record{rec("x", map[string]any{"numeroRegistro": float64(1001)})},
			downstream: []models.Record{rec("y", map[string]any{"numeroRegistro": "1001"})},
			want:       []string{},
		},
		{
			name:       "records without identifier are skipped",
			upstream:   []models.Record{{Fields: map[string]any{"numeroRegistro": "  "}}, rec("24A009", nil)},
			downstream: []models.Record{{Fields: map[string]any{}}},
			want:       []string{"24A009"},
		},
		{
			name: "duplicate upstream keeps first position and last record",
			upstream: []models.Record{
				rec("a", map[string]any{"numeroRegistro": "24A001", "v": "old"}),
				rec("b", map[string]any{"numeroRegistro": "24A002"}),
				rec("c", map[string]any{"numeroRegistro": "24A001", "v": "new"}),
			},
			want: []string{"c", "b"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Pending(tt.upstream, tt.downstream, DefaultExtractors())
			assert.Equal(t, tt.want, ids(got))
		})
	}
}

func TestCustomExtractors(t *testing.T) {
	up := []models.Record{rec("1", map[string]any{"placa": "ABC-123"}), rec("2", map[string]any{"placa": "XYZ-9"})}
	down := []models.Record{rec("9", map[string]any{"placa": "ABC-123"})}
	got := Pending(up, down, []Extractor{Field("placa")})
	assert.Equal(t, []string{"2"}, ids(got))
}

func TestUnreadableSideIsDegradedZero(t *testing.T) {
	e := &Engine{
		Upstream:   remoteList(rec("24A001", nil)),
		Downstream: staticLister{Source: repository.SourceNone, Degraded: true},
	}
	res := e.Run(context.Background())
	assert.Equal(t, 0, res.PendingCount)
	assert.Empty(t, res.Pending)
	assert.True(t, res.Degraded)
}

func TestLocalSourceMarksDegraded(t *testing.T) {
	e := &Engine{
		Upstream:   staticLister{Records: []models.Record{rec("24A001", nil)}, Source: repository.SourceLocal, Degraded: true},
		Downstream: remoteList(),
	}
	res := e.Run(context.Background())
	assert.Equal(t, 1, res.PendingCount)
	assert.True(t, res.Degraded)
	assert.Equal(t, repository.SourceLocal, res.UpstreamSource)
}

func TestEngineOverRepositories(t *testing.T) {
	ctx := context.Background()
	reg := repository.NewRegistry(localstore.NewMemory(),
		repository.StaticIdentity{TenantID: "t1", UserID: "u1"}, repository.WithReadyRetry(1, 0))
	intake, dispatch := reg.Collection("intake"), reg.Collection("dispatch")
	for _, id := range []string{"24A001", "24A002", "24A003"} {
		require.True(t, intake.Save(ctx, id, map[string]any{"cliente": "ACME"}).Stored)
	}
	require.True(t, dispatch.Save(ctx, "D-1", map[string]any{"numeroRegistro": "24A001"}).Stored)
	require.True(t, intake.Delete(ctx, "24A003").Stored)

	metrics := NewMetrics(prometheus.NewRegistry())
	e := &Engine{Name: "intake-dispatch", Upstream: intake, Downstream: dispatch, Metrics: metrics}
	res := e.Run(ctx)
	assert.Equal(t, []string{"24A002"}, ids(res.Pending))
	assert.True(t, res.Degraded)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.pending.WithLabelValues("intake-dispatch")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.degraded.WithLabelValues("intake-dispatch")))
}

type countingRunner struct {
	mu      sync.Mutex
	results []Result
	calls   int
}

func (c *countingRunner) Run(context.Context) Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := c.results[min(c.calls, len(c.results)-1)]
	c.calls++
	return r
}

func TestWatcherPublishesOnlyChanges(t *testing.T) {
	runner := &countingRunner{results: []Result{
		{PendingCount: 2}, {PendingCount: 2}, {PendingCount: 1}, {PendingCount: 1, Degraded: true},
	}}
	var published []Badge
	w := NewWatcher(runner, 0, func(b Badge) { published = append(published, b) })
	assert.Equal(t, DefaultPollInterval, w.interval)

	for i := 0; i < 4; i++ {
		w.Check(context.Background())
	}
	assert.Equal(t, []Badge{{Count: 2}, {Count: 1}, {Count: 1, Degraded: true}}, published)
	last, ok := w.Last()
	require.True(t, ok)
	assert.Equal(t, Badge{Count: 1, Degraded: true}, last)
}

func TestWatcherObserveSharesChangeDetection(t *testing.T) {
	runner := &countingRunner{results: []Result{{PendingCount: 4}}}
	var published []Badge
	w := NewWatcher(runner, 0, func(b Badge) { published = append(published, b) })

	_, changed := w.Observe(Result{PendingCount: 4})
	assert.True(t, changed)
	_, changed = w.Check(context.Background())
	assert.False(t, changed)
	b, changed := w.Observe(Result{PendingCount: 0, Degraded: true})
	assert.True(t, changed)
	assert.Equal(t, Badge{Degraded: true}, b)
	assert.Equal(t, []Badge{{Count: 4}, {Degraded: true}}, published)
}

func TestWatcherRunStopsWithContext(t *testing.T) {
	runner := &countingRunner{results: []Result{{PendingCount: 3}}}
	got := make(chan Badge, 1)
	w := NewWatcher(runner, time.Millisecond, func(b Badge) { got <- b })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	assert.Equal(t, Badge{Count: 3}, <-got)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
