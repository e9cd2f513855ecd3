// Package pipeline tracks, per record, which stages of the ordered processing
// pipeline have been completed and derives the per-stage pending queues.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Lllllllleong/fleetsync/internal/localstore"
	"github.com/Lllllllleong/fleetsync/internal/models"
)

// StateKey is the storage key holding every record's pipeline state.
const StateKey = "erp_sincronizacion_states"

// ErrStateUnavailable means the pipeline states could not be read or stored.
var ErrStateUnavailable = errors.New("pipeline: state storage unavailable")

// DefaultStages is the fleet pipeline.
var DefaultStages = []string{"intake", "dispatch", "billing"}

// Summary counts tracked records by how far they are.
type Summary = models.PipelineSummary

// Option configures a Tracker.
type Option func(*Tracker)

// WithStages replaces DefaultStages for records initialised implicitly.
func WithStages(stages ...string) Option {
	return func(t *Tracker) {
		if len(stages) > 0 {
			t.stages = append([]string(nil), stages...)
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithDispatcher publishes a StageCompleted event for every successful mark.
func WithDispatcher(d *Dispatcher) Option {
	return func(t *Tracker) { t.dispatcher = d }
}

// WithTenant stamps published events with tenantID.
func WithTenant(tenantID string) Option {
	return func(t *Tracker) { t.tenantID = tenantID }
}

func WithCounters(c *Counters) Option {
	return func(t *Tracker) { t.counters = c }
}

// Tracker owns the pipeline states stored under StateKey. States are re-read
// from storage on every call so several processes can share one store. Reads
// fall back to the last successfully read copy when storage is unavailable;
// writes are only made on top of a fresh read.
type Tracker struct {
	store      localstore.Storage
	stages     []string
	now        func() time.Time
	logger     *slog.Logger
	dispatcher *Dispatcher
	counters   *Counters
	tenantID   string

	mu     sync.Mutex
	states map[string]*models.PipelineState
}

// New returns a tracker persisting to store.
func New(store localstore.Storage, opts ...Option) *Tracker {
	t := &Tracker{
		store:  store,
		stages: append([]string(nil), DefaultStages...),
		now:    time.Now,
		logger: slog.Default(),
		states: map[string]*models.PipelineState{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Stages returns the default stage order.
func (t *Tracker) Stages() []string {
	return append([]string(nil), t.stages...)
}

// InitRecord creates the state of id with stages (the tracker's stages when
// none are given). An existing state is returned untouched. It returns nil
// when storage cannot be read or the new state cannot be stored.
func (t *Tracker) InitRecord(id string, stages ...string) *models.PipelineState {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.load(); err != nil {
		return nil
	}
	st, created := t.ensure(id, stages)
	if created {
		if err := t.persist(); err != nil {
			delete(t.states, id)
			return nil
		}
	}
	return st.Clone()
}

func (t *Tracker) ensure(id string, stages []string) (*models.PipelineState, bool) {
	if st, ok := t.states[id]; ok {
		return st, false
	}
	if len(stages) == 0 {
		stages = t.stages
	}
	st := models.NewPipelineState(id, stages)
	t.states[id] = st
	return st, true
}

// MarkStageCompleted records that stage is done for id. It returns false when
// the stage was already completed or is not part of the record's pipeline,
// and when the transition could not be stored; no event is published then.
// Records seen for the first time get the default stages.
func (t *Tracker) MarkStageCompleted(ctx context.Context, id, stage string) bool {
	changed, _ := t.Complete(ctx, id, stage)
	return changed
}

// Complete is MarkStageCompleted reporting storage failures. The error is
// ErrStateUnavailable when the states could not be read or written; the
// transition is not applied then.
func (t *Tracker) Complete(ctx context.Context, id, stage string) (bool, error) {
	id = strings.TrimSpace(id)
	if id == "" || stage == "" {
		return false, nil
	}
	logger := t.logger.With("recordId", id, "stage", stage)

	t.mu.Lock()
	if err := t.load(); err != nil {
		t.mu.Unlock()
		logger.Error("Stage not recorded, pipeline state unreadable.", "error", err)
		return false, fmt.Errorf("%w: %w", ErrStateUnavailable, err)
	}
	var prev *models.PipelineState
	if st, ok := t.states[id]; ok {
		prev = st.Clone()
	}
	st, _ := t.ensure(id, nil)
	ts := t.now().UTC()
	if !st.Complete(stage, ts) {
		t.mu.Unlock()
		if _, known := st.Stage(stage); !known {
			logger.Warn("Unknown stage for record, ignoring.")
		}
		return false, nil
	}
	if err := t.persist(); err != nil {
		if prev != nil {
			t.states[id] = prev
		} else {
			delete(t.states, id)
		}
		t.mu.Unlock()
		logger.Error("Stage not recorded, pipeline state write failed.", "error", err)
		return false, fmt.Errorf("%w: %w", ErrStateUnavailable, err)
	}
	event := StageCompleted{
		TenantID:    t.tenantID,
		RecordID:    id,
		Stage:       stage,
		CompletedAt: ts,
		Completed:   st.CompletedCount(),
		TotalStages: st.TotalStages,
		Progress:    progress(st),
	}
	t.mu.Unlock()

	t.counters.completed(stage)
	logger.Info("Stage completed.", "progress", event.Progress)
	if t.dispatcher != nil && !t.dispatcher.Publish(ctx, event) {
		logger.Warn("Notification queue full, dropping stage event.")
	}
	return true, nil
}

// Progress is the completed share of id's stages in percent, 0 when id is not
// tracked.
func (t *Tracker) Progress(id string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	_ = t.load()
	st, ok := t.states[id]
	if !ok {
		return 0
	}
	return progress(st)
}

func progress(st *models.PipelineState) float64 {
	if st.TotalStages == 0 {
		return 0
	}
	return 100 * float64(st.CompletedCount()) / float64(st.TotalStages)
}

// Status returns a copy of id's state.
func (t *Tracker) Status(id string) (*models.PipelineState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_ = t.load()
	st, ok := t.states[id]
	if !ok {
		return nil, false
	}
	return st.Clone(), true
}

// PendingForStage lists the records, sorted by id, that are waiting on stage:
// the stage is incomplete and every earlier stage is complete.
func (t *Tracker) PendingForStage(stage string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	_ = t.load()
	out := []string{}
	for id, st := range t.states {
		status, ok := st.Stage(stage)
		if !ok || status.Completed {
			continue
		}
		if st.PredecessorsComplete(stage) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Metrics summarises every tracked record.
func (t *Tracker) Metrics() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	_ = t.load()
	var s Summary
	for _, st := range t.states {
		s.Total++
		switch done := st.CompletedCount(); {
		case done == 0:
			s.NotStarted++
		case done >= st.TotalStages:
			s.Completed++
		default:
			s.InProgress++
		}
	}
	return s
}

// Clear forgets every state.
func (t *Tracker) Clear() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.states = map[string]*models.PipelineState{}
	if err := t.store.RemoveItem(StateKey); err != nil {
		return fmt.Errorf("clear pipeline states: %w", err)
	}
	return nil
}

// load refreshes t.states from storage. On error the last known states stay
// in place for reads, but callers must not persist on top of them. Callers
// hold t.mu.
func (t *Tracker) load() error {
	raw, ok, err := t.store.GetItem(StateKey)
	if err != nil {
		t.logger.Warn("Pipeline state read failed, using last known states.", "error", err)
		return fmt.Errorf("read pipeline states: %w", err)
	}
	if !ok || raw == "" {
		t.states = map[string]*models.PipelineState{}
		return nil
	}
	states := map[string]*models.PipelineState{}
	if err := json.Unmarshal([]byte(raw), &states); err != nil {
		t.logger.Error("Pipeline state is corrupt, using last known states.", "error", err)
		return fmt.Errorf("decode pipeline states: %w", err)
	}
	for id, st := range states {
		if st == nil {
			delete(states, id)
			continue
		}
		st.RecordID = id
	}
	t.states = states
	return nil
}

// persist writes t.states. Callers hold t.mu and have just loaded them.
func (t *Tracker) persist() error {
	b, err := json.Marshal(t.states)
	if err != nil {
		return fmt.Errorf("encode pipeline states: %w", err)
	}
	if err := t.store.SetItem(StateKey, string(b)); err != nil {
		return fmt.Errorf("write pipeline states: %w", err)
	}
	return nil
}
