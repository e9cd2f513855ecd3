package repository

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Lllllllleong/fleetsync/internal/docstore"
	"github.com/Lllllllleong/fleetsync/internal/localstore"
	"github.com/Lllllllleong/fleetsync/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

var tenantOne = StaticIdentity{TenantID: "t1", UserID: "u1"}

func newRepo(t *testing.T, remote *docstore.Memory, local localstore.Storage, clock *fakeClock, opts ...Option) *Repository {
	t.Helper()
	base := []Option{WithClock(clock.Now), WithReadyRetry(2, 0), WithRemoteTimeout(50 * time.Millisecond)}
	if remote != nil {
		base = append(base, WithRemote(remote))
	}
	return New("intake", local, tenantOne, append(base, opts...)...)
}

func TestSaveGetRoundTrip(t *testing.T) {
	for _, withRemote := range []bool{true, false} {
		name := "local-only"
		if withRemote {
			name = "remote"
		}
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			clock := newClock()
			var remote *docstore.Memory
			if withRemote {
				remote = docstore.NewMemory()
			}
			repo := newRepo(t, remote, localstore.NewMemory(), clock)

			res := repo.Save(ctx, "24A001", map[string]any{"cliente": "ACME", "ruta": "R1"})
			require.True(t, res.Stored)
			assert.Equal(t, withRemote, res.Remote)
			assert.Equal(t, !withRemote, res.Degraded)

			got, ok := repo.Get(ctx, "24A001")
			require.True(t, ok)
			assert.Equal(t, "24A001", got.ID)
			assert.Equal(t, "t1", got.TenantID)
			assert.Equal(t, "u1", got.UserID)
			assert.False(t, got.Deleted)
			assert.Equal(t, map[string]any{"cliente": "ACME", "ruta": "R1"}, got.Fields)
			assert.True(t, got.CreatedAt.Equal(clock.Now()))
			assert.True(t, got.UpdatedAt.Equal(clock.Now()))
		})
	}
}

func TestInitTimeoutFallsBackToLocal(t *testing.T) {
	ctx := context.Background()
	remote := docstore.NewMemory()
	remote.Delay(time.Hour)
	repo := newRepo(t, remote, localstore.NewMemory(), newClock(), WithRemoteTimeout(20*time.Millisecond))

	rd, err := repo.Init(ctx)
	require.NoError(t, err)
	assert.Equal(t, ModeLocalOnly, rd.Mode)

	res := repo.Save(ctx, "24A001", map[string]any{"estado": "recibido"})
	assert.True(t, res.Stored)
	assert.True(t, res.Degraded)

	got, ok := repo.Get(ctx, "24A001")
	require.True(t, ok)
	assert.Equal(t, "recibido", got.Fields["estado"])
	assert.Equal(t, 1, remote.Calls("ping"))
}

func TestSaveStampsMetadata(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	repo := newRepo(t, docstore.NewMemory(), localstore.NewMemory(), clock)
	created := clock.Now()

	require.True(t, repo.Save(ctx, "24A001", map[string]any{
		"cliente":   "ACME",
		"tenantId":  "someone-else",
		"createdAt": "2000-01-01T00:00:00Z",
	}).Stored)

	clock.Advance(time.Minute)
	require.True(t, repo.Save(ctx, "24A001", map[string]any{"ruta": "R7"}).Stored)

	got, ok := repo.Get(ctx, "24A001")
	require.True(t, ok)
	assert.Equal(t, "t1", got.TenantID)
	assert.True(t, got.CreatedAt.Equal(created))
	assert.True(t, got.UpdatedAt.Equal(clock.Now()))
	assert.Equal(t, map[string]any{"cliente": "ACME", "ruta": "R7"}, got.Fields)
}

func TestGetAllFiltersTenantAndDeleted(t *testing.T) {
	ctx := context.Background()
	remote := docstore.NewMemory()
	remote.Put("t1", "intake", "24A003", map[string]any{"tenantId": "t1", "deleted": false})
	remote.Put("t1", "intake", "24A001", map[string]any{"tenantId": "t1", "deleted": false})
	remote.Put("t1", "intake", "24A002", map[string]any{"tenantId": "t1", "deleted": true})
	remote.Put("t2", "intake", "24B001", map[string]any{"tenantId": "t2", "deleted": false})
	remote.LeakTenants(true)
	repo := newRepo(t, remote, localstore.NewMemory(), newClock())

	res := repo.GetAll(ctx)
	assert.Equal(t, SourceRemote, res.Source)
	assert.False(t, res.Degraded)
	require.Len(t, res.Records, 2)
	assert.Equal(t, "24A001", res.Records[0].ID)
	assert.Equal(t, "24A003", res.Records[1].ID)
	for _, rec := range res.Records {
		assert.Equal(t, "t1", rec.TenantID)
		assert.False(t, rec.Deleted)
	}

	remote.FailWith(status.Error(codes.Unavailable, "offline"))
	res = repo.GetAll(ctx)
	assert.Equal(t, SourceLocal, res.Source)
	assert.True(t, res.Degraded)
	require.Len(t, res.Records, 2)
	for _, rec := range res.Records {
		assert.Equal(t, "t1", rec.TenantID)
		assert.False(t, rec.Deleted)
	}
}

func TestRemoteFailureSwitchesToLocalOnly(t *testing.T) {
	ctx := context.Background()
	remote := docstore.NewMemory()
	repo := newRepo(t, remote, localstore.NewMemory(), newClock())
	require.True(t, repo.Save(ctx, "24A001", map[string]any{"n": "1"}).Remote)

	remote.FailWith(status.Error(codes.Unavailable, "offline"))
	res := repo.GetAll(ctx)
	assert.Equal(t, SourceLocal, res.Source)

	sets := remote.Calls("set")
	res2 := repo.Save(ctx, "24A002", map[string]any{"n": "2"})
	assert.True(t, res2.Stored)
	assert.False(t, res2.Remote)
	assert.Equal(t, sets, remote.Calls("set"))
}

func TestDeleteIsSoft(t *testing.T) {
	ctx := context.Background()
	remote := docstore.NewMemory()
	repo := newRepo(t, remote, localstore.NewMemory(), newClock())

	require.True(t, repo.Save(ctx, "24A001", map[string]any{"cliente": "ACME"}).Stored)
	res := repo.Delete(ctx, "24A001")
	require.True(t, res.Stored)

	_, ok := repo.Get(ctx, "24A001")
	assert.False(t, ok)
	assert.Empty(t, repo.GetAll(ctx).Records)

	doc, err := remote.Get(ctx, "t1", "intake", "24A001")
	require.NoError(t, err)
	assert.True(t, doc.Deleted)
	assert.Equal(t, "ACME", doc.Fields["cliente"])
}

func TestGetFallsBackToLocalWhenRemoteMissesRecord(t *testing.T) {
	ctx := context.Background()
	local := localstore.NewMemory()
	offline := newRepo(t, nil, local, newClock())
	require.True(t, offline.Save(ctx, "24A001", map[string]any{"cliente": "ACME"}).Stored)

	online := newRepo(t, docstore.NewMemory(), local, newClock())
	got, ok := online.Get(ctx, "24A001")
	require.True(t, ok)
	assert.Equal(t, "ACME", got.Fields["cliente"])
}

func TestLocalCacheIsTenantFiltered(t *testing.T) {
	ctx := context.Background()
	local := localstore.NewMemory()
	other := New("intake", local, StaticIdentity{TenantID: "t2", UserID: "u2"}, WithReadyRetry(1, 0))
	require.True(t, other.Save(ctx, "24B001", map[string]any{"cliente": "Other"}).Stored)

	repo := newRepo(t, nil, local, newClock())
	_, ok := repo.Get(ctx, "24B001")
	assert.False(t, ok)
	res := repo.GetAll(ctx)
	assert.Equal(t, SourceLocal, res.Source)
	assert.Empty(t, res.Records)
}

func TestQuotaBreaker(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	remote := docstore.NewMemory()
	repo := newRepo(t, remote, localstore.NewMemory(), clock)
	_, err := repo.Init(ctx)
	require.NoError(t, err)

	remote.FailWith(status.Error(codes.ResourceExhausted, "Quota exceeded"))
	res := repo.Save(ctx, "24A001", map[string]any{"n": "1"})
	assert.True(t, res.Stored)
	assert.True(t, res.Degraded)

	remote.FailWith(nil)
	sets := remote.Calls("set")
	res = repo.Save(ctx, "24A002", map[string]any{"n": "2"})
	assert.False(t, res.Remote)
	assert.Equal(t, sets, remote.Calls("set"))

	clock.Advance(DefaultBreakerCooldown + time.Second)
	res = repo.Save(ctx, "24A003", map[string]any{"n": "3"})
	assert.True(t, res.Remote)
}

func TestUnchangedWritesAreSkipped(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	remote := docstore.NewMemory()
	repo := newRepo(t, remote, localstore.NewMemory(), clock)

	require.True(t, repo.Save(ctx, "24A001", map[string]any{"n": "1"}).Remote)
	clock.Advance(time.Second)
	res := repo.Save(ctx, "24A001", map[string]any{"n": "1"})
	assert.True(t, res.Remote)
	assert.Equal(t, 1, remote.Calls("set"))

	require.True(t, repo.Save(ctx, "24A001", map[string]any{"n": "2"}).Remote)
	assert.Equal(t, 2, remote.Calls("set"))

	clock.Advance(DefaultWriteCacheTTL + time.Second)
	require.True(t, repo.Save(ctx, "24A001", map[string]any{"n": "2"}).Remote)
	assert.Equal(t, 3, remote.Calls("set"))
}

func TestSyncPendingReplaysJournal(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	remote := docstore.NewMemory()
	repo := newRepo(t, remote, localstore.NewMemory(), clock)
	_, err := repo.Init(ctx)
	require.NoError(t, err)

	remote.FailWith(status.Error(codes.Unavailable, "offline"))
	require.True(t, repo.Save(ctx, "24A001", map[string]any{"cliente": "ACME"}).Degraded)
	pending, err := repo.Pending()
	require.NoError(t, err)
	assert.Equal(t, []string{"24A001"}, pending)

	remote.FailWith(nil)
	res, err := repo.SyncPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Remaining: 1}, res)

	clock.Advance(DefaultReprobeAfter + time.Second)
	res, err = repo.SyncPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Synced: 1}, res)

	doc, err := remote.Get(ctx, "t1", "intake", "24A001")
	require.NoError(t, err)
	assert.Equal(t, "ACME", doc.Fields["cliente"])
	pending, err = repo.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestNotReadyWithoutTenant(t *testing.T) {
	ctx := context.Background()
	var failures []string
	repo := New("intake", localstore.NewMemory(), StaticIdentity{}, WithReadyRetry(2, 0),
		WithFailureHandler(func(collection, id string, err error) {
			failures = append(failures, collection+"/"+id)
		}))

	_, err := repo.Init(ctx)
	assert.ErrorIs(t, err, ErrNotReady)

	res := repo.Save(ctx, "24A001", map[string]any{"n": "1"})
	assert.False(t, res.Stored)
	assert.ErrorIs(t, res.Err, ErrNotReady)
	assert.Equal(t, []string{"intake/24A001"}, failures)

	assert.Equal(t, SourceNone, repo.GetAll(ctx).Source)
	_, ok := repo.Get(ctx, "24A001")
	assert.False(t, ok)
}

func TestIdentityErrorIsNotReady(t *testing.T) {
	boom := errors.New("session expired")
	repo := New("intake", localstore.NewMemory(), IdentityFunc(func(context.Context) (Identity, error) {
		return Identity{}, boom
	}))
	_, err := repo.Init(context.Background())
	assert.ErrorIs(t, err, ErrNotReady)
	assert.ErrorIs(t, err, boom)
}

func TestSaveFailsWhenNothingStores(t *testing.T) {
	ctx := context.Background()
	local := localstore.NewMemory()
	require.NoError(t, local.Close())
	var called bool
	repo := newRepo(t, nil, local, newClock(), WithFailureHandler(func(string, string, error) { called = true }))

	res := repo.Save(ctx, "24A001", map[string]any{"n": "1"})
	assert.False(t, res.Stored)
	assert.Error(t, res.Err)
	assert.True(t, called)

	assert.False(t, repo.Save(ctx, "  ", nil).Stored)
}

func TestConcurrentInitSharesProbe(t *testing.T) {
	var resolved atomic.Int32
	remote := docstore.NewMemory()
	remote.Delay(30 * time.Millisecond)
	repo := New("intake", localstore.NewMemory(), IdentityFunc(func(context.Context) (Identity, error) {
		resolved.Add(1)
		return Identity{TenantID: "t1"}, nil
	}), WithRemote(remote))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rd, err := repo.Init(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, ModeRemote, rd.Mode)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), resolved.Load())
	assert.Equal(t, 1, remote.Calls("ping"))
}

func TestRegistry(t *testing.T) {
	ctx := context.Background()
	local := localstore.NewMemory()
	reg := NewRegistry(local, tenantOne, WithMetrics(NewMetrics(prometheus.NewRegistry())))

	intake := reg.Collection("intake")
	assert.Same(t, intake, reg.Collection("intake"))
	billing := reg.Collection("billing")
	assert.Equal(t, []string{"billing", "intake"}, reg.Names())

	require.True(t, intake.Save(ctx, "24A001", map[string]any{"etapa": "intake"}).Stored)
	require.True(t, billing.Save(ctx, "24A001", map[string]any{"etapa": "billing"}).Stored)
	assert.ElementsMatch(t, []string{
		"erp_intake", "erp_billing", "erp_pending_sync_intake", "erp_pending_sync_billing",
	}, local.Keys())

	got, ok := billing.Get(ctx, "24A001")
	require.True(t, ok)
	assert.Equal(t, "billing", got.Fields["etapa"])

	results, err := reg.SyncPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Remaining: 1}, results["intake"])
}

func TestCachedRecordsKeepIdentity(t *testing.T) {
	ctx := context.Background()
	local := localstore.NewMemory()
	repo := newRepo(t, nil, local, newClock())
	require.True(t, repo.Save(ctx, "24A001", map[string]any{"cliente": "ACME"}).Stored)

	cache, err := repo.loadCache()
	require.NoError(t, err)
	require.Contains(t, cache, "24A001")
	assert.Equal(t, models.Record{
		ID:        "24A001",
		TenantID:  "t1",
		UserID:    "u1",
		CreatedAt: cache["24A001"].CreatedAt,
		UpdatedAt: cache["24A001"].UpdatedAt,
		Fields:    map[string]any{"cliente": "ACME"},
	}, cache["24A001"])
}

func TestSaveSendsOnlyChangedFields(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	remote := docstore.NewMemory()
	sessionA := newRepo(t, remote, localstore.NewMemory(), clock)
	sessionB := New("intake", localstore.NewMemory(), StaticIdentity{TenantID: "t1", UserID: "u2"},
		WithRemote(remote), WithClock(clock.Now), WithReadyRetry(2, 0))

	require.True(t, sessionA.Save(ctx, "24A001", map[string]any{"status": "draft"}).Remote)
	clock.Advance(time.Minute)
	require.True(t, sessionB.Save(ctx, "24A001", map[string]any{"status": "dispatched"}).Remote)
	clock.Advance(time.Minute)
	require.True(t, sessionA.Save(ctx, "24A001", map[string]any{"note": "hi"}).Remote)

	doc, err := remote.Get(ctx, "t1", "intake", "24A001")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"status": "dispatched", "note": "hi"}, doc.Fields)
	assert.Equal(t, "u1", doc.UserID)
	assert.True(t, doc.CreatedAt.Equal(time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)))
}

func TestSyncPendingKeepsFieldsChangedElsewhere(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	remote := docstore.NewMemory()
	sessionA := newRepo(t, remote, localstore.NewMemory(), clock)
	sessionB := New("intake", localstore.NewMemory(), StaticIdentity{TenantID: "t1", UserID: "u2"},
		WithRemote(remote), WithClock(clock.Now), WithReadyRetry(2, 0))

	require.True(t, sessionA.Save(ctx, "24A001", map[string]any{"status": "draft"}).Remote)
	remote.FailWith(status.Error(codes.Unavailable, "offline"))
	require.True(t, sessionA.Save(ctx, "24A001", map[string]any{"note": "hi"}).Degraded)
	require.True(t, sessionA.Save(ctx, "24A001", map[string]any{"driver": "Ana"}).Degraded)
	pending, err := sessionA.Pending()
	require.NoError(t, err)
	assert.Equal(t, []string{"24A001"}, pending)

	remote.FailWith(nil)
	require.True(t, sessionB.Save(ctx, "24A001", map[string]any{"status": "dispatched"}).Remote)

	clock.Advance(DefaultReprobeAfter + time.Second)
	res, err := sessionA.SyncPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Synced: 1}, res)

	doc, err := remote.Get(ctx, "t1", "intake", "24A001")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"status": "dispatched", "note": "hi", "driver": "Ana"}, doc.Fields)
}

func TestCorruptCacheIsBackedUp(t *testing.T) {
	ctx := context.Background()
	local := localstore.NewMemory()
	require.NoError(t, local.SetItem("erp_intake", "{not json"))
	repo := newRepo(t, nil, local, newClock())

	require.True(t, repo.Save(ctx, "24A001", map[string]any{"cliente": "ACME"}).Stored)

	var backups []string
	for _, key := range local.Keys() {
		if strings.HasPrefix(key, "erp_intake_corrupt_") {
			backups = append(backups, key)
		}
	}
	require.Len(t, backups, 1)
	raw, ok, err := local.GetItem(backups[0])
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "{not json", raw)

	res := repo.GetAll(ctx)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "24A001", res.Records[0].ID)
}
