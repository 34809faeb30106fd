package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rallypoint-io/warroom/internal/common"
	"github.com/rallypoint-io/warroom/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPath() model.LedgerPath {
	return model.LedgerPath{
		Candidate: "cand-1",
		Campaign:  "spring-push",
		Channel:   "email",
		Tier:      "major-donors",
	}
}

// allocateAll gives every level of the path the same budget.
func allocateAll(t *testing.T, l *Ledger, path model.LedgerPath, budget float64) {
	t.Helper()
	budgets := map[model.LedgerLevel]float64{}
	for _, level := range model.LedgerLevels {
		budgets[level] = budget
	}
	require.NoError(t, l.AllocatePath(context.Background(), path, budgets))
}

func TestReserve_IncrementsAllFiveLevels(t *testing.T) {
	l := New(nil, DefaultConfig())
	path := testPath()
	allocateAll(t, l, path, 1000)

	reservation, err := l.Reserve(context.Background(), path, 250, "dec-1")
	require.NoError(t, err)
	assert.Equal(t, model.ReservationHeld, reservation.State)

	for _, level := range model.LedgerLevels {
		n, ok := l.Node(path.Key(level))
		require.True(t, ok, "node at %s", level)
		assert.InDelta(t, 250.0, n.Actual, 0.001, "actual at %s", level)
	}
}

func TestReserve_FailsFastAtFirstInsufficientLevel(t *testing.T) {
	l := New(nil, DefaultConfig())
	path := testPath()
	allocateAll(t, l, path, 1000)

	// Starve the campaign level only.
	require.NoError(t, l.Allocate(context.Background(), path.Key(model.LevelCampaign), model.LevelCampaign, 100))

	_, err := l.Reserve(context.Background(), path, 250, "dec-1")
	require.Error(t, err)

	var insufficient *common.InsufficientBudgetError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, model.LevelCampaign, insufficient.Level)
	assert.InDelta(t, 150.0, insufficient.Shortfall(), 0.001)

	// All-or-nothing: the failing level and every other level are untouched.
	for _, level := range model.LedgerLevels {
		n, ok := l.Node(path.Key(level))
		require.True(t, ok)
		assert.Zero(t, n.Actual, "actual at %s must be unchanged", level)
	}
}

func TestReserve_IdempotentByDecision(t *testing.T) {
	l := New(nil, DefaultConfig())
	path := testPath()
	allocateAll(t, l, path, 1000)

	first, err := l.Reserve(context.Background(), path, 250, "dec-1")
	require.NoError(t, err)

	// A retried evaluation must not double-spend.
	second, err := l.Reserve(context.Background(), path, 250, "dec-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	n, _ := l.Node(path.Key(model.LevelTier))
	assert.InDelta(t, 250.0, n.Actual, 0.001)
}

func TestCommitAndRelease(t *testing.T) {
	l := New(nil, DefaultConfig())
	path := testPath()
	allocateAll(t, l, path, 1000)
	ctx := context.Background()

	r, err := l.Reserve(ctx, path, 100, "dec-1")
	require.NoError(t, err)

	require.NoError(t, l.Commit(ctx, r.ID))
	// Idempotent commit.
	require.NoError(t, l.Commit(ctx, r.ID))

	// Committed reservations cannot be released.
	require.Error(t, l.Release(ctx, r.ID))

	r2, err := l.Reserve(ctx, path, 100, "dec-2")
	require.NoError(t, err)
	require.NoError(t, l.Release(ctx, r2.ID))
	// Idempotent release.
	require.NoError(t, l.Release(ctx, r2.ID))

	n, _ := l.Node(path.Key(model.LevelUniverse))
	assert.InDelta(t, 100.0, n.Actual, 0.001, "only the committed amount remains")
}

func TestRelease_UnknownReservation(t *testing.T) {
	l := New(nil, DefaultConfig())
	err := l.Release(context.Background(), "missing")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestReleaseExpired(t *testing.T) {
	l := New(nil, Config{ReservationTTL: time.Minute})
	path := testPath()
	allocateAll(t, l, path, 1000)
	ctx := context.Background()

	base := time.Now()
	l.now = func() time.Time { return base }

	_, err := l.Reserve(ctx, path, 100, "dec-1")
	require.NoError(t, err)

	// Nothing due yet.
	released, err := l.ReleaseExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, released)

	l.now = func() time.Time { return base.Add(2 * time.Minute) }
	released, err = l.ReleaseExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, released)

	n, _ := l.Node(path.Key(model.LevelTier))
	assert.Zero(t, n.Actual)
}

// TestConcurrentReserves hammers overlapping paths and verifies that the
// final actual at every node equals the sum of the amounts that touched it:
// no lost updates, no double counts.
func TestConcurrentReserves(t *testing.T) {
	l := New(nil, DefaultConfig())
	ctx := context.Background()

	paths := []model.LedgerPath{
		{Candidate: "cand-1", Campaign: "spring", Channel: "email", Tier: "small"},
		{Candidate: "cand-1", Campaign: "spring", Channel: "sms", Tier: "small"},
		{Candidate: "cand-1", Campaign: "fall", Channel: "email", Tier: "small"},
		{Candidate: "cand-2", Campaign: "spring", Channel: "email", Tier: "small"},
	}
	for _, p := range paths {
		allocateAll(t, l, p, 1_000_000)
	}
	// Shared ancestors need headroom for everything at once.
	require.NoError(t, l.Allocate(ctx, "universe", model.LevelUniverse, 10_000_000))
	require.NoError(t, l.Allocate(ctx, "cand-1", model.LevelCandidate, 5_000_000))
	require.NoError(t, l.Allocate(ctx, "cand-1:spring", model.LevelCampaign, 3_000_000))

	const perPath = 50
	const amount = 7.0

	var wg sync.WaitGroup
	for _, p := range paths {
		for i := 0; i < perPath; i++ {
			wg.Add(1)
			go func(p model.LedgerPath) {
				defer wg.Done()
				if _, err := l.Reserve(ctx, p, amount, ""); err != nil {
					t.Errorf("reserve failed: %v", err)
				}
			}(p)
		}
	}
	wg.Wait()

	// Every path reserved perPath*amount; shared nodes accumulate the sum
	// of all transactions that touched them.
	expect := func(key string, transactions int) {
		n, ok := l.Node(key)
		require.True(t, ok, "node %s", key)
		assert.InDelta(t, float64(transactions)*amount, n.Actual, 0.001, "node %s", key)
	}

	expect("universe", 4*perPath)
	expect("cand-1", 3*perPath)
	expect("cand-2", perPath)
	expect("cand-1:spring", 2*perPath)
	expect("cand-1:spring:email", perPath)
	expect("cand-1:spring:email:small", perPath)
}

// TestConcurrentReserveRelease mixes reserves with releases and checks the
// accumulator balances to the committed remainder.
func TestConcurrentReserveRelease(t *testing.T) {
	l := New(nil, DefaultConfig())
	ctx := context.Background()
	path := testPath()
	allocateAll(t, l, path, 1_000_000)

	const n = 100
	ids := make(chan string, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := l.Reserve(ctx, path, 10, "")
			if err != nil {
				t.Errorf("reserve failed: %v", err)
				return
			}
			ids <- r.ID
		}()
	}
	wg.Wait()
	close(ids)

	// Release every other reservation concurrently.
	var releaseWg sync.WaitGroup
	release := true
	released := 0
	for id := range ids {
		if release {
			released++
			releaseWg.Add(1)
			go func(id string) {
				defer releaseWg.Done()
				if err := l.Release(ctx, id); err != nil {
					t.Errorf("release failed: %v", err)
				}
			}(id)
		}
		release = !release
	}
	releaseWg.Wait()

	remaining := float64(n-released) * 10
	for _, level := range model.LedgerLevels {
		node, ok := l.Node(path.Key(level))
		require.True(t, ok)
		assert.InDelta(t, remaining, node.Actual, 0.001, "level %s", level)
	}
}

func TestDerivedStatus(t *testing.T) {
	tests := []struct {
		name   string
		want   model.BudgetStatus
		budget float64
		actual float64
	}{
		{name: "no budget", want: model.StatusNoBudget, budget: 0, actual: 0},
		{name: "ok", want: model.StatusOK, budget: 100, actual: 50},
		{name: "warning at 90 percent", want: model.StatusWarning, budget: 100, actual: 90},
		{name: "critical at 95 percent", want: model.StatusCritical, budget: 100, actual: 95},
		{name: "critical overspend", want: model.StatusCritical, budget: 100, actual: 120},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := model.LedgerNode{Budget: tt.budget, Actual: tt.actual}
			assert.Equal(t, tt.want, n.Status())
		})
	}
}

func TestStoreFailureLeavesNoPartialWrite(t *testing.T) {
	store := &failingStore{}
	l := New(store, DefaultConfig())
	path := testPath()

	// Seed nodes directly (allocations would also hit the failing store).
	for _, level := range model.LedgerLevels {
		n := l.getOrCreate(path.Key(level), level)
		n.budget = 1000
	}

	store.failDelta = true
	_, err := l.Reserve(context.Background(), path, 100, "dec-1")
	require.Error(t, err)

	for _, level := range model.LedgerLevels {
		n, ok := l.Node(path.Key(level))
		require.True(t, ok)
		assert.Zero(t, n.Actual, "store failure must leave %s untouched", level)
	}
}

// TestRelease_ConcurrentReleasesDecrementOnce parks one release inside the
// store and fires a second for the same ID. The second must observe the
// claimed transition and no-op; the nodes are decremented exactly once.
func TestRelease_ConcurrentReleasesDecrementOnce(t *testing.T) {
	store := newGatedStore()
	l := New(store, DefaultConfig())
	path := testPath()
	for _, level := range model.LedgerLevels {
		n := l.getOrCreate(path.Key(level), level)
		n.budget = 1000
	}
	ctx := context.Background()

	r, err := l.Reserve(ctx, path, 100, "dec-1")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- l.Release(ctx, r.ID) }()
	<-store.entered

	require.NoError(t, l.Release(ctx, r.ID))

	close(store.resume)
	require.NoError(t, <-done)

	for _, level := range model.LedgerLevels {
		n, ok := l.Node(path.Key(level))
		require.True(t, ok)
		assert.Zero(t, n.Actual, "level %s must be decremented exactly once", level)
	}
}

// TestRelease_CommitCannotLandMidRelease checks that a commit racing an
// in-flight release of the same reservation fails instead of stripping the
// spend the release is about to return.
func TestRelease_CommitCannotLandMidRelease(t *testing.T) {
	store := newGatedStore()
	l := New(store, DefaultConfig())
	path := testPath()
	for _, level := range model.LedgerLevels {
		n := l.getOrCreate(path.Key(level), level)
		n.budget = 1000
	}
	ctx := context.Background()

	r, err := l.Reserve(ctx, path, 100, "dec-1")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- l.Release(ctx, r.ID) }()
	<-store.entered

	require.Error(t, l.Commit(ctx, r.ID), "commit must not land once the release is claimed")

	close(store.resume)
	require.NoError(t, <-done)

	got, ok := l.Reservation(r.ID)
	require.True(t, ok)
	assert.Equal(t, model.ReservationReleased, got.State)

	n, _ := l.Node(path.Key(model.LevelTier))
	assert.Zero(t, n.Actual)
}

// TestRelease_StoreFailureKeepsHold verifies a refused release delta leaves
// the reservation held so a later retry can still return the amount.
func TestRelease_StoreFailureKeepsHold(t *testing.T) {
	store := &failingStore{}
	l := New(store, DefaultConfig())
	path := testPath()
	for _, level := range model.LedgerLevels {
		n := l.getOrCreate(path.Key(level), level)
		n.budget = 1000
	}
	ctx := context.Background()

	r, err := l.Reserve(ctx, path, 100, "dec-1")
	require.NoError(t, err)

	store.failDelta = true
	require.Error(t, l.Release(ctx, r.ID))

	got, ok := l.Reservation(r.ID)
	require.True(t, ok)
	assert.Equal(t, model.ReservationHeld, got.State)
	n, _ := l.Node(path.Key(model.LevelTier))
	assert.InDelta(t, 100.0, n.Actual, 0.001, "failed release must not touch the nodes")

	store.failDelta = false
	require.NoError(t, l.Release(ctx, r.ID))
	n, _ = l.Node(path.Key(model.LevelTier))
	assert.Zero(t, n.Actual)
}

type failingStore struct {
	failDelta bool
}

func (f *failingStore) GetLedgerNodes(_ context.Context) ([]model.LedgerNode, error) {
	return nil, nil
}

func (f *failingStore) UpsertLedgerNode(_ context.Context, _ model.LedgerNode) error {
	return nil
}

func (f *failingStore) ApplyLedgerDelta(_ context.Context, _ []string, _ float64) error {
	if f.failDelta {
		return errors.New("disk full")
	}
	return nil
}

func (f *failingStore) SaveReservation(_ context.Context, _ model.Reservation) error {
	return nil
}

func (f *failingStore) GetHeldReservations(_ context.Context) ([]model.Reservation, error) {
	return nil, nil
}

// gatedStore parks the first negative ledger delta until resume closes,
// holding a release open mid-flight.
type gatedStore struct {
	entered chan struct{}
	resume  chan struct{}
	mu      sync.Mutex
	gated   bool
}

func newGatedStore() *gatedStore {
	return &gatedStore{entered: make(chan struct{}), resume: make(chan struct{})}
}

func (g *gatedStore) GetLedgerNodes(_ context.Context) ([]model.LedgerNode, error) {
	return nil, nil
}

func (g *gatedStore) UpsertLedgerNode(_ context.Context, _ model.LedgerNode) error {
	return nil
}

func (g *gatedStore) ApplyLedgerDelta(_ context.Context, _ []string, delta float64) error {
	if delta < 0 {
		g.mu.Lock()
		first := !g.gated
		g.gated = true
		g.mu.Unlock()
		if first {
			close(g.entered)
			<-g.resume
		}
	}
	return nil
}

func (g *gatedStore) SaveReservation(_ context.Context, _ model.Reservation) error {
	return nil
}

func (g *gatedStore) GetHeldReservations(_ context.Context) ([]model.Reservation, error) {
	return nil, nil
}
