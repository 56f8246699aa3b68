package assign

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"

	"github.com/rcliao/comic-survey/internal/model"
	"github.com/rcliao/comic-survey/internal/store"
	"github.com/rcliao/comic-survey/internal/survey"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var groups = []model.Group{"A", "B", "C"}

func newAssigner(t *testing.T, cs store.CounterStore, seed int64) *Assigner {
	t.Helper()
	a, err := New(cs, Options{NS: "exp", Groups: groups, Rand: rand.New(rand.NewSource(seed))})
	require.NoError(t, err)
	return a
}

func spread(c store.Counts) int {
	min, max := -1, 0
	for _, g := range groups {
		n := c[g]
		if min < 0 || n < min {
			min = n
		}
		if n > max {
			max = n
		}
	}
	return max - min
}

func TestAssignBalance(t *testing.T) {
	ctx := context.Background()
	for _, seed := range []int64{1, 2, 3, 42} {
		mem := store.NewMemStore()
		a := newAssigner(t, mem, seed)

		for i := 1; i <= 50; i++ {
			_, err := a.Assign(ctx)
			require.NoError(t, err)

			counts, _, err := mem.LoadCounts(ctx, "exp")
			require.NoError(t, err)
			assert.Equal(t, i, counts.Total(), "sum of counts must equal assignments")
			assert.LessOrEqual(t, spread(counts), 1, "seed %d after %d assignments", seed, i)
		}
	}
}

func TestAssignInitialisesAllGroups(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemStore()
	a := newAssigner(t, mem, 7)

	g, err := a.Assign(ctx)
	require.NoError(t, err)
	assert.True(t, model.ValidGroup(groups, g))

	counts, version, _ := mem.LoadCounts(ctx, "exp")
	assert.Equal(t, int64(1), version)
	assert.Len(t, counts, 3)
	assert.Equal(t, 1, counts[g])
}

func TestAssignPicksMinimum(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemStore()
	require.NoError(t, mem.SaveCounts(ctx, "exp", store.Counts{"A": 3, "B": 1, "C": 2}, 0))

	g, err := newAssigner(t, mem, 1).Assign(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.Group("B"), g)
}

func TestAssignTieBreakCoversAllGroups(t *testing.T) {
	ctx := context.Background()
	seen := map[model.Group]bool{}
	a := newAssigner(t, store.NewMemStore(), 99)
	// The first pick of every fresh store is a three-way tie.
	for i := 0; i < 200 && len(seen) < 3; i++ {
		a.store = store.NewMemStore()
		g, err := a.Assign(ctx)
		require.NoError(t, err)
		seen[g] = true
	}
	assert.Len(t, seen, 3)
}

func TestAssignCorruptCounts(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemStore()
	require.NoError(t, mem.SaveCounts(ctx, "exp", store.Counts{"A": -1}, 0))

	_, err := newAssigner(t, mem, 1).Assign(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, survey.ErrStore)
}

type failingStore struct{ err error }

func (f failingStore) LoadCounts(context.Context, string) (store.Counts, int64, error) {
	return nil, 0, f.err
}

func (f failingStore) SaveCounts(context.Context, string, store.Counts, int64) error {
	return f.err
}

func TestAssignUnreadableStore(t *testing.T) {
	_, err := newAssigner(t, failingStore{err: errors.New("disk gone")}, 1).Assign(context.Background())
	assert.ErrorIs(t, err, survey.ErrStore)
}

// racingStore lets another writer sneak in before the first n saves.
type racingStore struct {
	*store.MemStore
	races int
}

func (r *racingStore) SaveCounts(ctx context.Context, ns string, c store.Counts, version int64) error {
	if r.races > 0 {
		r.races--
		cur, v, _ := r.MemStore.LoadCounts(ctx, ns)
		least := groups[0]
		for _, g := range groups {
			if cur[g] < cur[least] {
				least = g
			}
		}
		cur[least]++
		if err := r.MemStore.SaveCounts(ctx, ns, cur, v); err != nil {
			return err
		}
	}
	return r.MemStore.SaveCounts(ctx, ns, c, version)
}

func TestAssignRetriesOnConflict(t *testing.T) {
	ctx := context.Background()
	rs := &racingStore{MemStore: store.NewMemStore(), races: 2}

	_, err := newAssigner(t, rs, 5).Assign(ctx)
	require.NoError(t, err)

	counts, _, _ := rs.LoadCounts(ctx, "exp")
	assert.Equal(t, 3, counts.Total(), "two racing writers plus our assignment")
	assert.LessOrEqual(t, spread(counts), 1)
}

func TestAssignGivesUpAfterMaxAttempts(t *testing.T) {
	rs := &racingStore{MemStore: store.NewMemStore(), races: 100}
	a, err := New(rs, Options{NS: "exp", Groups: groups, MaxAttempts: 3, Rand: rand.New(rand.NewSource(1))})
	require.NoError(t, err)

	_, err = a.Assign(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, survey.ErrStore)
	assert.ErrorIs(t, err, store.ErrVersionConflict)
}

func TestAssignConcurrentNoLostUpdates(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemStore()
	a, err := New(mem, Options{NS: "exp", Groups: groups, MaxAttempts: 1000})
	require.NoError(t, err)

	var eg errgroup.Group
	for w := 0; w < 4; w++ {
		eg.Go(func() error {
			for i := 0; i < 25; i++ {
				if _, err := a.Assign(ctx); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, eg.Wait())

	counts, _, _ := mem.LoadCounts(ctx, "exp")
	assert.Equal(t, 100, counts.Total())
	assert.LessOrEqual(t, spread(counts), 1)
}

func TestNewRequiresGroups(t *testing.T) {
	_, err := New(store.NewMemStore(), Options{NS: "exp"})
	assert.Error(t, err)
}
