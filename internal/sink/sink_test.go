package sink

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

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

var schema = model.Schema{Dimensions: []model.Dimension{"comprehensibility", "processing_speed", "boredom", "excitement"}}

func rows(participant string, n int) []model.Row {
	start := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	out := make([]model.Row, n)
	for i := range out {
		out[i] = model.Row{
			Timestamp:     start.Add(time.Duration(i+1) * time.Minute),
			ParticipantID: participant,
			Level:         "Gut",
			Group:         "A",
			ItemIndex:     i + 1,
			Filename:      fmt.Sprintf("A_%d.png", i+1),
			Description:   fmt.Sprintf("Beschreibung %d, mit Komma", i+1),
			Ratings:       map[model.Dimension]int{"comprehensibility": 1, "processing_speed": 2, "boredom": 3, "excitement": 4},
			SessionStart:  start,
		}
	}
	return out
}

func rowsOf(t *testing.T, s *Sink, participant string) int {
	t.Helper()
	all, err := s.ReadAll(context.Background())
	require.NoError(t, err)
	n := 0
	for _, rec := range all[1:] {
		if rec[1] == participant {
			n++
		}
	}
	return n
}

func TestAppendCreatesHeader(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemStore()
	s := New(mem, Options{Key: "results.csv", Schema: schema})

	require.NoError(t, s.Append(ctx, rows("p1", 2)))

	all, err := s.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, schema.Header(), all[0])
	assert.Equal(t, "Beschreibung 1, mit Komma", all[1][6])
	assert.Equal(t, "1", all[1][4])
	assert.Equal(t, "2", all[2][4])
}

func TestAppendMergesWithExistingContent(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemStore()
	s := New(mem, Options{Key: "results.csv", Schema: schema})

	require.NoError(t, s.Append(ctx, rows("p1", 2)))
	require.NoError(t, s.Append(ctx, rows("p2", 3)))

	all, _ := s.ReadAll(ctx)
	assert.Len(t, all, 1+2+3)
	assert.Equal(t, 2, rowsOf(t, s, "p1"))
	assert.Equal(t, 3, rowsOf(t, s, "p2"))
}

func TestAppendEmptyIsNoop(t *testing.T) {
	mem := store.NewMemStore()
	s := New(mem, Options{Key: "results.csv", Schema: schema})
	require.NoError(t, s.Append(context.Background(), nil))

	_, err := mem.Fetch(context.Background(), "results.csv")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// interleaving runs another session's append right before the first Put of
// the wrapped session, so that Put hits a version conflict.
type interleaving struct {
	store.ObjectStore
	once  sync.Once
	other func() error
	puts  int
}

func (i *interleaving) Put(ctx context.Context, key string, content []byte, version int64) (int64, error) {
	var err error
	i.once.Do(func() { err = i.other() })
	if err != nil {
		return 0, err
	}
	i.puts++
	return i.ObjectStore.Put(ctx, key, content, version)
}

func TestAppendRetriesAfterConflictWithoutLoss(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemStore()
	second := New(mem, Options{Key: "results.csv", Schema: schema})

	wrapped := &interleaving{ObjectStore: mem, other: func() error {
		return second.Append(ctx, rows("p2", 3))
	}}
	first := New(wrapped, Options{Key: "results.csv", Schema: schema})

	require.NoError(t, first.Append(ctx, rows("p1", 2)))
	assert.Equal(t, 2, wrapped.puts, "first put conflicts, second succeeds")

	all, err := first.ReadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1+2+3)
	assert.Equal(t, 2, rowsOf(t, first, "p1"))
	assert.Equal(t, 3, rowsOf(t, first, "p2"))

	headers := 0
	for _, rec := range all {
		if rec[0] == "timestamp" {
			headers++
		}
	}
	assert.Equal(t, 1, headers)
}

type alwaysConflict struct{ store.ObjectStore }

func (alwaysConflict) Put(context.Context, string, []byte, int64) (int64, error) {
	return 0, store.ErrVersionConflict
}

func TestAppendConflictExhausted(t *testing.T) {
	s := New(alwaysConflict{store.NewMemStore()}, Options{Key: "results.csv", Schema: schema})

	err := s.Append(context.Background(), rows("p1", 1))
	require.Error(t, err)
	assert.ErrorIs(t, err, survey.ErrSinkConflict)

	var se *survey.SinkError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, DefaultMaxAttempts, se.Attempts)
}

type brokenStore struct {
	fetchErr error
	putErr   error
}

func (b brokenStore) Fetch(context.Context, string) (*store.Object, error) {
	if b.fetchErr != nil {
		return nil, b.fetchErr
	}
	return nil, store.ErrNotFound
}

func (b brokenStore) Put(context.Context, string, []byte, int64) (int64, error) {
	return 0, b.putErr
}

func TestAppendUnavailable(t *testing.T) {
	for name, bs := range map[string]brokenStore{
		"fetch": {fetchErr: errors.New("connection refused")},
		"put":   {putErr: errors.New("503 backend error")},
	} {
		err := New(bs, Options{Key: "results.csv", Schema: schema}).Append(context.Background(), rows("p1", 1))
		assert.ErrorIs(t, err, survey.ErrSinkUnavailable, name)
		assert.NotErrorIs(t, err, survey.ErrSinkConflict, name)
	}
}

type slowStore struct{ store.ObjectStore }

func (slowStore) Fetch(ctx context.Context, _ string) (*store.Object, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestAppendTimeoutIsUnavailable(t *testing.T) {
	s := New(slowStore{}, Options{Key: "results.csv", Schema: schema, Timeout: 20 * time.Millisecond})
	err := s.Append(context.Background(), rows("p1", 1))
	assert.ErrorIs(t, err, survey.ErrSinkUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAppendRejectsForeignHeader(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemStore()
	_, err := mem.Put(ctx, "results.csv", []byte("comic,beschreibung\nc1.png,x\n"), 0)
	require.NoError(t, err)

	err = New(mem, Options{Key: "results.csv", Schema: schema}).Append(ctx, rows("p1", 1))
	assert.ErrorIs(t, err, survey.ErrSinkUnavailable)

	obj, _ := mem.Fetch(ctx, "results.csv")
	assert.Equal(t, "comic,beschreibung\nc1.png,x\n", string(obj.Content))
}

func TestAppendRepairsMissingTrailingNewline(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemStore()
	header := strings.Join(schema.Header(), ",")
	_, err := mem.Put(ctx, "results.csv", []byte(header), 0)
	require.NoError(t, err)

	s := New(mem, Options{Key: "results.csv", Schema: schema})
	require.NoError(t, s.Append(ctx, rows("p1", 1)))

	all, err := s.ReadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestConcurrentSessionsKeepEveryRow(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemStore()
	s := New(mem, Options{Key: "results.csv", Schema: schema, MaxAttempts: 100})

	var eg errgroup.Group
	for p := 0; p < 8; p++ {
		id := fmt.Sprintf("p%d", p)
		eg.Go(func() error { return s.Append(ctx, rows(id, p+1)) })
	}
	require.NoError(t, eg.Wait())

	all, err := s.ReadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1+36)
	for p := 0; p < 8; p++ {
		assert.Equal(t, p+1, rowsOf(t, s, fmt.Sprintf("p%d", p)))
	}
}

func TestReadAllEmptyStore(t *testing.T) {
	all, err := New(store.NewMemStore(), Options{Key: "results.csv", Schema: schema}).ReadAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, [][]string{schema.Header()}, all)
}
