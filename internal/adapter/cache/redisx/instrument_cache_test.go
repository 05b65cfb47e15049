package redisx

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInstrumentRepo struct {
	known map[string]struct{}
	calls [][]string
}

func (f *fakeInstrumentRepo) FilterUnknown(_ context.Context, symbols []string) ([]string, error) {
	f.calls = append(f.calls, append([]string(nil), symbols...))
	var unknown []string
	for _, s := range symbols {
		if _, ok := f.known[s]; !ok {
			unknown = append(unknown, s)
		}
	}
	return unknown, nil
}

func newTestCache(t *testing.T, repo *fakeInstrumentRepo) *InstrumentCache {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewInstrumentCache(rdb, repo, time.Minute)
}

func TestFilterUnknownCachesKnownSymbols(t *testing.T) {
	t.Parallel()
	repo := &fakeInstrumentRepo{known: map[string]struct{}{"AAPL": {}, "MSFT": {}}}
	c := newTestCache(t, repo)
	ctx := context.Background()

	unknown, err := c.FilterUnknown(ctx, []string{"AAPL", "MSFT", "ZZZZ"})
	require.NoError(t, err)
	assert.Equal(t, []string{"ZZZZ"}, unknown)
	require.Len(t, repo.calls, 1)

	// Second lookup: the known symbols are served from cache, only the
	// unknown one reaches the backing store.
	unknown, err = c.FilterUnknown(ctx, []string{"AAPL", "MSFT", "ZZZZ"})
	require.NoError(t, err)
	assert.Equal(t, []string{"ZZZZ"}, unknown)
	require.Len(t, repo.calls, 2)
	assert.Equal(t, []string{"ZZZZ"}, repo.calls[1])
}

func TestFilterUnknownAllCachedSkipsStore(t *testing.T) {
	t.Parallel()
	repo := &fakeInstrumentRepo{known: map[string]struct{}{"AAPL": {}}}
	c := newTestCache(t, repo)
	ctx := context.Background()

	_, err := c.FilterUnknown(ctx, []string{"AAPL"})
	require.NoError(t, err)
	unknown, err := c.FilterUnknown(ctx, []string{"AAPL"})
	require.NoError(t, err)
	assert.Empty(t, unknown)
	assert.Len(t, repo.calls, 1, "fully cached lookup must not hit the store")
}

func TestFilterUnknownEmptyInput(t *testing.T) {
	t.Parallel()
	repo := &fakeInstrumentRepo{}
	c := newTestCache(t, repo)
	unknown, err := c.FilterUnknown(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, unknown)
	assert.Empty(t, repo.calls)
}
