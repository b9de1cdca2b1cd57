package cacheaside

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prompt-cache/internal/common/logging"
	"prompt-cache/internal/keys"
	"prompt-cache/internal/store"
	"prompt-cache/internal/ttl"
)

type stats struct {
	Prompts int `json:"prompts"`
	Likes   int `json:"likes"`
}

func newRedisOrchestrator(t *testing.T, config Config) (*Orchestrator, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	s := store.NewRedisStore(client, store.Config{Timeout: 100 * time.Millisecond, Logger: logging.NewNopLogger()})
	t.Cleanup(func() { _ = s.Close() })

	config.Logger = logging.NewNopLogger()
	return New(s, config), mr
}

func countingFetch(calls *int32, value stats) func(context.Context) (stats, error) {
	return func(context.Context) (stats, error) {
		atomic.AddInt32(calls, 1)
		return value, nil
	}
}

func TestResolve_MissThenHit(t *testing.T) {
	o, mr := newRedisOrchestrator(t, Config{})
	ctx := context.Background()
	var calls int32
	fetch := countingFetch(&calls, stats{Prompts: 3, Likes: 9})

	got, err := Resolve(ctx, o, "user:42:stats", 30*time.Minute, fetch, Options{})
	require.NoError(t, err)
	assert.Equal(t, stats{Prompts: 3, Likes: 9}, got)
	o.Wait()

	assert.True(t, mr.Exists("user:42:stats"))
	assert.Equal(t, 30*time.Minute, mr.TTL("user:42:stats"))

	got, err = Resolve(ctx, o, "user:42:stats", 30*time.Minute, fetch, Options{})
	require.NoError(t, err)
	assert.Equal(t, stats{Prompts: 3, Likes: 9}, got)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestResolve_RefetchesAfterExpiry(t *testing.T) {
	o, mr := newRedisOrchestrator(t, Config{})
	ctx := context.Background()
	var calls int32
	fetch := countingFetch(&calls, stats{Prompts: 1})

	_, _ = Resolve(ctx, o, "k", time.Minute, fetch, Options{})
	o.Wait()
	mr.FastForward(time.Minute + time.Second)

	_, _ = Resolve(ctx, o, "k", time.Minute, fetch, Options{})
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestResolve_SkipCache(t *testing.T) {
	o, mr := newRedisOrchestrator(t, Config{})
	require.NoError(t, mr.Set("k", `{"prompts":100}`))
	var calls int32

	got, err := Resolve(context.Background(), o, "k", time.Minute, countingFetch(&calls, stats{Prompts: 1}), Options{SkipCache: true})
	require.NoError(t, err)
	o.Wait()

	assert.Equal(t, 1, got.Prompts)
	assert.Equal(t, int32(1), calls)
	v, _ := mr.Get("k")
	assert.Equal(t, `{"prompts":100}`, v)
}

func TestResolve_ForceRefresh(t *testing.T) {
	o, mr := newRedisOrchestrator(t, Config{})
	require.NoError(t, mr.Set("k", `{"prompts":100,"likes":0}`))
	var calls int32

	got, err := Resolve(context.Background(), o, "k", time.Minute, countingFetch(&calls, stats{Prompts: 2}), Options{ForceRefresh: true})
	require.NoError(t, err)
	o.Wait()

	assert.Equal(t, 2, got.Prompts)
	v, _ := mr.Get("k")
	assert.JSONEq(t, `{"prompts":2,"likes":0}`, v)
}

func TestResolve_FailsOpenWhenStoreDown(t *testing.T) {
	o, mr := newRedisOrchestrator(t, Config{})
	mr.Close()
	var calls int32

	got, err := Resolve(context.Background(), o, "k", time.Minute, countingFetch(&calls, stats{Prompts: 7}), Options{})
	o.Wait()

	require.NoError(t, err)
	assert.Equal(t, 7, got.Prompts)
	assert.Equal(t, int32(1), calls)
}

func TestResolve_UndecodableEntryIsMiss(t *testing.T) {
	o, mr := newRedisOrchestrator(t, Config{})
	require.NoError(t, mr.Set("k", "not json"))
	var calls int32

	got, err := Resolve(context.Background(), o, "k", time.Minute, countingFetch(&calls, stats{Likes: 4}), Options{})
	require.NoError(t, err)
	o.Wait()

	assert.Equal(t, 4, got.Likes)
	v, _ := mr.Get("k")
	assert.JSONEq(t, `{"prompts":0,"likes":4}`, v)
}

func TestResolve_FetchErrorIsReturnedAndNotCached(t *testing.T) {
	o, mr := newRedisOrchestrator(t, Config{})
	boom := errors.New("database unavailable")

	_, err := Resolve(context.Background(), o, "k", time.Minute, func(context.Context) (stats, error) {
		return stats{}, boom
	}, Options{})
	o.Wait()

	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists("k"))
}

func TestResolve_NullIsNotCached(t *testing.T) {
	o, mr := newRedisOrchestrator(t, Config{})

	got, err := Resolve(context.Background(), o, "prompt:gone", time.Minute, func(context.Context) (*stats, error) {
		return nil, nil
	}, Options{})
	o.Wait()

	require.NoError(t, err)
	assert.Nil(t, got)
	assert.False(t, mr.Exists("prompt:gone"))
}

func TestResolve_NonPositiveTTLUsesShortTier(t *testing.T) {
	o, mr := newRedisOrchestrator(t, Config{})
	var calls int32

	_, _ = Resolve(context.Background(), o, "k", 0, countingFetch(&calls, stats{}), Options{})
	o.Wait()

	assert.Equal(t, ttl.DefaultShort, mr.TTL("k"))
}

func TestResolve_ConcurrentMissesAreNotCoalescedByDefault(t *testing.T) {
	s := store.NewMemoryStore(store.Config{Logger: logging.NewNopLogger()})
	o := New(s, Config{Logger: logging.NewNopLogger()})

	const callers = 5
	var calls int32
	release := make(chan struct{})
	fetch := func(context.Context) (stats, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return stats{Prompts: 1}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = Resolve(context.Background(), o, "hot", time.Minute, fetch, Options{})
		}()
	}

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == callers }, time.Second, 5*time.Millisecond)
	close(release)
	wg.Wait()
	o.Wait()
}

func TestResolve_CoalesceSharesOneFetch(t *testing.T) {
	s := store.NewMemoryStore(store.Config{Logger: logging.NewNopLogger()})
	o := New(s, Config{Coalesce: true, Logger: logging.NewNopLogger()})

	const callers = 5
	var calls int32
	var started sync.WaitGroup
	started.Add(callers)
	release := make(chan struct{})
	fetch := func(context.Context) (stats, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return stats{Prompts: 1}, nil
	}

	results := make([]stats, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			started.Done()
			results[i], _ = Resolve(context.Background(), o, "hot", time.Minute, fetch, Options{})
		}(i)
	}

	started.Wait()
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	o.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	for _, r := range results {
		assert.Equal(t, 1, r.Prompts)
	}
}

func TestResolveFamily(t *testing.T) {
	o, mr := newRedisOrchestrator(t, Config{Policy: ttl.NewPolicy(map[ttl.Tier]time.Duration{ttl.Medium: 20 * time.Minute})})
	var calls int32

	_, err := ResolveFamily(context.Background(), o, keys.UserStats, "42", nil, countingFetch(&calls, stats{}), Options{})
	require.NoError(t, err)
	o.Wait()

	assert.Equal(t, 20*time.Minute, mr.TTL("user:42:stats"))
}

func TestInvalidate(t *testing.T) {
	o, mr := newRedisOrchestrator(t, Config{})
	require.NoError(t, mr.Set("k", "{}"))

	assert.True(t, o.Invalidate(context.Background(), "k"))
	assert.False(t, mr.Exists("k"))
}

func TestLoadManyAndStoreMany(t *testing.T) {
	o, mr := newRedisOrchestrator(t, Config{})
	ctx := context.Background()

	require.True(t, StoreMany(ctx, o, map[string]stats{
		"prompt:1": {Likes: 1},
		"prompt:2": {Likes: 2},
	}, time.Hour))
	require.NoError(t, mr.Set("prompt:3", "garbage"))

	found, missing := LoadMany[stats](ctx, o, []string{"prompt:1", "prompt:2", "prompt:3", "prompt:4"})
	assert.Equal(t, map[string]stats{"prompt:1": {Likes: 1}, "prompt:2": {Likes: 2}}, found)
	assert.Equal(t, []string{"prompt:3", "prompt:4"}, missing)
	assert.Equal(t, time.Hour, mr.TTL("prompt:1"))
}
