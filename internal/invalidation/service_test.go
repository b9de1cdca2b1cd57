package invalidation

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prompt-cache/internal/cacheaside"
	"prompt-cache/internal/common/logging"
	"prompt-cache/internal/store"
)

func newTestService(t *testing.T) (*Service, store.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	s := store.NewRedisStore(client, store.Config{ScanBatch: 2, Logger: logging.NewNopLogger()})
	t.Cleanup(func() { _ = s.Close() })
	return NewService(s, Config{Concurrency: 4, Logger: logging.NewNopLogger()}), s, mr
}

// failingStore fails deletes for selected targets and passes the rest through.
type failingStore struct {
	store.Store
	failKey     string
	failPattern string
}

func (f *failingStore) Delete(ctx context.Context, keys ...string) bool {
	for _, k := range keys {
		if k == f.failKey {
			return false
		}
	}
	return f.Store.Delete(ctx, keys...)
}

func (f *failingStore) DeletePattern(ctx context.Context, pattern string) (int64, bool) {
	if pattern == f.failPattern {
		return 0, false
	}
	return f.Store.DeletePattern(ctx, pattern)
}

func TestOnPromptUpdate_PurgesEveryDerivedKey(t *testing.T) {
	svc, _, mr := newTestService(t)
	stale := []string{
		"prompt:P",
		"prompt:P:versions",
		"user:U:dashboard",
		"user:U:stats",
		"user:U:prompts:page=1",
		"tag:T:prompts:page=2",
		"marketplace:list",
		"marketplace:list:page=3&sort=top",
		"search:results:q=go",
	}
	for _, k := range stale {
		require.NoError(t, mr.Set(k, "pre-mutation"))
	}
	require.NoError(t, mr.Set("prompt:Q", "unrelated"))
	require.NoError(t, mr.Set("user:V:stats", "unrelated"))

	report := svc.OnPromptUpdate(context.Background(), "P", "U", "", []string{"T"})

	require.True(t, report.OK(), "failed: %v", report.Failed)
	for _, k := range stale {
		assert.False(t, mr.Exists(k), "%s survived invalidation", k)
	}
	assert.True(t, mr.Exists("prompt:Q"))
	assert.True(t, mr.Exists("user:V:stats"))
	assert.Equal(t, int64(5), report.Purged)
	assert.Equal(t, Event{Kind: KindPrompt, Op: OpUpdate, ID: "P", OwnerID: "U", TagIDs: []string{"T"}}, report.Event)
}

func TestOnPromptMove_PurgesOldAndNewPlacement(t *testing.T) {
	svc, _, mr := newTestService(t)
	stale := []string{
		"folder:F1",
		"folder:F1:prompts:page=1",
		"folder:F2:prompts:page=1",
		"tag:T1:prompts",
		"tag:T2:prompts:page=2",
	}
	for _, k := range stale {
		require.NoError(t, mr.Set(k, "pre-move"))
	}
	require.NoError(t, mr.Set("folder:F3:prompts:page=1", "unrelated"))

	report := svc.OnPromptMove(context.Background(), "P", "U", "F1", "F2", []string{"T1"}, []string{"T2"})

	require.True(t, report.OK(), "failed: %v", report.Failed)
	for _, k := range stale {
		assert.False(t, mr.Exists(k), "%s survived invalidation", k)
	}
	assert.True(t, mr.Exists("folder:F3:prompts:page=1"))
	assert.Equal(t, "F1", report.Event.PreviousFolderID)
	assert.Equal(t, []string{"T1"}, report.Event.PreviousTagIDs)
}

func TestInvalidate_ContinuesPastFailures(t *testing.T) {
	_, base, mr := newTestService(t)
	fs := &failingStore{Store: base, failKey: "prompt:P", failPattern: "search:results*"}
	svc := NewService(fs, Config{Logger: logging.NewNopLogger()})

	require.NoError(t, mr.Set("prompt:P", "stale"))
	require.NoError(t, mr.Set("user:U:stats", "stale"))
	require.NoError(t, mr.Set("marketplace:list:page=1", "stale"))
	require.NoError(t, mr.Set("search:results:q=x", "stale"))

	report := svc.OnPromptUpdate(context.Background(), "P", "U", "", nil)

	assert.False(t, report.OK())
	assert.Equal(t, []string{"prompt:P", "search:results*"}, report.Failed)
	assert.Error(t, report.Err)

	assert.False(t, mr.Exists("user:U:stats"))
	assert.False(t, mr.Exists("marketplace:list:page=1"))
	assert.True(t, mr.Exists("prompt:P"))
	assert.True(t, mr.Exists("search:results:q=x"))
}

func TestInvalidate_StoreDownReportsFailures(t *testing.T) {
	svc, _, mr := newTestService(t)
	mr.Close()

	report := svc.OnUserUpdate(context.Background(), "42")

	assert.False(t, report.OK())
	assert.NotEmpty(t, report.Failed)
}

func TestInvalidate_IgnoresCallerCancellation(t *testing.T) {
	svc, _, mr := newTestService(t)
	require.NoError(t, mr.Set("tag:T", "stale"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := svc.OnTagUpdate(ctx, "T", "U")
	assert.True(t, report.OK())
	assert.False(t, mr.Exists("tag:T"))
}

func TestAfterWrite(t *testing.T) {
	svc, _, mr := newTestService(t)
	ctx := context.Background()

	t.Run("write failure skips fan-out", func(t *testing.T) {
		require.NoError(t, mr.Set("folder:F", "stale"))
		boom := errors.New("constraint violation")

		_, err := svc.AfterWrite(ctx, func(context.Context) error { return boom },
			Event{Kind: KindFolder, Op: OpUpdate, ID: "F", OwnerID: "U"})

		assert.ErrorIs(t, err, boom)
		assert.True(t, mr.Exists("folder:F"))
	})

	t.Run("write happens before purge", func(t *testing.T) {
		require.NoError(t, mr.Set("folder:F", "stale"))
		var existedDuringWrite bool

		report, err := svc.AfterWrite(ctx, func(context.Context) error {
			existedDuringWrite = mr.Exists("folder:F")
			return nil
		}, Event{Kind: KindFolder, Op: OpUpdate, ID: "F", OwnerID: "U"})

		require.NoError(t, err)
		assert.True(t, report.OK())
		assert.True(t, existedDuringWrite)
		assert.False(t, mr.Exists("folder:F"))
	})
}

func TestEntryPointsBuildEvents(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		got  Report
		want Event
	}{
		{"prompt create", svc.OnPromptCreate(ctx, "P", "U", "F", nil), Event{Kind: KindPrompt, Op: OpCreate, ID: "P", OwnerID: "U", FolderID: "F"}},
		{"prompt move", svc.OnPromptMove(ctx, "P", "U", "F1", "F2", nil, []string{"T"}), Event{Kind: KindPrompt, Op: OpUpdate, ID: "P", OwnerID: "U", FolderID: "F2", TagIDs: []string{"T"}, PreviousFolderID: "F1"}},
		{"prompt delete", svc.OnPromptDelete(ctx, "P", "U", "", nil), Event{Kind: KindPrompt, Op: OpDelete, ID: "P", OwnerID: "U"}},
		{"version create", svc.OnVersionCreate(ctx, "V", "P", "U"), Event{Kind: KindVersion, Op: OpCreate, ID: "V", PromptID: "P", OwnerID: "U"}},
		{"folder create", svc.OnFolderCreate(ctx, "F", "U"), Event{Kind: KindFolder, Op: OpCreate, ID: "F", OwnerID: "U"}},
		{"folder delete", svc.OnFolderDelete(ctx, "F", "U"), Event{Kind: KindFolder, Op: OpDelete, ID: "F", OwnerID: "U"}},
		{"tag create", svc.OnTagCreate(ctx, "T", "U"), Event{Kind: KindTag, Op: OpCreate, ID: "T", OwnerID: "U"}},
		{"tag delete", svc.OnTagDelete(ctx, "T", "U"), Event{Kind: KindTag, Op: OpDelete, ID: "T", OwnerID: "U"}},
		{"user delete", svc.OnUserDelete(ctx, "U"), Event{Kind: KindUser, Op: OpDelete, ID: "U"}},
		{"like create", svc.OnLikeCreate(ctx, "P", "A", "U"), Event{Kind: KindLike, Op: OpCreate, PromptID: "P", ActorID: "A", OwnerID: "U"}},
		{"like delete", svc.OnLikeDelete(ctx, "P", "A", "U"), Event{Kind: KindLike, Op: OpDelete, PromptID: "P", ActorID: "A", OwnerID: "U"}},
		{"comment create", svc.OnCommentCreate(ctx, "C", "P", "A", "U"), Event{Kind: KindComment, Op: OpCreate, ID: "C", PromptID: "P", ActorID: "A", OwnerID: "U"}},
		{"comment update", svc.OnCommentUpdate(ctx, "C", "P", "A", "U"), Event{Kind: KindComment, Op: OpUpdate, ID: "C", PromptID: "P", ActorID: "A", OwnerID: "U"}},
		{"comment delete", svc.OnCommentDelete(ctx, "C", "P", "A", "U"), Event{Kind: KindComment, Op: OpDelete, ID: "C", PromptID: "P", ActorID: "A", OwnerID: "U"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got.Event)
			assert.True(t, tt.got.OK())
			assert.NotEmpty(t, append(tt.got.Keys, tt.got.Patterns...))
		})
	}
}

// A cached user stats read is served from the cache until the user is
// updated, after which the next read goes back to the source of truth.
func TestUserStatsScenario(t *testing.T) {
	svc, s, mr := newTestService(t)
	o := cacheaside.New(s, cacheaside.Config{Logger: logging.NewNopLogger()})
	ctx := context.Background()

	type userStats struct {
		Prompts int `json:"prompts"`
	}
	var calls int32
	fetchStats := func(context.Context) (userStats, error) {
		n := atomic.AddInt32(&calls, 1)
		return userStats{Prompts: int(n)}, nil
	}

	first, err := cacheaside.Resolve(ctx, o, "user:42:stats", 1800*time.Second, fetchStats, cacheaside.Options{})
	require.NoError(t, err)
	o.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.True(t, mr.Exists("user:42:stats"))

	mr.FastForward(10 * time.Minute)
	second, err := cacheaside.Resolve(ctx, o, "user:42:stats", 1800*time.Second, fetchStats, cacheaside.Options{})
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	report := svc.OnUserUpdate(ctx, "42")
	require.True(t, report.OK())
	assert.False(t, mr.Exists("user:42:stats"))

	third, err := cacheaside.Resolve(ctx, o, "user:42:stats", 1800*time.Second, fetchStats, cacheaside.Options{})
	require.NoError(t, err)
	o.Wait()
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, 2, third.Prompts)
}
