// Package invalidation purges every cache key a committed mutation can make
// stale.
//
// Rules are pure: PlanFor turns an Event into a Plan without touching the
// store. Service executes a plan, running each key delete and pattern purge
// concurrently and independently. A failed target is logged and reported but
// never stops the others; whatever is left behind still expires by TTL.
package invalidation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"prompt-cache/internal/common/errors"
	"prompt-cache/internal/common/logging"
	"prompt-cache/internal/metrics"
	"prompt-cache/internal/store"
)

// Config holds fan-out configuration
type Config struct {
	// Concurrency caps the purge targets in flight for one event.
	Concurrency int
	Metrics     *metrics.Recorder
	Logger      logging.Logger
}

// Service executes invalidation plans against a store.
type Service struct {
	store       store.Store
	concurrency int
	metrics     *metrics.Recorder
	logger      logging.Logger
}

// NewService creates a fan-out service over s.
func NewService(s store.Store, config Config) *Service {
	if config.Concurrency <= 0 {
		config.Concurrency = 16
	}
	return &Service{
		store:       s,
		concurrency: config.Concurrency,
		metrics:     config.Metrics,
		logger:      logging.Component(config.Logger, "invalidation"),
	}
}

// Report describes one executed fan-out.
type Report struct {
	Event    Event         `json:"event"`
	Keys     []string      `json:"keys"`
	Patterns []string      `json:"patterns"`
	Purged   int64         `json:"purged"`
	Failed   []string      `json:"failed,omitempty"`
	Duration time.Duration `json:"duration_ns"`
	// Err aggregates every failed target; nil when all succeeded.
	Err error `json:"-"`
}

// OK reports whether every target was purged.
func (r Report) OK() bool {
	return r.Err == nil
}

// Invalidate plans and executes the fan-out for e. The purge is detached from
// ctx cancellation so an abandoned request cannot leave it half done; each
// store call stays bounded by the store timeout.
func (s *Service) Invalidate(ctx context.Context, e Event) Report {
	plan := PlanFor(e)
	report := s.execute(context.WithoutCancel(ctx), string(e.Kind), plan)
	report.Event = e

	logger := s.logger.WithContext(ctx).WithFields(
		logging.String("kind", string(e.Kind)),
		logging.String("op", string(e.Op)),
		logging.String("id", e.ID),
	)
	if report.OK() {
		logger.Debug("Cache invalidated",
			logging.Int("targets", plan.Size()),
			logging.Int64("purged", report.Purged),
			logging.Duration("duration", report.Duration),
		)
	} else {
		logger.Warn("Cache invalidation incomplete",
			logging.Strings("failed", report.Failed),
			logging.Err(report.Err),
		)
	}
	return report
}

// AfterWrite runs write and, only once it has succeeded, invalidates e. The
// data store is always updated before caches are purged, never the reverse.
func (s *Service) AfterWrite(ctx context.Context, write func(ctx context.Context) error, e Event) (Report, error) {
	if err := write(ctx); err != nil {
		return Report{Event: e}, err
	}
	return s.Invalidate(ctx, e), nil
}

func (s *Service) execute(ctx context.Context, kind string, plan Plan) Report {
	start := time.Now()
	report := Report{Keys: plan.Keys, Patterns: plan.Patterns}

	var mu sync.Mutex
	fail := func(target string, err error) {
		mu.Lock()
		defer mu.Unlock()
		report.Failed = append(report.Failed, target)
		report.Err = multierr.Append(report.Err, err)
	}

	var g errgroup.Group
	g.SetLimit(s.concurrency)

	for _, key := range plan.Keys {
		key := key
		g.Go(func() error {
			ok := s.store.Delete(ctx, key)
			s.metrics.ObserveInvalidation(kind, "key", ok, 0)
			if !ok {
				fail(key, errors.UnavailableError(fmt.Sprintf("failed to delete key %s", key), nil))
			}
			return nil
		})
	}

	for _, pattern := range plan.Patterns {
		pattern := pattern
		g.Go(func() error {
			n, ok := s.store.DeletePattern(ctx, pattern)
			s.metrics.ObserveInvalidation(kind, "pattern", ok, n)
			mu.Lock()
			report.Purged += n
			mu.Unlock()
			if !ok {
				fail(pattern, errors.UnavailableError(fmt.Sprintf("failed to purge pattern %s", pattern), nil))
			}
			return nil
		})
	}

	// Targets never return errors to the group; failures are collected above.
	_ = g.Wait()

	sort.Strings(report.Failed)
	report.Duration = time.Since(start)
	return report
}

// Prompt entry points

func (s *Service) OnPromptCreate(ctx context.Context, promptID, ownerID, folderID string, tagIDs []string) Report {
	return s.Invalidate(ctx, Event{Kind: KindPrompt, Op: OpCreate, ID: promptID, OwnerID: ownerID, FolderID: folderID, TagIDs: tagIDs})
}

func (s *Service) OnPromptUpdate(ctx context.Context, promptID, ownerID, folderID string, tagIDs []string) Report {
	return s.Invalidate(ctx, Event{Kind: KindPrompt, Op: OpUpdate, ID: promptID, OwnerID: ownerID, FolderID: folderID, TagIDs: tagIDs})
}

// OnPromptMove is OnPromptUpdate for an update that changed the prompt's
// folder or tags. The from ids are the placement before the update.
func (s *Service) OnPromptMove(ctx context.Context, promptID, ownerID, fromFolderID, toFolderID string, fromTagIDs, toTagIDs []string) Report {
	return s.Invalidate(ctx, Event{
		Kind:             KindPrompt,
		Op:               OpUpdate,
		ID:               promptID,
		OwnerID:          ownerID,
		FolderID:         toFolderID,
		TagIDs:           toTagIDs,
		PreviousFolderID: fromFolderID,
		PreviousTagIDs:   fromTagIDs,
	})
}

func (s *Service) OnPromptDelete(ctx context.Context, promptID, ownerID, folderID string, tagIDs []string) Report {
	return s.Invalidate(ctx, Event{Kind: KindPrompt, Op: OpDelete, ID: promptID, OwnerID: ownerID, FolderID: folderID, TagIDs: tagIDs})
}

func (s *Service) OnVersionCreate(ctx context.Context, versionID, promptID, ownerID string) Report {
	return s.Invalidate(ctx, Event{Kind: KindVersion, Op: OpCreate, ID: versionID, PromptID: promptID, OwnerID: ownerID})
}

// Folder entry points

func (s *Service) OnFolderCreate(ctx context.Context, folderID, ownerID string) Report {
	return s.Invalidate(ctx, Event{Kind: KindFolder, Op: OpCreate, ID: folderID, OwnerID: ownerID})
}

func (s *Service) OnFolderUpdate(ctx context.Context, folderID, ownerID string) Report {
	return s.Invalidate(ctx, Event{Kind: KindFolder, Op: OpUpdate, ID: folderID, OwnerID: ownerID})
}

func (s *Service) OnFolderDelete(ctx context.Context, folderID, ownerID string) Report {
	return s.Invalidate(ctx, Event{Kind: KindFolder, Op: OpDelete, ID: folderID, OwnerID: ownerID})
}

// Tag entry points

func (s *Service) OnTagCreate(ctx context.Context, tagID, ownerID string) Report {
	return s.Invalidate(ctx, Event{Kind: KindTag, Op: OpCreate, ID: tagID, OwnerID: ownerID})
}

func (s *Service) OnTagUpdate(ctx context.Context, tagID, ownerID string) Report {
	return s.Invalidate(ctx, Event{Kind: KindTag, Op: OpUpdate, ID: tagID, OwnerID: ownerID})
}

func (s *Service) OnTagDelete(ctx context.Context, tagID, ownerID string) Report {
	return s.Invalidate(ctx, Event{Kind: KindTag, Op: OpDelete, ID: tagID, OwnerID: ownerID})
}

// User entry points

func (s *Service) OnUserUpdate(ctx context.Context, userID string) Report {
	return s.Invalidate(ctx, Event{Kind: KindUser, Op: OpUpdate, ID: userID})
}

func (s *Service) OnUserDelete(ctx context.Context, userID string) Report {
	return s.Invalidate(ctx, Event{Kind: KindUser, Op: OpDelete, ID: userID})
}

// Like and comment entry points

func (s *Service) OnLikeCreate(ctx context.Context, promptID, likerID, ownerID string) Report {
	return s.Invalidate(ctx, Event{Kind: KindLike, Op: OpCreate, PromptID: promptID, ActorID: likerID, OwnerID: ownerID})
}

func (s *Service) OnLikeDelete(ctx context.Context, promptID, likerID, ownerID string) Report {
	return s.Invalidate(ctx, Event{Kind: KindLike, Op: OpDelete, PromptID: promptID, ActorID: likerID, OwnerID: ownerID})
}

func (s *Service) OnCommentCreate(ctx context.Context, commentID, promptID, authorID, ownerID string) Report {
	return s.Invalidate(ctx, Event{Kind: KindComment, Op: OpCreate, ID: commentID, PromptID: promptID, ActorID: authorID, OwnerID: ownerID})
}

func (s *Service) OnCommentUpdate(ctx context.Context, commentID, promptID, authorID, ownerID string) Report {
	return s.Invalidate(ctx, Event{Kind: KindComment, Op: OpUpdate, ID: commentID, PromptID: promptID, ActorID: authorID, OwnerID: ownerID})
}

func (s *Service) OnCommentDelete(ctx context.Context, commentID, promptID, authorID, ownerID string) Report {
	return s.Invalidate(ctx, Event{Kind: KindComment, Op: OpDelete, ID: commentID, PromptID: promptID, ActorID: authorID, OwnerID: ownerID})
}
