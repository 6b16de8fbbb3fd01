package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/venuedesk/venuedesk/internal/platform/cache"
	"github.com/venuedesk/venuedesk/internal/rbac"
	"github.com/venuedesk/venuedesk/internal/shared"
)

// CacheTag groups every cached snapshot so one purge drops them all.
const CacheTag = "dashboard"

// DefaultTTL is how long a snapshot is served from cache.
const DefaultTTL = 60 * time.Second

// DefaultBuildTimeout bounds one shared snapshot build.
const DefaultBuildTimeout = 30 * time.Second

// ErrNotAuthenticated is returned when the requesting user cannot be resolved.
var ErrNotAuthenticated = shared.ErrNotAuthenticated

// UserResolver maps the session user to an active account.
type UserResolver interface {
	ActiveUser(ctx context.Context, raw string) (uuid.UUID, error)
}

// PermissionResolver loads a user's permission map.
type PermissionResolver interface {
	Resolve(ctx context.Context, userID uuid.UUID) (rbac.PermissionMap, error)
}

// Recorder receives dashboard instrumentation; *observability.Metrics satisfies it.
type Recorder interface {
	ModuleFailed(module string)
	SnapshotCache(result string)
	SnapshotBuilt(d time.Duration)
}

type noopRecorder struct{}

func (noopRecorder) ModuleFailed(string) {}

func (noopRecorder) SnapshotCache(string) {}

func (noopRecorder) SnapshotBuilt(time.Duration) {}

// Service assembles, caches and invalidates dashboard snapshots.
type Service struct {
	repo     Repository
	users    UserResolver
	perms    PermissionResolver
	cache    cache.TagCache
	logger   *slog.Logger
	metrics  Recorder
	ttl      time.Duration
	budget   time.Duration
	now      func() time.Time
	group    singleflight.Group
	fetchers []fetcher
}

// NewService wires the snapshot aggregator. tagCache may be nil to disable caching.
func NewService(repo Repository, users UserResolver, perms PermissionResolver, tagCache cache.TagCache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		users:    users,
		perms:    perms,
		cache:    tagCache,
		logger:   logger,
		metrics:  noopRecorder{},
		ttl:      DefaultTTL,
		budget:   DefaultBuildTimeout,
		now:      time.Now,
		fetchers: fetchersFor(repo),
	}
}

// WithTTL overrides the cache window.
func (s *Service) WithTTL(ttl time.Duration) *Service {
	if ttl > 0 {
		s.ttl = ttl
	}
	return s
}

// WithBuildTimeout overrides how long a build may run before its pending
// modules are reported as failed.
func (s *Service) WithBuildTimeout(d time.Duration) *Service {
	if d > 0 {
		s.budget = d
	}
	return s
}

// WithClock overrides the clock used for GeneratedAt and date windows.
func (s *Service) WithClock(fn func() time.Time) *Service {
	if fn != nil {
		s.now = fn
	}
	return s
}

// WithMetrics attaches an instrumentation sink.
func (s *Service) WithMetrics(rec Recorder) *Service {
	if rec != nil {
		s.metrics = rec
	}
	return s
}

func snapshotKey(userID uuid.UUID) string {
	return "dashboard:snapshot:" + userID.String()
}

// Snapshot returns the dashboard for the session user. A cached snapshot is
// returned while it is younger than the TTL. Module failures never fail the
// call; the only error is an unresolvable user (or a cancelled context).
func (s *Service) Snapshot(ctx context.Context, sessionUser string) (Snapshot, error) {
	userID, err := s.users.ActiveUser(ctx, sessionUser)
	if err != nil {
		if !errors.Is(err, ErrNotAuthenticated) {
			err = fmt.Errorf("%w: %v", ErrNotAuthenticated, err)
		}
		return Snapshot{}, err
	}

	key := snapshotKey(userID)
	version, cacheable := s.version(ctx)
	if cacheable {
		if snap, ok := s.cached(ctx, key); ok {
			return snap, nil
		}
	}

	// Callers arriving after a purge see a new version and start their own build.
	flight := key + ":v" + strconv.FormatInt(version, 10)
	res := s.group.DoChan(flight, func() (any, error) {
		buildCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.budget)
		defer cancel()
		return s.buildAndStore(buildCtx, userID, key, version, cacheable), nil
	})
	select {
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	case out := <-res:
		return out.Val.(Snapshot), nil
	}
}

// Invalidate drops every cached snapshot.
func (s *Service) Invalidate(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	if err := s.cache.InvalidateTag(ctx, CacheTag); err != nil {
		return fmt.Errorf("dashboard: invalidate: %w", err)
	}
	return nil
}

func (s *Service) version(ctx context.Context) (int64, bool) {
	if s.cache == nil {
		return 0, false
	}
	ver, err := s.cache.Version(ctx, CacheTag)
	if err != nil {
		s.logger.Warn("dashboard cache version", slog.Any("error", err))
		s.metrics.SnapshotCache("error")
		return 0, false
	}
	return ver, true
}

func (s *Service) cached(ctx context.Context, key string) (Snapshot, bool) {
	if s.cache == nil {
		return Snapshot{}, false
	}
	var snap Snapshot
	ok, err := s.cache.Get(ctx, CacheTag, key, &snap)
	if err != nil {
		s.logger.Warn("dashboard cache read", slog.String("key", key), slog.Any("error", err))
		s.metrics.SnapshotCache("error")
		return Snapshot{}, false
	}
	if !ok {
		s.metrics.SnapshotCache("miss")
		return Snapshot{}, false
	}
	s.metrics.SnapshotCache("hit")
	return snap, true
}

// buildAndStore caches the result under the tag version read before the
// build, so a purge during the build orphans it.
func (s *Service) buildAndStore(ctx context.Context, userID uuid.UUID, key string, version int64, cacheable bool) Snapshot {
	start := time.Now()
	snap, complete := s.build(ctx, userID)
	s.metrics.SnapshotBuilt(time.Since(start))
	if !cacheable || !complete || ctx.Err() != nil {
		return snap
	}
	if err := s.cache.SetVersioned(ctx, CacheTag, key, version, snap, s.ttl); err != nil {
		s.logger.Warn("dashboard cache write", slog.String("key", key), slog.Any("error", err))
	}
	return snap
}

// build runs every permitted fetcher concurrently. complete is false when
// permissions could not be resolved, so the degraded result is not cached.
func (s *Service) build(ctx context.Context, userID uuid.UUID) (Snapshot, bool) {
	var snap Snapshot
	complete := true
	perms, err := s.perms.Resolve(ctx, userID)
	if err != nil {
		s.logger.Error("dashboard permissions", slog.String("user_id", userID.String()), slog.Any("error", err))
		perms = rbac.PermissionMap{}
		complete = false
	}

	now := s.now()
	var g errgroup.Group
	for _, f := range s.fetchers {
		if !perms.CanView(f.module) {
			continue
		}
		g.Go(func() error {
			if err := f.run(ctx, now, &snap); err != nil {
				s.metrics.ModuleFailed(f.module)
				s.logger.Warn("dashboard module failed",
					slog.String("module", f.module),
					slog.String("user_id", userID.String()),
					slog.Any("error", err))
			}
			return nil
		})
	}
	_ = g.Wait()

	snap.GeneratedAt = s.now()
	return snap, complete
}
