package license

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"

	"keyledger/internal/config"
	apperrors "keyledger/internal/errors"
	"keyledger/internal/storage"
	"keyledger/pkg/contracts/domain"
)

// Query answers entitlement questions for gated operations.
// It never writes.
type Query struct {
	ents    storage.EntitlementStore
	cache   *EntitlementCache
	group   singleflight.Group
	clock   func() time.Time
	timeout time.Duration
	logger  *slog.Logger
	metrics *Metrics
}

// QueryOption configures a Query
type QueryOption func(*Query)

// WithQueryClock overrides the clock activity is evaluated against
func WithQueryClock(clock func() time.Time) QueryOption {
	return func(q *Query) { q.clock = clock }
}

// WithQueryTimeout bounds each shared store read. Loads outlive the caller
// that started them, so they need their own deadline.
func WithQueryTimeout(d time.Duration) QueryOption {
	return func(q *Query) {
		if d > 0 {
			q.timeout = d
		}
	}
}

// WithQueryLogger sets the logger
func WithQueryLogger(logger *slog.Logger) QueryOption {
	return func(q *Query) { q.logger = logger }
}

// WithQueryMetrics sets the metrics sink
func WithQueryMetrics(m *Metrics) QueryOption {
	return func(q *Query) { q.metrics = m }
}

// NewQuery creates a query facade. A zero CacheTTL disables caching.
func NewQuery(ents storage.EntitlementStore, cfg config.QueryConfig, opts ...QueryOption) *Query {
	q := &Query{
		ents:    ents,
		cache:   NewEntitlementCache(cfg.CacheTTL, cfg.CacheSize),
		clock:   time.Now,
		timeout: 10 * time.Second,
		logger:  slog.Default(),
		metrics: NoopMetrics(),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.logger = q.logger.With(slog.String("component", "query"))
	return q
}

// Inspect returns the subject's entitlement, or nil if there is none
func (q *Query) Inspect(ctx context.Context, subjectID string) (*domain.Entitlement, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return nil, apperrors.NewInvalidRequestError("subject id is required", nil)
	}

	if ent, found := q.cache.Get(subjectID); found {
		q.countQuery(ctx, "hit")
		return ent, nil
	}
	q.countQuery(ctx, "miss")

	generation := q.cache.Generation()
	// The flight is shared, so it runs detached from the caller that started it
	detached := context.WithoutCancel(ctx)
	ch := q.group.DoChan(subjectID, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(detached, q.timeout)
		defer cancel()

		ent, err := q.ents.Get(loadCtx, subjectID)
		if errors.Is(err, storage.ErrNotFound) {
			ent, err = nil, nil
		}
		if err != nil {
			return nil, err
		}
		q.cache.SetIfCurrent(subjectID, ent, generation)
		return ent, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, apperrors.NewStorageError("entitlement read abandoned", ctx.Err())
	}
	if res.Err != nil {
		q.logger.WarnContext(ctx, "entitlement lookup failed",
			slog.String("subject_id", subjectID),
			slog.String("error", res.Err.Error()))
		return nil, apperrors.NewStorageError("failed to read entitlement", res.Err)
	}

	// Callers sharing a flight must not share the record
	return copyEntitlement(res.Val.(*domain.Entitlement)), nil
}

// IsEntitled reports whether the subject has access right now
func (q *Query) IsEntitled(ctx context.Context, subjectID string) (bool, error) {
	ent, err := q.Inspect(ctx, subjectID)
	if err != nil {
		return false, err
	}
	return ent.IsActive(q.clock()), nil
}

// Remaining returns the subject's access time left
func (q *Query) Remaining(ctx context.Context, subjectID string) (domain.Remaining, error) {
	ent, err := q.Inspect(ctx, subjectID)
	if err != nil {
		return domain.Remaining{}, err
	}
	return ent.Remaining(q.clock()), nil
}

// Invalidate drops the cached record for subject. In-flight loads started
// before the call are not cached.
func (q *Query) Invalidate(subjectID string) {
	q.cache.Invalidate(subjectID)
	q.group.Forget(subjectID)
}

// CacheStats returns cache statistics
func (q *Query) CacheStats() map[string]interface{} {
	return q.cache.GetStats()
}

// Close stops the cache cleanup goroutine
func (q *Query) Close() {
	q.cache.Stop()
}

func (q *Query) countQuery(ctx context.Context, outcome string) {
	q.metrics.QueryRequests.Add(ctx, 1, metric.WithAttributes(attribute.String("cache", outcome)))
}
