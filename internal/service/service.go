package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"stockledger/backend/internal/cache"
	"stockledger/backend/internal/domain"
	"stockledger/backend/internal/metrics"
	"stockledger/backend/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo      store.Repository
	cache     cache.AvailabilityCache
	cacheTTL  time.Duration
	txTimeout time.Duration
	metrics   *metrics.Ledger
	logger    *zap.Logger
	now       func() time.Time

	// invalidations counts invalidate calls so a read that raced a commit
	// does not repopulate the cache with what it saw before the commit.
	invalidations atomic.Uint64
}

type Option func(*Service)

func WithAvailabilityCache(c cache.AvailabilityCache, ttl time.Duration) Option {
	return func(s *Service) {
		if c != nil {
			s.cache = c
		}
		if ttl > 0 {
			s.cacheTTL = ttl
		}
	}
}

// WithTxTimeout bounds every ledger transaction. Zero leaves the caller's
// context in charge.
func WithTxTimeout(d time.Duration) Option {
	return func(s *Service) {
		s.txTimeout = d
	}
}

func WithMetrics(m *metrics.Ledger) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func New(repo store.Repository, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		cache:    cache.NoopAvailabilityCache{},
		cacheTTL: 30 * time.Second,
		logger:   zap.NewNop(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

// withinTx runs fn as one ledger transaction. Deadline expiry surfaces as
// store.ErrTransactionAborted so callers can tell it apart from validation.
func (s *Service) withinTx(ctx context.Context, operation string, fn func(ctx context.Context, tx store.Tx) error) error {
	started := time.Now()
	txCtx := ctx
	if s.txTimeout > 0 {
		var cancel context.CancelFunc
		txCtx, cancel = context.WithTimeout(ctx, s.txTimeout)
		defer cancel()
	}

	err := s.repo.WithinTx(txCtx, func(tx store.Tx) error {
		return fn(txCtx, tx)
	})
	if err != nil && !errors.Is(err, store.ErrTransactionAborted) &&
		(errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)) {
		err = fmt.Errorf("%w: %v", store.ErrTransactionAborted, err)
	}

	s.metrics.ObserveTx(operation, started, err)
	if err == nil {
		s.metrics.ObserveCommit(operation)
	} else if errors.Is(err, store.ErrInsufficientStock) {
		s.metrics.ObserveRejection(operation)
	}
	return err
}

// invalidate drops cached availability for variants touched by a commit.
// Cache failures never fail the committed operation.
func (s *Service) invalidate(ctx context.Context, keys ...domain.VariantKey) {
	if len(keys) == 0 {
		return
	}
	s.invalidations.Add(1)
	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.logger.Warn("availability cache invalidation failed", zap.Int("keys", len(keys)), zap.Error(err))
	}
}

func (s *Service) actorField(ctx context.Context) zap.Field {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return zap.String("actor", "system")
	}
	return zap.String("actor", actor.Subject)
}

func normalizeLimit(limit int, fallback int, max int) int {
	if limit < 1 {
		limit = fallback
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}
