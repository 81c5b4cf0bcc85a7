// Package resultstore is a two-tier cache for serialized segmentation
// results: an in-process expirable LRU in front of an optional Redis.
package resultstore

import (
	"context"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/mohammed-shakir/farm-segmentation/internal/core/observability"
)

const (
	TierMemory = "memory"
	TierRedis  = "redis"
)

// Remote is the shared second tier.
type Remote interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
}

type Store struct {
	logger    *slog.Logger
	l1        *expirable.LRU[string, []byte]
	l2        Remote
	ttl       time.Duration
	opTimeout time.Duration
}

// New builds a store. l2 may be nil.
func New(logger *slog.Logger, size int, ttl, opTimeout time.Duration, l2 Remote) *Store {
	if size <= 0 {
		size = 256
	}
	return &Store{
		logger:    logger,
		l1:        expirable.NewLRU[string, []byte](size, nil, ttl),
		l2:        l2,
		ttl:       ttl,
		opTimeout: opTimeout,
	}
}

// Get never fails: Redis errors are logged and reported as a miss.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool) {
	if v, ok := s.l1.Get(key); ok {
		observability.IncCacheHit(TierMemory)
		return v, true
	}
	observability.IncCacheMiss(TierMemory)
	if s.l2 == nil {
		return nil, false
	}

	cctx, cancel := s.opCtx(ctx)
	defer cancel()
	v, ok, err := s.l2.Get(cctx, key)
	if err != nil {
		s.logger.WarnContext(ctx, "result cache read failed", "key", key, "err", err)
		observability.IncCacheMiss(TierRedis)
		return nil, false
	}
	if !ok {
		observability.IncCacheMiss(TierRedis)
		return nil, false
	}
	observability.IncCacheHit(TierRedis)
	s.l1.Add(key, v)
	return v, true
}

// Put writes through both tiers. A Redis failure is logged only.
func (s *Store) Put(ctx context.Context, key string, val []byte) {
	s.l1.Add(key, val)
	if s.l2 == nil {
		return
	}
	cctx, cancel := s.opCtx(ctx)
	defer cancel()
	if err := s.l2.Set(cctx, key, val, s.ttl); err != nil {
		s.logger.WarnContext(ctx, "result cache write failed", "key", key, "err", err)
	}
}

func (s *Store) Len() int { return s.l1.Len() }

func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opTimeout)
}
