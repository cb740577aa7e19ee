package cache

import (
	"context"
	"time"

	"github.com/platinummonkey/consolesso/pkg/observability"
)

// Store is a concurrency-safe key-value cache with TTL and tag invalidation
type Store interface {
	// Get decodes the entry into dest and reports whether it was present
	Get(ctx context.Context, key Key, dest interface{}) (bool, error)
	// Set stores value for ttl and associates it with tags
	Set(ctx context.Context, key Key, value interface{}, ttl time.Duration, tags ...string) error
	// Forget removes a single entry
	Forget(ctx context.Context, key Key) error
	// InvalidateTags removes every entry associated with any of the tags
	InvalidateTags(ctx context.Context, tags ...string) error
}

// Instrumented wraps a Store with hit/miss metrics and failure logging
type Instrumented struct {
	next    Store
	logger  *observability.Logger
	metrics *observability.Metrics
}

// Instrument wraps store. metrics may be nil.
func Instrument(store Store, logger *observability.Logger, metrics *observability.Metrics) *Instrumented {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Instrumented{next: store, logger: logger, metrics: metrics}
}

func (s *Instrumented) Get(ctx context.Context, key Key, dest interface{}) (bool, error) {
	ok, err := s.next.Get(ctx, key, dest)
	if err != nil {
		s.fail(key, "get", err)
		return false, err
	}
	s.metrics.ObserveCache(string(key.Namespace), ok)
	return ok, nil
}

func (s *Instrumented) Set(ctx context.Context, key Key, value interface{}, ttl time.Duration, tags ...string) error {
	if err := s.next.Set(ctx, key, value, ttl, tags...); err != nil {
		s.fail(key, "set", err)
		return err
	}
	return nil
}

func (s *Instrumented) Forget(ctx context.Context, key Key) error {
	if err := s.next.Forget(ctx, key); err != nil {
		s.fail(key, "forget", err)
		return err
	}
	return nil
}

func (s *Instrumented) InvalidateTags(ctx context.Context, tags ...string) error {
	if err := s.next.InvalidateTags(ctx, tags...); err != nil {
		s.logger.WithError(err).WithField("tags", tags).Warn("cache tag invalidation failed")
		s.metrics.ObserveCacheError("tags", "invalidate")
		return err
	}
	return nil
}

func (s *Instrumented) fail(key Key, op string, err error) {
	s.logger.WithError(err).WithFields(map[string]interface{}{
		"namespace": string(key.Namespace),
		"operation": op,
	}).Warn("cache backend failure")
	s.metrics.ObserveCacheError(string(key.Namespace), op)
}

// Remember returns the cached value for key or stores the loader result.
// Cache failures fall through to the loader; only loader errors are returned
// and loader errors are never cached.
func Remember[T any](ctx context.Context, store Store, key Key, ttl time.Duration, tags []string, load func(context.Context) (T, error)) (T, error) {
	var cached T
	if ok, err := store.Get(ctx, key, &cached); err == nil && ok {
		return cached, nil
	}

	value, err := load(ctx)
	if err != nil {
		var zero T
		return zero, err
	}

	_ = store.Set(ctx, key, value, ttl, tags...)
	return value, nil
}
