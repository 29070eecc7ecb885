// Package store adapts the shared counter state backing the rate limiter onto a
// Redis hash per metric per API key. Multi-field reads use one HMGET; the
// increment-and-expire writes of a RecordBatch go through a single *redis.Pipeline.
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// ErrUnavailable is returned when the store could not be reached after the one
// permitted retry (StoreTransient escalating to fatal for this request).
var ErrUnavailable = errors.New("store: unavailable")

// LatencyRecorder observes how long a single store round trip took, labeled by
// operation name. Implemented by *metrics.Metrics; pass nil to skip instrumentation.
type LatencyRecorder interface {
	ObserveStoreLatency(op string, seconds float64)
}

// Store is the Counter Store Adapter: the thin abstraction over the shared
// key-value service that the Segmented Window Engine and Limiter Core are built on.
type Store struct {
	client  *redis.Client
	log     *zap.Logger
	timeout time.Duration
	metrics LatencyRecorder
}

// New wraps an existing *redis.Client. The client owns its own connection pool;
// New does not dial eagerly. m may be nil to skip latency instrumentation.
func New(client *redis.Client, callTimeout time.Duration, m LatencyRecorder, log *zap.Logger) *Store {
	return &Store{client: client, log: log, timeout: callTimeout, metrics: m}
}

// observe records how long op took, if a LatencyRecorder was supplied.
func (s *Store) observe(op string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveStoreLatency(op, time.Since(start).Seconds())
}

// Ping verifies connectivity at startup. A failure here is StoreFatal: the caller
// should refuse to start.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

// HashMultiGet reads several fields of a hash in one round trip. Missing fields
// come back as 0, matching the "missing fields return zero" contract.
func (s *Store) HashMultiGet(ctx context.Context, key string, fields []string) ([]int64, error) {
	defer s.observe("hmget", time.Now())
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	vals, err := s.withRetry(ctx, func(ctx context.Context) ([]interface{}, error) {
		return s.client.HMGet(ctx, key, fields...).Result()
	})
	if err != nil {
		return nil, err
	}

	out := make([]int64, len(vals))
	for i, v := range vals {
		if v == nil {
			out[i] = 0
			continue
		}
		str, ok := v.(string)
		if !ok {
			out[i] = 0
			continue
		}
		n, err := strconv.ParseInt(str, 10, 64)
		if err != nil {
			out[i] = 0
			continue
		}
		out[i] = n
	}
	return out, nil
}

// HashKeys lists every field currently present in a hash.
func (s *Store) HashKeys(ctx context.Context, key string) ([]string, error) {
	defer s.observe("hkeys", time.Now())
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	return s.withRetryStrings(ctx, func(ctx context.Context) ([]string, error) {
		return s.client.HKeys(ctx, key).Result()
	})
}

// HashDelete removes the given fields from a hash. A no-op if fields is empty.
func (s *Store) HashDelete(ctx context.Context, key string, fields []string) error {
	if len(fields) == 0 {
		return nil
	}
	defer s.observe("hdel", time.Now())
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.withRetry(ctx, func(ctx context.Context) ([]interface{}, error) {
		return nil, s.client.HDel(ctx, key, fields...).Err()
	})
	return err
}

// IncrBatch is one entry in a RecordBatch: increment hash `Key` field `Field` by
// `Delta` and set the hash's TTL to `TTL`.
type IncrBatch struct {
	Key   string
	Field string
	Delta int64
	TTL   time.Duration
}

// RecordBatch pipelines several HashIncr+Expire pairs into a single atomic (from the
// adapter's perspective — server-ordered, not transactional) round trip. This is the
// write side of Limiter.Record: one pipeline for the rpm/itpm/otpm triple.
func (s *Store) RecordBatch(ctx context.Context, batch []IncrBatch) error {
	defer s.observe("record_batch", time.Now())
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	exec := func(ctx context.Context) error {
		pipe := s.client.Pipeline()
		for _, b := range batch {
			pipe.HIncrBy(ctx, b.Key, b.Field, b.Delta)
			pipe.Expire(ctx, b.Key, b.TTL)
		}
		_, err := pipe.Exec(ctx)
		return err
	}

	err := exec(ctx)
	if err == nil {
		return nil
	}
	s.log.Warn("store: record batch failed, retrying once", zap.Error(err))
	if err2 := exec(ctx); err2 != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err2)
	}
	return nil
}

// withRetry executes op once, and on any error (other than redis.Nil, which never
// reaches here because go-redis folds a fully-missing HMGet into nil slots rather
// than an error) retries exactly once before giving up as StoreTransient.
func (s *Store) withRetry(ctx context.Context, op func(context.Context) ([]interface{}, error)) ([]interface{}, error) {
	vals, err := op(ctx)
	if err == nil {
		return vals, nil
	}
	s.log.Warn("store: op failed, retrying once", zap.Error(err))
	vals, err = op(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return vals, nil
}

func (s *Store) withRetryStrings(ctx context.Context, op func(context.Context) ([]string, error)) ([]string, error) {
	vals, err := op(ctx)
	if err == nil {
		return vals, nil
	}
	s.log.Warn("store: op failed, retrying once", zap.Error(err))
	vals, err = op(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return vals, nil
}
