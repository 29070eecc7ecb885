// Package limiter implements the Limiter Core: the check/record protocol that
// composes the Counter Store Adapter, the Segmented Window Engine and the Token
// Estimator into admission Decisions and BudgetSnapshots.
package limiter

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"chatgate/internal/registry"
	"chatgate/internal/store"
	"chatgate/internal/tokens"
	"chatgate/internal/window"
)

const counterKeyPrefix = "rate_limit"

func hashKey(metric Metric, apiKey string) string {
	return fmt.Sprintf("%s:%s:%s", counterKeyPrefix, metric, apiKey)
}

// recorder is the subset of store.Store the core writes through.
type recorder interface {
	RecordBatch(ctx context.Context, batch []store.IncrBatch) error
}

// Limiter is the Limiter Core.
type Limiter struct {
	win      *window.Engine
	store    recorder
	registry *registry.Registry
	estimate *tokens.Estimator
	ttl      time.Duration
	log      *zap.Logger

	gc *gcWorker
}

// New wires the Limiter Core from its dependencies. gcQueueSize bounds the backlog
// of opportunistic GC tasks; further tasks are dropped while it is full.
func New(win *window.Engine, s *store.Store, reg *registry.Registry, est *tokens.Estimator, ttl time.Duration, gcQueueSize int, log *zap.Logger) *Limiter {
	l := &Limiter{win: win, store: s, registry: reg, estimate: est, ttl: ttl, log: log}
	l.gc = newGCWorker(win, gcQueueSize, log)
	return l
}

// Start launches the background GC worker. Call once at process startup; Stop to
// shut it down.
func (l *Limiter) Start(ctx context.Context) {
	l.gc.run(ctx)
}

// Stop cancels the GC worker and waits for it to exit. Queued GC tasks that have
// not started yet are discarded, not drained.
func (l *Limiter) Stop() {
	l.gc.stop()
}

// Check resolves the caller's limits, estimates this request's cost, reads the
// three window sums (one HMGET round trip per metric, issued one after another,
// not pipelined), and decides whether to admit. It never writes to the store: overcommit between Check and Record across
// concurrent requests is the accepted trade-off documented in the design notes.
func (l *Limiter) Check(ctx context.Context, apiKey string, req tokens.Request) (Decision, error) {
	lim, ok := l.registry.Lookup(apiKey)
	if !ok {
		return Decision{}, fmt.Errorf("limiter: unknown api key")
	}

	inputEst := int64(l.estimate.EstimateInput(req))
	outputRes := int64(l.estimate.ReservedOutput(req))

	now := time.Now()

	usedRPM, err := l.win.Sum(ctx, hashKey(MetricRPM, apiKey), now)
	if err != nil {
		return Decision{}, fmt.Errorf("limiter: check rpm: %w", err)
	}
	usedITPM, err := l.win.Sum(ctx, hashKey(MetricITPM, apiKey), now)
	if err != nil {
		return Decision{}, fmt.Errorf("limiter: check itpm: %w", err)
	}
	usedOTPM, err := l.win.Sum(ctx, hashKey(MetricOTPM, apiKey), now)
	if err != nil {
		return Decision{}, fmt.Errorf("limiter: check otpm: %w", err)
	}

	snapshot := BudgetSnapshot{
		RPM:         MetricBudget{Limit: int64(lim.RPM), Used: usedRPM, Remaining: remaining(int64(lim.RPM), usedRPM)},
		ITPM:        MetricBudget{Limit: int64(lim.InputTPM), Used: usedITPM, Remaining: remaining(int64(lim.InputTPM), usedITPM)},
		OTPM:        MetricBudget{Limit: int64(lim.OutputTPM), Used: usedOTPM, Remaining: remaining(int64(lim.OutputTPM), usedOTPM)},
		WindowStart: l.win.WindowStart(now),
		WindowEnd:   l.win.WindowEnd(now),
	}

	admitRPM := usedRPM+1 <= int64(lim.RPM)
	admitITPM := usedITPM+inputEst <= int64(lim.InputTPM)
	admitOTPM := usedOTPM+outputRes <= int64(lim.OutputTPM)

	decision := Decision{Admit: admitRPM && admitITPM && admitOTPM, Snapshot: snapshot}
	if !decision.Admit {
		switch {
		case !admitRPM:
			decision.RejectedMetric = MetricRPM
		case !admitITPM:
			decision.RejectedMetric = MetricITPM
		default:
			decision.RejectedMetric = MetricOTPM
		}
		decision.RetryAfterSeconds = retryAfterSeconds(snapshot.WindowEnd, now)
	}

	return decision, nil
}

// Record increments the rpm/itpm/otpm counters for this segment by actual
// consumption, in a single pipelined round trip, and enqueues best-effort GC for
// each of the three hashes. Record should still be attempted even if the caller's
// own context was cancelled (the work was already done by the responder and should
// be charged) — callers pass a context with its own short deadline for exactly this
// reason rather than reusing a request context that may already be Done.
func (l *Limiter) Record(ctx context.Context, apiKey string, actualInput, actualOutput int64) error {
	now := time.Now()
	field := l.win.FieldFor(now)

	rpmKey := hashKey(MetricRPM, apiKey)
	itpmKey := hashKey(MetricITPM, apiKey)
	otpmKey := hashKey(MetricOTPM, apiKey)

	batch := []store.IncrBatch{
		{Key: rpmKey, Field: field, Delta: 1, TTL: l.ttl},
		{Key: itpmKey, Field: field, Delta: actualInput, TTL: l.ttl},
		{Key: otpmKey, Field: field, Delta: actualOutput, TTL: l.ttl},
	}

	if err := l.store.RecordBatch(ctx, batch); err != nil {
		return fmt.Errorf("limiter: record: %w", err)
	}

	l.gc.enqueue(rpmKey, itpmKey, otpmKey)
	return nil
}

// retryAfterSeconds is ceil(window_end - now), floored at 0 and capped to the
// window size by construction (window_end is at most one window ahead of now).
func retryAfterSeconds(windowEnd, now time.Time) int {
	d := windowEnd.Sub(now)
	if d <= 0 {
		return 0
	}
	secs := int(d.Seconds())
	if time.Duration(secs)*time.Second < d {
		secs++
	}
	return secs
}
