// Package window implements the Segmented Window Engine: it maps wall-clock time to
// segment indices and computes trailing-window sums against a counter hash held in
// the Counter Store Adapter.
package window

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"chatgate/internal/store"
)

// counterStore is the subset of store.Store the engine needs; kept narrow so tests
// can substitute a fake.
type counterStore interface {
	HashMultiGet(ctx context.Context, key string, fields []string) ([]int64, error)
	HashKeys(ctx context.Context, key string) ([]string, error)
	HashDelete(ctx context.Context, key string, fields []string) error
}

// Engine translates clock time into segment indices and sums trailing windows.
type Engine struct {
	store       counterStore
	segmentSize time.Duration
	segments    int
	log         *zap.Logger
}

// New builds an Engine. segmentSize and segments must match the values the rest of
// the system uses to compute TTLs, or window sums and GC will disagree about which
// fields are "in window".
func New(s *store.Store, segmentSize time.Duration, segments int, log *zap.Logger) *Engine {
	return &Engine{store: s, segmentSize: segmentSize, segments: segments, log: log}
}

// CurrentSegment returns floor(now_seconds / segment_size).
func (e *Engine) CurrentSegment(now time.Time) int64 {
	return now.Unix() / int64(e.segmentSize.Seconds())
}

// WindowRange returns the inclusive [start, end] segment bounds of the trailing
// window anchored at now.
func (e *Engine) WindowRange(now time.Time) (start, end int64) {
	end = e.CurrentSegment(now)
	start = end - int64(e.segments) + 1
	return start, end
}

// WindowStart/WindowEnd convert the segment range back to wall-clock times. End is
// the exclusive open edge of the window: (current+1)*segment_size.
func (e *Engine) WindowStart(now time.Time) time.Time {
	start, _ := e.WindowRange(now)
	return time.Unix(start*int64(e.segmentSize.Seconds()), 0).UTC()
}

func (e *Engine) WindowEnd(now time.Time) time.Time {
	_, end := e.WindowRange(now)
	return time.Unix((end+1)*int64(e.segmentSize.Seconds()), 0).UTC()
}

// Sum reads every segment field in the trailing window in one round trip and sums
// them, treating missing fields as 0.
func (e *Engine) Sum(ctx context.Context, hashKey string, now time.Time) (int64, error) {
	start, end := e.WindowRange(now)
	fields := make([]string, 0, e.segments)
	for seg := start; seg <= end; seg++ {
		fields = append(fields, strconv.FormatInt(seg, 10))
	}

	vals, err := e.store.HashMultiGet(ctx, hashKey, fields)
	if err != nil {
		return 0, fmt.Errorf("window: sum %s: %w", hashKey, err)
	}

	var total int64
	for _, v := range vals {
		total += v
	}
	return total, nil
}

// GC deletes every field whose segment index is older than the start of the
// current trailing window; fields that do not parse as a segment index are left
// in place. It is opportunistic: correctness never depends on its promptness because
// the hash's TTL bounds storage growth regardless, and Sum never reads stale fields.
func (e *Engine) GC(ctx context.Context, hashKey string, now time.Time) error {
	start, _ := e.WindowRange(now)

	all, err := e.store.HashKeys(ctx, hashKey)
	if err != nil {
		return fmt.Errorf("window: gc keys %s: %w", hashKey, err)
	}
	if len(all) == 0 {
		return nil
	}

	var stale []string
	for _, f := range all {
		seg, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			continue
		}
		if seg < start {
			stale = append(stale, f)
		}
	}
	if len(stale) == 0 {
		return nil
	}
	if err := e.store.HashDelete(ctx, hashKey, stale); err != nil {
		return fmt.Errorf("window: gc delete %s: %w", hashKey, err)
	}
	return nil
}

// FieldFor returns the hash field name for the segment containing now.
func (e *Engine) FieldFor(now time.Time) string {
	return strconv.FormatInt(e.CurrentSegment(now), 10)
}
