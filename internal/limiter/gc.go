package limiter

import (
	"context"
	"time"

	"go.uber.org/zap"

	"chatgate/internal/window"
)

// gcWorker is a single bounded background worker fed by a buffered channel: under
// sustained load, spawning one goroutine per Record call would accumulate
// unboundedly, while a bounded queue simply drops the newly submitted GC task when
// it is full and logs it, which is safe because GC is purely opportunistic (TTL
// bounds storage regardless).
type gcWorker struct {
	win    *window.Engine
	queue  chan string
	log    *zap.Logger
	done   chan struct{}
	cancel context.CancelFunc
}

func newGCWorker(win *window.Engine, queueSize int, log *zap.Logger) *gcWorker {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &gcWorker{
		win:   win,
		queue: make(chan string, queueSize),
		log:   log,
		done:  make(chan struct{}),
	}
}

// enqueue submits hash keys for opportunistic GC. Non-blocking: if the queue is
// full, the key is dropped and logged rather than backing up the caller.
func (w *gcWorker) enqueue(keys ...string) {
	for _, k := range keys {
		select {
		case w.queue <- k:
		default:
			w.log.Debug("limiter: gc queue full, dropping task", zap.String("key", k))
		}
	}
}

// run starts the single consumer goroutine. Each dequeued key costs at most two
// separate round trips (HKEYS, then HDEL when stale fields exist), under one
// short per-task deadline; they are not pipelined together.
func (w *gcWorker) run(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	w.cancel = cancel
	go func() {
		defer close(w.done)
		for {
			select {
			case <-ctx.Done():
				return
			case key := <-w.queue:
				gcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
				if err := w.win.GC(gcCtx, key, time.Now()); err != nil {
					w.log.Debug("limiter: background gc failed", zap.String("key", key), zap.Error(err))
				}
				cancel()
			}
		}
	}()
}

// stop cancels the worker's context and waits for its goroutine to exit. enqueue
// remains safe to call after stop (it just drops into a full or abandoned queue).
func (w *gcWorker) stop() {
	if w.cancel != nil {
		w.cancel()
	}
	<-w.done
}
