package limiter

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chatgate/internal/store"
	"chatgate/internal/window"
)

func TestGCWorkerProcessesEnqueuedKeys(t *testing.T) {
	client, mock := redismock.NewClientMock()
	s := store.New(client, time.Second, nil, zap.NewNop())
	win := window.New(s, 5*time.Second, 12, zap.NewNop())

	mock.ExpectHKeys("rate_limit:rpm:k").SetVal(nil)

	w := newGCWorker(win, 4, zap.NewNop())
	w.run(context.Background())
	w.enqueue("rate_limit:rpm:k")

	require.Eventually(t, func() bool {
		return mock.ExpectationsWereMet() == nil
	}, time.Second, 5*time.Millisecond)

	w.stop()
}

func TestGCWorkerDropsWhenQueueFull(t *testing.T) {
	client, _ := redismock.NewClientMock()
	s := store.New(client, time.Second, nil, zap.NewNop())
	win := window.New(s, 5*time.Second, 12, zap.NewNop())

	w := newGCWorker(win, 1, zap.NewNop())
	// Never started: queue fills at capacity 1, further enqueues must not block.
	w.enqueue("a")
	done := make(chan struct{})
	go func() {
		w.enqueue("b", "c")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("enqueue blocked on a full queue")
	}
}

func TestGCWorkerEnqueueSafeAfterStop(t *testing.T) {
	client, mock := redismock.NewClientMock()
	s := store.New(client, time.Second, nil, zap.NewNop())
	win := window.New(s, 5*time.Second, 12, zap.NewNop())
	mock.MatchExpectationsInOrder(false)

	w := newGCWorker(win, 4, zap.NewNop())
	w.run(context.Background())
	w.stop()

	// enqueue after stop must not panic even though nothing drains the queue.
	w.enqueue("k1", "k2")
}
