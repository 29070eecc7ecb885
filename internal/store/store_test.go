package store

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) (*Store, redismock.ClientMock) {
	t.Helper()
	client, mock := redismock.NewClientMock()
	return New(client, time.Second, nil, zap.NewNop()), mock
}

// fakeRecorder captures ObserveStoreLatency calls so tests can assert wiring
// without depending on the metrics package.
type fakeRecorder struct {
	ops []string
}

func (f *fakeRecorder) ObserveStoreLatency(op string, _ float64) {
	f.ops = append(f.ops, op)
}

func TestRecordBatchObservesLatency(t *testing.T) {
	client, mock := redismock.NewClientMock()
	rec := &fakeRecorder{}
	s := New(client, time.Second, rec, zap.NewNop())

	mock.ExpectHIncrBy("rate_limit:rpm:test-key-1", "100", 1).SetVal(1)
	mock.ExpectExpire("rate_limit:rpm:test-key-1", time.Minute).SetVal(true)

	err := s.RecordBatch(context.Background(), []IncrBatch{
		{Key: "rate_limit:rpm:test-key-1", Field: "100", Delta: 1, TTL: time.Minute},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"record_batch"}, rec.ops)
}

func TestHashMultiGetParsesAndDefaultsMissing(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectHMGet("rate_limit:rpm:test-key-1", "100", "101", "102").
		SetVal([]interface{}{"3", nil, "7"})

	got, err := s.HashMultiGet(context.Background(), "rate_limit:rpm:test-key-1", []string{"100", "101", "102"})
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 0, 7}, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHashMultiGetRetriesOnceThenSucceeds(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectHMGet("k", "1").SetErr(redis.ErrClosed)
	mock.ExpectHMGet("k", "1").SetVal([]interface{}{"5"})

	got, err := s.HashMultiGet(context.Background(), "k", []string{"1"})
	require.NoError(t, err)
	assert.Equal(t, []int64{5}, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHashMultiGetUnavailableAfterTwoFailures(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectHMGet("k", "1").SetErr(redis.ErrClosed)
	mock.ExpectHMGet("k", "1").SetErr(redis.ErrClosed)

	_, err := s.HashMultiGet(context.Background(), "k", []string{"1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHashDeleteNoOpOnEmptyFields(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.HashDelete(context.Background(), "k", nil))
}

func TestHashKeysReturnsAllFields(t *testing.T) {
	s, mock := newTestStore(t)
	mock.ExpectHKeys("k").SetVal([]string{"100", "101"})

	got, err := s.HashKeys(context.Background(), "k")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"100", "101"}, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordBatchPipelinesIncrAndExpire(t *testing.T) {
	s, mock := newTestStore(t)

	mock.MatchExpectationsInOrder(false)
	mock.ExpectHIncrBy("rate_limit:rpm:k", "200", 1).SetVal(1)
	mock.ExpectExpire("rate_limit:rpm:k", 2*time.Second).SetVal(true)
	mock.ExpectHIncrBy("rate_limit:itpm:k", "200", 42).SetVal(42)
	mock.ExpectExpire("rate_limit:itpm:k", 2*time.Second).SetVal(true)

	err := s.RecordBatch(context.Background(), []IncrBatch{
		{Key: "rate_limit:rpm:k", Field: "200", Delta: 1, TTL: 2 * time.Second},
		{Key: "rate_limit:itpm:k", Field: "200", Delta: 42, TTL: 2 * time.Second},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
