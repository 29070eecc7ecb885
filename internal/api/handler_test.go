package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chatgate/internal/limiter"
	"chatgate/internal/metrics"
	"chatgate/internal/registry"
	"chatgate/internal/store"
	"chatgate/internal/tokens"
	"chatgate/internal/window"
)

type constEncoder struct{ n int }

func (c constEncoder) Encode(string) int { return c.n }

func newTestHandler(t *testing.T) (*Handler, redismock.ClientMock) {
	t.Helper()
	client, mock := redismock.NewClientMock()
	s := store.New(client, time.Second, nil, zap.NewNop())
	win := window.New(s, 5*time.Second, 12, zap.NewNop())
	reg := registry.New(map[string]registry.Limits{
		"test-key-1": {RPM: 2, InputTPM: 1000, OutputTPM: 1000},
	})
	est := tokens.New(constEncoder{n: 1}, zap.NewNop())
	core := limiter.New(win, s, reg, est, time.Minute, 4, zap.NewNop())
	core.Start(context.Background())
	t.Cleanup(core.Stop)

	m := metrics.New(prometheus.NewRegistry())
	responder := NewResponder(est, time.Millisecond, 2*time.Millisecond)

	h := NewHandler(core, nil, responder, m, zap.NewNop(), "rate-limiter", 8000)
	return h, mock
}

func segmentFields(now time.Time) []string {
	seg := now.Unix() / 5
	fields := make([]string, 12)
	for i := 0; i < 12; i++ {
		fields[i] = strconv.FormatInt(seg-11+int64(i), 10)
	}
	return fields
}

func TestHandleHealth(t *testing.T) {
	h, _ := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	h.handleHealth(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestHandleChatCompletionsMissingAuthIs401(t *testing.T) {
	h, _ := newTestHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()

	h.handleChatCompletions(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleChatCompletionsUnknownKeyIs401(t *testing.T) {
	h, mock := newTestHandler(t)
	_ = mock

	body := `{"model":"gpt-3.5-turbo","messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewBufferString(body))
	req.Header.Set("Authorization", "Bearer unknown-key")
	rec := httptest.NewRecorder()

	h.handleChatCompletions(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleChatCompletionsRejectsUnknownFields(t *testing.T) {
	h, _ := newTestHandler(t)
	body := `{"model":"gpt-3.5-turbo","messages":[{"role":"user","content":"hi"}],"unknown_field":1}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewBufferString(body))
	req.Header.Set("Authorization", "Bearer test-key-1")
	rec := httptest.NewRecorder()

	h.handleChatCompletions(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleChatCompletionsAdmitsAndServes(t *testing.T) {
	h, mock := newTestHandler(t)
	now := time.Now()
	fields := segmentFields(now)

	empty := make([]interface{}, 12)
	mock.ExpectHMGet("rate_limit:rpm:test-key-1", fields...).SetVal(empty)
	mock.ExpectHMGet("rate_limit:itpm:test-key-1", fields...).SetVal(empty)
	mock.ExpectHMGet("rate_limit:otpm:test-key-1", fields...).SetVal(empty)

	// constEncoder always reports 1 "token" per Encode call regardless of text, so
	// EstimateInput (role+content+overhead, once per message, plus conversation
	// overhead) is deterministic: 1+1+4+2 = 8. CompletionTokens is a single
	// CountTokens call over the canned response, so it is always 1.
	mock.MatchExpectationsInOrder(false)
	mock.Regexp().ExpectHIncrBy(`rate_limit:rpm:test-key-1`, `\d+`, 1).SetVal(1)
	mock.ExpectExpire("rate_limit:rpm:test-key-1", time.Minute).SetVal(true)
	mock.Regexp().ExpectHIncrBy(`rate_limit:itpm:test-key-1`, `\d+`, 8).SetVal(8)
	mock.ExpectExpire("rate_limit:itpm:test-key-1", time.Minute).SetVal(true)
	mock.Regexp().ExpectHIncrBy(`rate_limit:otpm:test-key-1`, `\d+`, 1).SetVal(1)
	mock.ExpectExpire("rate_limit:otpm:test-key-1", time.Minute).SetVal(true)

	body := `{"model":"gpt-3.5-turbo","messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewBufferString(body))
	req.Header.Set("Authorization", "Bearer test-key-1")
	rec := httptest.NewRecorder()

	h.handleChatCompletions(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(limiter.HeaderRemainingRequests))

	var resp ChatCompletionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.ID)
	assert.NotEmpty(t, resp.Choices)
}

func TestHandleChatCompletionsRejectedWhenOverQuota(t *testing.T) {
	h, mock := newTestHandler(t)
	now := time.Now()
	fields := segmentFields(now)

	rpmVals := make([]interface{}, 12)
	rpmVals[11] = "2" // equals the test-key-1 RPM limit configured above
	mock.ExpectHMGet("rate_limit:rpm:test-key-1", fields...).SetVal(rpmVals)
	mock.ExpectHMGet("rate_limit:itpm:test-key-1", fields...).SetVal(make([]interface{}, 12))
	mock.ExpectHMGet("rate_limit:otpm:test-key-1", fields...).SetVal(make([]interface{}, 12))

	body := `{"model":"gpt-3.5-turbo","messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewBufferString(body))
	req.Header.Set("Authorization", "Bearer test-key-1")
	rec := httptest.NewRecorder()

	h.handleChatCompletions(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "0", rec.Header().Get(limiter.HeaderRemainingRequests))
}

func TestExtractBearer(t *testing.T) {
	_, err := extractBearer("")
	assert.Error(t, err)

	_, err = extractBearer("Basic abc")
	assert.Error(t, err)

	key, err := extractBearer("Bearer test-key-1")
	require.NoError(t, err)
	assert.Equal(t, "test-key-1", key)
}
