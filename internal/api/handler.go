package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"chatgate/internal/adaptive"
	"chatgate/internal/limiter"
	"chatgate/internal/metrics"
	"chatgate/internal/tokens"
)

// Handler is the Admission Handler: authenticate -> guard -> Check -> serve ->
// Record -> respond.
type Handler struct {
	limiter   *limiter.Limiter
	guard     *adaptive.Guard
	responder *Responder
	metrics   *metrics.Metrics
	log       *zap.Logger

	serviceName string
	port        int
}

// NewHandler wires the Admission Handler from its dependencies. guard may be nil if
// the adaptive concurrency guard is disabled (ADAPTIVE_GUARD_ENABLED=false).
func NewHandler(l *limiter.Limiter, guard *adaptive.Guard, responder *Responder, m *metrics.Metrics, log *zap.Logger, serviceName string, port int) *Handler {
	return &Handler{limiter: l, guard: guard, responder: responder, metrics: m, log: log, serviceName: serviceName, port: port}
}

// Routes registers the handler's endpoints on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/v1/chat/completions", h.handleChatCompletions)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"service": h.serviceName,
		"port":    h.port,
	})
}

func (h *Handler) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := h.log

	apiKey, err := extractBearer(r.Header.Get("Authorization"))
	if err != nil {
		h.metrics.Decisions.WithLabelValues(metrics.OutcomeAuthError, metrics.NoMetric).Inc()
		writeAPIError(w, err)
		return
	}
	log = log.With(zap.String("api_key", apiKey))

	if h.guard != nil && !h.guard.Allow() {
		log.Warn("admission: node overloaded, shedding request")
		h.metrics.Decisions.WithLabelValues(metrics.OutcomeOverload, metrics.NoMetric).Inc()
		resp := errOverloaded()
		w.Header().Set(limiter.HeaderRetryAfter, "1")
		writeAPIError(w, resp)
		return
	}

	req, err := decodeRequest(r)
	if err != nil {
		writeAPIError(w, err)
		return
	}

	tokReq := toTokensRequest(req)

	decision, err := h.limiter.Check(ctx, apiKey, tokReq)
	if err != nil {
		if strings.Contains(err.Error(), "unknown api key") {
			h.metrics.Decisions.WithLabelValues(metrics.OutcomeAuthError, metrics.NoMetric).Inc()
			writeAPIError(w, errInvalidAPIKey())
			return
		}
		log.Error("admission: check failed", zap.Error(err))
		h.metrics.Decisions.WithLabelValues(metrics.OutcomeStoreErr, metrics.NoMetric).Inc()
		resp := errStoreUnavailable()
		w.Header().Set(limiter.HeaderRetryAfter, "1")
		writeAPIError(w, resp)
		return
	}

	now := time.Now()
	headers := limiter.Headers(decision.Snapshot, now)

	if !decision.Admit {
		log.Info("admission: rejected",
			zap.String("metric", string(decision.RejectedMetric)),
			zap.Int("retry_after_seconds", decision.RetryAfterSeconds))
		h.metrics.Decisions.WithLabelValues(metrics.OutcomeRejected, string(decision.RejectedMetric)).Inc()
		setHeaders(w, headers)
		writeAPIError(w, errRateLimitExceeded())
		return
	}

	// Serve on a context detached from the caller's, so a client that disconnects
	// after Check still gets its request served and charged by Record below.
	completion, err := h.responder.Respond(context.WithoutCancel(ctx), tokReq)
	if err != nil {
		log.Error("admission: responder failed", zap.Error(err))
		return
	}

	// Record with a detached context so a client disconnect after Check doesn't
	// drop the usage charge: the work was already done and must be charged.
	recordCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.limiter.Record(recordCtx, apiKey, int64(completion.PromptTokens), int64(completion.CompletionTokens)); err != nil {
		log.Error("admission: record failed, usage not charged", zap.Error(err))
	}

	h.metrics.Decisions.WithLabelValues(metrics.OutcomeAdmitted, metrics.NoMetric).Inc()

	resp := ChatCompletionResponse{
		ID:      newCompletionID(),
		Object:  "chat.completion",
		Created: now.Unix(),
		Model:   req.Model,
		Choices: []Choice{{
			Index: 0,
			Message: ChatMessage{
				Role:    "assistant",
				Content: completion.Content,
			},
			FinishReason: "stop",
		}},
		Usage: Usage{
			PromptTokens:     completion.PromptTokens,
			CompletionTokens: completion.CompletionTokens,
			TotalTokens:      completion.PromptTokens + completion.CompletionTokens,
		},
		SystemFingerprint: "fp_mock",
	}

	setHeaders(w, headers)
	writeJSON(w, http.StatusOK, resp)
}

// extractBearer pulls the API key out of an "Authorization: Bearer <key>" header.
func extractBearer(header string) (string, error) {
	const prefix = "Bearer "
	if header == "" || !strings.HasPrefix(header, prefix) {
		return "", errInvalidAuth()
	}
	key := strings.TrimPrefix(header, prefix)
	if key == "" {
		return "", errInvalidAuth()
	}
	return key, nil
}

// decodeRequest parses and validates the request body with a strict decoder that
// rejects unknown fields and type mismatches.
func decodeRequest(r *http.Request) (*ChatCompletionRequest, error) {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req ChatCompletionRequest
	if err := dec.Decode(&req); err != nil {
		return nil, errBadRequest("request body is not a valid chat completion request: " + err.Error())
	}
	if len(req.Messages) == 0 {
		return nil, errBadRequest("messages must not be empty")
	}
	if req.MaxTokens != nil && *req.MaxTokens < 0 {
		return nil, errBadRequest("max_tokens must be non-negative")
	}
	return &req, nil
}

func toTokensRequest(req *ChatCompletionRequest) tokens.Request {
	msgs := make([]tokens.Message, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = tokens.Message{Role: m.Role, Content: m.Content}
	}
	return tokens.Request{Model: req.Model, Messages: msgs, MaxTokens: req.MaxTokens}
}

func setHeaders(w http.ResponseWriter, headers map[string]string) {
	for k, v := range headers {
		w.Header().Set(k, v)
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeAPIError(w http.ResponseWriter, err error) {
	apiErr, ok := err.(*apiError)
	if !ok {
		apiErr = newAPIError(http.StatusInternalServerError, "internal error", "server_error", "")
	}
	writeJSON(w, apiErr.status, apiErr.body)
}
