package api

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"

	"chatgate/internal/tokens"
)

// responseTemplates are the canned completion bodies the stub responder rotates
// through.
var responseTemplates = []string{
	"This is a mock response. Your request has been successfully processed.",
	"I understand your request. This is a system-generated test response.",
	"Processing complete. This is a mock response from the rate limiter system.",
	"Message received. Currently using model: %s.",
	"This is an auto-generated response for testing rate limiting functionality.",
}

// Responder stands in for the downstream model invocation: it injects a random
// latency and returns a canned completion, reporting usage the way a real model
// backend would.
type Responder struct {
	estimator *tokens.Estimator
	delayMin  time.Duration
	delayMax  time.Duration
	rng       *rand.Rand
}

// NewResponder builds a Responder whose injected delay is uniformly distributed in
// [delayMin, delayMax].
func NewResponder(estimator *tokens.Estimator, delayMin, delayMax time.Duration) *Responder {
	return &Responder{
		estimator: estimator,
		delayMin:  delayMin,
		delayMax:  delayMax,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Completion is what the Responder hands back to the Admission Handler: the
// message to serve plus the actual token usage to Record.
type Completion struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
}

// Respond sleeps for the injected delay (aborting early if ctx is cancelled), then
// produces a canned completion and its real token usage.
func (r *Responder) Respond(ctx context.Context, req tokens.Request) (Completion, error) {
	delay := r.delayMin
	if r.delayMax > r.delayMin {
		delay += time.Duration(r.rng.Int63n(int64(r.delayMax - r.delayMin)))
	}

	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return Completion{}, ctx.Err()
	}

	content := r.generateContent(req)
	return Completion{
		Content:          content,
		PromptTokens:     r.estimator.EstimateInput(req),
		CompletionTokens: r.estimator.CountTokens(content),
	}, nil
}

// generateContent picks a template and, when the caller requested a large
// max_tokens, pads it out so OTPM accounting has something real to charge against.
func (r *Responder) generateContent(req tokens.Request) string {
	base := responseTemplates[r.rng.Intn(len(responseTemplates))]
	if strings.Contains(base, "%s") {
		base = fmt.Sprintf(base, req.Model)
	}

	if req.MaxTokens != nil && *req.MaxTokens > 50 {
		repeats := *req.MaxTokens / 20
		base += strings.Repeat(" This is additional content to fill the response.", repeats)
	}
	return base
}

// newCompletionID mints an OpenAI-style "chatcmpl-<8 hex>" id.
func newCompletionID() string {
	return "chatcmpl-" + strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
}
