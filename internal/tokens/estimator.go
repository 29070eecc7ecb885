// Package tokens implements the Token Estimator: a pure function over a chat
// completion request body that turns it into token counts for admission control,
// built atop a real BPE encoder (github.com/pkoukk/tiktoken-go).
//
// The encoder is injected behind a single-method interface so tests can bind a
// len(text)-style stub instead of loading a real BPE vocabulary.
package tokens

import (
	"go.uber.org/zap"
)

// perMessageOverhead and conversationOverhead are fixed by the external chat
// completion API's accounting rules and MUST be reproduced exactly.
const (
	perMessageOverhead   = 4
	conversationOverhead = 2

	// defaultReservedOutput is used when a request does not set max_tokens.
	defaultReservedOutput = 1000
)

// Encoder turns text into a token count. Production code binds a BPE encoder;
// tests bind a trivial stub.
type Encoder interface {
	Encode(text string) int
}

// Message is the minimal shape the estimator needs from a chat message.
type Message struct {
	Role    string
	Content string
}

// Request is the minimal shape the estimator needs from a chat completion request.
type Request struct {
	Model     string
	Messages  []Message
	MaxTokens *int
}

// Estimator wraps an Encoder with the fallback behavior required when the encoder
// cannot be constructed or fails (TokenizerError: log and degrade, never fatal).
type Estimator struct {
	encoder Encoder
	log     *zap.Logger
}

// New builds an Estimator around a working Encoder.
func New(encoder Encoder, log *zap.Logger) *Estimator {
	return &Estimator{encoder: encoder, log: log}
}

// CountTokens is the tokenizer length of an arbitrary string, with the
// byte-length/4 fallback if the encoder itself panics or is absent.
func (e *Estimator) CountTokens(text string) int {
	if e.encoder == nil {
		return fallbackCount(text)
	}
	return e.safeEncode(text)
}

// safeEncode isolates a misbehaving encoder so a single bad input degrades this
// one estimate rather than crashing the request.
func (e *Estimator) safeEncode(text string) (count int) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Warn("tokens: encoder panicked, using fallback estimate", zap.Any("recover", r))
			count = fallbackCount(text)
		}
	}()
	return e.encoder.Encode(text)
}

// fallbackCount is the conservative TokenizerError fallback: byte length / 4.
func fallbackCount(text string) int {
	n := len(text) / 4
	if n == 0 && len(text) > 0 {
		n = 1
	}
	return n
}

// EstimateInput sums tokenize(role) + tokenize(content) + perMessageOverhead across
// every message, plus conversationOverhead once. Deterministic given an identical
// request and encoder.
func (e *Estimator) EstimateInput(req Request) int {
	total := 0
	for _, m := range req.Messages {
		total += e.CountTokens(m.Role)
		total += e.CountTokens(m.Content)
		total += perMessageOverhead
	}
	total += conversationOverhead
	return total
}

// ReservedOutput is request.MaxTokens if set and positive, else the conservative
// default.
func (e *Estimator) ReservedOutput(req Request) int {
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		return *req.MaxTokens
	}
	return defaultReservedOutput
}
