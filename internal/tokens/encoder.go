package tokens

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// fallbackEncoding is used whenever a model-specific encoding can't be resolved.
const fallbackEncoding = "cl100k_base"

// bpeEncoder binds Encoder to a real tiktoken-go BPE vocabulary.
type bpeEncoder struct {
	tk *tiktoken.Tiktoken
}

// NewBPEEncoder loads the encoding for model, falling back to cl100k_base if the
// model is unknown to tiktoken-go. Returns an error only if even the fallback
// encoding fails to load (a packaging problem, not a per-request one) — callers
// should treat that as TokenizerError and proceed with a nil Encoder, which makes
// CountTokens degrade to the byte-length/4 fallback for every call.
func NewBPEEncoder(model string, log *zap.Logger) (Encoder, error) {
	tk, err := tiktoken.EncodingForModel(model)
	if err != nil {
		log.Warn("tokens: no model-specific encoding, falling back",
			zap.String("model", model), zap.String("fallback", fallbackEncoding), zap.Error(err))
		tk, err = tiktoken.GetEncoding(fallbackEncoding)
		if err != nil {
			return nil, fmt.Errorf("tokens: load fallback encoding %s: %w", fallbackEncoding, err)
		}
	}
	return &bpeEncoder{tk: tk}, nil
}

func (b *bpeEncoder) Encode(text string) int {
	return len(b.tk.Encode(text, nil, nil))
}
