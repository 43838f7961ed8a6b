//go:build cgo

package tokenizer

import (
	"fmt"
	"path/filepath"

	"github.com/daulet/tokenizers"
)

// hfTokenizer wraps the native HuggingFace tokenizer bindings.
type hfTokenizer struct {
	tk *tokenizers.Tokenizer
}

func newHFTokenizer(modelDir string, cfg Config) (tokenizerImpl, error) {
	path := filepath.Join(modelDir, "tokenizer.json")

	tk, err := tokenizers.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer %s: %w", path, err)
	}

	return &hfTokenizer{tk: tk}, nil
}

func (h *hfTokenizer) encode(text string, addSpecialTokens bool) (*Encoding, error) {
	enc := h.tk.EncodeWithOptions(text, addSpecialTokens)

	// The attention mask is all ones before padding
	mask := make([]uint32, len(enc.IDs))
	for i := range mask {
		mask[i] = 1
	}

	return &Encoding{
		IDs:           enc.IDs,
		AttentionMask: mask,
		Tokens:        enc.Tokens,
	}, nil
}

func (h *hfTokenizer) close() error {
	if h.tk != nil {
		h.tk.Close()
		h.tk = nil
	}
	return nil
}
