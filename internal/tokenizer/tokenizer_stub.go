//go:build !cgo

// Stub for platforms without the native HuggingFace tokenizer library.
// This allows the code to compile everywhere.

package tokenizer

import "log"

func newHFTokenizer(modelDir string, cfg Config) (tokenizerImpl, error) {
	log.Printf("[WARN] HuggingFace tokenizers are not available on this platform. "+
		"Falling back to word-based approximation for %s.", modelDir)

	return &approxTokenizer{}, nil
}
