package provider

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"
)

const defaultMockDim = 384

// mockProvider returns deterministic lexical hash embeddings. Each word maps
// to a fixed dimension bucket, so texts sharing words land near each other
// and dry runs produce plausible rankings without any model files.
type mockProvider struct {
	dim int
}

// NewMock creates a mock provider with the given dimension (0 = default).
func NewMock(dim int) Provider {
	if dim <= 0 {
		dim = defaultMockDim
	}
	return &mockProvider{dim: dim}
}

func (m *mockProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float32, m.dim)
	for _, word := range splitLower(text) {
		h := fnv.New32a()
		h.Write([]byte(word))
		vec[h.Sum32()%uint32(m.dim)]++
	}

	return l2Normalize(vec), nil
}

func (m *mockProvider) Close() error {
	return nil
}

func splitLower(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
