// Package tokenizer wraps HuggingFace tokenizers for encoding and token
// counting. When the native tokenizer library is unavailable, a word-based
// approximation keeps counting and encoding functional.
package tokenizer

import (
	"strings"
	"unicode"
)

// Counter counts model tokens in a text.
type Counter interface {
	Count(text string) (int, error)
}

// Tokenizer tokenizes text for model input.
type Tokenizer struct {
	maxLength int
	impl      tokenizerImpl
}

// Config holds tokenizer configuration.
type Config struct {
	MaxLength int
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		MaxLength: 512,
	}
}

// New creates a tokenizer from a model directory containing tokenizer.json.
// An empty modelDir selects the word-based approximation.
func New(modelDir string, cfg Config) (*Tokenizer, error) {
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = DefaultConfig().MaxLength
	}

	var (
		impl tokenizerImpl
		err  error
	)

	if modelDir == "" {
		impl = &approxTokenizer{}
	} else {
		impl, err = newHFTokenizer(modelDir, cfg)
		if err != nil {
			return nil, err
		}
	}

	return &Tokenizer{
		maxLength: cfg.MaxLength,
		impl:      impl,
	}, nil
}

// Encode tokenizes a single text. The result is not truncated, so callers
// can measure true sequence length before padding.
func (t *Tokenizer) Encode(text string, addSpecialTokens bool) (*Encoding, error) {
	return t.impl.encode(text, addSpecialTokens)
}

// EncodeBatch tokenizes multiple texts.
func (t *Tokenizer) EncodeBatch(texts []string, addSpecialTokens bool) ([]*Encoding, error) {
	encodings := make([]*Encoding, len(texts))

	for i, text := range texts {
		enc, err := t.Encode(text, addSpecialTokens)
		if err != nil {
			return nil, err
		}
		encodings[i] = enc
	}

	return encodings, nil
}

// EncodePadded tokenizes and pads a batch to a uniform length.
func (t *Tokenizer) EncodePadded(texts []string, addSpecialTokens bool) (*BatchEncoding, error) {
	encodings, err := t.EncodeBatch(texts, addSpecialTokens)
	if err != nil {
		return nil, err
	}

	return t.PadBatch(encodings), nil
}

// PadBatch pads a batch of encodings to the same length, capped at MaxLength.
func (t *Tokenizer) PadBatch(encodings []*Encoding) *BatchEncoding {
	if len(encodings) == 0 {
		return &BatchEncoding{}
	}

	// Find max length in batch (capped by t.maxLength)
	maxLen := 0
	for _, enc := range encodings {
		if len(enc.IDs) > maxLen {
			maxLen = len(enc.IDs)
		}
	}

	if maxLen > t.maxLength {
		maxLen = t.maxLength
	}

	// Pad each encoding
	batchSize := len(encodings)
	inputIDs := make([]int64, batchSize*maxLen)
	attentionMask := make([]int64, batchSize*maxLen)

	for i, enc := range encodings {
		offset := i * maxLen

		// Copy actual tokens (truncate if needed)
		copyLen := len(enc.IDs)
		if copyLen > maxLen {
			copyLen = maxLen
		}

		for j := 0; j < copyLen; j++ {
			inputIDs[offset+j] = int64(enc.IDs[j])
			attentionMask[offset+j] = int64(enc.AttentionMask[j])
		}

		// Padding is already 0 (from make)
	}

	return &BatchEncoding{
		InputIDs:      inputIDs,
		AttentionMask: attentionMask,
		BatchSize:     batchSize,
		SeqLength:     maxLen,
	}
}

// Count returns the untruncated token count of a text, including special
// tokens. Used to filter dataset entries that exceed the model's window.
func (t *Tokenizer) Count(text string) (int, error) {
	enc, err := t.Encode(text, true)
	if err != nil {
		return 0, err
	}
	return len(enc.IDs), nil
}

// MaxLength returns the configured maximum sequence length.
func (t *Tokenizer) MaxLength() int {
	return t.maxLength
}

// Close releases tokenizer resources.
func (t *Tokenizer) Close() error {
	if t.impl != nil {
		return t.impl.close()
	}
	return nil
}

// Encoding holds the result of tokenizing one text.
type Encoding struct {
	IDs           []uint32
	AttentionMask []uint32
	Tokens        []string
}

// BatchEncoding holds padded batch encodings ready for model input.
type BatchEncoding struct {
	InputIDs      []int64
	AttentionMask []int64
	BatchSize     int
	SeqLength     int
}

// Shape returns the tensor shape [batch_size, seq_length].
func (b *BatchEncoding) Shape() []int64 {
	return []int64{int64(b.BatchSize), int64(b.SeqLength)}
}

// tokenizerImpl is the platform-specific tokenizer implementation.
type tokenizerImpl interface {
	encode(text string, addSpecialTokens bool) (*Encoding, error)
	close() error
}

// approxTokenizer approximates subword tokenization by splitting on word
// boundaries. Counts trend low against real BPE vocabularies but preserve
// relative ordering, which is what length filtering needs.
type approxTokenizer struct{}

func (a *approxTokenizer) encode(text string, addSpecialTokens bool) (*Encoding, error) {
	words := splitWords(text)

	extra := 0
	if addSpecialTokens {
		extra = 2 // [CLS] and [SEP]
	}

	ids := make([]uint32, 0, len(words)+extra)
	mask := make([]uint32, 0, len(words)+extra)
	tokens := make([]string, 0, len(words)+extra)

	if addSpecialTokens {
		ids = append(ids, 101) // [CLS]
		mask = append(mask, 1)
		tokens = append(tokens, "[CLS]")
	}

	for _, word := range words {
		ids = append(ids, hashToken(word))
		mask = append(mask, 1)
		tokens = append(tokens, strings.ToLower(word))
	}

	if addSpecialTokens {
		ids = append(ids, 102) // [SEP]
		mask = append(mask, 1)
		tokens = append(tokens, "[SEP]")
	}

	return &Encoding{
		IDs:           ids,
		AttentionMask: mask,
		Tokens:        tokens,
	}, nil
}

func (a *approxTokenizer) close() error {
	return nil
}

// splitWords splits text into words on non-alphanumeric boundaries.
func splitWords(text string) []string {
	var words []string
	var current strings.Builder

	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			current.WriteRune(r)
		} else {
			if current.Len() > 0 {
				words = append(words, current.String())
				current.Reset()
			}
		}
	}

	if current.Len() > 0 {
		words = append(words, current.String())
	}

	return words
}

// hashToken maps a word to a stable pseudo token ID above the reserved range.
func hashToken(word string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(word); i++ {
		h ^= uint32(word[i])
		h *= 16777619
	}
	return 1000 + h%28996
}
