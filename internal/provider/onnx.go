package provider

import (
	"context"
	"fmt"
	"math"
	"path/filepath"

	"github.com/embedbench/embed-bench/internal/config"
	"github.com/embedbench/embed-bench/internal/pkg/errors"
	"github.com/embedbench/embed-bench/internal/pkg/logger"
	"github.com/embedbench/embed-bench/internal/tokenizer"
)

// onnxProvider runs local inference through an ONNX Runtime session and
// pools the final hidden states into a sentence vector.
type onnxProvider struct {
	name string
	sess onnxSession
	tok  *tokenizer.Tokenizer
	opts Options
	log  *logger.Logger
}

// onnxSession abstracts the native runtime so non-cgo builds compile.
type onnxSession interface {
	run(enc *tokenizer.BatchEncoding) ([]float32, error)
	close() error
}

func newONNXProvider(model config.ModelConfig, cfg config.ProviderConfig, opts Options, log *logger.Logger) (Provider, error) {
	modelDir := model.Path
	if modelDir == "" {
		modelDir = filepath.Join(cfg.ModelsDir, model.Name)
	}

	modelFile := "model.onnx"
	if model.Quantized {
		modelFile = "model_quantized.onnx"
	}

	modelPath := filepath.Join(modelDir, modelFile)
	log.WithModel(model.Name).Info("loading onnx model", "path", modelPath)

	sess, err := newONNXSession(modelPath)
	if err != nil {
		return nil, errors.Wrap(errors.CodeProvider, fmt.Sprintf("failed to load model %s", model.Name), err)
	}

	tok, err := tokenizer.New(modelDir, tokenizer.Config{MaxLength: cfg.MaxSeqLength})
	if err != nil {
		_ = sess.close()
		return nil, errors.Wrap(errors.CodeProvider, fmt.Sprintf("failed to load tokenizer for %s", model.Name), err)
	}

	return &onnxProvider{
		name: model.Name,
		sess: sess,
		tok:  tok,
		opts: opts,
		log:  log,
	}, nil
}

func (p *onnxProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(errors.CodeProvider, "embed cancelled", err)
	}

	enc, err := p.tok.EncodePadded([]string{text}, true)
	if err != nil {
		return nil, errors.Wrap(errors.CodeProvider, "tokenization failed", err)
	}

	output, err := p.sess.run(enc)
	if err != nil {
		return nil, errors.Wrap(errors.CodeProvider, fmt.Sprintf("inference failed for model %s", p.name), err)
	}

	var vec []float32
	switch p.opts.Pooling {
	case PoolingCLS:
		vec = clsPool(output, enc)
	default:
		vec = meanPool(output, enc)
	}
	if vec == nil {
		return nil, errors.ProviderError(fmt.Sprintf("model %s produced an empty output", p.name), nil)
	}

	if p.opts.Normalize {
		vec = l2Normalize(vec)
	}

	return vec, nil
}

// Close releases the session and tokenizer.
func (p *onnxProvider) Close() error {
	var first error

	if p.tok != nil {
		if err := p.tok.Close(); err != nil {
			first = err
		}
	}

	if p.sess != nil {
		if err := p.sess.close(); err != nil && first == nil {
			first = err
		}
	}

	return first
}

// meanPool averages the token states of the first sequence in the batch,
// skipping padding positions via the attention mask. The hidden size is
// inferred from the output length.
func meanPool(output []float32, enc *tokenizer.BatchEncoding) []float32 {
	seqLen := enc.SeqLength
	if seqLen == 0 || enc.BatchSize == 0 || len(output) == 0 {
		return nil
	}

	hidden := len(output) / (enc.BatchSize * seqLen)
	if hidden == 0 {
		return nil
	}

	vec := make([]float32, hidden)
	count := float32(0)

	for s := 0; s < seqLen; s++ {
		if enc.AttentionMask[s] == 0 {
			continue
		}

		count++
		for h := 0; h < hidden; h++ {
			vec[h] += output[s*hidden+h]
		}
	}

	if count > 0 {
		for h := 0; h < hidden; h++ {
			vec[h] /= count
		}
	}

	return vec
}

// clsPool takes the first token's states as the sentence vector.
func clsPool(output []float32, enc *tokenizer.BatchEncoding) []float32 {
	seqLen := enc.SeqLength
	if seqLen == 0 || enc.BatchSize == 0 || len(output) == 0 {
		return nil
	}

	hidden := len(output) / (enc.BatchSize * seqLen)
	if hidden == 0 {
		return nil
	}

	vec := make([]float32, hidden)
	copy(vec, output[:hidden])
	return vec
}

// l2Normalize normalizes a vector to unit length.
func l2Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}

	norm := float32(math.Sqrt(sum))
	if norm == 0 {
		return v
	}

	result := make([]float32, len(v))
	for i, x := range v {
		result[i] = x / norm
	}

	return result
}
