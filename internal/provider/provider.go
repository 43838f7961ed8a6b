// Package provider implements the embedding backends the benchmark drives.
package provider

import (
	"context"
	"fmt"

	"github.com/embedbench/embed-bench/internal/config"
	"github.com/embedbench/embed-bench/internal/pkg/errors"
	"github.com/embedbench/embed-bench/internal/pkg/logger"
)

// Provider produces one embedding vector per text.
type Provider interface {
	// Embed returns the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// Close releases backend resources.
	Close() error
}

// New creates the provider for a model descriptor. Local backends apply
// the post-processing from optionsFor, mean pooling and unit-L2 output
// unless the descriptor overrides pooling.
func New(model config.ModelConfig, cfg config.ProviderConfig, log *logger.Logger) (Provider, error) {
	switch model.Backend {
	case "onnx":
		return newONNXProvider(model, cfg, optionsFor(model), log)
	case "openai":
		return newOpenAIProvider(model, cfg.OpenAI, log)
	case "mock":
		return NewMock(model.Dim), nil
	default:
		return nil, errors.ConfigError(fmt.Sprintf("unknown provider backend: %s", model.Backend))
	}
}
