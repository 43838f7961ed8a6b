package provider

import (
	"github.com/embedbench/embed-bench/internal/config"
)

// Pooling strategies for reducing token states to one vector.
const (
	PoolingMean = "mean"
	PoolingCLS  = "cls"
)

// Options controls embedding post-processing for local backends.
type Options struct {
	// Pooling selects how per-token states collapse into a sentence
	// vector: PoolingMean or PoolingCLS.
	Pooling string

	// Normalize scales outputs to unit L2 length. The ranking metrics
	// treat dot products as cosine scores, which assumes unit norm.
	Normalize bool
}

// DefaultOptions returns the post-processing the ranking metrics assume.
func DefaultOptions() Options {
	return Options{
		Pooling:   PoolingMean,
		Normalize: true,
	}
}

// optionsFor derives post-processing options from a model descriptor.
func optionsFor(model config.ModelConfig) Options {
	opts := DefaultOptions()
	if model.Pooling != "" {
		opts.Pooling = model.Pooling
	}
	return opts
}
