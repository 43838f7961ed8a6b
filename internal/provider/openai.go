package provider

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/embedbench/embed-bench/internal/config"
	"github.com/embedbench/embed-bench/internal/pkg/errors"
	"github.com/embedbench/embed-bench/internal/pkg/logger"
)

// openaiProvider embeds texts through an OpenAI-compatible embeddings API.
// Requests are rate limited, and a circuit breaker turns a flapping endpoint
// into fast failures instead of a stalled benchmark.
type openaiProvider struct {
	client  *openai.Client
	model   string
	limiter *rate.Limiter
	cb      *gobreaker.CircuitBreaker
	log     *logger.Logger
}

func newOpenAIProvider(model config.ModelConfig, cfg config.OpenAIConfig, log *logger.Logger) (Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.ConfigError("openai backend requires an API key (OPENAI_API_KEY)")
	}

	var client *openai.Client
	if cfg.BaseURL != "" {
		clientConfig := openai.DefaultConfig(cfg.APIKey)
		clientConfig.BaseURL = cfg.BaseURL
		client = openai.NewClientWithConfig(clientConfig)
	} else {
		client = openai.NewClient(cfg.APIKey)
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	// The remote model name defaults to the benchmark model name
	remote := model.Path
	if remote == "" {
		remote = model.Name
	}

	st := gobreaker.Settings{
		Name:    "embed-" + model.Name,
		Timeout: time.Duration(cfg.BreakerCooldown) * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				log.Warn("circuit breaker opened", "breaker", name, "from", from.String())
			}
		},
	}

	log.WithModel(model.Name).Info("using remote embeddings", "remote_model", remote)

	return &openaiProvider{
		client:  client,
		model:   remote,
		limiter: rate.NewLimiter(limit, 1),
		cb:      gobreaker.NewCircuitBreaker(st),
		log:     log,
	}, nil
}

func (p *openaiProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(errors.CodeProvider, "rate limiter interrupted", err)
	}

	resp, err := p.cb.Execute(func() (interface{}, error) {
		return p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: []string{text},
			Model: openai.EmbeddingModel(p.model),
		})
	})
	if err != nil {
		return nil, errors.Wrap(errors.CodeProvider, fmt.Sprintf("embeddings request failed for model %s", p.model), err)
	}

	embResp, ok := resp.(openai.EmbeddingResponse)
	if !ok || len(embResp.Data) == 0 {
		return nil, errors.ProviderError("embeddings response contained no data", nil)
	}

	return embResp.Data[0].Embedding, nil
}

func (p *openaiProvider) Close() error {
	return nil
}
