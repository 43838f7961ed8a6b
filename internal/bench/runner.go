package bench

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/embedbench/embed-bench/internal/bus"
	"github.com/embedbench/embed-bench/internal/config"
	"github.com/embedbench/embed-bench/internal/dataset"
	"github.com/embedbench/embed-bench/internal/encode"
	"github.com/embedbench/embed-bench/internal/pkg/errors"
	"github.com/embedbench/embed-bench/internal/pkg/logger"
	"github.com/embedbench/embed-bench/internal/provider"
	"github.com/embedbench/embed-bench/internal/ranking"
	"github.com/embedbench/embed-bench/internal/similarity"
	"github.com/embedbench/embed-bench/internal/tokenizer"
)

// Lifecycle event payloads published on the bus.
type (
	// RunStarted is published once on bench.run.started.
	RunStarted struct {
		Dataset    string   `json:"dataset"`
		Models     []string `json:"models"`
		CorpusSize int      `json:"corpus_size"`
		QueryCount int      `json:"query_count"`
		RecallKs   []int    `json:"recall_ks"`
	}

	// ModelStarted is published on bench.model.started before each model.
	ModelStarted struct {
		Model   string `json:"model"`
		Backend string `json:"backend"`
	}

	// ModelFinished is published on bench.model.finished after each model,
	// whether it succeeded or failed.
	ModelFinished struct {
		Model   string             `json:"model"`
		Failure string             `json:"failure,omitempty"`
		Metrics map[string]float64 `json:"metrics,omitempty"`
	}

	// RunFinished is published once on bench.run.finished.
	RunFinished struct {
		Models         int     `json:"models"`
		Failures       int     `json:"failures"`
		ElapsedSeconds float64 `json:"elapsed_seconds"`
	}
)

// Runner drives a benchmark run over every configured model.
type Runner struct {
	cfg     *config.Config
	encoder *encode.Encoder
	bus     bus.Bus
	history *HistoryStore
	log     *logger.Logger

	// newProvider is the provider factory; tests substitute it.
	newProvider func(config.ModelConfig, config.ProviderConfig, *logger.Logger) (provider.Provider, error)
}

// NewRunner wires the benchmark pipeline together. The bus and history
// store may be nil, which disables events and persistence respectively.
func NewRunner(cfg *config.Config, enc *encode.Encoder, b bus.Bus, history *HistoryStore, log *logger.Logger) *Runner {
	if log == nil {
		log = logger.Default()
	}

	return &Runner{
		cfg:         cfg,
		encoder:     enc,
		bus:         b,
		history:     history,
		log:         log,
		newProvider: provider.New,
	}
}

// Run filters the dataset, then evaluates every configured model in
// order. Models run strictly sequentially so one model's resource
// readings cannot contaminate the next. A provider failure is recorded
// on that model's result and the run continues with the remaining
// models; input and configuration errors abort the whole run.
func (r *Runner) Run(ctx context.Context, ds *dataset.Dataset) (*Report, error) {
	if len(r.cfg.Models) == 0 {
		return nil, errors.ConfigError("no models configured")
	}

	filtered, dropped, err := r.filterDataset(ds)
	if err != nil {
		return nil, err
	}

	if filtered.Len() == 0 {
		return nil, errors.InputError("no dataset pairs left after length filtering")
	}

	// Reject recall cutoffs the corpus cannot support. Past the corpus
	// size the measurement degenerates to a constant 1.0.
	for _, k := range r.cfg.Metrics.RecallKs {
		if k > filtered.Len() {
			return nil, errors.ConfigError(fmt.Sprintf("recall k %d exceeds corpus size %d", k, filtered.Len()))
		}
	}

	started := time.Now()
	runID := fmt.Sprintf("run-%s", started.UTC().Format("20060102-150405"))
	enc := r.encoder.WithRunID(runID)

	r.log.Info("Benchmark run started",
		"run_id", runID,
		"models", len(r.cfg.Models),
		"corpus_size", filtered.Len(),
		"dropped_pairs", dropped,
	)

	names := make([]string, len(r.cfg.Models))
	for i, m := range r.cfg.Models {
		names[i] = m.Name
	}

	r.publish(ctx, bus.TopicRunStarted, runID, RunStarted{
		Dataset:    r.cfg.Dataset.Path,
		Models:     names,
		CorpusSize: filtered.Len(),
		QueryCount: filtered.Len(),
		RecallKs:   r.cfg.Metrics.RecallKs,
	})

	results := make([]ModelResult, 0, len(r.cfg.Models))
	failures := 0

	for _, model := range r.cfg.Models {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(errors.CodeInternal, "benchmark run cancelled", err)
		}

		r.publish(ctx, bus.TopicModelStarted, runID, ModelStarted{Model: model.Name, Backend: model.Backend})

		result, err := r.evaluateModel(ctx, model, filtered, enc)
		if err != nil {
			if errors.IsFatal(err) {
				return nil, err
			}

			result = ModelResult{Model: model.Name, Backend: model.Backend, Failure: err.Error()}
			failures++
			r.log.WithModel(model.Name).Error("Model evaluation failed", "error", err.Error())
		}

		results = append(results, result)
		r.publish(ctx, bus.TopicModelFinished, runID, ModelFinished{
			Model:   model.Name,
			Failure: result.Failure,
			Metrics: result.Metrics,
		})
	}

	finished := time.Now()
	report := &Report{
		RunID:          runID,
		DatasetPath:    r.cfg.Dataset.Path,
		DatasetHash:    filtered.Fingerprint(),
		CorpusSize:     filtered.Len(),
		QueryCount:     filtered.Len(),
		DroppedPairs:   dropped,
		StartedAt:      started,
		FinishedAt:     finished,
		ElapsedSeconds: finished.Sub(started).Seconds(),
		Results:        results,
	}

	r.publish(ctx, bus.TopicRunFinished, runID, RunFinished{
		Models:         len(results),
		Failures:       failures,
		ElapsedSeconds: report.ElapsedSeconds,
	})

	if r.history != nil {
		if err := r.history.Save(ctx, report); err != nil {
			r.log.Warn("Failed to persist run history", "error", err.Error())
		}
	}

	r.log.Info("Benchmark run finished",
		"run_id", runID,
		"models", len(results),
		"failures", failures,
		"elapsed_seconds", report.ElapsedSeconds,
	)

	return report, nil
}

// evaluateModel runs the encode-similarity-metrics pipeline for one
// model. The provider is closed before the function returns so the next
// model starts with a clean slate.
func (r *Runner) evaluateModel(ctx context.Context, model config.ModelConfig, ds *dataset.Dataset, enc *encode.Encoder) (ModelResult, error) {
	result := ModelResult{Model: model.Name, Backend: model.Backend}
	log := r.log.WithModel(model.Name)

	p, err := r.newProvider(model, r.cfg.Provider, log)
	if err != nil {
		return result, err
	}
	defer func() {
		if cerr := p.Close(); cerr != nil {
			log.Warn("Provider close failed", "error", cerr.Error())
		}
	}()

	corpus, err := enc.Encode(ctx, model.Name, "corpus", ds.Texts(), p)
	if err != nil {
		return result, err
	}

	if model.Dim > 0 && len(corpus.Vectors) > 0 && len(corpus.Vectors[0]) != model.Dim {
		return result, errors.DimensionMismatch(model.Dim, len(corpus.Vectors[0]))
	}

	queries, err := enc.Encode(ctx, model.Name, "queries", ds.Queries(), p)
	if err != nil {
		return result, err
	}

	matrix, err := similarity.Similarity(queries.Vectors, corpus.Vectors)
	if err != nil {
		return result, err
	}

	metrics := make(map[string]float64, len(r.cfg.Metrics.RecallKs)+1)

	for _, k := range r.cfg.Metrics.RecallKs {
		recall, err := ranking.RecallAtK(matrix, ranking.IdentityGroundTruth, k)
		if err != nil {
			return result, err
		}
		metrics[fmt.Sprintf("Recall@%d", k)] = recall
	}

	mrr, err := ranking.MeanReciprocalRank(matrix, ranking.IdentityGroundTruth)
	if err != nil {
		return result, err
	}
	metrics["MRR"] = mrr

	result.Corpus = phaseStats(corpus.Stats)
	result.Queries = phaseStats(queries.Stats)
	result.Metrics = metrics

	log.Info("Model evaluated",
		"mrr", mrr,
		"corpus_wall_seconds", result.Corpus.WallSeconds,
		"query_wall_seconds", result.Queries.WallSeconds,
	)

	return result, nil
}

// filterDataset drops documents that would overflow the model window.
// The reference tokenizer comes from the first local model so the count
// matches what that model actually sees; with no local models the word
// approximation is used.
func (r *Runner) filterDataset(ds *dataset.Dataset) (*dataset.Dataset, int, error) {
	tok, err := tokenizer.New(r.filterTokenizerDir(), tokenizer.Config{MaxLength: r.cfg.Provider.MaxSeqLength})
	if err != nil {
		return nil, 0, errors.Wrap(errors.CodeInput, "failed to load tokenizer for length filtering", err)
	}
	defer tok.Close()

	filtered, dropped, err := tok.FilterOverLength(ds, r.cfg.Dataset.MaxTokens, r.log)
	if err != nil {
		return nil, 0, err
	}

	if dropped > 0 {
		r.log.Info("Dropped over-length documents", "dropped", dropped, "max_tokens", r.cfg.Dataset.MaxTokens)
	}

	return filtered, dropped, nil
}

func (r *Runner) filterTokenizerDir() string {
	for _, m := range r.cfg.Models {
		if m.Backend != "onnx" {
			continue
		}

		if m.Path != "" {
			return m.Path
		}

		return filepath.Join(r.cfg.Provider.ModelsDir, m.Name)
	}

	return ""
}

// publish emits a lifecycle event. Best effort; a bus failure never
// affects the run.
func (r *Runner) publish(ctx context.Context, topic, runID string, payload any) {
	if r.bus == nil {
		return
	}

	_ = r.bus.Publish(ctx, topic, bus.Event{
		ID:        fmt.Sprintf("%s-%d", topic, time.Now().UnixNano()),
		Type:      topic,
		Source:    "runner",
		Timestamp: time.Now().Unix(),
		RunID:     runID,
		Payload:   payload,
	})
}
