// Package encode turns texts into embedding vectors in instrumented batches.
package encode

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/embedbench/embed-bench/internal/bus"
	"github.com/embedbench/embed-bench/internal/config"
	"github.com/embedbench/embed-bench/internal/pkg/errors"
	"github.com/embedbench/embed-bench/internal/pkg/logger"
)

// Embedder produces one embedding vector per text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Stats describes the resource cost of one Encode call.
type Stats struct {
	Items        int     `json:"items"`
	Batches      int     `json:"batches"`
	WallSeconds  float64 `json:"wall_seconds"`
	CPUSeconds   float64 `json:"cpu_seconds"`
	CPUPercent   float64 `json:"cpu_percent"`
	PeakRSSBytes uint64  `json:"peak_rss_bytes"`
}

// AvgItemLatencyMS returns the mean wall-clock cost per item in milliseconds.
func (s Stats) AvgItemLatencyMS() float64 {
	if s.Items == 0 {
		return 0
	}
	return s.WallSeconds / float64(s.Items) * 1000
}

// Result carries the vectors of one Encode call plus its resource stats.
// Vectors[i] is the embedding of the i-th input text.
type Result struct {
	Vectors [][]float32
	Stats   Stats
}

// Progress is the payload published per completed batch.
type Progress struct {
	Model        string `json:"model"`
	Phase        string `json:"phase"`
	Batch        int    `json:"batch"` // completed batch count, 1-based
	TotalBatches int    `json:"total_batches"`
	ItemsDone    int    `json:"items_done"`
	TotalItems   int    `json:"total_items"`
}

// Encoder runs an Embedder over batches of texts with resource instrumentation.
type Encoder struct {
	cfg     config.EncodeConfig
	sampler *Sampler
	bus     bus.Bus
	log     *logger.Logger
	runID   string
}

// NewEncoder creates an encoder. The sampler and bus may be nil, which
// disables resource sampling and progress events respectively.
func NewEncoder(cfg config.EncodeConfig, sampler *Sampler, b bus.Bus, log *logger.Logger) *Encoder {
	if log == nil {
		log = logger.Default()
	}
	return &Encoder{
		cfg:     cfg,
		sampler: sampler,
		bus:     b,
		log:     log,
	}
}

// WithRunID returns a copy of the encoder that stamps published events
// with the given run ID.
func (e *Encoder) WithRunID(id string) *Encoder {
	clone := *e
	clone.runID = id
	return &clone
}

// Encode embeds texts in consecutive batches and measures the resource
// cost of the whole call. Output order always matches input order, and
// any provider error aborts the call with no partial result.
//
// Peak RSS is sampled once per completed batch, so a true peak between
// samples goes unobserved; the figure is an approximation. With more
// than one worker the CPU and RSS numbers describe the whole pool.
func (e *Encoder) Encode(ctx context.Context, model, phase string, texts []string, p Embedder) (*Result, error) {
	batchSize := e.cfg.BatchSize
	if batchSize < 1 {
		return nil, errors.ConfigError(fmt.Sprintf("batch size must be positive, got %d", batchSize))
	}

	if len(texts) == 0 {
		return &Result{Vectors: [][]float32{}}, nil
	}

	totalBatches := (len(texts) + batchSize - 1) / batchSize

	cpuStart, cpuOK := e.cpuSample()
	wallStart := time.Now()

	var (
		vectors [][]float32
		peak    uint64
		err     error
	)
	if e.cfg.Workers > 1 {
		vectors, peak, err = e.encodeParallel(ctx, model, phase, texts, batchSize, totalBatches, p)
	} else {
		vectors, peak, err = e.encodeSequential(ctx, model, phase, texts, batchSize, totalBatches, p)
	}
	if err != nil {
		return nil, err
	}

	wall := time.Since(wallStart).Seconds()

	var cpu float64
	if cpuEnd, ok := e.cpuSample(); ok && cpuOK {
		cpu = cpuEnd - cpuStart
		if cpu < 0 {
			cpu = 0
		}
	}

	stats := Stats{
		Items:        len(texts),
		Batches:      totalBatches,
		WallSeconds:  wall,
		CPUSeconds:   cpu,
		CPUPercent:   cpuPercent(cpu, wall),
		PeakRSSBytes: peak,
	}

	e.log.Debug("Encode finished",
		"model", model,
		"phase", phase,
		"items", stats.Items,
		"batches", stats.Batches,
		"wall_seconds", stats.WallSeconds,
	)

	return &Result{Vectors: vectors, Stats: stats}, nil
}

// encodeSequential processes batches one after another on the calling goroutine.
func (e *Encoder) encodeSequential(ctx context.Context, model, phase string, texts []string, batchSize, totalBatches int, p Embedder) ([][]float32, uint64, error) {
	vectors := make([][]float32, 0, len(texts))
	var peak uint64

	completed := 0
	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}

		batch, err := embedBatch(ctx, texts[start:end], start, p)
		if err != nil {
			return nil, 0, err
		}
		vectors = append(vectors, batch...)

		if rss, ok := e.rssSample(); ok {
			peak = maxRSS(peak, rss)
		}

		completed++
		e.publishProgress(ctx, model, phase, completed, totalBatches, len(vectors), len(texts))
	}

	return vectors, peak, nil
}

// encodeParallel fans batches out to a bounded worker pool. Results are
// reassembled by original batch index so output order still matches
// input order.
func (e *Encoder) encodeParallel(ctx context.Context, model, phase string, texts []string, batchSize, totalBatches int, p Embedder) ([][]float32, uint64, error) {
	byBatch := make([][][]float32, totalBatches)

	var (
		mu        sync.Mutex
		peak      uint64
		completed int
		done      int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)

	for b := 0; b < totalBatches; b++ {
		b := b // pin per iteration: captured by the closure below, and the go directive predates 1.22 loop-var semantics
		start := b * batchSize
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}

		g.Go(func() error {
			batch, err := embedBatch(gctx, texts[start:end], start, p)
			if err != nil {
				return err
			}
			byBatch[b] = batch

			rss, ok := e.rssSample()

			mu.Lock()
			if ok {
				peak = maxRSS(peak, rss)
			}
			completed++
			done += len(batch)
			completedNow, doneNow := completed, done
			mu.Unlock()

			e.publishProgress(gctx, model, phase, completedNow, totalBatches, doneNow, len(texts))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	vectors := make([][]float32, 0, len(texts))
	for _, batch := range byBatch {
		vectors = append(vectors, batch...)
	}

	return vectors, peak, nil
}

// embedBatch embeds one batch strictly sequentially, in input order.
func embedBatch(ctx context.Context, batch []string, offset int, p Embedder) ([][]float32, error) {
	out := make([][]float32, 0, len(batch))
	for i, text := range batch {
		vec, err := p.Embed(ctx, text)
		if err != nil {
			return nil, errors.Wrap(errors.CodeProvider, fmt.Sprintf("embedding text %d", offset+i), err)
		}
		out = append(out, vec)
	}
	return out, nil
}

// cpuSample reads cumulative CPU seconds. Sampling failures degrade to a
// zero reading so instrumentation never aborts an encode.
func (e *Encoder) cpuSample() (float64, bool) {
	if e.sampler == nil {
		return 0, false
	}
	cpu, err := e.sampler.CPUSeconds()
	if err != nil {
		e.log.Warn("CPU sampling failed", "error", err.Error())
		return 0, false
	}
	return cpu, true
}

// rssSample reads current RSS, reporting ok=false on failure.
func (e *Encoder) rssSample() (uint64, bool) {
	if e.sampler == nil {
		return 0, false
	}
	rss, err := e.sampler.RSSBytes()
	if err != nil {
		e.log.Warn("RSS sampling failed", "error", err.Error())
		return 0, false
	}
	return rss, true
}

// publishProgress emits a bench.encode.progress event. Best-effort and
// never affects encode semantics.
func (e *Encoder) publishProgress(ctx context.Context, model, phase string, batch, totalBatches, items, totalItems int) {
	if e.bus == nil {
		return
	}

	_ = e.bus.Publish(ctx, bus.TopicEncodeProgress, bus.Event{
		ID:        fmt.Sprintf("enc-%s-%s-%d", model, phase, batch),
		Type:      bus.TopicEncodeProgress,
		Source:    "encoder",
		Timestamp: time.Now().Unix(),
		RunID:     e.runID,
		Payload: Progress{
			Model:        model,
			Phase:        phase,
			Batch:        batch,
			TotalBatches: totalBatches,
			ItemsDone:    items,
			TotalItems:   totalItems,
		},
	})
}
