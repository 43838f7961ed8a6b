package bench

import (
	"context"
	stderrors "errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/embedbench/embed-bench/internal/bus"
	"github.com/embedbench/embed-bench/internal/config"
	"github.com/embedbench/embed-bench/internal/dataset"
	"github.com/embedbench/embed-bench/internal/encode"
	"github.com/embedbench/embed-bench/internal/pkg/errors"
	"github.com/embedbench/embed-bench/internal/pkg/logger"
	"github.com/embedbench/embed-bench/internal/provider"
)

// stubProvider embeds "t<i>" as a one-hot vector at index i, so pairing
// identical texts and queries yields a perfect identity ranking.
type stubProvider struct {
	dim      int
	embedErr error

	mu     sync.Mutex
	closed bool
}

func (s *stubProvider) Embed(_ context.Context, text string) ([]float32, error) {
	if s.embedErr != nil {
		return nil, s.embedErr
	}

	var idx int
	if _, err := fmt.Sscanf(text, "t%d", &idx); err != nil {
		return nil, fmt.Errorf("unexpected text %q: %w", text, err)
	}

	vec := make([]float32, s.dim)
	vec[idx%s.dim] = 1

	return vec, nil
}

func (s *stubProvider) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubProvider) wasClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func testConfig(models ...config.ModelConfig) *config.Config {
	return &config.Config{
		Dataset: config.DatasetConfig{Path: "testdata/pairs.jsonl", MaxTokens: 64},
		Encode:  config.EncodeConfig{BatchSize: 2},
		Metrics: config.MetricsConfig{RecallKs: []int{1, 2}},
		Models:  models,
	}
}

func testDataset(n int) *dataset.Dataset {
	pairs := make([]dataset.Pair, n)
	for i := range pairs {
		pairs[i] = dataset.Pair{
			Text:  fmt.Sprintf("t%d", i),
			Query: fmt.Sprintf("t%d", i),
		}
	}
	return &dataset.Dataset{Pairs: pairs}
}

// newTestRunner builds a runner whose provider factory resolves from the
// given maps instead of real backends.
func newTestRunner(cfg *config.Config, b bus.Bus, providers map[string]provider.Provider, factoryErrs map[string]error) *Runner {
	enc := encode.NewEncoder(cfg.Encode, nil, b, nil)
	r := NewRunner(cfg, enc, b, nil, nil)

	r.newProvider = func(m config.ModelConfig, _ config.ProviderConfig, _ *logger.Logger) (provider.Provider, error) {
		if err := factoryErrs[m.Name]; err != nil {
			return nil, err
		}

		p, ok := providers[m.Name]
		if !ok {
			return nil, fmt.Errorf("no stub provider for model %s", m.Name)
		}
		return p, nil
	}

	return r
}

func TestRunner_PerfectRecall(t *testing.T) {
	cfg := testConfig(
		config.ModelConfig{Name: "alpha", Backend: "mock"},
		config.ModelConfig{Name: "beta", Backend: "mock"},
	)

	alpha := &stubProvider{dim: 8}
	beta := &stubProvider{dim: 8}
	r := newTestRunner(cfg, nil, map[string]provider.Provider{"alpha": alpha, "beta": beta}, nil)

	report, err := r.Run(context.Background(), testDataset(4))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if !strings.HasPrefix(report.RunID, "run-") {
		t.Errorf("RunID = %q, want run- prefix", report.RunID)
	}
	if report.CorpusSize != 4 || report.QueryCount != 4 {
		t.Errorf("sizes = %d/%d, want 4/4", report.CorpusSize, report.QueryCount)
	}
	if report.DroppedPairs != 0 {
		t.Errorf("DroppedPairs = %d, want 0", report.DroppedPairs)
	}
	if len(report.Results) != 2 {
		t.Fatalf("len(Results) = %d, want 2", len(report.Results))
	}

	for _, res := range report.Results {
		if res.Failed() {
			t.Fatalf("model %s failed: %s", res.Model, res.Failure)
		}

		for _, key := range []string{"Recall@1", "Recall@2", "MRR"} {
			if got := res.Metrics[key]; got != 1.0 {
				t.Errorf("model %s %s = %v, want 1.0", res.Model, key, got)
			}
		}

		if res.Corpus.Items != 4 || res.Queries.Items != 4 {
			t.Errorf("model %s items = %d/%d, want 4/4", res.Model, res.Corpus.Items, res.Queries.Items)
		}
	}

	if !alpha.wasClosed() || !beta.wasClosed() {
		t.Error("providers were not closed")
	}
}

func TestRunner_ProviderFailureIsolated(t *testing.T) {
	cfg := testConfig(
		config.ModelConfig{Name: "broken", Backend: "mock"},
		config.ModelConfig{Name: "healthy", Backend: "mock"},
	)

	providers := map[string]provider.Provider{
		"broken":  &stubProvider{dim: 8, embedErr: stderrors.New("backend exploded")},
		"healthy": &stubProvider{dim: 8},
	}
	r := newTestRunner(cfg, nil, providers, nil)

	report, err := r.Run(context.Background(), testDataset(3))
	if err != nil {
		t.Fatalf("Run() error = %v, want failure isolated to one model", err)
	}

	if len(report.Results) != 2 {
		t.Fatalf("len(Results) = %d, want 2", len(report.Results))
	}

	if !report.Results[0].Failed() {
		t.Error("broken model should carry a failure")
	}
	if !strings.Contains(report.Results[0].Failure, "backend exploded") {
		t.Errorf("Failure = %q, want the backend error preserved", report.Results[0].Failure)
	}
	if report.Results[0].Metrics != nil {
		t.Error("failed model should carry no metrics")
	}

	if report.Results[1].Failed() {
		t.Fatalf("healthy model failed: %s", report.Results[1].Failure)
	}
	if got := report.Results[1].Metrics["MRR"]; got != 1.0 {
		t.Errorf("healthy MRR = %v, want 1.0", got)
	}
}

func TestRunner_ProviderConstructionFailureIsolated(t *testing.T) {
	cfg := testConfig(
		config.ModelConfig{Name: "missing", Backend: "mock"},
		config.ModelConfig{Name: "healthy", Backend: "mock"},
	)

	providers := map[string]provider.Provider{"healthy": &stubProvider{dim: 8}}
	factoryErrs := map[string]error{
		"missing": errors.ProviderError("model files not found", nil),
	}
	r := newTestRunner(cfg, nil, providers, factoryErrs)

	report, err := r.Run(context.Background(), testDataset(3))
	if err != nil {
		t.Fatalf("Run() error = %v, want construction failure isolated", err)
	}

	if !report.Results[0].Failed() {
		t.Error("missing model should carry a failure")
	}
	if report.Results[1].Failed() {
		t.Errorf("healthy model failed: %s", report.Results[1].Failure)
	}
}

func TestRunner_DimensionMismatchIsolated(t *testing.T) {
	cfg := testConfig(
		config.ModelConfig{Name: "shrunk", Backend: "mock", Dim: 16},
		config.ModelConfig{Name: "healthy", Backend: "mock"},
	)

	providers := map[string]provider.Provider{
		"shrunk":  &stubProvider{dim: 8},
		"healthy": &stubProvider{dim: 8},
	}
	r := newTestRunner(cfg, nil, providers, nil)

	report, err := r.Run(context.Background(), testDataset(3))
	if err != nil {
		t.Fatalf("Run() error = %v, want dimension mismatch isolated", err)
	}

	if !report.Results[0].Failed() {
		t.Fatal("shrunk model should carry a failure")
	}
	if !strings.Contains(report.Results[0].Failure, "16") || !strings.Contains(report.Results[0].Failure, "8") {
		t.Errorf("Failure = %q, want both dimensions mentioned", report.Results[0].Failure)
	}
	if report.Results[1].Failed() {
		t.Errorf("healthy model failed: %s", report.Results[1].Failure)
	}
}

func TestRunner_RecallKExceedsCorpus(t *testing.T) {
	cfg := testConfig(config.ModelConfig{Name: "alpha", Backend: "mock"})
	cfg.Metrics.RecallKs = []int{10}

	r := newTestRunner(cfg, nil, map[string]provider.Provider{"alpha": &stubProvider{dim: 8}}, nil)

	report, err := r.Run(context.Background(), testDataset(3))
	if err == nil {
		t.Fatal("Run() should reject k larger than the corpus")
	}
	if !errors.IsConfig(err) {
		t.Errorf("error code = %s, want %s", errors.CodeOf(err), errors.CodeConfig)
	}
	if report != nil {
		t.Error("report should be nil on config failure")
	}
}

func TestRunner_NoModels(t *testing.T) {
	r := newTestRunner(testConfig(), nil, nil, nil)

	_, err := r.Run(context.Background(), testDataset(3))
	if !errors.IsConfig(err) {
		t.Errorf("error = %v, want config error", err)
	}
}

func TestRunner_OverLengthDropped(t *testing.T) {
	cfg := testConfig(config.ModelConfig{Name: "alpha", Backend: "mock"})
	cfg.Dataset.MaxTokens = 8

	ds := testDataset(3)
	ds.Pairs = append(ds.Pairs, dataset.Pair{
		Text:  strings.Repeat("filler ", 40) + "t3",
		Query: "t3",
	})

	r := newTestRunner(cfg, nil, map[string]provider.Provider{"alpha": &stubProvider{dim: 8}}, nil)

	report, err := r.Run(context.Background(), ds)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if report.DroppedPairs != 1 {
		t.Errorf("DroppedPairs = %d, want 1", report.DroppedPairs)
	}
	if report.CorpusSize != 3 {
		t.Errorf("CorpusSize = %d, want 3", report.CorpusSize)
	}
}

func TestRunner_AllPairsDropped(t *testing.T) {
	cfg := testConfig(config.ModelConfig{Name: "alpha", Backend: "mock"})
	cfg.Dataset.MaxTokens = 2

	r := newTestRunner(cfg, nil, map[string]provider.Provider{"alpha": &stubProvider{dim: 8}}, nil)

	_, err := r.Run(context.Background(), testDataset(3))
	if !errors.IsInput(err) {
		t.Errorf("error = %v, want input error for an empty filtered dataset", err)
	}
}

func TestRunner_PublishesLifecycleEvents(t *testing.T) {
	memBus := bus.NewMemoryBus()
	defer memBus.Close()

	var mu sync.Mutex
	counts := make(map[string]int)
	runIDs := make(map[string]bool)

	record := func(_ context.Context, e bus.Event) error {
		mu.Lock()
		defer mu.Unlock()
		counts[e.Type]++
		runIDs[e.RunID] = true
		return nil
	}

	ctx := context.Background()
	for _, topic := range []string{
		bus.TopicRunStarted, bus.TopicRunFinished,
		bus.TopicModelStarted, bus.TopicModelFinished,
		bus.TopicEncodeProgress,
	} {
		if err := memBus.Subscribe(ctx, topic, record); err != nil {
			t.Fatalf("Subscribe(%s) error = %v", topic, err)
		}
	}

	cfg := testConfig(
		config.ModelConfig{Name: "alpha", Backend: "mock"},
		config.ModelConfig{Name: "beta", Backend: "mock"},
	)
	providers := map[string]provider.Provider{
		"alpha": &stubProvider{dim: 8},
		"beta":  &stubProvider{dim: 8, embedErr: stderrors.New("backend exploded")},
	}
	r := newTestRunner(cfg, memBus, providers, nil)

	report, err := r.Run(ctx, testDataset(4))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if !memBus.DrainTimeout(time.Second) {
		t.Fatal("handlers did not drain")
	}

	mu.Lock()
	defer mu.Unlock()

	if counts[bus.TopicRunStarted] != 1 || counts[bus.TopicRunFinished] != 1 {
		t.Errorf("run events = %d/%d, want 1/1", counts[bus.TopicRunStarted], counts[bus.TopicRunFinished])
	}
	if counts[bus.TopicModelStarted] != 2 || counts[bus.TopicModelFinished] != 2 {
		t.Errorf("model events = %d/%d, want 2/2", counts[bus.TopicModelStarted], counts[bus.TopicModelFinished])
	}
	// alpha: 2 corpus batches + 2 query batches. beta aborts before any
	// batch completes.
	if counts[bus.TopicEncodeProgress] != 4 {
		t.Errorf("progress events = %d, want 4", counts[bus.TopicEncodeProgress])
	}

	if len(runIDs) != 1 || !runIDs[report.RunID] {
		t.Errorf("events carried run IDs %v, want only %q", runIDs, report.RunID)
	}
}

func TestRunner_Cancelled(t *testing.T) {
	cfg := testConfig(config.ModelConfig{Name: "alpha", Backend: "mock"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := newTestRunner(cfg, nil, map[string]provider.Provider{"alpha": &stubProvider{dim: 8}}, nil)

	if _, err := r.Run(ctx, testDataset(3)); err == nil {
		t.Fatal("Run() should fail once the context is cancelled")
	}
}

func TestPhaseStats(t *testing.T) {
	t.Run("converts units", func(t *testing.T) {
		got := phaseStats(encode.Stats{
			Items:        10,
			WallSeconds:  2.0,
			CPUSeconds:   1.0,
			CPUPercent:   50,
			PeakRSSBytes: 64 * 1024 * 1024,
		})

		if got.Items != 10 {
			t.Errorf("Items = %d, want 10", got.Items)
		}
		if got.PeakRSSMB != 64 {
			t.Errorf("PeakRSSMB = %v, want 64", got.PeakRSSMB)
		}
		if got.AvgItemLatencyMS != 200 {
			t.Errorf("AvgItemLatencyMS = %v, want 200", got.AvgItemLatencyMS)
		}
		if got.CPUPercent != 50 {
			t.Errorf("CPUPercent = %v, want 50", got.CPUPercent)
		}
	})

	t.Run("scrubs non-finite values", func(t *testing.T) {
		got := phaseStats(encode.Stats{
			WallSeconds: math.NaN(),
			CPUPercent:  math.Inf(1),
		})

		if got.WallSeconds != 0 {
			t.Errorf("WallSeconds = %v, want 0", got.WallSeconds)
		}
		if got.CPUPercent != 0 {
			t.Errorf("CPUPercent = %v, want 0", got.CPUPercent)
		}
	})
}

func TestClampCPU(t *testing.T) {
	if got := clampCPU(-5); got != 0 {
		t.Errorf("clampCPU(-5) = %v, want 0", got)
	}
	if got := clampCPU(50); got != 50 {
		t.Errorf("clampCPU(50) = %v, want 50", got)
	}
	if got := clampCPU(1e12); got <= 0 || got > 1e12 {
		t.Errorf("clampCPU(1e12) = %v, want the machine ceiling", got)
	}
}

func TestModelResult_Failed(t *testing.T) {
	if (ModelResult{}).Failed() {
		t.Error("zero result should not be failed")
	}
	if !(ModelResult{Failure: "boom"}).Failed() {
		t.Error("result with failure message should be failed")
	}
}
