package provider

import (
	"context"
	"math"
	"testing"

	"github.com/embedbench/embed-bench/internal/config"
	"github.com/embedbench/embed-bench/internal/pkg/errors"
	"github.com/embedbench/embed-bench/internal/pkg/logger"
	"github.com/embedbench/embed-bench/internal/tokenizer"
)

func TestNew_UnknownBackend(t *testing.T) {
	_, err := New(
		config.ModelConfig{Name: "m", Backend: "grpc"},
		config.ProviderConfig{},
		logger.Default(),
	)
	if err == nil {
		t.Fatal("New() error = nil, want config error")
	}

	if !errors.IsConfig(err) {
		t.Errorf("IsConfig(err) = false for %v", err)
	}
}

func TestNew_Mock(t *testing.T) {
	p, err := New(
		config.ModelConfig{Name: "m", Backend: "mock", Dim: 64},
		config.ProviderConfig{},
		logger.Default(),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer p.Close()

	vec, err := p.Embed(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}

	if len(vec) != 64 {
		t.Errorf("len(vec) = %d, want 64", len(vec))
	}
}

func TestNew_OpenAIWithoutKey(t *testing.T) {
	_, err := New(
		config.ModelConfig{Name: "text-embedding-3-small", Backend: "openai"},
		config.ProviderConfig{},
		logger.Default(),
	)
	if err == nil {
		t.Fatal("New() error = nil, want config error for missing API key")
	}

	if !errors.IsConfig(err) {
		t.Errorf("IsConfig(err) = false for %v", err)
	}
}

func TestMock_Deterministic(t *testing.T) {
	p := NewMock(0)
	defer p.Close()

	a, err := p.Embed(context.Background(), "deterministic embedding")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}

	b, err := p.Embed(context.Background(), "deterministic embedding")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}

	if len(a) != len(b) {
		t.Fatalf("dimension changed between calls: %d vs %d", len(a), len(b))
	}

	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("vec[%d] differs: %f vs %f", i, a[i], b[i])
		}
	}
}

func TestMock_UnitNorm(t *testing.T) {
	p := NewMock(128)
	defer p.Close()

	vec, err := p.Embed(context.Background(), "unit norm please")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}

	var sum float64
	for _, x := range vec {
		sum += float64(x) * float64(x)
	}

	if math.Abs(math.Sqrt(sum)-1.0) > 1e-5 {
		t.Errorf("norm = %f, want 1.0", math.Sqrt(sum))
	}
}

func TestMock_SharedWordsScoreHigher(t *testing.T) {
	p := NewMock(0)
	defer p.Close()

	ctx := context.Background()
	query, _ := p.Embed(ctx, "the capital of France")
	related, _ := p.Embed(ctx, "Paris is the capital of France")
	unrelated, _ := p.Embed(ctx, "quantum flux measurement")

	if dot(query, related) <= dot(query, unrelated) {
		t.Errorf("related score %f <= unrelated score %f",
			dot(query, related), dot(query, unrelated))
	}
}

func TestMock_EmptyText(t *testing.T) {
	p := NewMock(32)
	defer p.Close()

	vec, err := p.Embed(context.Background(), "")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}

	for i, x := range vec {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			t.Fatalf("vec[%d] = %f, want finite", i, x)
		}
	}
}

func TestMock_CancelledContext(t *testing.T) {
	p := NewMock(0)
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := p.Embed(ctx, "text"); err == nil {
		t.Error("Embed() with cancelled context should fail")
	}
}

func TestMeanPool(t *testing.T) {
	tests := []struct {
		name   string
		output []float32
		enc    *tokenizer.BatchEncoding
		want   []float32
	}{
		{
			name:   "full mask",
			output: []float32{1, 2, 3, 4}, // 2 tokens x hidden 2
			enc: &tokenizer.BatchEncoding{
				AttentionMask: []int64{1, 1},
				BatchSize:     1,
				SeqLength:     2,
			},
			want: []float32{2, 3},
		},
		{
			name:   "padding masked out",
			output: []float32{1, 2, 3, 4},
			enc: &tokenizer.BatchEncoding{
				AttentionMask: []int64{1, 0},
				BatchSize:     1,
				SeqLength:     2,
			},
			want: []float32{1, 2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := meanPool(tt.output, tt.enc)
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if math.Abs(float64(got[i]-tt.want[i])) > 1e-6 {
					t.Errorf("vec[%d] = %f, want %f", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestMeanPool_Empty(t *testing.T) {
	got := meanPool(nil, &tokenizer.BatchEncoding{})
	if got != nil {
		t.Errorf("meanPool(empty) = %v, want nil", got)
	}
}

func TestCLSPool(t *testing.T) {
	output := []float32{1, 2, 3, 4} // 2 tokens x hidden 2
	enc := &tokenizer.BatchEncoding{
		AttentionMask: []int64{1, 1},
		BatchSize:     1,
		SeqLength:     2,
	}

	got := clsPool(output, enc)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0] != 1 || got[1] != 2 {
		t.Errorf("clsPool() = %v, want [1 2]", got)
	}
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	if opts.Pooling != PoolingMean {
		t.Errorf("Pooling = %s, want %s", opts.Pooling, PoolingMean)
	}
	if !opts.Normalize {
		t.Error("Normalize = false, want true")
	}
}

func TestOptionsFor(t *testing.T) {
	opts := optionsFor(config.ModelConfig{Name: "m", Pooling: "cls"})
	if opts.Pooling != PoolingCLS {
		t.Errorf("Pooling = %s, want %s", opts.Pooling, PoolingCLS)
	}

	opts = optionsFor(config.ModelConfig{Name: "m"})
	if opts.Pooling != PoolingMean {
		t.Errorf("default Pooling = %s, want %s", opts.Pooling, PoolingMean)
	}
}

func TestL2Normalize(t *testing.T) {
	vec := l2Normalize([]float32{3, 4})

	if math.Abs(float64(vec[0])-0.6) > 1e-6 || math.Abs(float64(vec[1])-0.8) > 1e-6 {
		t.Errorf("l2Normalize([3 4]) = %v, want [0.6 0.8]", vec)
	}
}

func TestL2Normalize_ZeroVector(t *testing.T) {
	vec := l2Normalize([]float32{0, 0, 0})

	for i, x := range vec {
		if x != 0 {
			t.Errorf("vec[%d] = %f, want 0", i, x)
		}
	}
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
