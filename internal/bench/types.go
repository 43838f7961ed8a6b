// Package bench runs the benchmark pipeline across every configured
// model and assembles the final report.
package bench

import (
	"math"
	"runtime"
	"time"

	"github.com/embedbench/embed-bench/internal/encode"
)

// PhaseStats summarizes the resource cost of one encode phase.
type PhaseStats struct {
	Items            int     `json:"items"`
	WallSeconds      float64 `json:"wall_seconds"`
	AvgItemLatencyMS float64 `json:"avg_item_latency_ms"`
	CPUPercent       float64 `json:"cpu_percent"`
	PeakRSSMB        float64 `json:"peak_rss_mb"`
}

// ModelResult holds everything measured for a single model. A model that
// failed carries only its identity and the failure message.
type ModelResult struct {
	Model   string             `json:"model"`
	Backend string             `json:"backend"`
	Corpus  PhaseStats         `json:"corpus"`
	Queries PhaseStats         `json:"queries"`
	Metrics map[string]float64 `json:"metrics,omitempty"`
	Failure string             `json:"failure,omitempty"`
}

// Failed reports whether the model was sidelined by a provider failure.
func (r ModelResult) Failed() bool {
	return r.Failure != ""
}

// Report is the outcome of one benchmark run.
type Report struct {
	RunID          string        `json:"run_id"`
	DatasetPath    string        `json:"dataset_path"`
	DatasetHash    string        `json:"dataset_hash"`
	CorpusSize     int           `json:"corpus_size"`
	QueryCount     int           `json:"query_count"`
	DroppedPairs   int           `json:"dropped_pairs"`
	StartedAt      time.Time     `json:"started_at"`
	FinishedAt     time.Time     `json:"finished_at"`
	ElapsedSeconds float64       `json:"elapsed_seconds"`
	Results        []ModelResult `json:"results"`
}

// phaseStats converts encoder stats into report form. CPU percent is
// clamped to [0, 100*NumCPU] and non-finite values collapse to zero, so
// a report never carries NaN or Inf.
func phaseStats(s encode.Stats) PhaseStats {
	return PhaseStats{
		Items:            s.Items,
		WallSeconds:      sanitize(s.WallSeconds),
		AvgItemLatencyMS: sanitize(s.AvgItemLatencyMS()),
		CPUPercent:       clampCPU(sanitize(s.CPUPercent)),
		PeakRSSMB:        float64(s.PeakRSSBytes) / (1024 * 1024),
	}
}

func sanitize(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func clampCPU(v float64) float64 {
	if v < 0 {
		return 0
	}
	if limit := 100 * float64(runtime.NumCPU()); v > limit {
		return limit
	}
	return v
}
