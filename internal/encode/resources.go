package encode

import (
	"os"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/embedbench/embed-bench/internal/pkg/errors"
)

// Sampler reads CPU and memory counters for the current process.
// Readings are process-wide, not per-goroutine, so on a shared host
// they include whatever else the process is doing.
type Sampler struct {
	proc *process.Process
}

// NewSampler creates a sampler bound to the current process.
func NewSampler() (*Sampler, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, "failed to open current process for sampling", err)
	}
	return &Sampler{proc: proc}, nil
}

// CPUSeconds returns the cumulative user plus system CPU time
// consumed by the process, in seconds.
func (s *Sampler) CPUSeconds() (float64, error) {
	times, err := s.proc.Times()
	if err != nil {
		return 0, errors.Wrap(errors.CodeInternal, "failed to read process cpu times", err)
	}
	return times.User + times.System, nil
}

// RSSBytes returns the current resident set size of the process in bytes.
func (s *Sampler) RSSBytes() (uint64, error) {
	info, err := s.proc.MemoryInfo()
	if err != nil {
		return 0, errors.Wrap(errors.CodeInternal, "failed to read process memory info", err)
	}
	return info.RSS, nil
}

// maxRSS folds two RSS readings into their running maximum.
func maxRSS(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

// cpuPercent derives CPU utilization over a wall-clock span.
// Near-zero spans and negative deltas yield 0 rather than Inf or NaN.
func cpuPercent(cpuSeconds, wallSeconds float64) float64 {
	if wallSeconds < 1e-9 || cpuSeconds <= 0 {
		return 0
	}
	return cpuSeconds / wallSeconds * 100
}
