// Package report renders benchmark reports for the command line.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/embedbench/embed-bench/internal/bench"
	"github.com/embedbench/embed-bench/internal/pkg/errors"
)

const (
	FormatText = "text"
	FormatJSON = "json"
)

// Render writes a finished report to w in the requested format. An empty
// format selects the text table.
func Render(w io.Writer, r *bench.Report, format string) error {
	switch format {
	case FormatText, "":
		return renderText(w, r)
	case FormatJSON:
		return renderJSON(w, r)
	default:
		return errors.ConfigError(fmt.Sprintf("unknown output format: %s", format))
	}
}

// RenderHistory writes a list of past runs, newest first.
func RenderHistory(w io.Writer, reports []bench.Report, format string) error {
	switch format {
	case FormatText, "":
		return renderHistoryText(w, reports)
	case FormatJSON:
		return renderJSON(w, reports)
	default:
		return errors.ConfigError(fmt.Sprintf("unknown output format: %s", format))
	}
}

func renderJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(v); err != nil {
		return errors.Wrap(errors.CodeInternal, "failed to encode report", err)
	}

	return nil
}

func renderText(w io.Writer, r *bench.Report) error {
	fmt.Fprintf(w, "Run %s\n", r.RunID)
	fmt.Fprintf(w, "Dataset %s (%s): %d pairs (%d dropped over length)\n", r.DatasetPath, r.DatasetHash, r.CorpusSize, r.DroppedPairs)
	fmt.Fprintf(w, "Finished in %.2fs\n\n", r.ElapsedSeconds)

	metrics := metricColumns(r.Results)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	header := append([]string{"MODEL", "BACKEND"}, metrics...)
	header = append(header, "ENC WALL(s)", "ITEM(ms)", "CPU(%)", "PEAK RSS(MB)")
	fmt.Fprintln(tw, strings.Join(header, "\t"))

	for _, res := range r.Results {
		if res.Failed() {
			fmt.Fprintf(tw, "%s\t%s\tFAILED: %s\n", res.Model, res.Backend, res.Failure)
			continue
		}

		row := []string{res.Model, res.Backend}
		for _, m := range metrics {
			row = append(row, fmt.Sprintf("%.4f", res.Metrics[m]))
		}
		row = append(row,
			fmt.Sprintf("%.2f", res.Corpus.WallSeconds+res.Queries.WallSeconds),
			fmt.Sprintf("%.2f", res.Corpus.AvgItemLatencyMS),
			fmt.Sprintf("%.1f", res.Corpus.CPUPercent),
			fmt.Sprintf("%.1f", peakRSS(res)),
		)
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}

	return tw.Flush()
}

func renderHistoryText(w io.Writer, reports []bench.Report) error {
	if len(reports) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tFINISHED\tMODELS\tFAILURES\tCORPUS")

	for _, r := range reports {
		failures := 0
		for _, res := range r.Results {
			if res.Failed() {
				failures++
			}
		}

		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\n",
			r.RunID,
			r.FinishedAt.Format("2006-01-02 15:04:05"),
			len(r.Results),
			failures,
			r.CorpusSize,
		)
	}

	return tw.Flush()
}

// metricColumns returns the union of metric names across results in a
// stable order: recall cutoffs ascending, then everything else
// alphabetical.
func metricColumns(results []bench.ModelResult) []string {
	seen := make(map[string]bool)
	var names []string

	for _, res := range results {
		for name := range res.Metrics {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}

	sort.Slice(names, func(i, j int) bool {
		ki, iRecall := recallCutoff(names[i])
		kj, jRecall := recallCutoff(names[j])

		switch {
		case iRecall && jRecall:
			return ki < kj
		case iRecall != jRecall:
			return iRecall
		default:
			return names[i] < names[j]
		}
	})

	return names
}

func recallCutoff(name string) (int, bool) {
	var k int
	if _, err := fmt.Sscanf(name, "Recall@%d", &k); err != nil {
		return 0, false
	}
	return k, true
}

func peakRSS(res bench.ModelResult) float64 {
	if res.Queries.PeakRSSMB > res.Corpus.PeakRSSMB {
		return res.Queries.PeakRSSMB
	}
	return res.Corpus.PeakRSSMB
}
