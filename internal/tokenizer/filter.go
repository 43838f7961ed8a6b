package tokenizer

import (
	"github.com/embedbench/embed-bench/internal/dataset"
	"github.com/embedbench/embed-bench/internal/pkg/logger"
)

// FilterOverLength returns a copy of ds without pairs whose document reaches
// maxTokens, plus the number of dropped pairs. Documents that no longer fit
// the model window would be truncated during encoding and skew retrieval
// quality, so they are excluded up front. Queries are not filtered.
func (t *Tokenizer) FilterOverLength(ds *dataset.Dataset, maxTokens int, log *logger.Logger) (*dataset.Dataset, int, error) {
	if log == nil {
		log = logger.Default()
	}

	kept := make([]dataset.Pair, 0, len(ds.Pairs))
	dropped := 0

	for i, p := range ds.Pairs {
		n, err := t.Count(p.Text)
		if err != nil {
			return nil, 0, err
		}

		if n >= maxTokens {
			log.Debug("Dropping over-length document",
				"index", i,
				"tokens", n,
				"max_tokens", maxTokens,
			)
			dropped++
			continue
		}

		kept = append(kept, p)
	}

	return &dataset.Dataset{Pairs: kept}, dropped, nil
}
