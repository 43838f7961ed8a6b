// Package ranking computes retrieval quality metrics over similarity matrices.
package ranking

import (
	"fmt"
	"sort"

	"github.com/embedbench/embed-bench/internal/pkg/errors"
	"github.com/embedbench/embed-bench/internal/similarity"
)

// GroundTruth maps a query row index to its single relevant corpus index.
type GroundTruth func(queryIndex int) int

// IdentityGroundTruth pairs query i with corpus entry i. This is the
// natural truth for datasets where line i holds a text and the query
// written for it.
func IdentityGroundTruth(queryIndex int) int {
	return queryIndex
}

// RecallAtK returns the fraction of queries whose relevant corpus entry
// appears in the top k ranked results. With k at or above the corpus
// size every query trivially hits, so callers should validate k against
// the corpus before measuring.
func RecallAtK(m *similarity.Matrix, truth GroundTruth, k int) (float64, error) {
	if k < 1 {
		return 0, errors.ConfigError(fmt.Sprintf("recall k must be positive, got %d", k))
	}
	if m.Rows() == 0 {
		return 0, nil
	}

	hits := 0
	for i := 0; i < m.Rows(); i++ {
		target, err := truthIndex(truth, i, m.Cols())
		if err != nil {
			return 0, err
		}

		ranked := rankedIndices(m.Row(i))
		limit := k
		if limit > len(ranked) {
			limit = len(ranked)
		}
		for _, idx := range ranked[:limit] {
			if idx == target {
				hits++
				break
			}
		}
	}

	return float64(hits) / float64(m.Rows()), nil
}

// MeanReciprocalRank returns the mean of 1/rank of the relevant corpus
// entry over all queries, using 1-based ranks.
func MeanReciprocalRank(m *similarity.Matrix, truth GroundTruth) (float64, error) {
	if m.Rows() == 0 {
		return 0, nil
	}

	var sum float64
	for i := 0; i < m.Rows(); i++ {
		target, err := truthIndex(truth, i, m.Cols())
		if err != nil {
			return 0, err
		}

		for rank, idx := range rankedIndices(m.Row(i)) {
			if idx == target {
				sum += 1 / float64(rank+1)
				break
			}
		}
	}

	return sum / float64(m.Rows()), nil
}

// rankedIndices orders corpus indices by descending score. The stable
// sort keeps tied scores in ascending index order, which makes every
// metric deterministic.
func rankedIndices(row []float64) []int {
	idx := make([]int, len(row))
	for i := range idx {
		idx[i] = i
	}

	sort.SliceStable(idx, func(a, b int) bool {
		return row[idx[a]] > row[idx[b]]
	})

	return idx
}

// truthIndex resolves and bounds-checks the relevant corpus index for a query.
func truthIndex(truth GroundTruth, queryIndex, cols int) (int, error) {
	target := truth(queryIndex)
	if target < 0 || target >= cols {
		return 0, errors.ConfigError(fmt.Sprintf("ground truth index %d for query %d is outside corpus [0, %d)", target, queryIndex, cols))
	}
	return target, nil
}
