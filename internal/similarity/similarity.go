// Package similarity computes dense query-corpus similarity matrices.
package similarity

import (
	"github.com/embedbench/embed-bench/internal/pkg/errors"
)

// Matrix is a dense row-major score matrix with one row per query and
// one column per corpus entry.
type Matrix struct {
	rows, cols int
	data       []float64
}

// Rows returns the number of query rows.
func (m *Matrix) Rows() int { return m.rows }

// Cols returns the number of corpus columns.
func (m *Matrix) Cols() int { return m.cols }

// At returns the score of query i against corpus entry j.
func (m *Matrix) At(i, j int) float64 {
	return m.data[i*m.cols+j]
}

// Row returns the scores of query i against the whole corpus.
// The returned slice aliases the matrix storage.
func (m *Matrix) Row(i int) []float64 {
	return m.data[i*m.cols : (i+1)*m.cols]
}

// Similarity computes the full matrix of query·corpus dot products.
// Vectors are used as-is, with no normalization; cosine semantics rely
// on the provider producing unit-norm embeddings. All vectors must
// share one dimensionality or the call fails, never truncating or
// padding. An empty query or corpus set yields an empty matrix.
func Similarity(queries, corpus [][]float32) (*Matrix, error) {
	if len(queries) == 0 || len(corpus) == 0 {
		return &Matrix{}, nil
	}

	dim := len(queries[0])
	for _, q := range queries {
		if len(q) != dim {
			return nil, errors.DimensionMismatch(dim, len(q))
		}
	}
	for _, c := range corpus {
		if len(c) != dim {
			return nil, errors.DimensionMismatch(dim, len(c))
		}
	}

	m := &Matrix{
		rows: len(queries),
		cols: len(corpus),
		data: make([]float64, len(queries)*len(corpus)),
	}

	for i, q := range queries {
		row := m.data[i*m.cols : (i+1)*m.cols]
		for j, c := range corpus {
			row[j] = dot(q, c)
		}
	}

	return m, nil
}

// dot accumulates in float64 to keep long sums stable.
func dot(a, b []float32) float64 {
	var sum float64
	for k := range a {
		sum += float64(a[k]) * float64(b[k])
	}
	return sum
}
