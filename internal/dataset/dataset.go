// Package dataset loads benchmark corpora from JSONL files.
//
// Each line is a JSON object holding one corpus text and the query that
// should retrieve it. Pair order defines the ground-truth identity: the
// query on line i targets the text on line i.
package dataset

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/embedbench/embed-bench/internal/pkg/errors"
)

// Pair couples a corpus text with the query that should retrieve it.
type Pair struct {
	Text  string `json:"text"`
	Query string `json:"query"`
}

// Dataset is an ordered collection of text/query pairs.
type Dataset struct {
	Pairs []Pair
}

// Len returns the number of pairs.
func (d *Dataset) Len() int {
	return len(d.Pairs)
}

// Texts returns the corpus texts in pair order.
func (d *Dataset) Texts() []string {
	texts := make([]string, len(d.Pairs))
	for i, p := range d.Pairs {
		texts[i] = p.Text
	}
	return texts
}

// Queries returns the queries in pair order.
func (d *Dataset) Queries() []string {
	queries := make([]string, len(d.Pairs))
	for i, p := range d.Pairs {
		queries[i] = p.Query
	}
	return queries
}

// Load reads a JSONL dataset from the given path.
// If limit > 0, at most that many pairs are read.
func Load(path string, limit int) (*Dataset, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInput, fmt.Sprintf("failed to open dataset %s", path), err)
	}
	defer file.Close()

	return Read(file, limit)
}

// Read reads a JSONL dataset from r.
// Blank lines are skipped; any malformed or incomplete line is an error.
func Read(r io.Reader, limit int) (*Dataset, error) {
	scanner := bufio.NewScanner(r)

	// Increase buffer size for long documents
	const maxScanTokenSize = 1024 * 1024 // 1MB
	buf := make([]byte, maxScanTokenSize)
	scanner.Buffer(buf, maxScanTokenSize)

	var pairs []Pair
	lineNo := 0

	for scanner.Scan() {
		lineNo++

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var p Pair
		if err := json.Unmarshal([]byte(line), &p); err != nil {
			return nil, errors.Wrap(errors.CodeInput, fmt.Sprintf("invalid JSON at line %d", lineNo), err).
				WithDetail("line", fmt.Sprintf("%d", lineNo))
		}

		if p.Text == "" {
			return nil, errors.InputError(fmt.Sprintf("missing text field at line %d", lineNo)).
				WithDetail("line", fmt.Sprintf("%d", lineNo))
		}

		if p.Query == "" {
			return nil, errors.InputError(fmt.Sprintf("missing query field at line %d", lineNo)).
				WithDetail("line", fmt.Sprintf("%d", lineNo))
		}

		pairs = append(pairs, p)

		if limit > 0 && len(pairs) >= limit {
			break
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(errors.CodeInput, "failed to scan dataset", err)
	}

	if len(pairs) == 0 {
		return nil, errors.InputError("dataset contains no pairs")
	}

	return &Dataset{Pairs: pairs}, nil
}
