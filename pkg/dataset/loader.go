package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"math/rand"
	"os"
	"strconv"
)

// LoadCSV reads a numeric CSV file with a header row. Every column but the
// last is a feature; the last column is the label.
func LoadCSV(path string, batchSize int) (Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) < 2 {
		return nil, fmt.Errorf("csv %s: need at least one feature and one label column", path)
	}

	var features [][]float64
	var labels []float64

	for idx := 0; ; idx++ {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", idx, err)
		}

		values := make([]float64, len(record))
		for i, field := range record {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("row %d col %q: %w", idx, header[i], err)
			}
			values[i] = v
		}
		features = append(features, values[:len(values)-1])
		labels = append(labels, values[len(values)-1])
	}

	return FromExamples(features, labels, batchSize, false)
}

// SyntheticConfig describes a generated binary classification problem.
type SyntheticConfig struct {
	Seed      int64
	Examples  int
	Features  int
	BatchSize int
	// Noise is the probability of flipping a label.
	Noise float64
}

// Synthetic generates a reproducible, linearly separable dataset. Labels are
// 1 when the sum of the features is positive.
func Synthetic(cfg SyntheticConfig) (Dataset, error) {
	if cfg.Features <= 0 {
		return nil, fmt.Errorf("synthetic dataset: features must be greater than 0")
	}
	rng := rand.New(rand.NewSource(cfg.Seed))

	features := make([][]float64, cfg.Examples)
	labels := make([]float64, cfg.Examples)
	for i := range features {
		x := make([]float64, cfg.Features)
		sum := 0.0
		for j := range x {
			x[j] = rng.Float64()*2 - 1
			sum += x[j]
		}
		features[i] = x
		if sum > 0 {
			labels[i] = 1
		}
		if cfg.Noise > 0 && rng.Float64() < cfg.Noise {
			labels[i] = 1 - labels[i]
		}
	}

	return FromExamples(features, labels, cfg.BatchSize, false)
}
