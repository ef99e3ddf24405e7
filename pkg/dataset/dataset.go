package dataset

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidBatchSize is returned when a batching parameter is not positive.
	ErrInvalidBatchSize = errors.New("dataset: batch size must be greater than 0")

	// ErrShapeMismatch is returned when features and labels disagree in length.
	ErrShapeMismatch = errors.New("dataset: features and labels have different lengths")
)

// Batch is one element of a Dataset. A batch produced by Rebatch carries its
// underlying batches in Parts and no examples of its own.
type Batch struct {
	Features [][]float64
	Labels   []float64
	Parts    []Batch
}

// Size returns the number of examples in the batch, including grouped parts.
func (b Batch) Size() int {
	if len(b.Parts) == 0 {
		return len(b.Labels)
	}
	n := 0
	for _, p := range b.Parts {
		n += p.Size()
	}
	return n
}

// Unstack returns the grouped batches, or the batch itself when it is not grouped.
func (b Batch) Unstack() []Batch {
	if len(b.Parts) == 0 {
		return []Batch{b}
	}
	return b.Parts
}

// Iterator walks a single pass over a Dataset.
type Iterator interface {
	Next() (Batch, bool)
}

// Dataset is a finite sequence of batches. Each call to Iterate starts over
// from the first batch.
type Dataset interface {
	Iterate() Iterator
}

type sliceDataset struct {
	batches []Batch
}

type sliceIterator struct {
	batches []Batch
	pos     int
}

func (it *sliceIterator) Next() (Batch, bool) {
	if it.pos >= len(it.batches) {
		return Batch{}, false
	}
	b := it.batches[it.pos]
	it.pos++
	return b, true
}

func (d *sliceDataset) Iterate() Iterator {
	return &sliceIterator{batches: d.batches}
}

// FromBatches wraps pre-built batches.
func FromBatches(batches ...Batch) Dataset {
	return &sliceDataset{batches: batches}
}

// FromExamples splits examples into batches of batchSize. The last, smaller
// batch is kept unless dropRemainder is set.
func FromExamples(features [][]float64, labels []float64, batchSize int, dropRemainder bool) (Dataset, error) {
	if batchSize <= 0 {
		return nil, ErrInvalidBatchSize
	}
	if len(features) != len(labels) {
		return nil, fmt.Errorf("%w: %d features, %d labels", ErrShapeMismatch, len(features), len(labels))
	}

	var batches []Batch
	for start := 0; start < len(labels); start += batchSize {
		end := start + batchSize
		if end > len(labels) {
			if dropRemainder {
				break
			}
			end = len(labels)
		}
		batches = append(batches, Batch{
			Features: features[start:end],
			Labels:   labels[start:end],
		})
	}
	return &sliceDataset{batches: batches}, nil
}

type groupedDataset struct {
	inner Dataset
	n     int
}

type groupedIterator struct {
	inner Iterator
	n     int
}

func (it *groupedIterator) Next() (Batch, bool) {
	parts := make([]Batch, 0, it.n)
	for len(parts) < it.n {
		b, ok := it.inner.Next()
		if !ok {
			return Batch{}, false
		}
		parts = append(parts, b)
	}
	return Batch{Parts: parts}, true
}

func (d *groupedDataset) Iterate() Iterator {
	return &groupedIterator{inner: d.inner.Iterate(), n: d.n}
}

// Rebatch groups every n consecutive batches of ds into one element. An
// incomplete trailing group is dropped. The source dataset is read lazily.
func Rebatch(ds Dataset, n int) (Dataset, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidBatchSize, n)
	}
	return &groupedDataset{inner: ds, n: n}, nil
}

// Count walks one full pass and returns the number of elements.
func Count(ds Dataset) int {
	it := ds.Iterate()
	n := 0
	for {
		if _, ok := it.Next(); !ok {
			return n
		}
		n++
	}
}
