// Package pseudoround combines the gradients of several consecutive batches
// into a single optimizer update.
//
// A training dataset is first grouped with dataset.Rebatch; the model returned
// by Augment then treats every grouped element as one pseudo-round: it computes
// one gradient per underlying batch, aggregates them, and applies the result once.
package pseudoround

import (
	"context"
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/samogod/fitloop/pkg/dataset"
	"github.com/samogod/fitloop/pkg/fit"
)

var (
	// ErrNotGradientModel is returned when a model cannot expose its gradients.
	ErrNotGradientModel = errors.New("pseudoround: model does not expose gradients")

	// ErrNoGradients is returned when an aggregation receives no gradients.
	ErrNoGradients = errors.New("pseudoround: no gradients to aggregate")
)

// GradientModel is a fit.Model whose backward pass and optimizer update can
// be run separately.
type GradientModel interface {
	fit.Model
	ComputeGradients(ctx context.Context, b dataset.Batch) ([]float64, fit.Logs, error)
	ApplyGradients(grads []float64) error
}

// Aggregation reduces the gradients of one pseudo-round to a single gradient.
type Aggregation func(grads [][]float64) ([]float64, error)

// NoopMean is the unweighted coordinate-wise mean.
func NoopMean(grads [][]float64) ([]float64, error) {
	if len(grads) == 0 {
		return nil, ErrNoGradients
	}
	out := make([]float64, len(grads[0]))
	for i, g := range grads {
		if len(g) != len(out) {
			return nil, fmt.Errorf("pseudoround: gradient %d has length %d, want %d", i, len(g), len(out))
		}
		floats.Add(out, g)
	}
	floats.Scale(1/float64(len(grads)), out)
	return out, nil
}

// Augment returns a model that trains m one pseudo-round at a time. m itself is
// not modified; evaluation and learning-rate access pass straight through.
// A nil agg selects NoopMean.
func Augment(m fit.Model, agg Aggregation) (fit.Model, error) {
	gm, ok := m.(GradientModel)
	if !ok {
		return nil, ErrNotGradientModel
	}
	if agg == nil {
		agg = NoopMean
	}
	return &model{GradientModel: gm, aggregate: agg}, nil
}

type model struct {
	GradientModel
	aggregate Aggregation
}

// TrainStep runs one pseudo-round over the parts of b.
func (m *model) TrainStep(ctx context.Context, b dataset.Batch) (fit.Logs, error) {
	parts := b.Unstack()
	grads := make([][]float64, 0, len(parts))

	logs := make(fit.Logs)
	weight := 0.0
	for _, part := range parts {
		g, partLogs, err := m.ComputeGradients(ctx, part)
		if err != nil {
			return nil, err
		}
		grads = append(grads, g)

		w := float64(part.Size())
		for name, v := range partLogs {
			logs[name] += v * w
		}
		weight += w
	}

	agg, err := m.aggregate(grads)
	if err != nil {
		return nil, err
	}
	if err := m.ApplyGradients(agg); err != nil {
		return nil, err
	}

	if weight > 0 {
		for name := range logs {
			logs[name] /= weight
		}
	}
	return logs, nil
}

// TestStep evaluates every part of b and averages the results.
func (m *model) TestStep(ctx context.Context, b dataset.Batch) (fit.Logs, error) {
	parts := b.Unstack()
	if len(parts) == 1 {
		return m.GradientModel.TestStep(ctx, parts[0])
	}

	logs := make(fit.Logs)
	weight := 0.0
	for _, part := range parts {
		partLogs, err := m.GradientModel.TestStep(ctx, part)
		if err != nil {
			return nil, err
		}
		w := float64(part.Size())
		for name, v := range partLogs {
			logs[name] += v * w
		}
		weight += w
	}
	if weight > 0 {
		for name := range logs {
			logs[name] /= weight
		}
	}
	return logs, nil
}

func (m *model) Summary() string {
	return fmt.Sprintf("%s\npseudo-round wrapper: gradients aggregated per round", m.GradientModel.Summary())
}
