package logistic

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"

	"gonum.org/v1/gonum/floats"

	"github.com/samogod/fitloop/pkg/dataset"
	"github.com/samogod/fitloop/pkg/fit"
	"github.com/samogod/fitloop/pkg/optim"
)

// AccuracyKey names the classification accuracy metric.
const AccuracyKey = "accuracy"

// Model is a logistic regression classifier: sigmoid(dot(w, x) + b).
// Params layout is [w0..wN-1, bias].
type Model struct {
	inputs    int
	params    []float64
	optimizer optim.Optimizer
}

// New returns a reproducibly initialised model for inputs features.
func New(inputs int, seed int64) *Model {
	rng := rand.New(rand.NewSource(seed))
	params := make([]float64, inputs+1)
	for i := 0; i < inputs; i++ {
		params[i] = rng.Float64()*0.1 - 0.05
	}
	return &Model{inputs: inputs, params: params}
}

// Compile attaches the optimizer used by TrainStep and ApplyGradients.
func (m *Model) Compile(opt optim.Optimizer) {
	m.optimizer = opt
}

func (m *Model) Compiled() bool {
	return m.optimizer != nil
}

// Params returns a copy of the flat parameter vector.
func (m *Model) Params() []float64 {
	out := make([]float64, len(m.params))
	copy(out, m.params)
	return out
}

func (m *Model) MetricNames() []string {
	return []string{fit.LossKey, AccuracyKey}
}

func (m *Model) LearningRate() float64 {
	if m.optimizer == nil {
		return 0
	}
	return m.optimizer.LearningRate()
}

func (m *Model) SetLearningRate(lr float64) {
	if m.optimizer != nil {
		m.optimizer.SetLearningRate(lr)
	}
}

func (m *Model) Summary() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Model: logistic regression\n")
	fmt.Fprintf(&sb, "  inputs:     %d\n", m.inputs)
	fmt.Fprintf(&sb, "  parameters: %d", len(m.params))
	if m.optimizer != nil {
		fmt.Fprintf(&sb, "\n  optimizer:  %s (lr=%g)", m.optimizer.Name(), m.optimizer.LearningRate())
	}
	return sb.String()
}

// Predict returns the positive-class probability for x.
func (m *Model) Predict(x []float64) float64 {
	z := floats.Dot(m.params[:m.inputs], x) + m.params[m.inputs]
	return sigmoid(z)
}

// ComputeGradients returns the mean BCE gradient over b and the batch metrics.
// dL/dw_i = (p-y)·x_i, dL/db = (p-y).
func (m *Model) ComputeGradients(ctx context.Context, b dataset.Batch) ([]float64, fit.Logs, error) {
	if err := m.checkBatch(b); err != nil {
		return nil, nil, err
	}

	grads := make([]float64, len(m.params))
	loss, correct := 0.0, 0.0
	for i, x := range b.Features {
		y := b.Labels[i]
		p := m.Predict(x)
		diff := p - y

		floats.AddScaled(grads[:m.inputs], diff, x)
		grads[m.inputs] += diff

		loss += bce(p, y)
		if (p >= 0.5) == (y >= 0.5) {
			correct++
		}
	}

	n := float64(len(b.Labels))
	floats.Scale(1/n, grads)
	return grads, fit.Logs{fit.LossKey: loss / n, AccuracyKey: correct / n}, nil
}

// ApplyGradients runs one optimizer update.
func (m *Model) ApplyGradients(grads []float64) error {
	if m.optimizer == nil {
		return fit.ErrNotCompiled
	}
	if len(grads) != len(m.params) {
		return fmt.Errorf("logistic: gradient length %d, want %d", len(grads), len(m.params))
	}
	m.optimizer.Apply(m.params, grads)
	return nil
}

func (m *Model) TrainStep(ctx context.Context, b dataset.Batch) (fit.Logs, error) {
	grads, logs, err := m.ComputeGradients(ctx, b)
	if err != nil {
		return nil, err
	}
	if err := m.ApplyGradients(grads); err != nil {
		return nil, err
	}
	return logs, nil
}

func (m *Model) TestStep(ctx context.Context, b dataset.Batch) (fit.Logs, error) {
	if err := m.checkBatch(b); err != nil {
		return nil, err
	}

	loss, correct := 0.0, 0.0
	for i, x := range b.Features {
		y := b.Labels[i]
		p := m.Predict(x)
		loss += bce(p, y)
		if (p >= 0.5) == (y >= 0.5) {
			correct++
		}
	}
	n := float64(len(b.Labels))
	return fit.Logs{fit.LossKey: loss / n, AccuracyKey: correct / n}, nil
}

func (m *Model) checkBatch(b dataset.Batch) error {
	if len(b.Parts) > 0 {
		return fmt.Errorf("logistic: grouped batch of %d parts needs a pseudo-round wrapper", len(b.Parts))
	}
	if len(b.Labels) == 0 {
		return fmt.Errorf("logistic: empty batch")
	}
	if len(b.Features) != len(b.Labels) {
		return dataset.ErrShapeMismatch
	}
	for i, x := range b.Features {
		if len(x) != m.inputs {
			return fmt.Errorf("logistic: example %d has %d features, want %d", i, len(x), m.inputs)
		}
	}
	return nil
}

func bce(p, y float64) float64 {
	p = clamp(p, 1e-9, 1-1e-9)
	return -(y*math.Log(p) + (1-y)*math.Log(1-p))
}

func sigmoid(z float64) float64 {
	return 1.0 / (1.0 + math.Exp(-z))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
