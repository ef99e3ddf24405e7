package fit

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/samogod/fitloop/pkg/dataset"
)

var (
	// ErrNotCompiled is returned when a model has no optimizer attached.
	ErrNotCompiled = errors.New("fit: model must be compiled before training")

	// ErrInvalidEpochs is returned when the epoch count is not positive.
	ErrInvalidEpochs = errors.New("fit: epochs must be greater than 0")

	// ErrEmptyDataset is returned when a dataset yields no batches.
	ErrEmptyDataset = errors.New("fit: dataset produced no batches")

	// ErrNonFiniteLoss is returned when a training step reports a NaN or infinite loss.
	ErrNonFiniteLoss = errors.New("fit: non-finite loss")
)

// LossKey is the log entry every model reports for its loss.
const LossKey = "loss"

// ValidationPrefix is prepended to metric names computed on the validation set.
const ValidationPrefix = "val_"

// Logs maps metric names to values for a batch or an epoch.
type Logs map[string]float64

// Model is a compiled, trainable model.
type Model interface {
	// TrainStep runs forward and backward passes on b and applies one optimizer update.
	TrainStep(ctx context.Context, b dataset.Batch) (Logs, error)
	// TestStep computes metrics on b without updating the model.
	TestStep(ctx context.Context, b dataset.Batch) (Logs, error)
	MetricNames() []string
	LearningRate() float64
	SetLearningRate(lr float64)
	Compiled() bool
	Summary() string
}

// Options configures a call to Fit.
type Options struct {
	Epochs     int
	Validation dataset.Dataset
	Callbacks  []Callback
}

// Fit trains m on train for opts.Epochs epochs. The training dataset is
// iterated from the start at every epoch. Epoch logs are the example-weighted
// mean of the batch logs.
func Fit(ctx context.Context, m Model, train dataset.Dataset, opts Options) (*History, error) {
	if !m.Compiled() {
		return nil, ErrNotCompiled
	}
	if opts.Epochs <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidEpochs, opts.Epochs)
	}

	callbacks := CallbackList(opts.Callbacks)
	callbacks.SetModel(m)

	history := NewHistory()
	if err := callbacks.OnTrainBegin(ctx); err != nil {
		return history, err
	}

	var logs Logs
	for epoch := 0; epoch < opts.Epochs; epoch++ {
		if err := callbacks.OnEpochBegin(ctx, epoch); err != nil {
			return history, err
		}

		var err error
		logs, err = runPass(ctx, m.TrainStep, train, true)
		if err != nil {
			return history, fmt.Errorf("epoch %d: %w", epoch+1, err)
		}

		if opts.Validation != nil {
			valLogs, err := runPass(ctx, m.TestStep, opts.Validation, false)
			if err != nil {
				return history, fmt.Errorf("epoch %d validation: %w", epoch+1, err)
			}
			for name, v := range valLogs {
				logs[ValidationPrefix+name] = v
			}
		}

		history.record(epoch, logs)

		if err := callbacks.OnEpochEnd(ctx, epoch, logs); err != nil {
			return history, err
		}
		if callbacks.stopRequested() {
			break
		}
	}

	if err := callbacks.OnTrainEnd(ctx, logs); err != nil {
		return history, err
	}
	return history, nil
}

// Evaluate runs a single pass of m over ds and returns the averaged metrics.
func Evaluate(ctx context.Context, m Model, ds dataset.Dataset) (Logs, error) {
	if !m.Compiled() {
		return nil, ErrNotCompiled
	}
	return runPass(ctx, m.TestStep, ds, false)
}

type stepFunc func(context.Context, dataset.Batch) (Logs, error)

func runPass(ctx context.Context, step stepFunc, ds dataset.Dataset, training bool) (Logs, error) {
	acc := newMeanAccumulator()
	it := ds.Iterate()

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		b, ok := it.Next()
		if !ok {
			break
		}

		batchLogs, err := step(ctx, b)
		if err != nil {
			return nil, err
		}
		if training {
			if loss, ok := batchLogs[LossKey]; ok && (math.IsNaN(loss) || math.IsInf(loss, 0)) {
				return nil, fmt.Errorf("%w at step %d", ErrNonFiniteLoss, acc.steps+1)
			}
		}
		acc.add(batchLogs, float64(b.Size()))
	}

	if acc.steps == 0 {
		return nil, ErrEmptyDataset
	}
	return acc.result(), nil
}

type meanAccumulator struct {
	sums    map[string]float64
	weights map[string]float64
	steps   int
}

func newMeanAccumulator() *meanAccumulator {
	return &meanAccumulator{
		sums:    make(map[string]float64),
		weights: make(map[string]float64),
	}
}

func (a *meanAccumulator) add(logs Logs, weight float64) {
	if weight <= 0 {
		weight = 1
	}
	for name, v := range logs {
		a.sums[name] += v * weight
		a.weights[name] += weight
	}
	a.steps++
}

func (a *meanAccumulator) result() Logs {
	out := make(Logs, len(a.sums))
	for name, sum := range a.sums {
		out[name] = sum / a.weights[name]
	}
	return out
}
