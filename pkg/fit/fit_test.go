package fit

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/samogod/fitloop/pkg/dataset"
)

type fakeModel struct {
	compiled   bool
	lr         float64
	trainSteps int
	testSteps  int
	lossFn     func(step int) float64
}

func (m *fakeModel) TrainStep(ctx context.Context, b dataset.Batch) (Logs, error) {
	m.trainSteps++
	loss := 1.0 / float64(m.trainSteps)
	if m.lossFn != nil {
		loss = m.lossFn(m.trainSteps)
	}
	return Logs{"loss": loss, "accuracy": b.Labels[0]}, nil
}

func (m *fakeModel) TestStep(ctx context.Context, b dataset.Batch) (Logs, error) {
	m.testSteps++
	return Logs{"loss": 0.5, "accuracy": 0.75}, nil
}

func (m *fakeModel) MetricNames() []string      { return []string{"loss", "accuracy"} }
func (m *fakeModel) LearningRate() float64      { return m.lr }
func (m *fakeModel) SetLearningRate(lr float64) { m.lr = lr }
func (m *fakeModel) Compiled() bool             { return m.compiled }
func (m *fakeModel) Summary() string            { return "fake" }

func batches(n int, label float64) dataset.Dataset {
	bs := make([]dataset.Batch, n)
	for i := range bs {
		bs[i] = dataset.Batch{Features: [][]float64{{1}}, Labels: []float64{label}}
	}
	return dataset.FromBatches(bs...)
}

type recordingCallback struct {
	BaseCallback
	events []string
	epochs []int
	stopAt int
}

func (c *recordingCallback) OnTrainBegin(ctx context.Context) error {
	c.events = append(c.events, "train_begin")
	return nil
}

func (c *recordingCallback) OnEpochBegin(ctx context.Context, epoch int) error {
	c.events = append(c.events, "epoch_begin")
	return nil
}

func (c *recordingCallback) OnEpochEnd(ctx context.Context, epoch int, logs Logs) error {
	c.events = append(c.events, "epoch_end")
	c.epochs = append(c.epochs, epoch)
	return nil
}

func (c *recordingCallback) OnTrainEnd(ctx context.Context, logs Logs) error {
	c.events = append(c.events, "train_end")
	return nil
}

func (c *recordingCallback) StopTraining() bool {
	return c.stopAt > 0 && len(c.epochs) >= c.stopAt
}

func TestFitHistoryLength(t *testing.T) {
	for _, epochs := range []int{1, 2, 5} {
		m := &fakeModel{compiled: true}
		h, err := Fit(context.Background(), m, batches(10, 1), Options{Epochs: epochs})
		if err != nil {
			t.Fatalf("Fit(%d): %v", epochs, err)
		}
		for _, name := range m.MetricNames() {
			if got := len(h.Metrics[name]); got != epochs {
				t.Errorf("epochs=%d: len(%s) = %d, want %d", epochs, name, got, epochs)
			}
		}
		if _, ok := h.Metrics["val_loss"]; ok {
			t.Error("val_loss recorded without a validation set")
		}
		if m.trainSteps != 10*epochs {
			t.Errorf("train steps = %d, want %d", m.trainSteps, 10*epochs)
		}
	}
}

func TestFitValidationMetrics(t *testing.T) {
	m := &fakeModel{compiled: true}
	h, err := Fit(context.Background(), m, batches(4, 1), Options{Epochs: 2, Validation: batches(3, 0)})
	if err != nil {
		t.Fatal(err)
	}
	if got := len(h.Metrics["val_accuracy"]); got != 2 {
		t.Errorf("len(val_accuracy) = %d, want 2", got)
	}
	if v, _ := h.Last("val_accuracy"); v != 0.75 {
		t.Errorf("val_accuracy = %v, want 0.75", v)
	}
	if m.testSteps != 6 {
		t.Errorf("test steps = %d, want 6", m.testSteps)
	}
}

func TestFitWeightedMean(t *testing.T) {
	ds := dataset.FromBatches(
		dataset.Batch{Features: [][]float64{{1}, {1}, {1}}, Labels: []float64{1, 1, 1}},
		dataset.Batch{Features: [][]float64{{1}}, Labels: []float64{0}},
	)
	m := &fakeModel{compiled: true}
	h, err := Fit(context.Background(), m, ds, Options{Epochs: 1})
	if err != nil {
		t.Fatal(err)
	}
	// accuracy is the first label: 1 for a batch of 3, 0 for a batch of 1.
	if v, _ := h.Last("accuracy"); math.Abs(v-0.75) > 1e-12 {
		t.Errorf("accuracy = %v, want 0.75", v)
	}
}

func TestFitCallbackOrder(t *testing.T) {
	cb := &recordingCallback{}
	m := &fakeModel{compiled: true}
	if _, err := Fit(context.Background(), m, batches(2, 1), Options{Epochs: 2, Callbacks: []Callback{cb}}); err != nil {
		t.Fatal(err)
	}

	want := []string{"train_begin", "epoch_begin", "epoch_end", "epoch_begin", "epoch_end", "train_end"}
	if len(cb.events) != len(want) {
		t.Fatalf("events = %v, want %v", cb.events, want)
	}
	for i := range want {
		if cb.events[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, cb.events[i], want[i])
		}
	}
	if cb.epochs[1] != 1 {
		t.Errorf("second epoch index = %d, want 1", cb.epochs[1])
	}
	if cb.Model != m {
		t.Error("callback did not receive the model")
	}
}

func TestFitStopper(t *testing.T) {
	cb := &recordingCallback{stopAt: 2}
	h, err := Fit(context.Background(), &fakeModel{compiled: true}, batches(2, 1), Options{Epochs: 10, Callbacks: []Callback{cb}})
	if err != nil {
		t.Fatal(err)
	}
	if len(h.Epochs) != 2 {
		t.Errorf("epochs run = %d, want 2", len(h.Epochs))
	}
}

func TestFitErrors(t *testing.T) {
	ctx := context.Background()

	if _, err := Fit(ctx, &fakeModel{}, batches(1, 1), Options{Epochs: 1}); !errors.Is(err, ErrNotCompiled) {
		t.Errorf("uncompiled: err = %v, want ErrNotCompiled", err)
	}
	if _, err := Fit(ctx, &fakeModel{compiled: true}, batches(1, 1), Options{}); !errors.Is(err, ErrInvalidEpochs) {
		t.Errorf("zero epochs: err = %v, want ErrInvalidEpochs", err)
	}
	if _, err := Fit(ctx, &fakeModel{compiled: true}, batches(0, 1), Options{Epochs: 1}); !errors.Is(err, ErrEmptyDataset) {
		t.Errorf("empty: err = %v, want ErrEmptyDataset", err)
	}

	nan := &fakeModel{compiled: true, lossFn: func(int) float64 { return math.NaN() }}
	if _, err := Fit(ctx, nan, batches(3, 1), Options{Epochs: 1}); !errors.Is(err, ErrNonFiniteLoss) {
		t.Errorf("nan loss: err = %v, want ErrNonFiniteLoss", err)
	}
}

func TestFitCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Fit(ctx, &fakeModel{compiled: true}, batches(3, 1), Options{Epochs: 1}); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestEvaluateSinglePass(t *testing.T) {
	m := &fakeModel{compiled: true}
	logs, err := Evaluate(context.Background(), m, batches(5, 1))
	if err != nil {
		t.Fatal(err)
	}
	if m.testSteps != 5 {
		t.Errorf("test steps = %d, want 5", m.testSteps)
	}
	if logs["accuracy"] != 0.75 {
		t.Errorf("accuracy = %v, want 0.75", logs["accuracy"])
	}
}

func TestHistoryLastAndKeys(t *testing.T) {
	h := NewHistory()
	if _, ok := h.Last("loss"); ok {
		t.Error("Last on empty history reported ok")
	}
	h.record(0, Logs{"loss": 2, "accuracy": 0.1})
	h.record(1, Logs{"loss": 1, "accuracy": 0.2})

	if v, _ := h.Last("loss"); v != 1 {
		t.Errorf("Last(loss) = %v, want 1", v)
	}
	keys := h.Keys()
	if len(keys) != 2 || keys[0] != "accuracy" {
		t.Errorf("Keys = %v", keys)
	}
}
