package optim

import (
	"errors"
	"math"
	"testing"
)

func assertFloat(t *testing.T, name string, got, want float64) {
	t.Helper()
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("%s = %.10f, want %.10f", name, got, want)
	}
}

func TestSGDStep(t *testing.T) {
	sgd := NewSGD(0.1)
	params := []float64{1, 2}
	sgd.Apply(params, []float64{1, -2})

	assertFloat(t, "w[0]", params[0], 0.9)
	assertFloat(t, "w[1]", params[1], 2.2)
}

func TestAdamBiasCorrection(t *testing.T) {
	// At step 1, m̂ = g and v̂ = g², so the step is lr·sign(g).
	adam := NewAdam(0.04)
	params := []float64{5, 5}
	adam.Apply(params, []float64{1, -3})

	assertFloat(t, "w[0]", params[0], 5-0.04)
	assertFloat(t, "w[1]", params[1], 5+0.04)
	if adam.Steps() != 1 {
		t.Errorf("Steps = %d, want 1", adam.Steps())
	}
}

func TestAdamConverges(t *testing.T) {
	// Minimize (w-3)².
	adam := NewAdam(0.1)
	params := []float64{0}
	for i := 0; i < 500; i++ {
		adam.Apply(params, []float64{2 * (params[0] - 3)})
	}
	if math.Abs(params[0]-3) > 0.05 {
		t.Errorf("w = %f, want ~3", params[0])
	}
}

func TestSetLearningRate(t *testing.T) {
	for _, opt := range []Optimizer{NewSGD(0.1), NewAdam(0.1)} {
		opt.SetLearningRate(0.05)
		assertFloat(t, opt.Name()+" lr", opt.LearningRate(), 0.05)
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"sgd", "SGD"},
		{"Adam", "Adam"},
		{"", "Adam"},
	}
	for _, tt := range tests {
		opt, err := New(tt.name, 0.01)
		if err != nil {
			t.Fatalf("New(%q): %v", tt.name, err)
		}
		if opt.Name() != tt.want {
			t.Errorf("New(%q).Name() = %s, want %s", tt.name, opt.Name(), tt.want)
		}
	}

	if _, err := New("lamb", 0.01); !errors.Is(err, ErrUnknownOptimizer) {
		t.Errorf("err = %v, want ErrUnknownOptimizer", err)
	}
}
