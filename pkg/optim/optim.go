// Package optim implements first-order optimizers over flat parameter vectors.
//
// An Optimizer owns the learning rate. Schedulers and callbacks read and
// adjust it between steps through LearningRate and SetLearningRate.
package optim

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// ErrUnknownOptimizer is returned by New for an unsupported optimizer name.
var ErrUnknownOptimizer = errors.New("optim: unknown optimizer")

// Optimizer updates params in place from grads.
type Optimizer interface {
	Apply(params, grads []float64)
	LearningRate() float64
	SetLearningRate(lr float64)
	Name() string
}

// New returns the optimizer registered under name ("sgd" or "adam").
func New(name string, lr float64) (Optimizer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "sgd":
		return NewSGD(lr), nil
	case "adam", "":
		return NewAdam(lr), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOptimizer, name)
	}
}

// SGD is plain stochastic gradient descent: w = w - lr·g.
type SGD struct {
	lr float64
}

func NewSGD(lr float64) *SGD {
	return &SGD{lr: lr}
}

func (s *SGD) Apply(params, grads []float64) {
	floats.AddScaled(params, -s.lr, grads)
}

func (s *SGD) LearningRate() float64      { return s.lr }
func (s *SGD) SetLearningRate(lr float64) { s.lr = lr }
func (s *SGD) Name() string               { return "SGD" }

// Adam implements the Adam optimizer with bias correction.
//
//	m[i] = β1·m[i] + (1-β1)·g[i]
//	v[i] = β2·v[i] + (1-β2)·g[i]²
//	w[i] = w[i] - lr · m̂[i] / (√v̂[i] + ε)
type Adam struct {
	lr           float64
	beta1, beta2 float64
	eps          float64
	m, v         []float64
	step         int
}

// NewAdam creates an Adam optimizer with β1=0.9, β2=0.999, ε=1e-8.
// Moment buffers are sized on the first Apply.
func NewAdam(lr float64) *Adam {
	return &Adam{
		lr:    lr,
		beta1: 0.9,
		beta2: 0.999,
		eps:   1e-8,
	}
}

func (a *Adam) Apply(params, grads []float64) {
	if len(a.m) != len(params) {
		a.m = make([]float64, len(params))
		a.v = make([]float64, len(params))
		a.step = 0
	}
	a.step++

	c1 := 1 - math.Pow(a.beta1, float64(a.step))
	c2 := 1 - math.Pow(a.beta2, float64(a.step))

	for i, g := range grads {
		a.m[i] = a.beta1*a.m[i] + (1-a.beta1)*g
		a.v[i] = a.beta2*a.v[i] + (1-a.beta2)*g*g

		mHat := a.m[i] / c1
		vHat := a.v[i] / c2
		params[i] -= a.lr * mHat / (math.Sqrt(vHat) + a.eps)
	}
}

func (a *Adam) LearningRate() float64      { return a.lr }
func (a *Adam) SetLearningRate(lr float64) { a.lr = lr }
func (a *Adam) Name() string               { return "Adam" }

// Steps returns the number of updates applied so far.
func (a *Adam) Steps() int { return a.step }
