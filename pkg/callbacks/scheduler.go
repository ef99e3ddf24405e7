package callbacks

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/samogod/fitloop/pkg/fit"
)

// ErrUnknownDecayType is returned by ParseDecayType for unsupported schedules.
var ErrUnknownDecayType = errors.New("callbacks: unknown decay type")

// DecayType selects how StepDecay reduces the learning rate.
type DecayType string

const (
	DecayLinear      DecayType = "linear"
	DecayInverseSqrt DecayType = "inverse_sqrt"
)

// ParseDecayType maps a config value to a DecayType. Empty means linear.
func ParseDecayType(s string) (DecayType, error) {
	switch DecayType(strings.ToLower(strings.TrimSpace(s))) {
	case "", DecayLinear:
		return DecayLinear, nil
	case DecayInverseSqrt:
		return DecayInverseSqrt, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownDecayType, s)
	}
}

// Schedule computes the learning rate to use after a completed epoch.
// epoch is 1-indexed.
type Schedule interface {
	Next(epoch int, lr float64) float64
	Name() string
}

// StepDecay lowers the learning rate every Interval epochs: multiplied by
// Factor for DecayLinear, divided by sqrt(epoch) for DecayInverseSqrt.
type StepDecay struct {
	Interval int
	Factor   float64
	Type     DecayType
}

func (s StepDecay) Next(epoch int, lr float64) float64 {
	if s.Interval <= 0 || epoch <= 0 || epoch%s.Interval != 0 {
		return lr
	}
	if s.Type == DecayInverseSqrt {
		return lr / math.Sqrt(float64(epoch))
	}
	return lr * s.Factor
}

func (s StepDecay) Name() string {
	return fmt.Sprintf("StepDecay(%s, every %d)", s.Type, s.Interval)
}

// LearningRateScheduler applies a Schedule to the model after every epoch.
type LearningRateScheduler struct {
	fit.BaseCallback
	Schedule Schedule
	Logger   logrus.FieldLogger
}

func NewLearningRateScheduler(s Schedule, logger logrus.FieldLogger) *LearningRateScheduler {
	return &LearningRateScheduler{Schedule: s, Logger: logger}
}

func (c *LearningRateScheduler) OnEpochEnd(ctx context.Context, epoch int, logs fit.Logs) error {
	completed := epoch + 1
	old := c.Model.LearningRate()
	lr := c.Schedule.Next(completed, old)
	if lr == old {
		return nil
	}
	if math.IsNaN(lr) || math.IsInf(lr, 0) {
		return fmt.Errorf("callbacks: %s produced learning rate %v at epoch %d", c.Schedule.Name(), lr, completed)
	}

	c.Model.SetLearningRate(lr)
	if c.Logger != nil {
		c.Logger.Infof("Epoch %d: LearningRateScheduler setting learning rate to %g.", completed, lr)
	}
	return nil
}
