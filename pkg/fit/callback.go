package fit

import "context"

// Callback observes a Fit call. Epoch indices are 0-based.
type Callback interface {
	SetModel(m Model)
	OnTrainBegin(ctx context.Context) error
	OnEpochBegin(ctx context.Context, epoch int) error
	OnEpochEnd(ctx context.Context, epoch int, logs Logs) error
	OnTrainEnd(ctx context.Context, logs Logs) error
}

// Stopper is implemented by callbacks that can end training early. Fit polls
// it after every epoch.
type Stopper interface {
	StopTraining() bool
}

// BaseCallback implements every Callback hook as a no-op and keeps the model.
type BaseCallback struct {
	Model Model
}

// SetModel stores the model being trained.
func (c *BaseCallback) SetModel(m Model) { c.Model = m }

// OnTrainBegin does nothing.
func (c *BaseCallback) OnTrainBegin(ctx context.Context) error { return nil }

// OnEpochBegin does nothing.
func (c *BaseCallback) OnEpochBegin(ctx context.Context, epoch int) error { return nil }

// OnEpochEnd does nothing.
func (c *BaseCallback) OnEpochEnd(ctx context.Context, epoch int, logs Logs) error { return nil }

// OnTrainEnd does nothing.
func (c *BaseCallback) OnTrainEnd(ctx context.Context, logs Logs) error { return nil }

// CallbackList runs callbacks in order and stops at the first error.
type CallbackList []Callback

// SetModel hands m to every callback.
func (l CallbackList) SetModel(m Model) {
	for _, c := range l {
		c.SetModel(m)
	}
}

// OnTrainBegin calls OnTrainBegin on each callback.
func (l CallbackList) OnTrainBegin(ctx context.Context) error {
	for _, c := range l {
		if err := c.OnTrainBegin(ctx); err != nil {
			return err
		}
	}
	return nil
}

// OnEpochBegin calls OnEpochBegin on each callback.
func (l CallbackList) OnEpochBegin(ctx context.Context, epoch int) error {
	for _, c := range l {
		if err := c.OnEpochBegin(ctx, epoch); err != nil {
			return err
		}
	}
	return nil
}

// OnEpochEnd calls OnEpochEnd on each callback.
func (l CallbackList) OnEpochEnd(ctx context.Context, epoch int, logs Logs) error {
	for _, c := range l {
		if err := c.OnEpochEnd(ctx, epoch, logs); err != nil {
			return err
		}
	}
	return nil
}

// OnTrainEnd calls OnTrainEnd on each callback.
func (l CallbackList) OnTrainEnd(ctx context.Context, logs Logs) error {
	for _, c := range l {
		if err := c.OnTrainEnd(ctx, logs); err != nil {
			return err
		}
	}
	return nil
}

func (l CallbackList) stopRequested() bool {
	for _, c := range l {
		if s, ok := c.(Stopper); ok && s.StopTraining() {
			return true
		}
	}
	return false
}
