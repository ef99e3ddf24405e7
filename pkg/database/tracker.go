package database

import (
	"context"

	"github.com/google/uuid"

	"github.com/samogod/fitloop/pkg/fit"
)

// Tracker records a training run and its epoch metrics.
type Tracker struct {
	fit.BaseCallback
	db         *DB
	runID      string
	experiment string
	hparams    map[string]interface{}
}

func NewTracker(db *DB, experiment string, hparams map[string]interface{}) *Tracker {
	return &Tracker{
		db:         db,
		runID:      uuid.NewString(),
		experiment: experiment,
		hparams:    hparams,
	}
}

func (t *Tracker) RunID() string {
	return t.runID
}

func (t *Tracker) OnTrainBegin(ctx context.Context) error {
	return t.db.StartRun(t.runID, t.experiment, t.hparams)
}

func (t *Tracker) OnEpochEnd(ctx context.Context, epoch int, logs fit.Logs) error {
	return t.db.RecordEpoch(t.runID, epoch, logs)
}

func (t *Tracker) OnTrainEnd(ctx context.Context, logs fit.Logs) error {
	return t.db.FinishRun(t.runID, StatusFinished, logs)
}

// Fail marks the run as failed. Callers use it when Fit returns an error.
func (t *Tracker) Fail() error {
	return t.db.FinishRun(t.runID, StatusFailed, nil)
}
