// Package runner runs centralized training for a compiled model.
//
// Run prepares the output directories for an experiment, records the
// hyperparameters, attaches the metric recorders and the optional learning
// rate decay, delegates the epochs to fit.Fit and reports the final metrics.
//
// Output layout under Config.RootOutputDir:
//
//	logdir/<experiment>/{train,validation}/events.out.fitloop.*
//	results/<experiment>/hparams.csv
//	results/<experiment>/metric_results.csv
//
// Two concurrent runs with the same experiment name overwrite each other's files.
package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/samogod/fitloop/pkg/atomicio"
	"github.com/samogod/fitloop/pkg/callbacks"
	"github.com/samogod/fitloop/pkg/dataset"
	"github.com/samogod/fitloop/pkg/fit"
	"github.com/samogod/fitloop/pkg/pseudoround"
)

// HparamsFile is the single-row hyperparameter table in the results directory.
const HparamsFile = "hparams.csv"

// Config describes one training run. It is not modified by Run.
type Config struct {
	ExperimentName string
	RootOutputDir  string
	NumEpochs      int

	// PseudoRoundSize groups this many batches per optimizer update. 0 disables
	// grouping; negative values are rejected.
	PseudoRoundSize        int
	PseudoRoundAggregation pseudoround.Aggregation

	// Hparams is written to hparams.csv when non-empty.
	Hparams map[string]interface{}

	// DecayEpochs enables learning rate decay every DecayEpochs epochs when positive.
	DecayEpochs int
	LRDecay     float64
	DecayType   callbacks.DecayType
}

// Dirs returns the log and results directories of the experiment.
func (c Config) Dirs() (logDir, resultsDir string) {
	return filepath.Join(c.RootOutputDir, "logdir", c.ExperimentName),
		filepath.Join(c.RootOutputDir, "results", c.ExperimentName)
}

type options struct {
	validation dataset.Dataset
	test       dataset.Dataset
	logger     logrus.FieldLogger
	callbacks  []fit.Callback
}

// Option customizes Run.
type Option func(*options)

// WithValidation evaluates ds after every epoch; its metrics are recorded with a val_ prefix.
func WithValidation(ds dataset.Dataset) Option {
	return func(o *options) { o.validation = ds }
}

// WithTest evaluates ds once after training.
func WithTest(ds dataset.Dataset) Option {
	return func(o *options) { o.test = ds }
}

// WithLogger sets the logger used for progress and final metrics.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(o *options) { o.logger = logger }
}

// WithCallbacks appends callbacks after the built-in recorders.
func WithCallbacks(cbs ...fit.Callback) Option {
	return func(o *options) { o.callbacks = append(o.callbacks, cbs...) }
}

func defaultLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrus.InfoLevel)
	return logger
}

// Run trains model on train for cfg.NumEpochs epochs and returns the history
// produced by the fit loop.
func Run(ctx context.Context, model fit.Model, train dataset.Dataset, cfg Config, opts ...Option) (*fit.History, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = defaultLogger()
	}
	logger := o.logger

	if cfg.NumEpochs <= 0 {
		return nil, fmt.Errorf("%w: got %d", fit.ErrInvalidEpochs, cfg.NumEpochs)
	}

	if cfg.PseudoRoundSize != 0 {
		grouped, err := dataset.Rebatch(train, cfg.PseudoRoundSize)
		if err != nil {
			return nil, fmt.Errorf("pseudo-round batching: %w", err)
		}
		wrapped, err := pseudoround.Augment(model, cfg.PseudoRoundAggregation)
		if err != nil {
			return nil, err
		}
		train, model = grouped, wrapped
	}

	logDir, resultsDir := cfg.Dirs()
	if err := atomicio.MakeDirs(cfg.RootOutputDir, logDir, resultsDir); err != nil {
		return nil, err
	}

	if len(cfg.Hparams) > 0 {
		hparamsFile := filepath.Join(resultsDir, HparamsFile)
		logger.Infof("Saving hyper parameters to: [%s]", hparamsFile)
		if err := writeHparams(hparamsFile, cfg.Hparams); err != nil {
			return nil, err
		}
	}

	events := callbacks.NewEventWriter(logDir)
	defer events.Close()

	trainingCallbacks := []fit.Callback{
		events,
		callbacks.NewAtomicCSVLogger(resultsDir),
	}
	if cfg.DecayEpochs > 0 {
		schedule := callbacks.StepDecay{Interval: cfg.DecayEpochs, Factor: cfg.LRDecay, Type: cfg.DecayType}
		trainingCallbacks = append(trainingCallbacks, callbacks.NewLearningRateScheduler(schedule, logger))
	}
	trainingCallbacks = append(trainingCallbacks, callbacks.NewProgressLogger(cfg.NumEpochs, logger))
	trainingCallbacks = append(trainingCallbacks, o.callbacks...)

	logger.Info("Training model:")
	logger.Info(model.Summary())

	history, err := fit.Fit(ctx, model, train, fit.Options{
		Epochs:     cfg.NumEpochs,
		Validation: o.validation,
		Callbacks:  trainingCallbacks,
	})
	if err != nil {
		return history, err
	}

	logger.Info("Final training metrics:")
	logFinal(logger, history, model.MetricNames(), "")

	if o.validation != nil {
		logger.Info("Final validation metrics:")
		logFinal(logger, history, model.MetricNames(), fit.ValidationPrefix)
	}

	if o.test != nil {
		testMetrics, err := fit.Evaluate(ctx, model, o.test)
		if err != nil {
			return history, fmt.Errorf("test evaluation: %w", err)
		}
		logger.Info("Test metrics:")
		for _, name := range model.MetricNames() {
			v, ok := testMetrics[name]
			if !ok {
				logger.Warnf("\t%s: not reported by evaluation", name)
				continue
			}
			logger.Infof("\t%s: %.4f", name, v)
		}
	}

	return history, nil
}

func logFinal(logger logrus.FieldLogger, history *fit.History, names []string, prefix string) {
	for _, name := range names {
		v, ok := history.Last(prefix + name)
		if !ok {
			logger.Warnf("\t%s: no value recorded", name)
			continue
		}
		logger.Infof("\t%s: %.4f", name, v)
	}
}

func writeHparams(path string, hparams map[string]interface{}) error {
	keys := make([]string, 0, len(hparams))
	for k := range hparams {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	row := make([]string, len(keys))
	for i, k := range keys {
		row[i] = atomicio.FormatValue(hparams[k])
	}
	return atomicio.WriteCSV(path, keys, [][]string{row})
}
