package orchestrator

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/samogod/fitloop/pkg/callbacks"
	"github.com/samogod/fitloop/pkg/config"
	"github.com/samogod/fitloop/pkg/database"
	"github.com/samogod/fitloop/pkg/dataset"
	"github.com/samogod/fitloop/pkg/elastic"
	"github.com/samogod/fitloop/pkg/fit"
	"github.com/samogod/fitloop/pkg/logistic"
	"github.com/samogod/fitloop/pkg/optim"
	"github.com/samogod/fitloop/pkg/runner"

	"github.com/sirupsen/logrus"
)

var DebugLog func(string, ...interface{})

type Orchestrator struct {
	config        *config.Config
	configManager *config.Manager
	logger        *logrus.Logger
	db            *database.DB
}

type RunResult struct {
	Experiment   string
	RunID        string
	StartTime    time.Time
	EndTime      time.Time
	Duration     time.Duration
	Epochs       int
	Success      bool
	Errors       []error
	History      *fit.History
	FinalMetrics map[string]float64
	LogDir       string
	ResultsDir   string
}

type customFormatter struct{}

func (f *customFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var levelText string
	switch entry.Level {
	case logrus.InfoLevel:
		levelText = "[INF]"
	case logrus.WarnLevel:
		levelText = "[WARN]"
	case logrus.ErrorLevel:
		levelText = "[ERR]"
	case logrus.DebugLevel:
		levelText = "[DBG]"
	default:
		levelText = "[???]"
	}
	return []byte(fmt.Sprintf("%s %s\n", levelText, entry.Message)), nil
}

// NewLogger returns a logger writing [INF]-style lines to stderr.
func NewLogger(verbose bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrus.InfoLevel)
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	logger.SetFormatter(&customFormatter{})
	return logger
}

func NewOrchestrator(configPath string, overrides config.Overrides, logger *logrus.Logger) (*Orchestrator, error) {
	if logger == nil {
		logger = NewLogger(false)
	}

	configManager := config.NewManager(configPath)
	if err := configManager.LoadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := configManager.Override(overrides); err != nil {
		return nil, fmt.Errorf("invalid command-line overrides: %w", err)
	}

	cfg := configManager.GetConfig()

	db, err := database.New(&cfg.Database)
	if err != nil {
		logger.Warnf("Database initialization failed: %v", err)
	}

	return &Orchestrator{
		config:        cfg,
		configManager: configManager,
		logger:        logger,
		db:            db,
	}, nil
}

func (o *Orchestrator) GetConfig() *config.Config {
	return o.config
}

func (o *Orchestrator) GetDB() *database.DB {
	return o.db
}

// RunExperiment builds the datasets and model described by the config and
// trains them through runner.Run. Sink failures are collected in the result;
// a training failure is returned as an error.
func (o *Orchestrator) RunExperiment(ctx context.Context) (*RunResult, error) {
	cfg := o.config
	startTime := time.Now()

	result := &RunResult{
		Experiment: cfg.Experiment.Name,
		StartTime:  startTime,
		Errors:     []error{},
	}

	train, validation, test, err := buildDatasets(cfg)
	if err != nil {
		return nil, err
	}

	inputs, err := featureWidth(train)
	if err != nil {
		return nil, err
	}

	opt, err := optim.New(cfg.Training.Optimizer, cfg.Training.LearningRate)
	if err != nil {
		return nil, err
	}
	model := logistic.New(inputs, cfg.Training.Seed)
	model.Compile(opt)

	decayType, err := callbacks.ParseDecayType(cfg.Training.DecayType)
	if err != nil {
		return nil, err
	}

	runCfg := runner.Config{
		ExperimentName:  cfg.Experiment.Name,
		RootOutputDir:   cfg.Experiment.RootOutputDir,
		NumEpochs:       cfg.Training.Epochs,
		PseudoRoundSize: cfg.Training.PseudoRoundSize,
		Hparams:         hparams(cfg),
		DecayEpochs:     cfg.Training.DecayEpochs,
		LRDecay:         cfg.Training.LRDecay,
		DecayType:       decayType,
	}
	result.LogDir, result.ResultsDir = runCfg.Dirs()

	var sinks []fit.Callback

	var tracker *database.Tracker
	if o.db != nil && o.db.IsEnabled() {
		tracker = database.NewTracker(o.db, cfg.Experiment.Name, runCfg.Hparams)
		result.RunID = tracker.RunID()
		sinks = append(sinks, tracker)
	}

	var indexer *elastic.Indexer
	if cfg.Elastic.Enabled {
		client, err := elastic.New(elastic.Config{
			URL:      cfg.Elastic.URL,
			Username: cfg.Elastic.Username,
			Password: cfg.Elastic.Password,
			Index:    cfg.Elastic.Index,
		})
		if err != nil {
			o.logger.Warnf("Elasticsearch initialization failed: %v", err)
			result.Errors = append(result.Errors, fmt.Errorf("elasticsearch: %w", err))
		} else {
			indexer = client.Indexer(cfg.Experiment.Name, result.RunID)
			result.RunID = indexer.RunID()
			sinks = append(sinks, indexer)
		}
	}

	if DebugLog != nil {
		DebugLog("training %s on %d batches (%d inputs, %d sinks)", cfg.Experiment.Name, dataset.Count(train), inputs, len(sinks))
	}

	opts := []runner.Option{
		runner.WithLogger(o.logger),
		runner.WithCallbacks(sinks...),
	}
	if validation != nil {
		opts = append(opts, runner.WithValidation(validation))
	}
	if test != nil {
		opts = append(opts, runner.WithTest(test))
	}

	history, err := runner.Run(ctx, model, train, runCfg, opts...)
	if err != nil {
		if tracker != nil {
			if ferr := tracker.Fail(); ferr != nil {
				o.logger.Warnf("Failed to mark run as failed in database: %v", ferr)
			}
		}
		if indexer != nil {
			if cerr := indexer.Close(ctx); cerr != nil && DebugLog != nil {
				DebugLog("closing metric indexer after failure: %v", cerr)
			}
		}
		return nil, fmt.Errorf("training failed: %w", err)
	}

	endTime := time.Now()
	result.EndTime = endTime
	result.Duration = endTime.Sub(startTime)
	result.History = history
	result.Epochs = len(history.Epochs)
	result.FinalMetrics = make(map[string]float64)
	for _, name := range history.Keys() {
		if v, ok := history.Last(name); ok {
			result.FinalMetrics[name] = v
		}
	}
	result.Success = len(result.Errors) == 0

	return result, nil
}

// hparams merges the free-form hparams section with the training settings.
// Explicit hparams entries win.
func hparams(cfg *config.Config) map[string]interface{} {
	t := cfg.Training
	merged := map[string]interface{}{
		"epochs":        t.Epochs,
		"batch_size":    t.BatchSize,
		"optimizer":     t.Optimizer,
		"learning_rate": t.LearningRate,
		"seed":          t.Seed,
	}
	if t.PseudoRoundSize > 0 {
		merged["pseudo_round_size"] = t.PseudoRoundSize
	}
	if t.DecayEpochs > 0 {
		merged["decay_epochs"] = t.DecayEpochs
		merged["lr_decay"] = t.LRDecay
		merged["decay_type"] = t.DecayType
	}
	for k, v := range cfg.Hparams {
		merged[k] = v
	}
	return merged
}

func buildDatasets(cfg *config.Config) (train, validation, test dataset.Dataset, err error) {
	d := cfg.Data
	s := d.Synthetic
	batchSize := cfg.Training.BatchSize

	load := func(split, path string, examples int, seed int64) (dataset.Dataset, error) {
		if path != "" {
			if DebugLog != nil {
				DebugLog("loading %s split from %s", split, path)
			}
			ds, err := dataset.LoadCSV(path, batchSize)
			if err != nil {
				return nil, fmt.Errorf("failed to load %s data: %w", split, err)
			}
			return ds, nil
		}
		if !s.Enabled || examples <= 0 {
			return nil, nil
		}
		ds, err := dataset.Synthetic(dataset.SyntheticConfig{
			Seed:      seed,
			Examples:  examples,
			Features:  s.Features,
			BatchSize: batchSize,
			Noise:     s.Noise,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to generate %s data: %w", split, err)
		}
		return ds, nil
	}

	seed := cfg.Training.Seed
	if train, err = load("train", d.Train, s.TrainExamples, seed); err != nil {
		return nil, nil, nil, err
	}
	if train == nil {
		return nil, nil, nil, fmt.Errorf("no training data configured")
	}
	if validation, err = load("validation", d.Validation, s.ValidationExamples, seed+1); err != nil {
		return nil, nil, nil, err
	}
	if test, err = load("test", d.Test, s.TestExamples, seed+2); err != nil {
		return nil, nil, nil, err
	}
	return train, validation, test, nil
}

func featureWidth(ds dataset.Dataset) (int, error) {
	b, ok := ds.Iterate().Next()
	if !ok || len(b.Features) == 0 {
		return 0, fmt.Errorf("training data is empty")
	}
	return len(b.Features[0]), nil
}
