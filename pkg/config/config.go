package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

var DebugLog func(string, ...interface{})

type Config struct {
	Experiment Experiment             `yaml:"experiment"`
	Training   Training               `yaml:"training"`
	Data       Data                   `yaml:"data"`
	Hparams    map[string]interface{} `yaml:"hparams"`
	Database   Database               `yaml:"database"`
	Elastic    Elastic                `yaml:"elastic"`
}

type Experiment struct {
	Name          string `yaml:"name"`
	RootOutputDir string `yaml:"root_output_dir"`
}

type Training struct {
	Epochs          int     `yaml:"epochs"`
	BatchSize       int     `yaml:"batch_size"`
	Optimizer       string  `yaml:"optimizer"`
	LearningRate    float64 `yaml:"learning_rate"`
	Seed            int64   `yaml:"seed"`
	PseudoRoundSize int     `yaml:"pseudo_round_size"`
	DecayEpochs     int     `yaml:"decay_epochs"`
	LRDecay         float64 `yaml:"lr_decay"`
	DecayType       string  `yaml:"decay_type"`
}

// Data selects CSV files for each split. Splits without a file are generated
// from Synthetic when it is enabled.
type Data struct {
	Train      string    `yaml:"train"`
	Validation string    `yaml:"validation"`
	Test       string    `yaml:"test"`
	Synthetic  Synthetic `yaml:"synthetic"`
}

type Synthetic struct {
	Enabled            bool    `yaml:"enabled"`
	Features           int     `yaml:"features"`
	TrainExamples      int     `yaml:"train_examples"`
	ValidationExamples int     `yaml:"validation_examples"`
	TestExamples       int     `yaml:"test_examples"`
	Noise              float64 `yaml:"noise"`
}

type Database struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

type Elastic struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Index    string `yaml:"index"`
}

// Overrides carries command-line values that replace config fields when set.
type Overrides struct {
	ExperimentName string
	RootOutputDir  string
	Epochs         int
	Train          string
	Validation     string
	Test           string
}

type Manager struct {
	config     *Config
	configPath string
}

func NewManager(configPath string) *Manager {
	return &Manager{
		configPath: configPath,
	}
}

func (m *Manager) LoadConfig() error {
	if m.configPath == "" {
		m.configPath = m.findConfigFile()
	}

	if DebugLog != nil {
		DebugLog("loading training config from %s", m.configPath)
	}

	if _, err := os.Stat(m.configPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found at %s. Please create one based on config.yaml.example", m.configPath)
	}

	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&config)

	if err := Validate(&config); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	if DebugLog != nil {
		DebugLog("experiment %q, %d epochs, optimizer %s (lr=%g)",
			config.Experiment.Name, config.Training.Epochs, config.Training.Optimizer, config.Training.LearningRate)
	}

	m.config = &config
	return nil
}

func (m *Manager) GetConfig() *Config {
	return m.config
}

// Override applies non-zero command-line values and validates the result.
func (m *Manager) Override(o Overrides) error {
	if m.config == nil {
		return fmt.Errorf("configuration not loaded")
	}

	if o.ExperimentName != "" {
		m.config.Experiment.Name = o.ExperimentName
	}
	if o.RootOutputDir != "" {
		m.config.Experiment.RootOutputDir = o.RootOutputDir
	}
	if o.Epochs != 0 {
		m.config.Training.Epochs = o.Epochs
	}
	if o.Train != "" {
		m.config.Data.Train = o.Train
	}
	if o.Validation != "" {
		m.config.Data.Validation = o.Validation
	}
	if o.Test != "" {
		m.config.Data.Test = o.Test
	}

	return Validate(m.config)
}

func (m *Manager) findConfigFile() string {
	if _, err := os.Stat("config.yaml"); err == nil {
		return "config.yaml"
	}

	if _, err := os.Stat("config/config.yaml"); err == nil {
		return "config/config.yaml"
	}

	if configPath := GetDefaultConfigPath(); configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
	}

	return "config/config.yaml"
}

func applyDefaults(config *Config) {
	if config.Experiment.Name == "" {
		config.Experiment.Name = "default"
	}
	if config.Experiment.RootOutputDir == "" {
		config.Experiment.RootOutputDir = filepath.Join(os.TempDir(), "fitloop")
	}
	if config.Training.BatchSize == 0 {
		config.Training.BatchSize = 32
	}
	if config.Training.Optimizer == "" {
		config.Training.Optimizer = "adam"
	}
	if config.Training.LearningRate == 0 {
		config.Training.LearningRate = 0.01
	}
	if config.Training.DecayType == "" {
		config.Training.DecayType = "linear"
	}
	if config.Training.Seed == 0 {
		config.Training.Seed = 42
	}
	if config.Database.Port == 0 {
		config.Database.Port = 5432
	}

	s := &config.Data.Synthetic
	if s.Features == 0 {
		s.Features = 8
	}
	if s.TrainExamples == 0 {
		s.TrainExamples = 1024
	}
}

// Validate checks the fields Run depends on.
func Validate(config *Config) error {
	t := config.Training
	if t.Epochs <= 0 {
		return fmt.Errorf("epochs must be greater than 0")
	}
	if t.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be greater than 0")
	}
	if t.PseudoRoundSize < 0 {
		return fmt.Errorf("pseudo_round_size must not be negative")
	}
	if t.DecayEpochs < 0 {
		return fmt.Errorf("decay_epochs must not be negative")
	}
	if t.DecayEpochs > 0 && t.DecayType != "inverse_sqrt" && t.LRDecay <= 0 {
		return fmt.Errorf("lr_decay must be greater than 0 when decay_epochs is set")
	}

	switch strings.ToLower(t.DecayType) {
	case "linear", "inverse_sqrt":
	default:
		return fmt.Errorf("unknown decay_type %q (want linear or inverse_sqrt)", t.DecayType)
	}

	switch strings.ToLower(t.Optimizer) {
	case "adam", "sgd":
	default:
		return fmt.Errorf("unknown optimizer %q (want adam or sgd)", t.Optimizer)
	}

	if strings.ContainsAny(config.Experiment.Name, `/\`) {
		return fmt.Errorf("experiment name must not contain path separators")
	}

	if config.Data.Train == "" && !config.Data.Synthetic.Enabled {
		return fmt.Errorf("no training data: set data.train or enable data.synthetic")
	}

	if config.Elastic.Enabled && config.Elastic.URL == "" {
		return fmt.Errorf("elastic.url is required when elastic is enabled")
	}

	return nil
}
