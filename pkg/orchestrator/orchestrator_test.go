package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/samogod/fitloop/pkg/atomicio"
	"github.com/samogod/fitloop/pkg/config"
	"github.com/samogod/fitloop/pkg/runner"
)

func quietLogger() *logrus.Logger {
	logger := NewLogger(false)
	logger.SetOutput(io.Discard)
	return logger
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func syntheticConfig(root string) string {
	return fmt.Sprintf(`
experiment:
  name: synth
  root_output_dir: %s
training:
  epochs: 2
  batch_size: 16
  optimizer: sgd
  learning_rate: 0.5
  decay_epochs: 1
  lr_decay: 0.5
data:
  synthetic:
    enabled: true
    features: 4
    train_examples: 160
    validation_examples: 64
    test_examples: 32
hparams:
  model: logistic
`, root)
}

func TestRunExperimentSynthetic(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "out")
	path := writeFile(t, dir, "config.yaml", syntheticConfig(root))

	orch, err := NewOrchestrator(path, config.Overrides{}, quietLogger())
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	if orch.GetDB().IsEnabled() {
		t.Fatal("database should be disabled")
	}

	result, err := orch.RunExperiment(context.Background())
	if err != nil {
		t.Fatalf("RunExperiment: %v", err)
	}

	if !result.Success || result.Epochs != 2 {
		t.Errorf("result = %+v", result)
	}
	for _, key := range []string{"loss", "accuracy", "val_loss", "val_accuracy"} {
		if _, ok := result.FinalMetrics[key]; !ok {
			t.Errorf("final metrics missing %q: %v", key, result.FinalMetrics)
		}
	}
	if got := len(result.History.Metrics["accuracy"]); got != 2 {
		t.Errorf("accuracy entries = %d, want 2", got)
	}

	header, rows, err := atomicio.ReadCSV(filepath.Join(result.ResultsDir, runner.HparamsFile))
	if err != nil {
		t.Fatalf("read hparams: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("hparams rows = %d, want 1", len(rows))
	}
	got := map[string]string{}
	for i, k := range header {
		got[k] = rows[0][i]
	}
	if got["model"] != "logistic" || got["optimizer"] != "sgd" || got["decay_type"] != "linear" {
		t.Errorf("hparams = %v", got)
	}

	if _, err := os.Stat(filepath.Join(root, "results", "synth", "metric_results.csv")); err != nil {
		t.Errorf("metric_results.csv: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "logdir", "synth", "train")); err != nil {
		t.Errorf("train event dir: %v", err)
	}
}

func TestRunExperimentCSV(t *testing.T) {
	dir := t.TempDir()

	var b strings.Builder
	b.WriteString("x0,x1,label\n")
	for i := 0; i < 40; i++ {
		x := float64(i%10)/5 - 1
		label := 0
		if x > 0 {
			label = 1
		}
		fmt.Fprintf(&b, "%g,%g,%d\n", x, -x/2, label)
	}
	trainPath := writeFile(t, dir, "train.csv", b.String())

	cfgPath := writeFile(t, dir, "config.yaml", fmt.Sprintf(`
experiment:
  name: csv
  root_output_dir: %s
training:
  epochs: 3
  batch_size: 8
  pseudo_round_size: 2
data:
  train: replaced-by-override.csv
`, filepath.Join(dir, "out")))

	orch, err := NewOrchestrator(cfgPath, config.Overrides{Train: trainPath, Epochs: 1}, quietLogger())
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}

	result, err := orch.RunExperiment(context.Background())
	if err != nil {
		t.Fatalf("RunExperiment: %v", err)
	}
	if result.Epochs != 1 {
		t.Errorf("epochs = %d, want 1 from override", result.Epochs)
	}
	if _, ok := result.FinalMetrics["val_loss"]; ok {
		t.Error("unexpected validation metrics without validation data")
	}
}

func TestRunExperimentMissingData(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "config.yaml", fmt.Sprintf(`
experiment:
  root_output_dir: %s
training:
  epochs: 1
data:
  train: %s
`, dir, filepath.Join(dir, "missing.csv")))

	orch, err := NewOrchestrator(cfgPath, config.Overrides{}, quietLogger())
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	if _, err := orch.RunExperiment(context.Background()); err == nil || !strings.Contains(err.Error(), "train data") {
		t.Errorf("err = %v, want train data error", err)
	}
}

func TestNewOrchestratorInvalidOverride(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", syntheticConfig(dir))

	if _, err := NewOrchestrator(path, config.Overrides{ExperimentName: "a/b"}, quietLogger()); err == nil {
		t.Error("expected error for experiment name with separator")
	}
}

func TestHparamsMerge(t *testing.T) {
	cfg := &config.Config{
		Training: config.Training{Epochs: 3, BatchSize: 8, Optimizer: "adam", LearningRate: 0.01, Seed: 1},
		Hparams:  map[string]interface{}{"optimizer": "custom", "dropout": 0.1},
	}

	got := hparams(cfg)
	if got["optimizer"] != "custom" {
		t.Errorf("optimizer = %v, want explicit hparams value", got["optimizer"])
	}
	if got["dropout"] != 0.1 || got["batch_size"] != 8 {
		t.Errorf("hparams = %v", got)
	}
	if _, ok := got["decay_type"]; ok {
		t.Error("decay_type recorded without decay")
	}
}

func TestCustomFormatter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(true)
	logger.SetOutput(&buf)

	logger.Info("hello")
	logger.Warn("careful")
	logger.Debug("details")

	want := "[INF] hello\n[WARN] careful\n[DBG] details\n"
	if buf.String() != want {
		t.Errorf("output = %q, want %q", buf.String(), want)
	}
}
