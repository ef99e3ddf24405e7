package callbacks

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/samogod/fitloop/pkg/fit"
)

// ProgressLogger logs one summary line per epoch.
type ProgressLogger struct {
	fit.BaseCallback
	Epochs int
	Logger logrus.FieldLogger
}

func NewProgressLogger(epochs int, logger logrus.FieldLogger) *ProgressLogger {
	return &ProgressLogger{Epochs: epochs, Logger: logger}
}

func (c *ProgressLogger) OnEpochEnd(ctx context.Context, epoch int, logs fit.Logs) error {
	names := make([]string, 0, len(logs))
	for name := range logs {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names)+1)
	parts = append(parts, fmt.Sprintf("Epoch %d/%d", epoch+1, c.Epochs))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %.4f", name, logs[name]))
	}
	c.Logger.Info(strings.Join(parts, " - "))
	return nil
}
