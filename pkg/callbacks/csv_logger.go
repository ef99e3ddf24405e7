package callbacks

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/samogod/fitloop/pkg/atomicio"
	"github.com/samogod/fitloop/pkg/fit"
)

// MetricsFile is the per-epoch metrics table written into the results directory.
const MetricsFile = "metric_results.csv"

const epochColumn = "epoch"

// AtomicCSVLogger rewrites the metrics table after every epoch. Rows left by an
// earlier run for the same or a later epoch are replaced.
type AtomicCSVLogger struct {
	fit.BaseCallback
	path string
}

func NewAtomicCSVLogger(resultsDir string) *AtomicCSVLogger {
	return &AtomicCSVLogger{path: filepath.Join(resultsDir, MetricsFile)}
}

// Path returns the location of the metrics table.
func (c *AtomicCSVLogger) Path() string {
	return c.path
}

func (c *AtomicCSVLogger) OnEpochEnd(ctx context.Context, epoch int, logs fit.Logs) error {
	oldHeader, oldRows, err := atomicio.ReadCSV(c.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	var kept []map[string]string
	for _, old := range oldRows {
		record := make(map[string]string, len(old))
		for i, v := range old {
			if i < len(oldHeader) {
				record[oldHeader[i]] = v
			}
		}
		e, err := strconv.Atoi(record[epochColumn])
		if err != nil || e >= epoch {
			continue
		}
		kept = append(kept, record)
	}

	// Columns of dropped rows are not carried over.
	columns := make(map[string]bool)
	for name := range logs {
		columns[name] = true
	}
	if len(kept) > 0 {
		for _, name := range oldHeader {
			if name != epochColumn {
				columns[name] = true
			}
		}
	}
	names := make([]string, 0, len(columns))
	for name := range columns {
		names = append(names, name)
	}
	sort.Strings(names)
	header := append([]string{epochColumn}, names...)

	rows := make([][]string, 0, len(kept)+1)
	for _, record := range kept {
		row := make([]string, len(header))
		for i, name := range header {
			row[i] = record[name]
		}
		rows = append(rows, row)
	}

	row := make([]string, len(header))
	row[0] = strconv.Itoa(epoch)
	for i, name := range names {
		if v, ok := logs[name]; ok {
			row[i+1] = strconv.FormatFloat(v, 'g', -1, 64)
		}
	}
	rows = append(rows, row)

	return atomicio.WriteCSV(c.path, header, rows)
}
