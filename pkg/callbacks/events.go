package callbacks

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"google.golang.org/protobuf/encoding/protodelim"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/samogod/fitloop/pkg/fit"
)

const (
	trainRun      = "train"
	validationRun = "validation"
	eventPrefix   = "events.out.fitloop."
)

// Event is one scalar summary record.
type Event struct {
	WallTime float64
	Step     int
	Tag      string
	Value    float64
}

// EventWriter records epoch scalars as length-delimited protobuf Structs
// under logDir/train and logDir/validation, one file per run.
type EventWriter struct {
	fit.BaseCallback
	logDir  string
	now     func() time.Time
	writers map[string]*eventFile
}

type eventFile struct {
	f *os.File
	w *bufio.Writer
}

func NewEventWriter(logDir string) *EventWriter {
	return &EventWriter{logDir: logDir, now: time.Now, writers: make(map[string]*eventFile)}
}

func (c *EventWriter) OnTrainBegin(ctx context.Context) error {
	_, err := c.writer(trainRun)
	return err
}

func (c *EventWriter) OnEpochEnd(ctx context.Context, epoch int, logs fit.Logs) error {
	names := make([]string, 0, len(logs))
	for name := range logs {
		names = append(names, name)
	}
	sort.Strings(names)

	wall := float64(c.now().UnixNano()) / 1e9
	for _, name := range names {
		run, tag := trainRun, name
		if strings.HasPrefix(name, fit.ValidationPrefix) {
			run, tag = validationRun, strings.TrimPrefix(name, fit.ValidationPrefix)
		}
		if err := c.write(run, Event{WallTime: wall, Step: epoch, Tag: "epoch_" + tag, Value: logs[name]}); err != nil {
			return err
		}
	}

	if c.Model != nil {
		ev := Event{WallTime: wall, Step: epoch, Tag: "epoch_learning_rate", Value: c.Model.LearningRate()}
		if err := c.write(trainRun, ev); err != nil {
			return err
		}
	}

	for _, ef := range c.writers {
		if err := ef.w.Flush(); err != nil {
			return fmt.Errorf("failed to flush event file %s: %w", ef.f.Name(), err)
		}
	}
	return nil
}

func (c *EventWriter) OnTrainEnd(ctx context.Context, logs fit.Logs) error {
	return c.Close()
}

// Close flushes and closes every open event file.
func (c *EventWriter) Close() error {
	var errs []error
	for run, ef := range c.writers {
		if err := ef.w.Flush(); err != nil {
			errs = append(errs, err)
		}
		if err := ef.f.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(c.writers, run)
	}
	return errors.Join(errs...)
}

func (c *EventWriter) writer(run string) (*eventFile, error) {
	if ef, ok := c.writers[run]; ok {
		return ef, nil
	}

	dir := filepath.Join(c.logDir, run)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create event directory %s: %w", dir, err)
	}

	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	name := filepath.Join(dir, fmt.Sprintf("%s%d.%s", eventPrefix, c.now().UnixNano(), host))
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open event file: %w", err)
	}

	ef := &eventFile{f: f, w: bufio.NewWriter(f)}
	c.writers[run] = ef
	return ef, nil
}

func (c *EventWriter) write(run string, ev Event) error {
	ef, err := c.writer(run)
	if err != nil {
		return err
	}

	rec, err := structpb.NewStruct(map[string]interface{}{
		"wall_time": ev.WallTime,
		"step":      ev.Step,
		"tag":       ev.Tag,
		"value":     ev.Value,
	})
	if err != nil {
		return fmt.Errorf("failed to encode event %s: %w", ev.Tag, err)
	}
	if _, err := protodelim.MarshalTo(ef.w, rec); err != nil {
		return fmt.Errorf("failed to write event %s: %w", ev.Tag, err)
	}
	return nil
}

// EventFiles lists the event files of one run ("train" or "validation") under logDir.
func EventFiles(logDir, run string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(logDir, run, eventPrefix+"*"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// ReadEvents decodes every record in an event file.
func ReadEvents(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open event file: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var events []Event
	for {
		rec := &structpb.Struct{}
		if err := protodelim.UnmarshalFrom(r, rec); err != nil {
			if errors.Is(err, io.EOF) {
				return events, nil
			}
			return events, fmt.Errorf("failed to read event from %s: %w", path, err)
		}

		fields := rec.GetFields()
		events = append(events, Event{
			WallTime: fields["wall_time"].GetNumberValue(),
			Step:     int(fields["step"].GetNumberValue()),
			Tag:      fields["tag"].GetStringValue(),
			Value:    fields["value"].GetNumberValue(),
		})
	}
}
