package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	es8 "github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esutil"
	"github.com/google/uuid"

	"github.com/samogod/fitloop/pkg/fit"
)

const DefaultIndex = "fitloop_metrics"

var DebugLog func(string, ...interface{})

type Config struct {
	URL      string
	Username string
	Password string
	Index    string
}

type Client struct {
	es    *es8.Client
	index string
}

func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("elasticsearch URL is required")
	}
	index := indexName(cfg.Index)

	es, err := es8.NewClient(es8.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}

	// Lightweight ping
	if _, err := es.Info(); err != nil {
		return nil, fmt.Errorf("failed to connect to elasticsearch: %w", err)
	}

	return &Client{es: es, index: index}, nil
}

func indexName(index string) string {
	if strings.TrimSpace(index) == "" {
		return DefaultIndex
	}
	return index
}

// Indexer ships one document per finished epoch through a bulk indexer.
// An empty runID gets a fresh uuid.
func (c *Client) Indexer(experiment, runID string) *Indexer {
	if runID == "" {
		runID = uuid.NewString()
	}
	return &Indexer{
		client:     c,
		experiment: experiment,
		runID:      runID,
		now:        time.Now,
	}
}

type Indexer struct {
	fit.BaseCallback
	client     *Client
	experiment string
	runID      string
	now        func() time.Time
	bi         esutil.BulkIndexer
}

func (x *Indexer) RunID() string {
	return x.runID
}

func (x *Indexer) OnTrainBegin(ctx context.Context) error {
	bi, err := esutil.NewBulkIndexer(esutil.BulkIndexerConfig{
		Client:     x.client.es,
		Index:      x.client.index,
		NumWorkers: 2,
	})
	if err != nil {
		return fmt.Errorf("failed to create bulk indexer: %w", err)
	}
	x.bi = bi
	return nil
}

func (x *Indexer) OnEpochEnd(ctx context.Context, epoch int, logs fit.Logs) error {
	if x.bi == nil {
		return nil
	}

	body, err := epochDocument(x.runID, x.experiment, epoch, logs, x.now())
	if err != nil {
		return err
	}

	item := esutil.BulkIndexerItem{
		Action:     "index",
		DocumentID: fmt.Sprintf("%s-%d", x.runID, epoch),
		Body:       bytes.NewReader(body),
		OnFailure: func(ctx context.Context, item esutil.BulkIndexerItem, resp esutil.BulkIndexerResponseItem, err error) {
			if DebugLog == nil {
				return
			}
			if err != nil {
				DebugLog("failed to index epoch document %s: %v", item.DocumentID, err)
				return
			}
			DebugLog("failed to index epoch document %s: %s: %s", item.DocumentID, resp.Error.Type, resp.Error.Reason)
		},
	}
	if err := x.bi.Add(ctx, item); err != nil {
		return fmt.Errorf("bulk add failed: %w", err)
	}
	return nil
}

func (x *Indexer) OnTrainEnd(ctx context.Context, logs fit.Logs) error {
	return x.Close(ctx)
}

// Close flushes pending documents. It is safe to call more than once.
func (x *Indexer) Close(ctx context.Context) error {
	if x.bi == nil {
		return nil
	}
	bi := x.bi
	x.bi = nil

	if err := bi.Close(ctx); err != nil {
		return fmt.Errorf("bulk indexer close failed: %w", err)
	}

	stats := bi.Stats()
	if DebugLog != nil {
		DebugLog("indexed %d epoch documents for run %s (%d failed)", stats.NumIndexed, x.runID, stats.NumFailed)
	}
	if stats.NumFailed > 0 {
		return fmt.Errorf("%d epoch documents failed to index", stats.NumFailed)
	}
	return nil
}

func epochDocument(runID, experiment string, epoch int, logs fit.Logs, ts time.Time) ([]byte, error) {
	metrics := make(map[string]float64, len(logs))
	for k, v := range logs {
		metrics[k] = v
	}

	doc := struct {
		Timestamp  string             `json:"@timestamp"`
		RunID      string             `json:"run_id"`
		Experiment string             `json:"experiment"`
		Epoch      int                `json:"epoch"`
		Metrics    map[string]float64 `json:"metrics"`
	}{
		Timestamp:  ts.UTC().Format(time.RFC3339Nano),
		RunID:      runID,
		Experiment: experiment,
		Epoch:      epoch,
		Metrics:    metrics,
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode epoch document: %w", err)
	}
	return body, nil
}
