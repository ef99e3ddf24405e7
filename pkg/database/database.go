package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/samogod/fitloop/pkg/config"

	_ "github.com/lib/pq"
)

var DebugLog func(string, ...interface{})

type DB struct {
	conn    *sql.DB
	enabled bool
}

const (
	StatusRunning  = "RUNNING"
	StatusFinished = "FINISHED"
	StatusFailed   = "FAILED"
)

type RunRecord struct {
	ID           string
	Experiment   string
	Status       string
	Hparams      string
	FinalMetrics string
	StartedAt    time.Time
	FinishedAt   sql.NullTime
}

type EpochRecord struct {
	Epoch  int
	Metric string
	Value  float64
}

const DBName = "fitloop_runs"

func New(cfg *config.Database) (*DB, error) {
	db := &DB{
		enabled: cfg.Enabled,
	}

	if !cfg.Enabled {
		fmt.Println("[INF] Run tracking database disabled.")
		return db, nil
	}

	conn, err := open(cfg)
	if err != nil {
		fmt.Println("[INF] Run tracking database disabled.")
		return db, err
	}

	db.conn = conn
	fmt.Println("[INF] Run tracking database active.")

	if err := db.initSchema(); err != nil {
		return db, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

func dsn(cfg *config.Database, name string) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, name)
}

// open connects to DBName, creating it through the maintenance database
// on first use.
func open(cfg *config.Database) (*sql.DB, error) {
	if err := ensureDatabase(cfg); err != nil {
		return nil, err
	}

	conn, err := sql.Open("postgres", dsn(cfg, DBName))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", DBName, err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", DBName, err)
	}
	return conn, nil
}

func ensureDatabase(cfg *config.Database) error {
	admin, err := sql.Open("postgres", dsn(cfg, "postgres"))
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer admin.Close()

	var exists bool
	row := admin.QueryRow("SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1)", DBName)
	if err := row.Scan(&exists); err != nil {
		return fmt.Errorf("failed to check for database %s: %w", DBName, err)
	}
	if exists {
		return nil
	}

	if _, err := admin.Exec("CREATE DATABASE " + DBName); err != nil {
		return fmt.Errorf("failed to create database %s: %w", DBName, err)
	}
	if DebugLog != nil {
		DebugLog("created run tracking database %s", DBName)
	}
	return nil
}

func (db *DB) initSchema() error {
	if !db.enabled || db.conn == nil {
		return nil
	}

	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id VARCHAR(36) PRIMARY KEY,
		experiment VARCHAR(255) NOT NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'RUNNING',
		hparams TEXT NOT NULL DEFAULT '{}',
		final_metrics TEXT NOT NULL DEFAULT '{}',
		started_at TIMESTAMP NOT NULL DEFAULT NOW(),
		finished_at TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS epoch_metrics (
		run_id VARCHAR(36) NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		epoch INTEGER NOT NULL,
		metric VARCHAR(255) NOT NULL,
		value DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (run_id, epoch, metric)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_experiment ON runs(experiment);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
	`

	_, err := db.conn.Exec(schema)
	return err
}

func (db *DB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

func (db *DB) IsEnabled() bool {
	return db.enabled && db.conn != nil
}

func (db *DB) StartRun(runID, experiment string, hparams map[string]interface{}) error {
	if !db.IsEnabled() {
		return nil
	}

	encoded, err := json.Marshal(hparams)
	if err != nil {
		return fmt.Errorf("failed to encode hparams: %w", err)
	}

	if DebugLog != nil {
		DebugLog("inserting run %s for experiment %s with status RUNNING", runID, experiment)
	}
	_, err = db.conn.Exec(`
		INSERT INTO runs (id, experiment, status, hparams, started_at)
		VALUES ($1, $2, 'RUNNING', $3, NOW())
	`, runID, experiment, string(encoded))
	return err
}

func (db *DB) RecordEpoch(runID string, epoch int, metrics map[string]float64) error {
	if !db.IsEnabled() {
		return nil
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for metric, value := range metrics {
		_, err := tx.Exec(`
			INSERT INTO epoch_metrics (run_id, epoch, metric, value)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (run_id, epoch, metric) DO UPDATE SET value = EXCLUDED.value
		`, runID, epoch, metric, value)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (db *DB) FinishRun(runID, status string, finalMetrics map[string]float64) error {
	if !db.IsEnabled() {
		return nil
	}

	encoded, err := json.Marshal(finalMetrics)
	if err != nil {
		return fmt.Errorf("failed to encode final metrics: %w", err)
	}

	if DebugLog != nil {
		DebugLog("marking run %s as %s in database", runID, status)
	}
	_, err = db.conn.Exec(`
		UPDATE runs
		SET status = $2, final_metrics = $3, finished_at = NOW()
		WHERE id = $1
	`, runID, status, string(encoded))
	return err
}

func (db *DB) QueryRuns(experiment string, status string) ([]RunRecord, error) {
	if !db.IsEnabled() {
		return nil, fmt.Errorf("database is not enabled")
	}

	query := `
		SELECT id, experiment, status, hparams, final_metrics, started_at, finished_at
		FROM runs
		WHERE experiment = $1
	`
	args := []interface{}{experiment}

	if status != "" {
		query += " AND status = $2"
		args = append(args, status)
	}

	query += " ORDER BY started_at DESC"

	return db.queryRuns(query, args...)
}

func (db *DB) QueryAllRuns(status string) ([]RunRecord, error) {
	if !db.IsEnabled() {
		return nil, fmt.Errorf("database is not enabled")
	}

	query := `
		SELECT id, experiment, status, hparams, final_metrics, started_at, finished_at
		FROM runs
	`
	var args []interface{}

	if status != "" {
		query += " WHERE status = $1"
		args = append(args, status)
	}

	query += " ORDER BY experiment, started_at DESC"

	return db.queryRuns(query, args...)
}

func (db *DB) queryRuns(query string, args ...interface{}) ([]RunRecord, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(&r.ID, &r.Experiment, &r.Status, &r.Hparams, &r.FinalMetrics, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}

	return records, rows.Err()
}

func (db *DB) QueryEpochs(runID string) ([]EpochRecord, error) {
	if !db.IsEnabled() {
		return nil, fmt.Errorf("database is not enabled")
	}

	rows, err := db.conn.Query(`
		SELECT epoch, metric, value FROM epoch_metrics
		WHERE run_id = $1
		ORDER BY epoch, metric
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []EpochRecord
	for rows.Next() {
		var r EpochRecord
		if err := rows.Scan(&r.Epoch, &r.Metric, &r.Value); err != nil {
			return nil, err
		}
		records = append(records, r)
	}

	return records, rows.Err()
}
