package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO required)

	"github.com/miradorstack/latencyguard/internal/metrics"
	"github.com/miradorstack/latencyguard/internal/models"
	"github.com/miradorstack/latencyguard/internal/utils"
)

// timeLayout is fixed width so text ordering matches chronological ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS observations (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    ts          TEXT NOT NULL,
    endpoint    TEXT NOT NULL,
    status      TEXT NOT NULL,
    latency_ms  REAL
);
CREATE INDEX IF NOT EXISTS idx_observations_ts ON observations(ts);

CREATE TABLE IF NOT EXISTS scored_records (
    observation_id  INTEGER PRIMARY KEY,
    run_id          TEXT NOT NULL,
    ts              TEXT NOT NULL,
    endpoint        TEXT NOT NULL,
    status          TEXT NOT NULL,
    latency_ms      REAL,
    anomaly_score   REAL NOT NULL DEFAULT 0.0,
    anomaly_label   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_scored_ts ON scored_records(ts);
CREATE INDEX IF NOT EXISTS idx_scored_label ON scored_records(anomaly_label);
CREATE INDEX IF NOT EXISTS idx_scored_endpoint ON scored_records(endpoint);

CREATE TABLE IF NOT EXISTS detector_runs (
    run_id        TEXT PRIMARY KEY,
    started_at    TEXT NOT NULL,
    high_water    INTEGER NOT NULL,
    observations  INTEGER NOT NULL,
    fitted        INTEGER NOT NULL,
    anomalies     INTEGER NOT NULL,
    malformed     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON detector_runs(started_at DESC);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS alert_state (
    identity    TEXT PRIMARY KEY,
    endpoint    TEXT NOT NULL,
    ts          TEXT NOT NULL,
    alerted_at  TEXT NOT NULL
);
`,
	},
}

// Store is the SQLite-backed sample store. It holds the observation log, the labeled
// output of the latest detector run, and the persisted alert state.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// RecordQuery filters ListRecords. Zero fields match everything.
type RecordQuery struct {
	Endpoint string
	Label    models.Label
	Since    time.Time
	Until    time.Time
	Limit    int
}

// Open opens (or creates) a SQLite database at path and applies pending migrations.
// Pass ":memory:" for an in-memory store.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	memory := path == ":memory:"
	dsn := path
	if !memory {
		dsn = path + "?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	if memory {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
        version    INTEGER PRIMARY KEY,
        applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    )`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		if err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_versions WHERE version = ?`, m.version).Scan(&count); err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
		if _, err := s.db.Exec(`INSERT INTO schema_versions(version) VALUES(?)`, m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// ─── Observations ────────────────────────────────────────────────────────────

// Append adds observations to the log in one transaction and returns the number written.
// Assigned row ids are written back into the slice.
func (s *Store) Append(ctx context.Context, observations []models.Observation) (int, error) {
	if len(observations) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, utils.PersistenceError("append observations", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO observations(ts, endpoint, status, latency_ms) VALUES(?, ?, ?, ?)`)
	if err != nil {
		return 0, utils.PersistenceError("append observations", err)
	}
	defer stmt.Close()

	for i := range observations {
		obs := &observations[i]
		res, err := stmt.ExecContext(ctx, formatTime(obs.Timestamp), obs.Endpoint, string(obs.Status), nullFloat(obs.LatencyMs))
		if err != nil {
			return 0, utils.PersistenceError("append observations", err)
		}
		if id, err := res.LastInsertId(); err == nil {
			obs.ID = id
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, utils.PersistenceError("append observations", err)
	}
	return len(observations), nil
}

// HighWater returns the largest observation row id, or 0 for an empty log. Reading up to
// this mark gives a consistent snapshot while appends continue.
func (s *Store) HighWater(ctx context.Context) (int64, error) {
	var id int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM observations`).Scan(&id); err != nil {
		return 0, utils.PersistenceError("read high water", err)
	}
	return id, nil
}

// LoadObservations returns every observation with id <= upTo in log order. Rows that
// cannot be decoded are skipped and counted in the second return value.
func (s *Store) LoadObservations(ctx context.Context, upTo int64) ([]models.Observation, int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ts, endpoint, status, latency_ms FROM observations WHERE id <= ? ORDER BY id ASC`, upTo)
	if err != nil {
		return nil, 0, utils.PersistenceError("load observations", err)
	}
	defer rows.Close()

	var (
		out       []models.Observation
		malformed int
	)
	for rows.Next() {
		var (
			id       int64
			ts       string
			endpoint string
			status   string
			latency  sql.NullFloat64
		)
		if err := rows.Scan(&id, &ts, &endpoint, &status, &latency); err != nil {
			return nil, 0, utils.PersistenceError("load observations", err)
		}
		obs, err := decodeObservation(id, ts, endpoint, status, latency)
		if err != nil {
			malformed++
			s.logger.Debug("skipping malformed observation", slog.Int64("id", id), slog.Any("error", err))
			continue
		}
		out = append(out, obs)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, utils.PersistenceError("load observations", err)
	}
	metrics.AddMalformed(malformed)
	return out, malformed, nil
}

// CountObservations returns the size of the observation log.
func (s *Store) CountObservations(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM observations`).Scan(&n); err != nil {
		return 0, utils.PersistenceError("count observations", err)
	}
	return n, nil
}

func decodeObservation(id int64, ts, endpoint, status string, latency sql.NullFloat64) (models.Observation, error) {
	t, err := utils.ParseTimestamp(ts)
	if err != nil {
		return models.Observation{}, fmt.Errorf("%w: timestamp: %v", utils.ErrMalformedObservation, err)
	}
	if strings.TrimSpace(endpoint) == "" {
		return models.Observation{}, fmt.Errorf("%w: empty endpoint", utils.ErrMalformedObservation)
	}
	if strings.TrimSpace(status) == "" {
		return models.Observation{}, fmt.Errorf("%w: empty status", utils.ErrMalformedObservation)
	}
	obs := models.Observation{ID: id, Timestamp: t, Endpoint: endpoint, Status: models.Status(status)}
	if latency.Valid {
		obs.LatencyMs = models.Float64(latency.Float64)
	}
	return obs, nil
}

// ─── Scored records & runs ───────────────────────────────────────────────────

// SaveRun replaces the labeled output with records and appends the run row, atomically.
func (s *Store) SaveRun(ctx context.Context, run models.RunSummary, records []models.ScoredRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return utils.PersistenceError("save run", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM scored_records`); err != nil {
		return utils.PersistenceError("save run", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
        INSERT INTO scored_records(observation_id, run_id, ts, endpoint, status, latency_ms, anomaly_score, anomaly_label)
        VALUES(?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return utils.PersistenceError("save run", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, r.ID, run.RunID, formatTime(r.Timestamp), r.Endpoint,
			string(r.Status), nullFloat(r.LatencyMs), r.Score, string(r.Label)); err != nil {
			return utils.PersistenceError("save run", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
        INSERT INTO detector_runs(run_id, started_at, high_water, observations, fitted, anomalies, malformed)
        VALUES(?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, formatTime(run.StartedAt), run.HighWater, run.Observations, run.Fitted, run.Anomalies, run.Malformed)
	if err != nil {
		return utils.PersistenceError("save run", err)
	}
	if err := tx.Commit(); err != nil {
		return utils.PersistenceError("save run", err)
	}
	return nil
}

// ListRecords returns labeled records from the latest run, ordered by timestamp.
func (s *Store) ListRecords(ctx context.Context, q RecordQuery) ([]models.ScoredRecord, error) {
	query := `SELECT observation_id, ts, endpoint, status, latency_ms, anomaly_score, anomaly_label FROM scored_records WHERE 1=1`
	var args []any

	if q.Endpoint != "" {
		query += " AND endpoint = ?"
		args = append(args, q.Endpoint)
	}
	if q.Label != "" {
		query += " AND anomaly_label = ?"
		args = append(args, string(q.Label))
	}
	if !q.Since.IsZero() {
		query += " AND ts >= ?"
		args = append(args, formatTime(q.Since))
	}
	if !q.Until.IsZero() {
		query += " AND ts <= ?"
		args = append(args, formatTime(q.Until))
	}
	query += " ORDER BY ts ASC, observation_id ASC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out []models.ScoredRecord
	for rows.Next() {
		var (
			rec     models.ScoredRecord
			ts      string
			status  string
			label   string
			latency sql.NullFloat64
		)
		if err := rows.Scan(&rec.ID, &ts, &rec.Endpoint, &status, &latency, &rec.Score, &label); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		t, err := parseTime(ts)
		if err != nil {
			return nil, err
		}
		rec.Timestamp = t
		rec.Status = models.Status(status)
		rec.Label = models.Label(label)
		if latency.Valid {
			rec.LatencyMs = models.Float64(latency.Float64)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// LatestRun returns the most recent detector run, or nil if none has been persisted.
func (s *Store) LatestRun(ctx context.Context) (*models.RunSummary, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT run_id, started_at, high_water, observations, fitted, anomalies, malformed
        FROM detector_runs ORDER BY started_at DESC, rowid DESC LIMIT 1`)

	var (
		run     models.RunSummary
		started string
	)
	err := row.Scan(&run.RunID, &started, &run.HighWater, &run.Observations, &run.Fitted, &run.Anomalies, &run.Malformed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest run: %w", err)
	}
	if run.StartedAt, err = parseTime(started); err != nil {
		return nil, err
	}
	return &run, nil
}

// ─── Alert state ─────────────────────────────────────────────────────────────

// AlertedIdentities returns the keys of every identity already alerted.
func (s *Store) AlertedIdentities(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT identity FROM alert_state`)
	if err != nil {
		return nil, utils.PersistenceError("read alert state", err)
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, utils.PersistenceError("read alert state", err)
		}
		out[key] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, utils.PersistenceError("read alert state", err)
	}
	return out, nil
}

// MarkAlerted durably adds identities to the alert state. Already present identities are
// left untouched.
func (s *Store) MarkAlerted(ctx context.Context, identities []models.Identity, at time.Time) error {
	if len(identities) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return utils.PersistenceError("mark alerted", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO alert_state(identity, endpoint, ts, alerted_at) VALUES(?, ?, ?, ?)`)
	if err != nil {
		return utils.PersistenceError("mark alerted", err)
	}
	defer stmt.Close()

	for _, id := range identities {
		if _, err := stmt.ExecContext(ctx, id.Key(), id.Endpoint, formatTime(id.Timestamp), formatTime(at)); err != nil {
			return utils.PersistenceError("mark alerted", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return utils.PersistenceError("mark alerted", err)
	}
	return nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := utils.ParseTimestamp(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("cannot parse time %q: %w", s, err)
	}
	return t, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
