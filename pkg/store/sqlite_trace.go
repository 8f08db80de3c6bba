package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pathwise-io/pathwise/pkg/contracts"
)

// SQLiteTraceRepository is an embedded, file-backed trace log for single
// node deployments and tests.
type SQLiteTraceRepository struct {
	db *sql.DB
}

func NewSQLiteTraceRepository(db *sql.DB) (*SQLiteTraceRepository, error) {
	r := &SQLiteTraceRepository{db: db}
	if err := r.migrate(); err != nil {
		return nil, err
	}
	return r, nil
}

// OpenSQLiteTraceRepository opens (or creates) the database at path.
func OpenSQLiteTraceRepository(path string) (*SQLiteTraceRepository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open trace database: %w", err)
	}
	return NewSQLiteTraceRepository(db)
}

func (r *SQLiteTraceRepository) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS decision_traces (
		trace_id    TEXT PRIMARY KEY,
		instance_id TEXT NOT NULL,
		trace_type  TEXT NOT NULL,
		outcome     TEXT NOT NULL,
		recorded_at TEXT NOT NULL,
		document    JSON NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_traces_instance
		ON decision_traces (instance_id, recorded_at DESC);`
	_, err := r.db.ExecContext(context.Background(), query)
	return err
}

func (r *SQLiteTraceRepository) Append(ctx context.Context, trace *contracts.DecisionTrace) error {
	doc, err := json.Marshal(trace)
	if err != nil {
		return fmt.Errorf("encode trace: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO decision_traces (trace_id, instance_id, trace_type, outcome, recorded_at, document)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (trace_id) DO NOTHING`,
		trace.ID, trace.InstanceID, string(trace.Type), string(trace.Outcome),
		trace.Timestamp.UTC().Format(time.RFC3339Nano), doc)
	if err != nil {
		return fmt.Errorf("append trace %s: %w", trace.ID, err)
	}
	return nil
}

func (r *SQLiteTraceRepository) Get(ctx context.Context, traceID string) (*contracts.DecisionTrace, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT document FROM decision_traces WHERE trace_id = ?`, traceID)
	var doc []byte
	if err := row.Scan(&doc); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return decodeTrace(doc)
}

func (r *SQLiteTraceRepository) ListByInstance(ctx context.Context, instanceID string, limit int) ([]*contracts.DecisionTrace, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT document FROM decision_traces
		WHERE instance_id = ?
		ORDER BY recorded_at DESC
		LIMIT ?`,
		instanceID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*contracts.DecisionTrace
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		trace, err := decodeTrace(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, trace)
	}
	return out, rows.Err()
}

func (r *SQLiteTraceRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM decision_traces WHERE recorded_at < ?`,
		cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Close closes the underlying database.
func (r *SQLiteTraceRepository) Close() error { return r.db.Close() }
