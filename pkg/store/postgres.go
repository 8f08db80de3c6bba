package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"
	_ "github.com/lib/pq"

	"github.com/pathwise-io/pathwise/pkg/contracts"
)

// PostgresSchema creates the tables used by the PostgreSQL repositories.
// Applied by the operator or at startup; every statement is idempotent.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS process_graphs (
	graph_id   TEXT NOT NULL,
	version    TEXT NOT NULL,
	status     TEXT NOT NULL,
	document   JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (graph_id, version)
);

CREATE TABLE IF NOT EXISTS process_instances (
	instance_id TEXT PRIMARY KEY,
	graph_id    TEXT NOT NULL,
	status      TEXT NOT NULL,
	document    JSONB NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_instances_graph  ON process_instances (graph_id);
CREATE INDEX IF NOT EXISTS idx_instances_status ON process_instances (status);

CREATE TABLE IF NOT EXISTS decision_traces (
	trace_id    TEXT PRIMARY KEY,
	instance_id TEXT NOT NULL,
	trace_type  TEXT NOT NULL,
	outcome     TEXT NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL,
	document    JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_traces_instance ON decision_traces (instance_id, recorded_at DESC);

CREATE TABLE IF NOT EXISTS execution_keys (
	key         TEXT PRIMARY KEY,
	instance_id TEXT NOT NULL,
	node_id     TEXT NOT NULL,
	status      TEXT NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL,
	expires_at  TIMESTAMPTZ
);
`

// PostgresGraphRepository stores graph definitions as JSONB documents.
type PostgresGraphRepository struct {
	db *sql.DB
}

func NewPostgresGraphRepository(db *sql.DB) *PostgresGraphRepository {
	return &PostgresGraphRepository{db: db}
}

func (r *PostgresGraphRepository) Get(ctx context.Context, graphID, version string) (*contracts.GraphDef, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT document FROM process_graphs WHERE graph_id = $1 AND version = $2`,
		graphID, version)
	return scanGraphRow(row)
}

func (r *PostgresGraphRepository) GetLatest(ctx context.Context, graphID string) (*contracts.GraphDef, error) {
	// Version ordering happens Go-side: pre-release versions like
	// 1.2.0-rc.1 do not survive SQL int-array or string comparison.
	rows, err := r.db.QueryContext(ctx,
		`SELECT document FROM process_graphs WHERE graph_id = $1 AND status = 'PUBLISHED'`,
		graphID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var best *contracts.GraphDef
	var bestVer *semver.Version
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var def contracts.GraphDef
		if err := json.Unmarshal(doc, &def); err != nil {
			return nil, fmt.Errorf("decode graph document: %w", err)
		}
		ver, err := semver.NewVersion(def.Version)
		if err != nil {
			continue
		}
		if bestVer == nil || ver.GreaterThan(bestVer) {
			best, bestVer = &def, ver
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return best, nil
}

func (r *PostgresGraphRepository) List(ctx context.Context) ([]*contracts.GraphDef, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT document FROM process_graphs ORDER BY graph_id, version`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var defs []*contracts.GraphDef
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var def contracts.GraphDef
		if err := json.Unmarshal(doc, &def); err != nil {
			return nil, fmt.Errorf("decode graph document: %w", err)
		}
		defs = append(defs, &def)
	}
	return defs, rows.Err()
}

func (r *PostgresGraphRepository) Store(ctx context.Context, def *contracts.GraphDef) error {
	doc, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("encode graph document: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO process_graphs (graph_id, version, status, document)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (graph_id, version) DO UPDATE SET status = $3, document = $4`,
		def.ID, def.Version, string(def.Status), doc)
	if err != nil {
		return fmt.Errorf("store graph %s@%s: %w", def.ID, def.Version, err)
	}
	return nil
}

func scanGraphRow(row *sql.Row) (*contracts.GraphDef, error) {
	var doc []byte
	if err := row.Scan(&doc); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var def contracts.GraphDef
	if err := json.Unmarshal(doc, &def); err != nil {
		return nil, fmt.Errorf("decode graph document: %w", err)
	}
	return &def, nil
}

// PostgresInstanceRepository stores instances as JSONB documents with a few
// indexed columns for listing.
type PostgresInstanceRepository struct {
	db *sql.DB
}

func NewPostgresInstanceRepository(db *sql.DB) *PostgresInstanceRepository {
	return &PostgresInstanceRepository{db: db}
}

func (r *PostgresInstanceRepository) Get(ctx context.Context, instanceID string) (*contracts.ProcessInstance, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT document FROM process_instances WHERE instance_id = $1`, instanceID)
	var doc []byte
	if err := row.Scan(&doc); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return decodeInstance(doc)
}

func (r *PostgresInstanceRepository) Save(ctx context.Context, instance *contracts.ProcessInstance) error {
	doc, err := json.Marshal(instance)
	if err != nil {
		return fmt.Errorf("encode instance: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO process_instances (instance_id, graph_id, status, document, started_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (instance_id) DO UPDATE SET status = $3, document = $4, updated_at = NOW()`,
		instance.ID, instance.GraphID, string(instance.Status), doc, instance.StartedAt)
	if err != nil {
		return fmt.Errorf("save instance %s: %w", instance.ID, err)
	}
	return nil
}

func (r *PostgresInstanceRepository) ListActive(ctx context.Context) ([]*contracts.ProcessInstance, error) {
	return r.list(ctx,
		`SELECT document FROM process_instances WHERE status IN ('RUNNING', 'SUSPENDED') ORDER BY started_at`)
}

func (r *PostgresInstanceRepository) ListByGraph(ctx context.Context, graphID string) ([]*contracts.ProcessInstance, error) {
	return r.list(ctx,
		`SELECT document FROM process_instances WHERE graph_id = $1 ORDER BY started_at`, graphID)
}

func (r *PostgresInstanceRepository) list(ctx context.Context, query string, args ...any) ([]*contracts.ProcessInstance, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*contracts.ProcessInstance
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		inst, err := decodeInstance(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

func decodeInstance(doc []byte) (*contracts.ProcessInstance, error) {
	var inst contracts.ProcessInstance
	if err := json.Unmarshal(doc, &inst); err != nil {
		return nil, fmt.Errorf("decode instance document: %w", err)
	}
	return &inst, nil
}

// PostgresTraceRepository is the durable append-only trace log.
type PostgresTraceRepository struct {
	db *sql.DB
}

func NewPostgresTraceRepository(db *sql.DB) *PostgresTraceRepository {
	return &PostgresTraceRepository{db: db}
}

func (r *PostgresTraceRepository) Append(ctx context.Context, trace *contracts.DecisionTrace) error {
	doc, err := json.Marshal(trace)
	if err != nil {
		return fmt.Errorf("encode trace: %w", err)
	}
	// DO NOTHING on conflict keeps traces immutable.
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO decision_traces (trace_id, instance_id, trace_type, outcome, recorded_at, document)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (trace_id) DO NOTHING`,
		trace.ID, trace.InstanceID, string(trace.Type), string(trace.Outcome), trace.Timestamp, doc)
	if err != nil {
		return fmt.Errorf("append trace %s: %w", trace.ID, err)
	}
	return nil
}

func (r *PostgresTraceRepository) Get(ctx context.Context, traceID string) (*contracts.DecisionTrace, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT document FROM decision_traces WHERE trace_id = $1`, traceID)
	var doc []byte
	if err := row.Scan(&doc); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return decodeTrace(doc)
}

func (r *PostgresTraceRepository) ListByInstance(ctx context.Context, instanceID string, limit int) ([]*contracts.DecisionTrace, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT document FROM decision_traces
		WHERE instance_id = $1
		ORDER BY recorded_at DESC
		LIMIT $2`,
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

func (r *PostgresTraceRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM decision_traces WHERE recorded_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func decodeTrace(doc []byte) (*contracts.DecisionTrace, error) {
	var trace contracts.DecisionTrace
	if err := json.Unmarshal(doc, &trace); err != nil {
		return nil, fmt.Errorf("decode trace document: %w", err)
	}
	return &trace, nil
}

// PostgresIdempotencyStore enforces at-most-once execution across processes
// with an INSERT ... ON CONFLICT DO NOTHING claim.
type PostgresIdempotencyStore struct {
	db *sql.DB
}

func NewPostgresIdempotencyStore(db *sql.DB) *PostgresIdempotencyStore {
	return &PostgresIdempotencyStore{db: db}
}

func (s *PostgresIdempotencyStore) Get(ctx context.Context, key string) (*ExecutionRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT key, instance_id, node_id, status, recorded_at
		FROM execution_keys
		WHERE key = $1 AND (expires_at IS NULL OR expires_at > NOW())`,
		key)
	var rec ExecutionRecord
	if err := row.Scan(&rec.Key, &rec.InstanceID, &rec.NodeID, &rec.Status, &rec.RecordedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (s *PostgresIdempotencyStore) PutIfAbsent(ctx context.Context, record *ExecutionRecord, ttl time.Duration) (bool, error) {
	var expiresAt any
	if ttl > 0 {
		expiresAt = record.RecordedAt.Add(ttl)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO execution_keys (key, instance_id, node_id, status, recorded_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (key) DO NOTHING`,
		record.Key, record.InstanceID, record.NodeID, record.Status, record.RecordedAt, expiresAt)
	if err != nil {
		return false, fmt.Errorf("claim execution key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Cleanup removes expired execution keys.
func (s *PostgresIdempotencyStore) Cleanup(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM execution_keys WHERE expires_at IS NOT NULL AND expires_at < NOW()`)
	return err
}
