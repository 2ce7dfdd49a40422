package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/underwrite-cli/internal/db"
	"github.com/sells-group/underwrite-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements are prepared on each new connection.
var preparedStatements = map[string]string{
	"get_run":         `SELECT payload FROM cached_runs WHERE deal_id = $1 AND id = $2`,
	"list_runs":       `SELECT payload FROM cached_runs WHERE deal_id = $1 ORDER BY created_at DESC, version DESC`,
	"last_transition": `SELECT to_state FROM gate_transitions WHERE deal_id = $1 ORDER BY seq DESC LIMIT 1`,
	"get_override":    `SELECT status, comment, set_by, set_at FROM deal_overrides WHERE deal_id = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS cached_runs (
	id         TEXT PRIMARY KEY,
	deal_id    TEXT NOT NULL,
	version    INTEGER NOT NULL,
	payload    JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	cached_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS gate_transitions (
	seq        BIGSERIAL,
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	deal_id    TEXT NOT NULL,
	run_id     TEXT,
	from_state TEXT NOT NULL,
	to_state   TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS deal_overrides (
	deal_id TEXT PRIMARY KEY,
	status  TEXT NOT NULL,
	comment TEXT NOT NULL,
	set_by  TEXT,
	set_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_cached_runs_deal ON cached_runs(deal_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_gate_transitions_deal ON gate_transitions(deal_id, seq DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) SaveRun(ctx context.Context, run model.Run) error {
	if run.ID == "" || run.DealID == "" {
		return eris.New("postgres: save run: id and deal id required")
	}
	payload, err := json.Marshal(run)
	if err != nil {
		return eris.Wrapf(err, "postgres: marshal run %s", run.ID)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO cached_runs (id, deal_id, version, payload, created_at, cached_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET deal_id = EXCLUDED.deal_id, version = EXCLUDED.version,
			payload = EXCLUDED.payload, created_at = EXCLUDED.created_at, cached_at = EXCLUDED.cached_at`,
		run.ID, run.DealID, run.Version, payload, run.CreatedAt.UTC(), time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: upsert run %s", run.ID)
}

// SaveRuns bulk-upserts a deal's run history in one COPY round trip.
func (s *PostgresStore) SaveRuns(ctx context.Context, runs []model.Run) error {
	if len(runs) == 0 {
		return nil
	}
	now := time.Now().UTC()
	rows := make([][]any, 0, len(runs))
	for _, run := range runs {
		if run.ID == "" || run.DealID == "" {
			return eris.New("postgres: save runs: id and deal id required")
		}
		payload, err := json.Marshal(run)
		if err != nil {
			return eris.Wrapf(err, "postgres: marshal run %s", run.ID)
		}
		rows = append(rows, []any{run.ID, run.DealID, run.Version, payload, run.CreatedAt.UTC(), now})
	}
	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "cached_runs",
		Columns:      []string{"id", "deal_id", "version", "payload", "created_at", "cached_at"},
		ConflictKeys: []string{"id"},
	}, rows)
	return eris.Wrap(err, "postgres: save runs")
}

func (s *PostgresStore) GetRun(ctx context.Context, dealID, runID string) (*model.Run, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT payload FROM cached_runs WHERE deal_id = $1 AND id = $2`,
		dealID, runID,
	).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	var r model.Run
	if err := json.Unmarshal(payload, &r); err != nil {
		return nil, eris.Wrapf(err, "postgres: unmarshal run %s", runID)
	}
	return &r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, dealID string) ([]model.Run, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT payload FROM cached_runs WHERE deal_id = $1 ORDER BY created_at DESC, version DESC`,
		dealID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	runs := []model.Run{}
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		var r model.Run
		if err := json.Unmarshal(payload, &r); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal run")
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: list runs iterate")
	}
	return runs, nil
}

func (s *PostgresStore) RecordTransition(ctx context.Context, dealID, runID string, to model.GateState) (*model.GateTransition, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, eris.Wrap(err, "postgres: begin record transition")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Serialize writers per deal so two concurrent refreshes cannot both
	// record the same change.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, dealID); err != nil {
		return nil, false, eris.Wrapf(err, "postgres: lock transitions for %s", dealID)
	}

	var prev *model.GateState
	var st string
	err = tx.QueryRow(ctx,
		`SELECT to_state FROM gate_transitions WHERE deal_id = $1 ORDER BY seq DESC LIMIT 1`,
		dealID,
	).Scan(&st)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return nil, false, eris.Wrapf(err, "postgres: last transition for %s", dealID)
	default:
		gs := model.GateState(st)
		prev = &gs
	}

	from := lastState(prev)
	if from == to {
		return nil, false, nil
	}

	t := model.GateTransition{
		ID:        uuid.New().String(),
		DealID:    dealID,
		RunID:     runID,
		From:      from,
		To:        to,
		CreatedAt: time.Now().UTC(),
	}
	var runArg *string
	if runID != "" {
		runArg = &runID
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO gate_transitions (id, deal_id, run_id, from_state, to_state, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		t.ID, t.DealID, runArg, string(t.From), string(t.To), t.CreatedAt,
	); err != nil {
		return nil, false, eris.Wrapf(err, "postgres: insert transition for %s", dealID)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, eris.Wrap(err, "postgres: commit transition")
	}
	return &t, true, nil
}

func (s *PostgresStore) ListTransitions(ctx context.Context, dealID string) ([]model.GateTransition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, deal_id, run_id, from_state, to_state, created_at FROM gate_transitions
		 WHERE deal_id = $1 ORDER BY seq ASC`,
		dealID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list transitions")
	}
	defer rows.Close()

	out := []model.GateTransition{}
	for rows.Next() {
		var t model.GateTransition
		var runID *string
		var from, to string
		if err := rows.Scan(&t.ID, &t.DealID, &runID, &from, &to, &t.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan transition")
		}
		if runID != nil {
			t.RunID = *runID
		}
		t.From = model.GateState(from)
		t.To = model.GateState(to)
		out = append(out, t)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list transitions iterate")
}

func (s *PostgresStore) SetOverride(ctx context.Context, dealID string, o model.Override) error {
	if o.Status == model.OverrideClear {
		_, err := s.pool.Exec(ctx, `DELETE FROM deal_overrides WHERE deal_id = $1`, dealID)
		return eris.Wrapf(err, "postgres: clear override %s", dealID)
	}
	at := time.Now().UTC()
	if o.At != nil {
		at = o.At.UTC()
	}
	var by *string
	if o.By != "" {
		by = &o.By
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO deal_overrides (deal_id, status, comment, set_by, set_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (deal_id) DO UPDATE SET status = EXCLUDED.status, comment = EXCLUDED.comment,
			set_by = EXCLUDED.set_by, set_at = EXCLUDED.set_at`,
		dealID, string(o.Status), o.Comment, by, at,
	)
	return eris.Wrapf(err, "postgres: set override %s", dealID)
}

func (s *PostgresStore) GetOverride(ctx context.Context, dealID string) (*model.Override, error) {
	var o model.Override
	var status string
	var by *string
	var at time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT status, comment, set_by, set_at FROM deal_overrides WHERE deal_id = $1`,
		dealID,
	).Scan(&status, &o.Comment, &by, &at)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get override %s", dealID)
	}
	o.Status = model.OverrideStatus(status)
	if by != nil {
		o.By = *by
	}
	o.At = &at
	return &o, nil
}
