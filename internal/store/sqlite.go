package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/underwrite-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS cached_runs (
	id         TEXT PRIMARY KEY,
	deal_id    TEXT NOT NULL,
	version    INTEGER NOT NULL,
	payload    TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	cached_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS gate_transitions (
	id         TEXT PRIMARY KEY,
	deal_id    TEXT NOT NULL,
	run_id     TEXT,
	from_state TEXT NOT NULL,
	to_state   TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS deal_overrides (
	deal_id    TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	comment    TEXT NOT NULL,
	set_by     TEXT,
	set_at     DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cached_runs_deal ON cached_runs(deal_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_gate_transitions_deal ON gate_transitions(deal_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const sqliteUpsertRun = `INSERT INTO cached_runs (id, deal_id, version, payload, created_at, cached_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET deal_id = excluded.deal_id, version = excluded.version,
		payload = excluded.payload, created_at = excluded.created_at, cached_at = excluded.cached_at`

func (s *SQLiteStore) SaveRun(ctx context.Context, run model.Run) error {
	return s.SaveRuns(ctx, []model.Run{run})
}

func (s *SQLiteStore) SaveRuns(ctx context.Context, runs []model.Run) error {
	if len(runs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save runs")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	for _, run := range runs {
		if run.ID == "" || run.DealID == "" {
			return eris.Errorf("sqlite: save run: id and deal id required")
		}
		payload, err := json.Marshal(run)
		if err != nil {
			return eris.Wrapf(err, "sqlite: marshal run %s", run.ID)
		}
		if _, err := tx.ExecContext(ctx, sqliteUpsertRun,
			run.ID, run.DealID, run.Version, string(payload), run.CreatedAt.UTC(), now,
		); err != nil {
			return eris.Wrapf(err, "sqlite: upsert run %s", run.ID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit save runs")
}

func (s *SQLiteStore) GetRun(ctx context.Context, dealID, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT payload FROM cached_runs WHERE deal_id = ? AND id = ?`,
		dealID, runID,
	)
	run, err := scanRunPayload(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	return run, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, dealID string) ([]model.Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM cached_runs WHERE deal_id = ? ORDER BY created_at DESC`,
		dealID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	runs := []model.Run{}
	for rows.Next() {
		r, err := scanRunPayload(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: list runs")
		}
		runs = append(runs, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs iterate")
	}
	model.SortRunsNewestFirst(runs)
	return runs, nil
}

func (s *SQLiteStore) RecordTransition(ctx context.Context, dealID, runID string, to model.GateState) (*model.GateTransition, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: begin record transition")
	}
	defer tx.Rollback() //nolint:errcheck

	var prev *model.GateState
	var st string
	err = tx.QueryRowContext(ctx,
		`SELECT to_state FROM gate_transitions WHERE deal_id = ? ORDER BY rowid DESC LIMIT 1`,
		dealID,
	).Scan(&st)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, false, eris.Wrapf(err, "sqlite: last transition for %s", dealID)
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
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO gate_transitions (id, deal_id, run_id, from_state, to_state, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.DealID, nullString(t.RunID), string(t.From), string(t.To), t.CreatedAt,
	); err != nil {
		return nil, false, eris.Wrapf(err, "sqlite: insert transition for %s", dealID)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, eris.Wrap(err, "sqlite: commit transition")
	}
	return &t, true, nil
}

func (s *SQLiteStore) ListTransitions(ctx context.Context, dealID string) ([]model.GateTransition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, deal_id, run_id, from_state, to_state, created_at FROM gate_transitions
		 WHERE deal_id = ? ORDER BY rowid ASC`,
		dealID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list transitions")
	}
	defer rows.Close() //nolint:errcheck

	out := []model.GateTransition{}
	for rows.Next() {
		var t model.GateTransition
		var runID sql.NullString
		var from, to string
		if err := rows.Scan(&t.ID, &t.DealID, &runID, &from, &to, &t.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan transition")
		}
		t.RunID = runID.String
		t.From = model.GateState(from)
		t.To = model.GateState(to)
		out = append(out, t)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list transitions iterate")
}

func (s *SQLiteStore) SetOverride(ctx context.Context, dealID string, o model.Override) error {
	if o.Status == model.OverrideClear {
		_, err := s.db.ExecContext(ctx, `DELETE FROM deal_overrides WHERE deal_id = ?`, dealID)
		return eris.Wrapf(err, "sqlite: clear override %s", dealID)
	}
	at := time.Now().UTC()
	if o.At != nil {
		at = o.At.UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deal_overrides (deal_id, status, comment, set_by, set_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(deal_id) DO UPDATE SET status = excluded.status, comment = excluded.comment,
			set_by = excluded.set_by, set_at = excluded.set_at`,
		dealID, string(o.Status), o.Comment, nullString(o.By), at,
	)
	return eris.Wrapf(err, "sqlite: set override %s", dealID)
}

func (s *SQLiteStore) GetOverride(ctx context.Context, dealID string) (*model.Override, error) {
	var o model.Override
	var status string
	var by sql.NullString
	var at time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT status, comment, set_by, set_at FROM deal_overrides WHERE deal_id = ?`,
		dealID,
	).Scan(&status, &o.Comment, &by, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get override %s", dealID)
	}
	o.Status = model.OverrideStatus(status)
	o.By = by.String
	o.At = &at
	return &o, nil
}

// helpers

type scannable interface {
	Scan(dest ...any) error
}

func scanRunPayload(row scannable) (*model.Run, error) {
	var payload string
	err := row.Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan run")
	}
	var r model.Run
	if err := json.Unmarshal([]byte(payload), &r); err != nil {
		return nil, eris.Wrap(err, "unmarshal run")
	}
	return &r, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
