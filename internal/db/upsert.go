package db

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// UpsertConfig describes a keyed merge into Table.
type UpsertConfig struct {
	Table        string   // target table, optionally schema-qualified
	Columns      []string // columns supplied by each row, in row order
	ConflictKeys []string // unique key columns
	UpdateCols   []string // overwritten on conflict; nil means every non-key column
}

func (c UpsertConfig) validate() error {
	switch {
	case len(c.Columns) == 0:
		return eris.New("db: upsert: no columns specified")
	case len(c.ConflictKeys) == 0:
		return eris.New("db: upsert: no conflict keys specified")
	}
	return nil
}

func (c UpsertConfig) updateColumns() []string {
	if c.UpdateCols != nil {
		return c.UpdateCols
	}
	var cols []string
	for _, col := range c.Columns {
		if !slices.Contains(c.ConflictKeys, col) {
			cols = append(cols, col)
		}
	}
	return cols
}

func (c UpsertConfig) stagingTable() string {
	return "_tmp_upsert_" + strings.ReplaceAll(c.Table, ".", "_")
}

// createStaging and merge render the two statements BulkUpsert runs around
// the COPY.
func (c UpsertConfig) createStaging() string {
	return fmt.Sprintf("CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		pgx.Identifier{c.stagingTable()}.Sanitize(), sanitizeTable(c.Table))
}

func (c UpsertConfig) merge() string {
	cols := quoteAndJoin(c.Columns)
	update := c.updateColumns()
	set := make([]string, len(update))
	for i, col := range update {
		q := pgx.Identifier{col}.Sanitize()
		set[i] = q + " = EXCLUDED." + q
	}
	return fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) DO UPDATE SET %s",
		sanitizeTable(c.Table), cols, cols,
		pgx.Identifier{c.stagingTable()}.Sanitize(),
		quoteAndJoin(c.ConflictKeys),
		strings.Join(set, ", "))
}

// BulkUpsert stages rows in a temp table via COPY and merges them into the
// target with one INSERT ... ON CONFLICT, inside a single transaction. It
// returns the number of rows the merge touched.
func BulkUpsert(ctx context.Context, pool Pool, cfg UpsertConfig, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := cfg.validate(); err != nil {
		return 0, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: upsert: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, cfg.createStaging()); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: create temp table for %s", cfg.Table)
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{cfg.stagingTable()}, cfg.Columns, pgx.CopyFromRows(rows)); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: COPY into temp table for %s", cfg.Table)
	}
	tag, err := tx.Exec(ctx, cfg.merge())
	if err != nil {
		return 0, eris.Wrapf(err, "db: upsert: merge into %s", cfg.Table)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "db: upsert: commit tx")
	}
	return tag.RowsAffected(), nil
}

func sanitizeTable(table string) string {
	if schema, name, ok := strings.Cut(table, "."); ok {
		return pgx.Identifier{schema, name}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
