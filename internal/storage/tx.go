package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/naka-gawa/repo-metrics/internal/domain"
)

// Tx is a write transaction handed to RunInTx callbacks.
type Tx struct {
	tx *sql.Tx
}

// RunInTx runs fn inside a single write transaction. Write transactions are
// serialized; fn's error rolls everything back and is returned unchanged.
func (s *Store) RunInTx(ctx context.Context, fn func(tx *Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin transaction: %w", err)
	}
	defer sqlTx.Rollback() // no-op after Commit

	if err := fn(&Tx{tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("storage: commit: %w", err)
	}
	return nil
}

// rankExpr maps a state column to its forward-transition rank.
func rankExpr(col string) string {
	return fmt.Sprintf("(CASE %s WHEN 'open' THEN 0 WHEN 'merged' THEN 1 ELSE 2 END)", col)
}

func stateGuard(table string) string {
	return fmt.Sprintf("excluded.updated_at >= %[1]s.updated_at AND %[2]s >= %[3]s",
		table, rankExpr("excluded.state"), rankExpr(table+".state"))
}

// upsertGuards restricts when a conflicting row is replaced. Issues and pull
// requests only move forward in time and state; a stale or regressing record
// is ignored.
var upsertGuards = map[string]string{
	"issues":        stateGuard("issues"),
	"pull_requests": stateGuard("pull_requests"),
	"comments":      "excluded.updated_at >= comments.updated_at",
	"ci_runs":       "excluded.updated_at >= ci_runs.updated_at",
}

// appendOnly tables keep the first observation of a key.
var appendOnly = map[string]bool{
	"star_events": true,
}

// Upsert inserts row or, when its key already exists, replaces the non-key
// columns. Applying the same row twice leaves the table unchanged.
func (t *Tx) Upsert(ctx context.Context, row domain.Row) error {
	if len(row.Columns) != len(row.Values) || len(row.Keys) == 0 {
		return fmt.Errorf("storage: invalid row image for %s", row.Table)
	}

	isKey := make(map[string]bool, len(row.Keys))
	for _, k := range row.Keys {
		isKey[k] = true
	}
	var sets []string
	for _, c := range row.Columns {
		if !isKey[c] {
			sets = append(sets, fmt.Sprintf("%s = excluded.%s", c, c))
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) ",
		row.Table, strings.Join(row.Columns, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(row.Columns)), ", "),
		strings.Join(row.Keys, ", "))
	if appendOnly[row.Table] || len(sets) == 0 {
		b.WriteString("DO NOTHING")
	} else {
		fmt.Fprintf(&b, "DO UPDATE SET %s", strings.Join(sets, ", "))
		if guard, ok := upsertGuards[row.Table]; ok {
			b.WriteString(" WHERE " + guard)
		}
	}

	if _, err := t.tx.ExecContext(ctx, b.String(), row.Values...); err != nil {
		return fmt.Errorf("storage: upsert %s: %w", row.Table, err)
	}
	return nil
}

// Put upserts one record variant.
func (t *Tx) Put(ctx context.Context, rec domain.Record) error {
	return t.Upsert(ctx, rec.Row())
}
