package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/naka-gawa/repo-metrics/internal/domain"
)

// Cursor returns the stored cursor for (entity, repo). A missing row yields the
// zero cursor, meaning a full sync from epoch zero.
func (s *Store) Cursor(ctx context.Context, entity domain.EntityType, repo string) (domain.SyncCursor, error) {
	c := domain.SyncCursor{Entity: entity, Repo: repo}
	var updatedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT updated_at, token FROM sync_cursors WHERE entity_type = ? AND repo = ?`,
		string(entity), repo,
	).Scan(&updatedAt, &c.Token)
	if errors.Is(err, sql.ErrNoRows) {
		return c, nil
	}
	if err != nil {
		return c, fmt.Errorf("storage: reading cursor %s/%s: %w", entity, repo, err)
	}
	if c.UpdatedAt, err = domain.ParseTime(updatedAt); err != nil {
		return c, err
	}
	return c, nil
}

// AdvanceCursor moves the cursor forward. The stored watermark never
// decreases, and an empty token keeps the previous one.
func (t *Tx) AdvanceCursor(ctx context.Context, c domain.SyncCursor) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO sync_cursors (entity_type, repo, updated_at, token)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (entity_type, repo) DO UPDATE SET
			updated_at = MAX(sync_cursors.updated_at, excluded.updated_at),
			token = CASE WHEN excluded.token <> '' THEN excluded.token ELSE sync_cursors.token END`,
		string(c.Entity), c.Repo, domain.FormatTime(c.UpdatedAt), c.Token)
	if err != nil {
		return fmt.Errorf("storage: advancing cursor %s/%s: %w", c.Entity, c.Repo, err)
	}
	return nil
}
