package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/naka-gawa/repo-metrics/internal/domain"
)

// UpsertDownloads writes daily counts, overwriting counts already stored for
// the same (package, registry, date); registries revise recent days.
func (t *Tx) UpsertDownloads(ctx context.Context, downloads []domain.PackageDownload) error {
	for _, d := range downloads {
		err := t.Upsert(ctx, domain.Row{
			Table:   "package_downloads",
			Keys:    []string{"package", "registry", "date"},
			Columns: []string{"package", "registry", "date", "count"},
			Values:  []any{d.Package, string(d.Registry), d.Date.Format(domain.DateLayout), d.Count},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Downloads returns the stored counts of one package ordered by date.
func (s *Store) Downloads(ctx context.Context, pkg domain.Package) ([]domain.PackageDownload, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, count FROM package_downloads
		WHERE package = ? AND registry = ? ORDER BY date`, pkg.Name, string(pkg.Registry))
	if err != nil {
		return nil, fmt.Errorf("storage: reading downloads for %s: %w", pkg, err)
	}
	defer rows.Close()

	var out []domain.PackageDownload
	for rows.Next() {
		var date string
		d := domain.PackageDownload{Package: pkg.Name, Registry: pkg.Registry}
		if err := rows.Scan(&date, &d.Count); err != nil {
			return nil, err
		}
		if d.Date, err = time.Parse(domain.DateLayout, date); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
