package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"

	"github.com/naka-gawa/repo-metrics/internal/domain"
	"github.com/naka-gawa/repo-metrics/internal/gateway"
	"github.com/naka-gawa/repo-metrics/internal/storage"
)

// PackageResult is the outcome of refreshing one package.
type PackageResult struct {
	Package domain.Package
	Days    int
	Total   int64
	Err     error
}

// DownloadReport collects per-package outcomes in configuration order.
type DownloadReport struct {
	Results []PackageResult
}

// AllFailed reports whether no package could be refreshed.
func (r *DownloadReport) AllFailed() bool {
	for _, res := range r.Results {
		if res.Err == nil {
			return false
		}
	}
	return len(r.Results) > 0
}

// Err combines the package failures, or returns nil.
func (r *DownloadReport) Err() error {
	var result *multierror.Error
	for _, res := range r.Results {
		if res.Err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", res.Package, res.Err))
		}
	}
	return result.ErrorOrNil()
}

// DownloadTracker stores daily package download counts.
type DownloadTracker struct {
	registry gateway.RegistryFetcher
	store    *storage.Store
	logger   *slog.Logger
	now      func() time.Time
}

// NewDownloadTracker creates a new DownloadTracker.
func NewDownloadTracker(registry gateway.RegistryFetcher, store *storage.Store, logger *slog.Logger) *DownloadTracker {
	return &DownloadTracker{
		registry: registry,
		store:    store,
		logger:   logger,
		now:      time.Now,
	}
}

// Sync refreshes the trailing days window (today included), overwriting the
// counts registries revised since the last run.
func (t *DownloadTracker) Sync(ctx context.Context, pkgs []domain.Package, days int) *DownloadReport {
	if days < 1 {
		days = 1
	}
	to := domain.Day(t.now())
	from := to.AddDate(0, 0, -(days - 1))
	return t.run(ctx, pkgs, func(domain.Package) (time.Time, time.Time) { return from, to })
}

// Backfill fetches the widest history each registry offers.
func (t *DownloadTracker) Backfill(ctx context.Context, pkgs []domain.Package) *DownloadReport {
	now := t.now()
	to := domain.Day(now)
	return t.run(ctx, pkgs, func(p domain.Package) (time.Time, time.Time) {
		return t.registry.MaxHistory(p.Registry, now), to
	})
}

func (t *DownloadTracker) run(ctx context.Context, pkgs []domain.Package, window func(domain.Package) (time.Time, time.Time)) *DownloadReport {
	report := &DownloadReport{}
	for _, pkg := range pkgs {
		from, to := window(pkg)
		res := PackageResult{Package: pkg}
		res.Err = t.refresh(ctx, pkg, from, to, &res)
		if res.Err != nil {
			t.logger.Warn("Skipping package", "package", pkg.String(), "error", res.Err)
		} else {
			t.logger.Info("Downloads stored", "package", pkg.String(),
				"from", from.Format(domain.DateLayout), "to", to.Format(domain.DateLayout),
				"days", res.Days, "total", humanize.Comma(res.Total))
		}
		report.Results = append(report.Results, res)
	}
	return report
}

// refresh writes one package's counts in a single transaction.
func (t *DownloadTracker) refresh(ctx context.Context, pkg domain.Package, from, to time.Time, res *PackageResult) error {
	counts, err := t.registry.FetchRegistryStat(ctx, pkg, from, to)
	if err != nil {
		return err
	}
	if err := t.store.RunInTx(ctx, func(tx *storage.Tx) error {
		return tx.UpsertDownloads(ctx, counts)
	}); err != nil {
		return err
	}
	res.Days = len(counts)
	for _, c := range counts {
		res.Total += c.Count
	}
	return nil
}
