package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/naka-gawa/repo-metrics/internal/domain"
	"github.com/naka-gawa/repo-metrics/internal/gateway"
	"github.com/naka-gawa/repo-metrics/internal/storage"
)

// sweepBatchSize is the number of items applied per write transaction.
const sweepBatchSize = 50

// SweepResult counts what a sweep did for one repository.
type SweepResult struct {
	Repo      string
	Checked   int
	Refreshed int
	Deleted   int
	Failed    int
}

// Sweeper re-checks locally open items against upstream. Items upstream no
// longer knows about are closed and flagged deleted; items that still exist
// go through the normal guarded upsert.
type Sweeper struct {
	fetcher gateway.Fetcher
	store   *storage.Store
	workers int
	logger  *slog.Logger
	now     func() time.Time
}

// NewSweeper creates a new Sweeper.
func NewSweeper(fetcher gateway.Fetcher, store *storage.Store, workers int, logger *slog.Logger) *Sweeper {
	if workers < 1 {
		workers = 1
	}
	return &Sweeper{
		fetcher: fetcher,
		store:   store,
		workers: workers,
		logger:  logger,
		now:     time.Now,
	}
}

// Sweep reconciles every repository and returns one result per repository in
// the order given. It never moves a sync cursor.
func (s *Sweeper) Sweep(ctx context.Context, repos []domain.RepoRef) ([]SweepResult, error) {
	roster, err := s.store.TeamRoster(ctx)
	if err != nil {
		return nil, err
	}
	sweptAt := s.now().UTC()

	results := make([]SweepResult, len(repos))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(s.workers)
	for i, repo := range repos {
		eg.Go(func() error {
			res, err := s.sweepRepo(egCtx, repo, roster, sweptAt)
			results[i] = res
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Sweeper) sweepRepo(ctx context.Context, repo domain.RepoRef, roster domain.TeamRoster, sweptAt time.Time) (SweepResult, error) {
	res := SweepResult{Repo: repo.String()}
	logger := s.logger.With("repo", repo.String())

	items, err := s.store.OpenItems(ctx, repo.String())
	if err != nil {
		return res, err
	}
	logger.Info("Sweeping open items", "count", len(items))

	for start := 0; start < len(items); start += sweepBatchSize {
		end := min(start+sweepBatchSize, len(items))

		var (
			refreshed []domain.Record
			vanished  []storage.OpenItem
		)
		for _, item := range items[start:end] {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			res.Checked++
			key := int64(item.Number)
			if item.Kind == domain.EntityCIRuns {
				key = item.ID
			}
			recs, err := s.fetcher.FetchItem(ctx, item.Kind, repo, key)
			switch {
			case errors.Is(err, domain.ErrNotFound):
				vanished = append(vanished, item)
			case err != nil:
				res.Failed++
				logger.Warn("Could not re-check item, will retry next sweep",
					"kind", item.Kind, "id", item.ID, "number", item.Number, "error", err)
			default:
				for _, rec := range recs {
					if a, ok := rec.(domain.Authored); ok {
						a.SetCommunity(roster.IsCommunity(a.AuthorLogin()))
					}
				}
				refreshed = append(refreshed, recs...)
				res.Refreshed++
			}
		}

		err := s.store.RunInTx(ctx, func(tx *storage.Tx) error {
			for _, rec := range refreshed {
				if err := tx.Put(ctx, rec); err != nil {
					return err
				}
			}
			for _, item := range vanished {
				if err := tx.MarkDeleted(ctx, item, sweptAt); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return res, err
		}
		res.Deleted += len(vanished)
	}

	logger.Info("Sweep finished", "checked", res.Checked, "refreshed", res.Refreshed,
		"deleted", res.Deleted, "failed", res.Failed)
	return res, nil
}
