package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/naka-gawa/repo-metrics/internal/domain"
	"github.com/naka-gawa/repo-metrics/internal/gateway"
	"github.com/naka-gawa/repo-metrics/internal/storage"
)

// PairResult is the outcome of syncing one entity type of one repository.
type PairResult struct {
	Repo    string
	Entity  domain.EntityType
	Pages   int
	Records int
	Err     error
}

// Summary lists every (repository, entity type) outcome of a sync run in a
// fixed order: repositories as given, entity types as in domain.SyncedEntities.
type Summary struct {
	Results []PairResult
}

// Failed returns the pairs that did not finish.
func (s *Summary) Failed() []PairResult {
	var out []PairResult
	for _, r := range s.Results {
		if r.Err != nil {
			out = append(out, r)
		}
	}
	return out
}

// AllFailed reports whether every entity type failed for every repository.
func (s *Summary) AllFailed() bool {
	return len(s.Results) > 0 && len(s.Failed()) == len(s.Results)
}

// Err combines all pair failures, or returns nil.
func (s *Summary) Err() error {
	var result *multierror.Error
	for _, r := range s.Failed() {
		result = multierror.Append(result, fmt.Errorf("%s %s: %w", r.Repo, r.Entity, r.Err))
	}
	return result.ErrorOrNil()
}

// Records is the number of records applied across all pairs.
func (s *Summary) Records() int {
	n := 0
	for _, r := range s.Results {
		n += r.Records
	}
	return n
}

// Syncer pulls every entity stream of every repository into the store,
// resuming each stream from its persisted cursor.
type Syncer struct {
	fetcher gateway.Fetcher
	store   *storage.Store
	workers int
	logger  *slog.Logger
}

// NewSyncer creates a new Syncer. Up to workers repositories sync concurrently.
func NewSyncer(fetcher gateway.Fetcher, store *storage.Store, workers int, logger *slog.Logger) *Syncer {
	if workers < 1 {
		workers = 1
	}
	return &Syncer{
		fetcher: fetcher,
		store:   store,
		workers: workers,
		logger:  logger,
	}
}

// Sync runs one incremental sync. A failing pair is recorded in the summary
// and does not stop the others; the returned error is reserved for failures
// that prevent the run itself.
func (s *Syncer) Sync(ctx context.Context, repos []domain.RepoRef) (*Summary, error) {
	roster, err := s.store.TeamRoster(ctx)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Sync started", "repos", len(repos), "workers", s.workers, "team_members", roster.Len())
	started := time.Now()

	results := make([][]PairResult, len(repos))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(s.workers)
	for i, repo := range repos {
		eg.Go(func() error {
			results[i] = s.syncRepo(egCtx, repo, roster)
			return egCtx.Err()
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	summary := &Summary{}
	for _, rs := range results {
		summary.Results = append(summary.Results, rs...)
	}
	s.logger.Info("Sync finished",
		"records", summary.Records(), "failed_pairs", len(summary.Failed()),
		"elapsed", time.Since(started).Round(time.Millisecond))
	return summary, nil
}

func (s *Syncer) syncRepo(ctx context.Context, repo domain.RepoRef, roster domain.TeamRoster) []PairResult {
	logger := s.logger.With("repo", repo.String())

	meta, err := s.fetcher.FetchRepository(ctx, repo)
	if err == nil {
		err = s.store.RunInTx(ctx, func(tx *storage.Tx) error { return tx.Put(ctx, meta) })
	}
	if err != nil {
		logger.Warn("Could not refresh repository metadata", "error", err)
	}

	out := make([]PairResult, 0, len(domain.SyncedEntities))
	for _, entity := range domain.SyncedEntities {
		if ctx.Err() != nil {
			out = append(out, PairResult{Repo: repo.String(), Entity: entity, Err: ctx.Err()})
			continue
		}
		res := s.syncPair(ctx, repo, entity, roster)
		if res.Err != nil {
			logger.Error("Entity sync failed", "entity", entity, "pages", res.Pages, "error", res.Err)
		} else {
			logger.Debug("Entity synced", "entity", entity, "pages", res.Pages, "records", res.Records)
		}
		out = append(out, res)
	}
	return out
}

// nextCursor addresses the page after page. A since-filtered ascending stream
// restarts from the page's high-water mark: rows updated upstream during the
// run move to the end of the listing and would shift unseen rows behind a page
// offset. The rows repeated at the boundary are skipped as already applied.
// Only a page that did not move past the current since keeps paging by offset.
func nextCursor(entity domain.EntityType, pc domain.PageCursor, page *gateway.Page) domain.PageCursor {
	if entity.Ascending() && page.Until.After(pc.Since) {
		return domain.PageCursor{Since: page.Until}
	}
	return domain.PageCursor{Since: pc.Since, Token: page.Next}
}

// syncPair drains one entity stream. Each page commits with its records and,
// for ascending streams, the advanced cursor. Descending streams move the
// cursor only after the last page, since an interrupted run has not yet seen
// the older records.
func (s *Syncer) syncPair(ctx context.Context, repo domain.RepoRef, entity domain.EntityType, roster domain.TeamRoster) PairResult {
	res := PairResult{Repo: repo.String(), Entity: entity}

	cur, err := s.store.Cursor(ctx, entity, repo.String())
	if err != nil {
		res.Err = err
		return res
	}

	applied := make(map[string]time.Time)
	streamMax := cur.UpdatedAt
	var streamResume string
	pc := domain.PageCursor{Since: cur.UpdatedAt, Token: cur.Token}

	for {
		page, err := s.fetcher.FetchPage(ctx, entity, repo, pc)
		if err != nil {
			res.Err = err
			return res
		}
		res.Pages++

		var (
			batch   []domain.Record
			pageMax time.Time
		)
		for _, rec := range page.Records {
			wm := rec.Watermark()
			if prev, ok := applied[rec.Identity()]; ok && !wm.After(prev) {
				continue
			}
			if a, ok := rec.(domain.Authored); ok {
				a.SetCommunity(roster.IsCommunity(a.AuthorLogin()))
			}
			batch = append(batch, rec)
			if rec.Kind() == entity && wm.After(pageMax) {
				pageMax = wm
			}
		}
		if page.Resume != "" {
			streamResume = page.Resume
		}
		if pageMax.After(streamMax) {
			streamMax = pageMax
		}

		err = s.store.RunInTx(ctx, func(tx *storage.Tx) error {
			for _, rec := range batch {
				if err := tx.Put(ctx, rec); err != nil {
					return err
				}
			}
			if entity.Ascending() && (!pageMax.IsZero() || page.Resume != "") {
				return tx.AdvanceCursor(ctx, domain.SyncCursor{
					Entity: entity, Repo: repo.String(), UpdatedAt: pageMax, Token: page.Resume,
				})
			}
			return nil
		})
		if err != nil {
			res.Err = err
			return res
		}
		for _, rec := range batch {
			applied[rec.Identity()] = rec.Watermark()
		}
		res.Records += len(batch)

		if page.Next == "" {
			break
		}
		pc = nextCursor(entity, pc, page)
	}

	if !entity.Ascending() && (streamMax.After(cur.UpdatedAt) || streamResume != "") {
		err := s.store.RunInTx(ctx, func(tx *storage.Tx) error {
			return tx.AdvanceCursor(ctx, domain.SyncCursor{
				Entity: entity, Repo: repo.String(), UpdatedAt: streamMax, Token: streamResume,
			})
		})
		if err != nil {
			res.Err = err
		}
	}
	return res
}
