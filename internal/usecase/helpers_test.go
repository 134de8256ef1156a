package usecase

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/naka-gawa/repo-metrics/internal/domain"
	"github.com/naka-gawa/repo-metrics/internal/gateway"
	"github.com/naka-gawa/repo-metrics/internal/storage"
)

// mockFetcher is a mock implementation of the gateway.Fetcher interface.
// It allows us to simulate the behavior of the GitHub gateway without making real API calls.
type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) FetchRepository(ctx context.Context, repo domain.RepoRef) (*domain.Repository, error) {
	args := m.Called(ctx, repo)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Repository), args.Error(1)
}

func (m *mockFetcher) FetchPage(ctx context.Context, entity domain.EntityType, repo domain.RepoRef, cursor domain.PageCursor) (*gateway.Page, error) {
	args := m.Called(ctx, entity, repo, cursor)
	// We need to handle the case where the returned page is nil (e.g., when an error occurs).
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Page), args.Error(1)
}

func (m *mockFetcher) FetchItem(ctx context.Context, kind domain.EntityType, repo domain.RepoRef, key int64) ([]domain.Record, error) {
	args := m.Called(ctx, kind, repo, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Record), args.Error(1)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(context.Background(), filepath.Join(t.TempDir(), "metrics.db"), discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func mustTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func mustTimePtr(s string) *time.Time {
	t := mustTime(s)
	return &t
}

func queryRows(t *testing.T, s *storage.Store, sql string) [][]string {
	t.Helper()
	res, err := s.Query(context.Background(), sql)
	require.NoError(t, err)
	return res.Rows
}

func putRecords(t *testing.T, s *storage.Store, recs ...domain.Record) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.RunInTx(ctx, func(tx *storage.Tx) error {
		for _, r := range recs {
			if err := tx.Put(ctx, r); err != nil {
				return err
			}
		}
		return nil
	}))
}
