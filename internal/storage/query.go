package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strconv"
)

// QueryResult is the tabular output of a diagnostic query.
type QueryResult struct {
	Columns []string
	Rows    [][]string
}

// Query runs an operator's SQL on a separate handle opened with mode=ro, so
// no statement in the input can write, whatever pragmas it sets first.
func (s *Store) Query(ctx context.Context, query string) (*QueryResult, error) {
	dsn, err := s.readOnlyDSN()
	if err != nil {
		return nil, err
	}
	ro, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: opening read-only handle: %w", err)
	}
	defer ro.Close()
	ro.SetMaxOpenConns(1)

	rows, err := ro.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("storage: query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	result := &QueryResult{Columns: cols}
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make([]string, len(cols))
		for i, v := range values {
			row[i] = formatValue(v)
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// readOnlyDSN addresses the store's file as a read-only SQLite URI.
func (s *Store) readOnlyDSN() (string, error) {
	if s.path == ":memory:" {
		return "", errors.New("storage: read-only queries need a database file")
	}
	abs, err := filepath.Abs(s.path)
	if err != nil {
		return "", fmt.Errorf("storage: resolving %s: %w", s.path, err)
	}
	u := url.URL{
		Scheme:   "file",
		Path:     filepath.ToSlash(abs),
		RawQuery: "mode=ro&_pragma=busy_timeout(5000)",
	}
	return u.String(), nil
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}
