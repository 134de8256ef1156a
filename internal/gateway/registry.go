package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/naka-gawa/repo-metrics/internal/domain"
)

// RegistryFetcher reads daily download counts from package registries.
type RegistryFetcher interface {
	// FetchRegistryStat returns one count per day in [from, to] that the
	// registry reports, ordered by date.
	FetchRegistryStat(ctx context.Context, pkg domain.Package, from, to time.Time) ([]domain.PackageDownload, error)
	// MaxHistory is the earliest day registry can report as of now.
	MaxHistory(registry domain.Registry, now time.Time) time.Time
}

const (
	defaultPyPIStatsURL = "https://pypistats.org/api"
	defaultNPMURL       = "https://api.npmjs.org"

	// pypistats keeps a rolling 180 days of history.
	pypiHistoryDays = 180
	// npm answers at most 18 months per range request.
	npmMaxRangeDays = 548
)

// npmEpoch is the first day the npm downloads API has data for.
var npmEpoch = time.Date(2015, time.January, 10, 0, 0, 0, 0, time.UTC)

// RegistryClient implements RegistryFetcher against pypistats.org and the npm
// downloads API.
type RegistryClient struct {
	httpClient *http.Client
	pypiURL    string
	npmURL     string
	logger     *slog.Logger

	newBackOff func() backoff.BackOff
	sleep      sleeper
}

// NewRegistryClient creates a client for the public registry endpoints.
func NewRegistryClient(httpClient *http.Client, logger *slog.Logger) *RegistryClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &RegistryClient{
		httpClient: httpClient,
		pypiURL:    defaultPyPIStatsURL,
		npmURL:     defaultNPMURL,
		logger:     logger,
		newBackOff: defaultBackOff,
		sleep:      sleepContext,
	}
}

// MaxHistory returns the start of the widest window registry serves.
func (c *RegistryClient) MaxHistory(registry domain.Registry, now time.Time) time.Time {
	if registry == domain.RegistryNPM {
		return npmEpoch
	}
	return domain.Day(now).AddDate(0, 0, -pypiHistoryDays)
}

// FetchRegistryStat dispatches on the package's registry.
func (c *RegistryClient) FetchRegistryStat(ctx context.Context, pkg domain.Package, from, to time.Time) ([]domain.PackageDownload, error) {
	from, to = domain.Day(from), domain.Day(to)
	if to.Before(from) {
		return nil, nil
	}
	switch pkg.Registry {
	case domain.RegistryPyPI:
		return c.fetchPyPI(ctx, pkg, from, to)
	case domain.RegistryNPM:
		return c.fetchNPM(ctx, pkg, from, to)
	}
	return nil, &domain.ConfigError{Source: "packages", Reason: fmt.Sprintf("unsupported registry %q", pkg.Registry)}
}

type pypiOverall struct {
	Data []struct {
		Category  string `json:"category"`
		Date      string `json:"date"`
		Downloads int64  `json:"downloads"`
	} `json:"data"`
}

// fetchPyPI reads the overall series without mirror traffic. pypistats has no
// range parameter; days outside [from, to] are filtered out here.
func (c *RegistryClient) fetchPyPI(ctx context.Context, pkg domain.Package, from, to time.Time) ([]domain.PackageDownload, error) {
	endpoint := fmt.Sprintf("%s/packages/%s/overall?mirrors=false", c.pypiURL, url.PathEscape(strings.ToLower(pkg.Name)))
	var body pypiOverall
	if err := c.getJSON(ctx, endpoint, &body); err != nil {
		return nil, fmt.Errorf("pypistats %s: %w", pkg.Name, err)
	}

	counts := make(map[time.Time]int64)
	for _, d := range body.Data {
		if d.Category != "" && d.Category != "without_mirrors" {
			continue
		}
		day, err := time.Parse(domain.DateLayout, d.Date)
		if err != nil {
			c.logger.Warn("Dropping malformed download row", "package", pkg.String(), "date", d.Date)
			continue
		}
		if day.Before(from) || day.After(to) {
			continue
		}
		counts[day] += d.Downloads
	}
	return toDownloads(pkg, counts), nil
}

type npmRange struct {
	Downloads []struct {
		Day       string `json:"day"`
		Downloads int64  `json:"downloads"`
	} `json:"downloads"`
}

// fetchNPM walks [from, to] in chunks the range endpoint accepts.
func (c *RegistryClient) fetchNPM(ctx context.Context, pkg domain.Package, from, to time.Time) ([]domain.PackageDownload, error) {
	if from.Before(npmEpoch) {
		from = npmEpoch
	}
	counts := make(map[time.Time]int64)
	for start := from; !start.After(to); start = start.AddDate(0, 0, npmMaxRangeDays) {
		end := start.AddDate(0, 0, npmMaxRangeDays-1)
		if end.After(to) {
			end = to
		}
		endpoint := fmt.Sprintf("%s/downloads/range/%s:%s/%s", c.npmURL,
			start.Format(domain.DateLayout), end.Format(domain.DateLayout), pkg.Name)
		var body npmRange
		if err := c.getJSON(ctx, endpoint, &body); err != nil {
			return nil, fmt.Errorf("npm %s %s..%s: %w", pkg.Name,
				start.Format(domain.DateLayout), end.Format(domain.DateLayout), err)
		}
		for _, d := range body.Downloads {
			day, err := time.Parse(domain.DateLayout, d.Day)
			if err != nil {
				c.logger.Warn("Dropping malformed download row", "package", pkg.String(), "date", d.Day)
				continue
			}
			counts[day] = d.Downloads
		}
	}
	return toDownloads(pkg, counts), nil
}

func toDownloads(pkg domain.Package, counts map[time.Time]int64) []domain.PackageDownload {
	out := make([]domain.PackageDownload, 0, len(counts))
	for day, n := range counts {
		out = append(out, domain.PackageDownload{Package: pkg.Name, Registry: pkg.Registry, Date: day, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// getJSON issues a GET with the shared retry policy and decodes the body.
func (c *RegistryClient) getJSON(ctx context.Context, endpoint string, v any) error {
	return retry(ctx, c.newBackOff(), c.sleep, c.logger.With("url", endpoint), func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			statusErr := fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
			classified := classifyStatus(resp.StatusCode, statusErr)
			if resp.StatusCode == http.StatusTooManyRequests {
				if secs, perr := time.ParseDuration(resp.Header.Get("Retry-After") + "s"); perr == nil {
					return &retryAfter{err: statusErr, wait: secs}
				}
			}
			return classified
		}
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			return backoff.Permanent(fmt.Errorf("%w: %v", domain.ErrMalformed, err))
		}
		return nil
	})
}
