package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Quota tracks the remaining request budget per rate-limit resource ("core",
// "graphql", "search") as reported by the response headers. It is shared by
// every worker using the same gateway.
type Quota struct {
	mu      sync.Mutex
	margin  int
	buckets map[string]bucket
	logger  *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

type bucket struct {
	remaining int
	reset     time.Time
}

// NewQuota creates a quota that blocks callers once fewer than margin requests
// remain before the reset.
func NewQuota(margin int, logger *slog.Logger) *Quota {
	return &Quota{
		margin:  margin,
		buckets: make(map[string]bucket),
		logger:  logger,
		now:     time.Now,
		sleep:   sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Observe records the budget reported for resource.
func (q *Quota) Observe(resource string, remaining int, reset time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.buckets[resource] = bucket{remaining: remaining, reset: reset}
}

// Remaining reports the last observed budget of resource, or -1 if none was seen.
func (q *Quota) Remaining(resource string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	b, ok := q.buckets[resource]
	if !ok {
		return -1
	}
	return b.remaining
}

// Wait blocks until resource may be used again. It returns at once while the
// budget is above the margin or the reset time has already passed.
func (q *Quota) Wait(ctx context.Context, resource string) error {
	q.mu.Lock()
	b, ok := q.buckets[resource]
	now := q.now()
	q.mu.Unlock()

	if !ok || b.remaining >= q.margin || !b.reset.After(now) {
		return nil
	}
	d := b.reset.Sub(now) + time.Second
	q.logger.Info("Rate limit budget low, waiting for reset",
		"resource", resource, "remaining", b.remaining, "reset", b.reset.UTC(), "wait", d.Round(time.Second))
	return q.sleep(ctx, d)
}

// quotaTransport waits on the quota before each request and feeds the
// rate-limit headers of each response back into it.
type quotaTransport struct {
	base  http.RoundTripper
	quota *Quota
}

func (t *quotaTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resource := resourceFor(req)
	if err := t.quota.Wait(req.Context(), resource); err != nil {
		return nil, err
	}
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	resp, err := base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	t.observe(resource, resp.Header)
	return resp, nil
}

func (t *quotaTransport) observe(resource string, h http.Header) {
	remaining, err := strconv.Atoi(h.Get("X-RateLimit-Remaining"))
	if err != nil {
		return
	}
	resetUnix, err := strconv.ParseInt(h.Get("X-RateLimit-Reset"), 10, 64)
	if err != nil {
		return
	}
	if r := h.Get("X-RateLimit-Resource"); r != "" {
		resource = r
	}
	t.quota.Observe(resource, remaining, time.Unix(resetUnix, 0))
}

// resourceFor guesses the resource bucket of a request before any response
// has named it.
func resourceFor(req *http.Request) string {
	switch p := req.URL.Path; {
	case strings.HasSuffix(p, "/graphql"):
		return "graphql"
	case strings.Contains(p, "/search/"):
		return "search"
	default:
		return "core"
	}
}
