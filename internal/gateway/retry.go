package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/go-github/v62/github"

	"github.com/naka-gawa/repo-metrics/internal/domain"
)

// withRetry runs call until it succeeds, fails permanently or the retry budget
// is spent. Rate-limit errors wait for the advertised reset before the next
// attempt. An exhausted budget yields an error matching domain.ErrTransient.
func (g *GitHubGateway) withRetry(ctx context.Context, op string, call func() error) error {
	return retry(ctx, g.newBackOff(), g.quota.sleep, g.logger.With("op", op), func() error {
		err := call()
		if err == nil {
			return nil
		}
		return classifyGitHub(err)
	})
}

// retryAfter marks a retryable error that must not be retried before wait.
type retryAfter struct {
	err  error
	wait time.Duration
}

func (e *retryAfter) Error() string { return e.err.Error() }
func (e *retryAfter) Unwrap() error { return e.err }

type sleeper func(ctx context.Context, d time.Duration) error

// retry is the shared retry loop of the GitHub and registry clients. call
// returns nil, a *backoff.PermanentError, a *retryAfter or a plain retryable error.
func retry(ctx context.Context, schedule backoff.BackOff, sleep sleeper, logger *slog.Logger, call func() error) error {
	var permanent bool
	policy := backoff.WithContext(backoff.WithMaxRetries(schedule, maxRetries), ctx)
	err := backoff.RetryNotify(func() error {
		err := call()
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			permanent = true
			return err
		}
		var ra *retryAfter
		if errors.As(err, &ra) && ra.wait > 0 {
			if serr := sleep(ctx, ra.wait); serr != nil {
				permanent = true
				return backoff.Permanent(serr)
			}
		}
		return err
	}, policy, func(err error, next time.Duration) {
		logger.Warn("Retrying upstream call", "error", err, "backoff", next.Round(time.Millisecond))
	})
	switch {
	case err == nil:
		return nil
	case permanent:
		return err
	default:
		return fmt.Errorf("%w: %w", domain.ErrTransient, err)
	}
}

var graphqlStatus = regexp.MustCompile(`non-200 OK status code: (\d{3})`)

// classifyGitHub maps a go-github or githubv4 error onto the retry policy.
func classifyGitHub(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return backoff.Permanent(err)
	}

	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		wait := time.Until(rateErr.Rate.Reset.Time)
		if wait > maxRateLimitWait {
			wait = maxRateLimitWait
		}
		return &retryAfter{err: err, wait: wait}
	}

	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		var wait time.Duration
		if abuseErr.RetryAfter != nil {
			wait = *abuseErr.RetryAfter
		}
		return &retryAfter{err: err, wait: wait}
	}

	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		return classifyStatus(respErr.Response.StatusCode, err)
	}

	// githubv4 reports HTTP failures and GraphQL errors as plain strings.
	msg := err.Error()
	if strings.Contains(msg, "Could not resolve to") {
		return backoff.Permanent(fmt.Errorf("%w: %v", domain.ErrNotFound, err))
	}
	if strings.Contains(strings.ToLower(msg), "rate limit") {
		return err
	}
	if m := graphqlStatus.FindStringSubmatch(msg); m != nil {
		status, _ := strconv.Atoi(m[1])
		return classifyStatus(status, err)
	}
	return err
}

// classifyStatus applies the HTTP status policy: 404 and 410 are permanent
// not-found, 429 and 5xx are retried, and any other status is permanent.
func classifyStatus(status int, err error) error {
	switch {
	case status == http.StatusNotFound || status == http.StatusGone:
		return backoff.Permanent(fmt.Errorf("%w: %v", domain.ErrNotFound, err))
	case status == http.StatusTooManyRequests || status >= 500:
		return err
	default:
		return backoff.Permanent(err)
	}
}
