package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means upstream reported the entity as missing (404 or 410).
	ErrNotFound = errors.New("not found")
	// ErrTransient covers network failures, 5xx responses and rate limiting.
	ErrTransient = errors.New("transient upstream failure")
	// ErrMalformed means an upstream payload did not have the expected shape.
	ErrMalformed = errors.New("malformed response")
	// ErrConfig is the root of every configuration error.
	ErrConfig = errors.New("configuration error")
)

// ConfigError reports an invalid configuration file or value.
type ConfigError struct {
	Source string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s", e.Source, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return ErrConfig
}

// FetchError attaches the entity context to an upstream failure so it can be
// retried by hand.
type FetchError struct {
	Entity EntityType
	Repo   string
	ID     string
	Err    error
}

func (e *FetchError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("fetch %s for %s: %v", e.Entity, e.Repo, e.Err)
	}
	return fmt.Sprintf("fetch %s %s for %s: %v", e.Entity, e.ID, e.Repo, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
