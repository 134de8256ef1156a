// Package config loads runtime settings from the environment and the YAML
// files operators maintain next to the database.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/naka-gawa/repo-metrics/internal/domain"
)

// DefaultRepos are the tracked repositories of the default organisation.
var DefaultRepos = []string{
	"sdk-python",
	"sdk-typescript",
	"tools",
	"agent-sop",
	"agent-builder",
	"evals",
	"mcp-server",
}

// Config holds all configuration for the application.
type Config struct {
	GithubToken     string   `mapstructure:"GITHUB_TOKEN"`
	Org             string   `mapstructure:"METRICS_ORG"`
	Repos           []string `mapstructure:"METRICS_REPOS"`
	Workers         int      `mapstructure:"METRICS_WORKERS"`
	AggregateDays   int      `mapstructure:"METRICS_AGGREGATE_DAYS"`
	RateLimitMargin int      `mapstructure:"METRICS_RATE_LIMIT_MARGIN"`
}

// Load reads configuration from a .env file in dir (if present) and the
// environment. Environment variables win over the file.
func Load(dir string) (*Config, error) {
	v := viper.New()
	v.SetDefault("GITHUB_TOKEN", "")
	v.SetDefault("METRICS_ORG", "strands-agents")
	v.SetDefault("METRICS_REPOS", DefaultRepos)
	v.SetDefault("METRICS_WORKERS", 4)
	v.SetDefault("METRICS_AGGREGATE_DAYS", 30)
	v.SetDefault("METRICS_RATE_LIMIT_MARGIN", 50)

	// Load from .env file if it exists
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(dir)
	_ = v.ReadInConfig()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &domain.ConfigError{Source: "environment", Reason: err.Error()}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.Workers < 1:
		return &domain.ConfigError{Source: "METRICS_WORKERS", Reason: fmt.Sprintf("must be at least 1, got %d", c.Workers)}
	case c.AggregateDays < 1:
		return &domain.ConfigError{Source: "METRICS_AGGREGATE_DAYS", Reason: fmt.Sprintf("must be at least 1, got %d", c.AggregateDays)}
	case c.RateLimitMargin < 0:
		return &domain.ConfigError{Source: "METRICS_RATE_LIMIT_MARGIN", Reason: fmt.Sprintf("must not be negative, got %d", c.RateLimitMargin)}
	}
	return nil
}

// RepoRefs resolves the configured repositories; bare names belong to Org.
func (c *Config) RepoRefs() ([]domain.RepoRef, error) {
	return ParseRepos(c.Repos, c.Org)
}

// ParseRepos parses repository names, dropping blanks and duplicates while
// keeping the given order.
func ParseRepos(names []string, org string) ([]domain.RepoRef, error) {
	seen := make(map[domain.RepoRef]bool)
	var out []domain.RepoRef
	for _, n := range names {
		for _, part := range strings.Split(n, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			ref, err := domain.ParseRepoRef(part, org)
			if err != nil {
				return nil, err
			}
			if !seen[ref] {
				seen[ref] = true
				out = append(out, ref)
			}
		}
	}
	if len(out) == 0 {
		return nil, &domain.ConfigError{Source: "repos", Reason: "no repositories configured"}
	}
	return out, nil
}
