package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/naka-gawa/repo-metrics/internal/domain"
)

// DefaultWarningRatio applies when a goal omits warning_ratio.
const DefaultWarningRatio = 0.8

// readYAML strictly decodes the YAML file at path into v. An empty file
// decodes to the zero value.
func readYAML(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &domain.ConfigError{Source: path, Reason: err.Error()}
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return &domain.ConfigError{Source: path, Reason: err.Error()}
	}
	return nil
}

type goalEntry struct {
	Value        *float64 `yaml:"value"`
	Direction    string   `yaml:"direction"`
	WarningRatio *float64 `yaml:"warning_ratio"`
}

// LoadGoals reads a goals file mapping metric names to thresholds. Goals are
// returned sorted by metric.
func LoadGoals(path string) ([]domain.Goal, error) {
	var raw map[string]goalEntry
	if err := readYAML(path, &raw); err != nil {
		return nil, err
	}

	goals := make([]domain.Goal, 0, len(raw))
	for metric, e := range raw {
		bad := func(reason string) error {
			return &domain.ConfigError{Source: path, Reason: fmt.Sprintf("goal %q: %s", metric, reason)}
		}
		if strings.TrimSpace(metric) == "" {
			return nil, &domain.ConfigError{Source: path, Reason: "goal with empty metric name"}
		}
		if e.Value == nil {
			return nil, bad("value is required")
		}
		dir := domain.Direction(e.Direction)
		if !dir.Valid() {
			return nil, bad(fmt.Sprintf("direction must be %q or %q, got %q",
				domain.LowerIsBetter, domain.HigherIsBetter, e.Direction))
		}
		ratio := DefaultWarningRatio
		if e.WarningRatio != nil {
			ratio = *e.WarningRatio
		}
		if ratio <= 0 {
			return nil, bad(fmt.Sprintf("warning_ratio must be positive, got %v", ratio))
		}
		goals = append(goals, domain.Goal{Metric: metric, Value: *e.Value, Direction: dir, WarningRatio: ratio})
	}
	sort.Slice(goals, func(i, j int) bool { return goals[i].Metric < goals[j].Metric })
	return goals, nil
}

type teamFile struct {
	Members []string `yaml:"members"`
}

// LoadTeam reads a roster file of the form `members: [login, ...]`.
func LoadTeam(path string) (domain.TeamRoster, error) {
	var f teamFile
	if err := readYAML(path, &f); err != nil {
		return domain.TeamRoster{}, err
	}
	return domain.NewTeamRoster(f.Members), nil
}

// ParseMembers builds a roster from a comma separated login list.
func ParseMembers(csv string) domain.TeamRoster {
	return domain.NewTeamRoster(strings.Split(csv, ","))
}

type packagesFile struct {
	Packages []struct {
		Name     string `yaml:"name"`
		Registry string `yaml:"registry"`
	} `yaml:"packages"`
}

// LoadPackages reads the tracked packages. An unknown registry or a missing
// name fails the whole file.
func LoadPackages(path string) ([]domain.Package, error) {
	var f packagesFile
	if err := readYAML(path, &f); err != nil {
		return nil, err
	}
	seen := make(map[domain.Package]bool)
	out := make([]domain.Package, 0, len(f.Packages))
	for i, p := range f.Packages {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			return nil, &domain.ConfigError{Source: path, Reason: fmt.Sprintf("package %d has no name", i+1)}
		}
		reg, err := domain.ParseRegistry(strings.ToLower(strings.TrimSpace(p.Registry)))
		if err != nil {
			return nil, &domain.ConfigError{Source: path, Reason: fmt.Sprintf("package %q: unsupported registry %q", name, p.Registry)}
		}
		pkg := domain.Package{Name: name, Registry: reg}
		if !seen[pkg] {
			seen[pkg] = true
			out = append(out, pkg)
		}
	}
	return out, nil
}
