package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/naka-gawa/repo-metrics/internal/domain"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadGoals(t *testing.T) {
	testCases := []struct {
		name      string
		content   string
		expected  []domain.Goal
		expectErr string
	}{
		{
			name: "valid goals with default warning ratio",
			content: `
avg_merge_time_hours:
  value: 24
  direction: lower_is_better
community_pr_pct:
  value: 30
  direction: higher_is_better
  warning_ratio: 0.5
`,
			expected: []domain.Goal{
				{Metric: "avg_merge_time_hours", Value: 24, Direction: domain.LowerIsBetter, WarningRatio: 0.8},
				{Metric: "community_pr_pct", Value: 30, Direction: domain.HigherIsBetter, WarningRatio: 0.5},
			},
		},
		{
			name:      "unknown direction",
			content:   "ci_failure_rate:\n  value: 0.1\n  direction: sideways\n",
			expectErr: "direction must be",
		},
		{
			name:      "missing value",
			content:   "ci_failure_rate:\n  direction: lower_is_better\n",
			expectErr: "value is required",
		},
		{
			name:      "non-positive warning ratio",
			content:   "ci_failure_rate:\n  value: 0.1\n  direction: lower_is_better\n  warning_ratio: 0\n",
			expectErr: "warning_ratio must be positive",
		},
		{
			name:      "unknown field",
			content:   "ci_failure_rate:\n  value: 0.1\n  direction: lower_is_better\n  target: 3\n",
			expectErr: "field target not found",
		},
		{
			name:     "empty file",
			content:  "",
			expected: []domain.Goal{},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			goals, err := LoadGoals(writeFile(t, "goals.yaml", tc.content))
			if tc.expectErr != "" {
				require.Error(t, err)
				assert.ErrorIs(t, err, domain.ErrConfig)
				assert.Contains(t, err.Error(), tc.expectErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, goals)
		})
	}
}

func TestLoadGoals_MissingFile(t *testing.T) {
	_, err := LoadGoals(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, domain.ErrConfig)
}

func TestLoadTeam(t *testing.T) {
	roster, err := LoadTeam(writeFile(t, "team.yaml", "members:\n  - Alice\n  - bob\n  - ' carol '\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob", "carol"}, roster.Members())
	assert.True(t, roster.IsMember("ALICE"))

	assert.Equal(t, []string{"x", "y"}, ParseMembers("x, y,,").Members())
}

func TestLoadPackages(t *testing.T) {
	path := writeFile(t, "packages.yaml", `
packages:
  - name: strands-agents
    registry: pypi
  - name: "@strands-agents/sdk"
    registry: NPM
  - name: strands-agents
    registry: pypi
`)
	pkgs, err := LoadPackages(path)
	require.NoError(t, err)
	assert.Equal(t, []domain.Package{
		{Name: "strands-agents", Registry: domain.RegistryPyPI},
		{Name: "@strands-agents/sdk", Registry: domain.RegistryNPM},
	}, pkgs)

	_, err = LoadPackages(writeFile(t, "packages.yaml", "packages:\n  - name: x\n    registry: cargo\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfig)
	assert.Contains(t, err.Error(), "cargo")
}
