package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datawrangler/internal/domain"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wrangler.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaults_AreValid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 100, cfg.Generation.MaxCandidates)
	assert.Equal(t, 10, cfg.Ranking.TopK)
	assert.InDelta(t, 0.1, cfg.Validation.RowCountTolerance, 1e-12)
	assert.Equal(t, domain.DefaultWeights(), cfg.Scoring.Weights)
	assert.Len(t, cfg.Generation.AllowedTypes, 6)
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, uint64(42), cfg.Seed)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
seed: 7
workers: 2
generation:
  max_candidates: 5
  cardinality_limit: 2
  encoding_methods: [label, onehot]
execution:
  timeout: 250ms
scoring:
  weights: {completeness: 0.25, consistency: 0.25, validity: 0.25, uniqueness: 0.25}
  valid_ranges:
    age: {min: 0, max: 120}
ranking:
  policy: composite_score
failure:
  steps:
    execution: {strategy: retry, max_retries: 2, fallback: fallback}
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, uint64(7), cfg.Seed)
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, 5, cfg.Generation.MaxCandidates)
	assert.Equal(t, []string{"label", "onehot"}, cfg.Generation.EncodingMethods)
	assert.Equal(t, 250*time.Millisecond, cfg.Execution.Timeout)
	assert.Equal(t, Range{Min: 0, Max: 120}, cfg.Scoring.ValidRanges["age"])
	assert.Equal(t, domain.PolicyCompositeScore, cfg.Ranking.Policy)

	// untouched sections keep their defaults
	assert.Equal(t, []string{domain.StrategyMedian}, cfg.Generation.NumericFillStrategies)
	assert.Nil(t, cfg.Generation.FillConstant)

	exec := cfg.Failure.For(domain.StepExecution)
	assert.Equal(t, domain.StrategyRetry, exec.Strategy)
	assert.Equal(t, 2, exec.MaxRetries)
	assert.Equal(t, domain.StrategyFallback, exec.Fallback)
	assert.Equal(t, 100*time.Millisecond, exec.Backoff)

	assert.Equal(t, domain.StrategySkip, cfg.Failure.For(domain.StepScoring).Strategy)
}

func TestLoad_NumericFillStrategies(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
generation:
  numeric_fill_strategies: [mean, median, constant]
  fill_constant: -1
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"mean", "median", "constant"}, cfg.Generation.NumericFillStrategies)
	require.NotNil(t, cfg.Generation.FillConstant)
	assert.InDelta(t, -1.0, *cfg.Generation.FillConstant, 0)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name:    "unknown field",
			body:    "generation:\n  max_candidatez: 3\n",
			wantErr: "max_candidatez",
		},
		{
			name:    "weights do not sum to one",
			body:    "scoring:\n  weights: {completeness: 0.5, consistency: 0.5, validity: 0.5}\n",
			wantErr: "sum to 1",
		},
		{
			name:    "bad policy",
			body:    "ranking:\n  policy: vibes\n",
			wantErr: "Policy",
		},
		{
			name:    "bad strategy",
			body:    "failure:\n  steps:\n    execution: {strategy: pray}\n",
			wantErr: "Strategy",
		},
		{
			name:    "unknown step",
			body:    "failure:\n  steps:\n    cleanup: {strategy: skip}\n",
			wantErr: "unknown step",
		},
		{
			name:    "sample larger than threshold",
			body:    "scoring:\n  sample_threshold: 10\n  sample_size: 20\n",
			wantErr: "SampleSize",
		},
		{
			name:    "unknown fill strategy",
			body:    "generation:\n  numeric_fill_strategies: [mean, bfill]\n",
			wantErr: "NumericFillStrategies",
		},
		{
			name:    "no fill strategy",
			body:    "generation:\n  numeric_fill_strategies: []\n",
			wantErr: "NumericFillStrategies",
		},
		{
			name:    "constant fill without value",
			body:    "generation:\n  numeric_fill_strategies: [median, constant]\n",
			wantErr: "fill_constant",
		},
		{
			name:    "zero timeout",
			body:    "execution:\n  timeout: 0s\n",
			wantErr: "Timeout",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)

			var derr *domain.Error
			require.True(t, errors.As(err, &derr))
			assert.Equal(t, domain.StageConfig, derr.Stage)
			assert.True(t, domain.IsFatal(err))
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("WRANGLER_SEED", "99")
	t.Setenv("WRANGLER_WORKERS", "8")
	t.Setenv("WRANGLER_TOP_K", "3")
	t.Setenv("WRANGLER_STATE_DB", "/tmp/state.sqlite")
	t.Setenv("WRANGLER_LEAKAGE_CHECK", "false")

	cfg, err := Load(writeConfig(t, "seed: 1\n"))
	require.NoError(t, err)
	assert.Equal(t, uint64(99), cfg.Seed)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, 3, cfg.Ranking.TopK)
	assert.Equal(t, "/tmp/state.sqlite", cfg.State.DBPath)
	assert.False(t, cfg.Validation.LeakageCheck)
	assert.Contains(t, cfg.Warnings, "leakage check disabled")
}

func TestLoad_BadEnvValue(t *testing.T) {
	t.Setenv("WRANGLER_WORKERS", "many")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WRANGLER_WORKERS")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	content := `# comment
WRANGLER_TEST_DOTENV_A=hello
export WRANGLER_TEST_DOTENV_B="quoted value"
WRANGLER_TEST_DOTENV_C='single'
not a pair
`
	require.NoError(t, os.WriteFile(envFile, []byte(content), 0o600))

	t.Setenv("WRANGLER_TEST_DOTENV_A", "")
	t.Setenv("WRANGLER_TEST_DOTENV_B", "")
	t.Setenv("WRANGLER_TEST_DOTENV_C", "preset")

	require.NoError(t, LoadDotEnv(envFile))
	assert.Equal(t, "hello", os.Getenv("WRANGLER_TEST_DOTENV_A"))
	assert.Equal(t, "quoted value", os.Getenv("WRANGLER_TEST_DOTENV_B"))
	assert.Equal(t, "preset", os.Getenv("WRANGLER_TEST_DOTENV_C"))

	require.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env")))
}
