// Package config handles wrangler configuration: defaults, YAML files,
// environment overrides, and validation.
package config

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"datawrangler/internal/domain"
)

// LogConfig controls the slog handler built by the CLI.
type LogConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format string `yaml:"format" validate:"omitempty,oneof=json text"`
}

// StateConfig locates the SQLite state store.
type StateConfig struct {
	DBPath string `yaml:"db_path" validate:"required"`
}

// GenerationConfig drives the candidate generator.
type GenerationConfig struct {
	MaxCandidates         int                         `yaml:"max_candidates" validate:"gte=1"`
	AllowedTypes          []domain.TransformationType `yaml:"allowed_types" validate:"dive,oneof=fill_missing normalize encode_categorical remove_outliers drop_duplicates cast_type"`
	MissingValueThreshold float64                     `yaml:"missing_value_threshold" validate:"gt=0,lte=100"`
	CardinalityLimit      int                         `yaml:"cardinality_limit" validate:"gte=0"`
	NumericFillStrategies []string                    `yaml:"numeric_fill_strategies" validate:"min=1,dive,oneof=mean median constant"`
	FillConstant          *float64                    `yaml:"fill_constant"`
	OutlierMethod         string                      `yaml:"outlier_method" validate:"oneof=iqr zscore"`
	IQRMultiplier         float64                     `yaml:"iqr_multiplier" validate:"gt=0"`
	ZScoreThreshold       float64                     `yaml:"zscore_threshold" validate:"gt=0"`
	NormalizeMethods      []string                    `yaml:"normalize_methods" validate:"dive,oneof=zscore minmax robust"`
	EncodingMethods       []string                    `yaml:"encoding_methods" validate:"dive,oneof=label onehot"`
	OutlierActions        []string                    `yaml:"outlier_actions" validate:"dive,oneof=mask remove"`
}

// Allows reports whether t may be generated.
func (g GenerationConfig) Allows(t domain.TransformationType) bool {
	for _, a := range g.AllowedTypes {
		if a == t {
			return true
		}
	}
	return false
}

// GraphConfig adjusts the dependency graph builder.
type GraphConfig struct {
	DropDuplicatesFirst bool `yaml:"drop_duplicates_first"`
}

// ExecutionConfig bounds transformation execution.
type ExecutionConfig struct {
	Timeout         time.Duration `yaml:"timeout" validate:"gt=0"`
	BreakerFailures uint32        `yaml:"breaker_failures" validate:"gte=1"`
	BreakerCooldown time.Duration `yaml:"breaker_cooldown" validate:"gt=0"`
}

// HoldoutConfig declares a held-out partition by column value.
type HoldoutConfig struct {
	Column string `yaml:"column"`
	Value  string `yaml:"value" validate:"required_with=Column"`
}

// ValidationConfig drives the validation engine.
type ValidationConfig struct {
	RowCountTolerance float64       `yaml:"row_count_tolerance" validate:"gte=0,lte=1"`
	LeakageCheck      bool          `yaml:"leakage_check"`
	Holdout           HoldoutConfig `yaml:"holdout"`
}

// Range is an inclusive numeric range.
type Range struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max" validate:"gtefield=Min"`
}

// ScoringConfig drives the quality scorer.
type ScoringConfig struct {
	Weights         domain.Weights   `yaml:"weights"`
	SampleThreshold int              `yaml:"sample_threshold" validate:"gte=1"`
	SampleSize      int              `yaml:"sample_size" validate:"gte=1,ltefield=SampleThreshold"`
	FenceMultiplier float64          `yaml:"fence_multiplier" validate:"gt=0"`
	ValidRanges     map[string]Range `yaml:"valid_ranges" validate:"dive"`
}

// RankingConfig drives the ranking engine and the final apply step.
type RankingConfig struct {
	Policy                 string  `yaml:"policy" validate:"oneof=composite_score improvement"`
	TopK                   int     `yaml:"top_k" validate:"gte=0"`
	FailedValidationPolicy string  `yaml:"failed_validation_policy" validate:"oneof=exclude downweight"`
	DownweightFactor       float64 `yaml:"downweight_factor" validate:"gte=0,lte=1"`
	Apply                  string  `yaml:"apply" validate:"oneof=best compose"`
}

// StepPolicy is the failure strategy for one pipeline step.
type StepPolicy struct {
	Strategy      string        `yaml:"strategy" validate:"omitempty,oneof=skip retry abort fallback"`
	MaxRetries    int           `yaml:"max_retries" validate:"gte=0,lte=10"`
	Backoff       time.Duration `yaml:"backoff" validate:"gte=0"`
	BackoffFactor float64       `yaml:"backoff_factor" validate:"gte=0"`
	MaxBackoff    time.Duration `yaml:"max_backoff" validate:"gte=0"`
	Fallback      string        `yaml:"fallback" validate:"omitempty,oneof=skip abort fallback"`
}

// FailureConfig maps steps to failure strategies.
type FailureConfig struct {
	Default StepPolicy            `yaml:"default"`
	Steps   map[string]StepPolicy `yaml:"steps" validate:"dive"`
}

// For returns the policy of step, with unset fields taken from the default.
func (f FailureConfig) For(step domain.PipelineStep) StepPolicy {
	p, ok := f.Steps[string(step)]
	if !ok {
		return f.Default
	}
	if p.Strategy == "" {
		p.Strategy = f.Default.Strategy
	}
	if p.Backoff == 0 {
		p.Backoff = f.Default.Backoff
	}
	if p.BackoffFactor == 0 {
		p.BackoffFactor = f.Default.BackoffFactor
	}
	if p.MaxBackoff == 0 {
		p.MaxBackoff = f.Default.MaxBackoff
	}
	if p.Fallback == "" {
		p.Fallback = f.Default.Fallback
	}
	return p
}

// ScheduleConfig declares a recurring run.
type ScheduleConfig struct {
	Name    string `yaml:"name" validate:"required"`
	Cron    string `yaml:"cron" validate:"required"`
	Dataset string `yaml:"dataset" validate:"required"`
}

// SchedulerConfig bounds scheduled triggering.
type SchedulerConfig struct {
	MaxRunsPerMinute float64 `yaml:"max_runs_per_minute" validate:"gte=0"`
	Burst            int     `yaml:"burst" validate:"gte=0"`
}

// MetricsConfig exposes Prometheus metrics over HTTP when Addr is set.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Config is the immutable configuration value passed into every stage.
type Config struct {
	Seed       uint64           `yaml:"seed"`
	Workers    int              `yaml:"workers" validate:"gte=1,lte=256"`
	Log        LogConfig        `yaml:"log"`
	State      StateConfig      `yaml:"state"`
	Generation GenerationConfig `yaml:"generation"`
	Graph      GraphConfig      `yaml:"graph"`
	Execution  ExecutionConfig  `yaml:"execution"`
	Validation ValidationConfig `yaml:"validation"`
	Scoring    ScoringConfig    `yaml:"scoring"`
	Ranking    RankingConfig    `yaml:"ranking"`
	Failure    FailureConfig    `yaml:"failure"`
	Schedules  []ScheduleConfig `yaml:"schedules" validate:"dive"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Metrics    MetricsConfig    `yaml:"metrics"`

	// Warnings collects non-fatal warnings generated during config loading.
	// These are logged by the caller after the logger is initialised.
	Warnings []string `yaml:"-"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Seed:    42,
		Workers: 4,
		Log:     LogConfig{Level: "info", Format: "text"},
		State:   StateConfig{DBPath: "wrangler_state.sqlite"},
		Generation: GenerationConfig{
			MaxCandidates:         100,
			AllowedTypes:          append([]domain.TransformationType(nil), domain.AllTransformationTypes...),
			MissingValueThreshold: 80,
			CardinalityLimit:      20,
			NumericFillStrategies: []string{domain.StrategyMedian},
			OutlierMethod:         domain.MethodIQR,
			IQRMultiplier:         1.5,
			ZScoreThreshold:       3.0,
			NormalizeMethods:      []string{domain.MethodZScore, domain.MethodMinMax, domain.MethodRobust},
			EncodingMethods:       []string{domain.MethodLabel},
			OutlierActions:        []string{domain.ActionMask, domain.ActionRemove},
		},
		Execution: ExecutionConfig{
			Timeout:         30 * time.Second,
			BreakerFailures: 3,
			BreakerCooldown: 30 * time.Second,
		},
		Validation: ValidationConfig{
			RowCountTolerance: 0.1,
			LeakageCheck:      true,
		},
		Scoring: ScoringConfig{
			Weights:         domain.DefaultWeights(),
			SampleThreshold: 50000,
			SampleSize:      10000,
			FenceMultiplier: 1.5,
		},
		Ranking: RankingConfig{
			Policy:                 domain.PolicyImprovement,
			TopK:                   10,
			FailedValidationPolicy: domain.FailedValidationExclude,
			DownweightFactor:       0.5,
			Apply:                  "best",
		},
		Failure: FailureConfig{
			Default: StepPolicy{
				Strategy:      domain.StrategySkip,
				Backoff:       100 * time.Millisecond,
				BackoffFactor: 2,
				MaxBackoff:    5 * time.Second,
				Fallback:      domain.StrategySkip,
			},
			Steps: map[string]StepPolicy{},
		},
		Scheduler: SchedulerConfig{MaxRunsPerMinute: 6, Burst: 1},
	}
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides, and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // path is caller-controlled
		if err != nil {
			return nil, domain.ErrConfig("read %s", path).Wrap(err)
		}
		if err := decodeYAML(data, cfg); err != nil {
			return nil, domain.ErrConfig("parse %s", path).Wrap(err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// applyEnv overrides selected fields from WRANGLER_* environment variables.
func (c *Config) applyEnv() error {
	if v := os.Getenv("WRANGLER_SEED"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return domain.ErrConfig("WRANGLER_SEED: %v", err)
		}
		c.Seed = n
	}
	if v := os.Getenv("WRANGLER_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return domain.ErrConfig("WRANGLER_WORKERS: %v", err)
		}
		c.Workers = n
	}
	if v := os.Getenv("WRANGLER_MAX_CANDIDATES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return domain.ErrConfig("WRANGLER_MAX_CANDIDATES: %v", err)
		}
		c.Generation.MaxCandidates = n
	}
	if v := os.Getenv("WRANGLER_TOP_K"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return domain.ErrConfig("WRANGLER_TOP_K: %v", err)
		}
		c.Ranking.TopK = n
	}
	if v := os.Getenv("WRANGLER_EXECUTION_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return domain.ErrConfig("WRANGLER_EXECUTION_TIMEOUT: %v", err)
		}
		c.Execution.Timeout = d
	}
	if v := os.Getenv("WRANGLER_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("WRANGLER_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	if v := os.Getenv("WRANGLER_STATE_DB"); v != "" {
		c.State.DBPath = v
	}
	if v := os.Getenv("WRANGLER_RANKING_POLICY"); v != "" {
		c.Ranking.Policy = v
	}
	if v := os.Getenv("WRANGLER_METRICS_ADDR"); v != "" {
		c.Metrics.Addr = v
	}
	if v := os.Getenv("WRANGLER_LEAKAGE_CHECK"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return domain.ErrConfig("WRANGLER_LEAKAGE_CHECK: %v", err)
		}
		c.Validation.LeakageCheck = b
	}
	return nil
}

var validate = validator.New()

// Validate checks struct constraints and cross-field rules. All failures are
// config-stage errors, which the orchestrator treats as fatal.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return domain.ErrConfig("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return domain.ErrConfig("invalid configuration").Wrap(err)
	}
	if err := c.Scoring.Weights.Check(); err != nil {
		return err
	}
	for step := range c.Failure.Steps {
		if !domain.ValidStep(step) || domain.PipelineStep(step).Terminal() {
			return domain.ErrConfig("failure policy for unknown step %q", step)
		}
	}
	for _, p := range append([]StepPolicy{c.Failure.Default}, mapValues(c.Failure.Steps)...) {
		if p.Strategy == domain.StrategyRetry && p.Fallback == domain.StrategyRetry {
			return domain.ErrConfig("retry fallback cannot be retry")
		}
	}
	if c.Failure.Default.Strategy == "" {
		return domain.ErrConfig("failure.default.strategy is required")
	}
	if slices.Contains(c.Generation.NumericFillStrategies, domain.StrategyConstant) && c.Generation.FillConstant == nil {
		return domain.ErrConfig("generation.fill_constant is required by the constant fill strategy")
	}
	if len(c.Generation.AllowedTypes) == 0 {
		c.Warnings = append(c.Warnings, "generation.allowed_types is empty: no candidates will be generated")
	}
	if c.Validation.Holdout.Column == "" && !c.Validation.LeakageCheck {
		c.Warnings = append(c.Warnings, "leakage check disabled")
	}
	return nil
}

func mapValues(m map[string]StepPolicy) []StepPolicy {
	out := make([]StepPolicy, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

// SlogLevel maps the configured level string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	return ParseLevel(c.Log.Level)
}

// ParseLevel maps a level name to an slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LoadDotEnv reads a .env file and sets any variables not already in the environment.
// Lines must be in KEY=VALUE format. Comments (#) and blank lines are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(strings.TrimPrefix(key, "export "))
		value = stripQuotes(strings.TrimSpace(value))
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// stripQuotes removes surrounding double or single quotes from a value.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
