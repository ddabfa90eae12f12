package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"datawrangler/internal/app"
	"datawrangler/internal/config"
	"datawrangler/internal/domain"
)

var (
	version = "dev"
	commit  = "none"
)

// Execute runs the CLI.
func Execute() int {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		output := rootCmd.PersistentFlags().Lookup("output").Value.String()
		printError(os.Stdout, os.Stderr, output, err)
		return 1
	}
	return 0
}

// printError reports err as a JSON object on stdout for json output and as
// plain text on stderr otherwise.
func printError(stdout, stderr io.Writer, output string, err error) {
	if output != string(outputJSON) {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return
	}
	errObj := map[string]interface{}{
		"error": err.Error(),
	}
	var derr *domain.Error
	if errors.As(err, &derr) {
		errObj["stage"] = derr.Stage
		if derr.Code != "" {
			errObj["code"] = derr.Code
		}
	}
	var nf *domain.NotFoundError
	if errors.As(err, &nf) {
		errObj["code"] = "not_found"
	}
	_ = printJSON(stdout, errObj)
}

// rootOptions holds the persistent flags shared by every command.
type rootOptions struct {
	configPath  string
	envFile     string
	logLevel    string
	logFormat   string
	stateDB     string
	metricsAddr string
	output      outputFormat
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{output: outputTable}

	rootCmd := &cobra.Command{
		Use:           "wrangler",
		Short:         "Automated data wrangling pipeline",
		Long:          "Profiles a dataset, generates cleaning transformations, validates and scores them, and ranks the results.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "Optional .env file read before the environment")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "Log format (text, json)")
	rootCmd.PersistentFlags().StringVar(&opts.stateDB, "state-db", "", "Path to the SQLite state database")
	rootCmd.PersistentFlags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve /metrics and /healthz on this address (schedule only)")
	rootCmd.PersistentFlags().VarP(&opts.output, "output", "o", "Output format (table, json)")

	rootCmd.AddCommand(newRunCmd(opts))
	rootCmd.AddCommand(newRecoverCmd(opts))
	rootCmd.AddCommand(newRunsCmd(opts))
	rootCmd.AddCommand(newProfileCmd(opts))
	rootCmd.AddCommand(newCandidatesCmd(opts))
	rootCmd.AddCommand(newScheduleCmd(opts))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// loadConfig resolves the configuration. Precedence: flag > env > file >
// default. The result is validated by open.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	if o.envFile != "" {
		if err := config.LoadDotEnv(o.envFile); err != nil {
			return nil, domain.ErrConfig("load %s", o.envFile).Wrap(err)
		}
	}
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Log.Format = o.logFormat
	}
	if o.stateDB != "" {
		cfg.State.DBPath = o.stateDB
	}
	if o.metricsAddr != "" {
		cfg.Metrics.Addr = o.metricsAddr
	}
	return cfg, nil
}

// newLogger builds the slog handler configured by cfg.Log.
func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// session is an opened application plus what a command needs around it.
type session struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	app      *app.App
}

// open re-validates cfg after flag overrides, logs config warnings and wires
// the application.
func (o *rootOptions) open(ctx context.Context, cmd *cobra.Command, cfg *config.Config) (*session, error) {
	cfg.Warnings = nil
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := newLogger(cmd.ErrOrStderr(), cfg)
	for _, w := range cfg.Warnings {
		logger.Warn("config warning", "warning", w)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a, err := app.New(ctx, app.Deps{Cfg: cfg, Logger: logger, Registerer: reg})
	if err != nil {
		return nil, err
	}
	return &session{cfg: cfg, logger: logger, registry: reg, app: a}, nil
}

// openDefault loads the configuration and opens a session with it.
func (o *rootOptions) openDefault(cmd *cobra.Command) (*session, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	return o.open(cmd.Context(), cmd, cfg)
}

func (s *session) close() {
	if err := s.app.Close(); err != nil {
		s.logger.Warn("close application", "error", err)
	}
}
