// Package cli wires configuration, logging and the storage handle into the
// app command tree.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/maloquacious/semver"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/maloquacious/wealthwise/internal/config"
	apperrors "github.com/maloquacious/wealthwise/internal/errors"
	"github.com/maloquacious/wealthwise/internal/logger"
	"github.com/maloquacious/wealthwise/internal/metrics"
	"github.com/maloquacious/wealthwise/internal/store"
	"github.com/maloquacious/wealthwise/internal/store/kvcache"
	"github.com/maloquacious/wealthwise/internal/store/sqlite"
)

// ConfigEnv names the environment variable holding the config file path.
const ConfigEnv = "WEALTHWISE_CONFIG"

// App carries the state shared by every command.
type App struct {
	Version semver.Version
	Out     io.Writer
	Err     io.Writer

	configPath string
	dataDir    string
	logLevel   string
	jsonOutput bool
	noColor    bool
}

// NewApp returns an App writing to stdout and stderr.
func NewApp(version semver.Version) *App {
	return &App{Version: version, Out: os.Stdout, Err: os.Stderr}
}

// Execute runs the command tree with args and returns the process exit code.
func (a *App) Execute(args []string) int {
	root := a.RootCommand()
	root.SetArgs(args)
	err := root.Execute()
	return apperrors.Report(a.Err, err, a.jsonOutput, a.noColor)
}

// RootCommand builds the command tree.
func (a *App) RootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "app",
		Short:         "WealthWise local finance tracker and storage admin CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(a.Out)
	rootCmd.SetErr(a.Err)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.configPath, "config", os.Getenv(ConfigEnv), "path to a YAML config file")
	flags.StringVar(&a.dataDir, "data-dir", "", "directory holding the datastore (overrides config)")
	flags.StringVar(&a.logLevel, "log-level", "", "debug, info, warn or error (overrides config)")
	flags.BoolVar(&a.jsonOutput, "json", false, "print results and errors as JSON")
	flags.BoolVar(&a.noColor, "no-color", false, "disable colored error output")

	rootCmd.AddCommand(a.serveCommand(), a.dbCommand(), a.versionCommand())
	return rootCmd
}

func (a *App) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the application and schema versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.print(map[string]any{
				"version":       a.Version.String(),
				"schemaVersion": sqlite.CurrentSchemaVersion,
			}, func(w io.Writer) {
				fmt.Fprintf(w, "app %s (schema %d)\n", a.Version.String(), sqlite.CurrentSchemaVersion)
			})
		},
	}
}

// loadConfig reads the config file and environment, then applies the
// global flag overrides.
func (a *App) loadConfig() (config.Config, error) {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return config.Config{}, apperrors.NewConfigError("Cannot load configuration",
			"The config file or a WEALTHWISE_* variable is invalid",
			"Check --config and the WEALTHWISE_* environment variables", err)
	}
	if a.dataDir != "" {
		cfg.DataDir = a.dataDir
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, apperrors.NewInputError("Invalid command line option", "", "", err)
	}
	return cfg, nil
}

func (a *App) newLogger(cfg config.Config) logger.Logger {
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logger.LevelInfo
	}
	return logger.New(a.Err, "", level)
}

// openHandle builds an uninitialized handle over the configured data
// directory, registering its metrics with reg and its ambient caches.
func openHandle(cfg config.Config, log logger.Logger, reg prometheus.Registerer) *sqlite.Handle {
	caches := make([]store.Clearer, 0, len(cfg.Caches))
	for _, name := range cfg.Caches {
		caches = append(caches, kvcache.Open(cfg.DataDir, name))
	}
	return sqlite.New(sqlite.NewDirSubstrate(cfg.DataDir, cfg.DBName),
		sqlite.WithLogger(log),
		sqlite.WithMetrics(metrics.NewStore(reg)),
		sqlite.WithSettleDelay(cfg.SettleDelay),
		sqlite.WithCaches(caches...),
	)
}

// print writes v as JSON when --json is set, otherwise calls text.
func (a *App) print(v any, text func(w io.Writer)) error {
	if a.jsonOutput {
		return writeJSON(a.Out, v)
	}
	text(a.Out)
	return nil
}
