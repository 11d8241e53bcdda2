package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/maloquacious/wealthwise/internal/config"
	apperrors "github.com/maloquacious/wealthwise/internal/errors"
	"github.com/maloquacious/wealthwise/internal/store"
	"github.com/maloquacious/wealthwise/internal/store/sqlite"
)

// Summary describes the datastore as found on disk.
type Summary struct {
	Path                 string           `json:"path"`
	Existed              bool             `json:"existed"`
	State                string           `json:"state"`
	SchemaVersion        int              `json:"schemaVersion"`
	CurrentSchemaVersion int              `json:"currentSchemaVersion"`
	Integrity            string           `json:"integrity"`
	Tables               map[string]int64 `json:"tables"`
}

func (a *App) dbCommand() *cobra.Command {
	dbCmd := &cobra.Command{
		Use:   "db",
		Short: "Datastore management commands",
	}

	dbInitCmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the datastore, recovering and migrating as needed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withHandle(cmd.Context(), true, func(ctx context.Context, cfg config.Config, h *sqlite.Handle) error {
				version, err := h.SchemaVersion(ctx)
				if err != nil {
					return err
				}
				return a.print(map[string]any{"state": h.State().String(), "schemaVersion": version}, func(w io.Writer) {
					fmt.Fprintf(w, "datastore ready (schema %d)\n", version)
				})
			})
		},
	}

	dbVerifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Inspect schema integrity and version without changing the datastore",
		Long: "Inspect schema integrity and version without changing the datastore.\n" +
			"Verify never recovers, migrates or erases; a damaged store is reported as an error.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			sum, err := verify(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			// verify always reports JSON
			return writeJSON(a.Out, sum)
		},
	}

	var hard bool
	dbResetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Erase the datastore and initialize it again",
		Long: "Erase the datastore and initialize it again. All local data is lost.\n" +
			"With --hard, every file belonging to the datastore and all ambient caches are erased as well.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withHandle(cmd.Context(), false, func(ctx context.Context, cfg config.Config, h *sqlite.Handle) error {
				reset := SoftReset
				if hard {
					reset = HardReset
				}
				if err := reset(ctx, h); err != nil {
					return err
				}
				return a.print(map[string]any{"state": h.State().String(), "hard": hard}, func(w io.Writer) {
					fmt.Fprintf(w, "datastore reset (hard=%v), state %s\n", hard, h.State())
				})
			})
		},
	}
	dbResetCmd.Flags().BoolVar(&hard, "hard", false, "also erase stray datastore files and ambient caches")

	var yes bool
	dbWipeCmd := &cobra.Command{
		Use:   "wipe",
		Short: "Remove the datastore files and ambient caches without reinitializing",
		Long: "Remove the datastore files and ambient caches without reinitializing.\n" +
			"Only files belonging to the datastore are removed; anything else in the data directory is kept.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return apperrors.NewInputError("Refusing to wipe without confirmation",
					"wipe removes all local data", "Run: app db wipe --yes", nil)
			}
			return a.withHandle(cmd.Context(), false, func(ctx context.Context, cfg config.Config, h *sqlite.Handle) error {
				removed, err := Wipe(ctx, h)
				if err != nil {
					return apperrors.NewDatabaseError("Cannot wipe the datastore", cfg.DataDir, "", err)
				}
				return a.print(map[string]any{"removed": removed}, func(w io.Writer) {
					fmt.Fprintf(w, "removed %d datastore files from %s\n", len(removed), cfg.DataDir)
				})
			})
		},
	}
	dbWipeCmd.Flags().BoolVar(&yes, "yes", false, "confirm that all local data should be removed")

	dbCmd.AddCommand(dbInitCmd, dbVerifyCmd, dbResetCmd, dbWipeCmd)
	return dbCmd
}

// withHandle loads config, builds a handle, optionally initializes it within
// the configured timeout, runs fn and closes the handle.
func (a *App) withHandle(ctx context.Context, initialize bool, fn func(context.Context, config.Config, *sqlite.Handle) error) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	h := openHandle(cfg, a.newLogger(cfg), prometheus.NewRegistry())
	defer h.Close()

	if cfg.InitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.InitTimeout)
		defer cancel()
	}
	if initialize {
		if err := h.Initialize(ctx); err != nil {
			return err
		}
	}
	return fn(ctx, cfg, h)
}

// verify inspects the datastore file read-only. A missing store is
// reported, not created.
func verify(ctx context.Context, cfg config.Config) (Summary, error) {
	path := store.GetDBPath(cfg.DataDir, cfg.DBName)
	sum := Summary{
		Path:                 path,
		State:                store.StateUninitialized.String(),
		CurrentSchemaVersion: sqlite.CurrentSchemaVersion,
		Tables:               map[string]int64{},
	}
	existed, err := store.CheckExists(cfg.DataDir, cfg.DBName)
	if err != nil {
		return sum, apperrors.NewDatabaseError("Cannot inspect the data directory", cfg.DataDir, "", err)
	}
	sum.Existed = existed
	if !existed {
		return sum, nil
	}

	in, err := sqlite.Inspect(ctx, path)
	if err != nil {
		return sum, apperrors.NewDatabaseError("The local datastore failed verification", path, apperrors.HardResetFix, err)
	}
	sum.State = store.StateReady.String()
	sum.SchemaVersion = in.SchemaVersion
	sum.Integrity = in.Integrity
	sum.Tables = in.Tables
	return sum, nil
}
