// Package cli provides the assetctl command tree.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"assetcore/internal/blob"
	"assetcore/internal/config"
	"assetcore/internal/core"
	"assetcore/internal/observability"
	"assetcore/pkg/domain"
)

// Version is set at build time.
var Version = "dev"

// Exit codes returned by Execute.
const (
	ExitOK         = 0
	ExitError      = 1
	ExitValidation = 2
	ExitNotFound   = 4
)

// appKey stores an *appSlot in the command context. Execute owns the slot
// so the repository is closed even when a command fails.
type appKey struct{}

type appSlot struct{ app *App }

// App is the state shared by every command of one invocation.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Service  *core.Service
	Recorder *observability.Recorder
	Blobs    blob.Store

	store core.Store
	out   printer
}

// Close releases the repository.
func (a *App) Close() error {
	if a == nil || a.store == nil {
		return nil
	}
	return a.store.Close()
}

func open(ctx context.Context, cfg *config.Config, stdout, stderr io.Writer) (*App, error) {
	logger := cfg.Log.NewLogger(stderr)
	store, err := core.OpenStore(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	blobs, err := blob.Open(ctx, cfg.Blob)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	rec := observability.NewRecorder()
	svc := core.NewService(store,
		core.WithLogger(logger),
		core.WithRecorder(rec),
		core.WithBlobStore(blobs),
	)
	logger.Debug("assetctl ready", "storage", cfg.Storage.Driver, "blob", blobs.Driver(), "config", cfg.File)
	return &App{
		Config:   cfg,
		Logger:   logger,
		Service:  svc,
		Recorder: rec,
		Blobs:    blobs,
		store:    store,
		out:      printer{w: stdout, json: cfg.Output == config.OutputJSON},
	}, nil
}

func appFrom(cmd *cobra.Command) (*App, error) {
	if slot, ok := cmd.Context().Value(appKey{}).(*appSlot); ok && slot.app != nil {
		return slot.app, nil
	}
	return nil, errors.New("command context is not initialised")
}

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	var cfgFile string
	root := &cobra.Command{
		Use:   "assetctl",
		Short: "Unify asset inventories and evaluate rules over the asset pool",
		Long: `assetctl merges asset inventories from many sources into one deduplicated
list, keeps an editable pool of imported rows, applies manipulator rules that
assign field values and groups rows with selector rules.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}
			cfg, err := config.Load(cfgFile, cmd.Flags())
			if err != nil {
				return err
			}
			slot, ok := cmd.Context().Value(appKey{}).(*appSlot)
			if !ok {
				slot = &appSlot{}
				cmd.SetContext(context.WithValue(cmd.Context(), appKey{}, slot))
			}
			slot.app, err = open(cmd.Context(), cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
			return err
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: ./"+config.DefaultFile+")")
	pf.String("storage", "", "storage driver (memory|sqlite|postgres)")
	pf.String("sqlite-path", "", "path to the sqlite database")
	pf.String("postgres-dsn", "", "postgres connection string")
	pf.String("blob", "", "report blob driver (memory|fs|s3)")
	pf.String("blob-root", "", "directory for the fs blob driver")
	pf.String("log-level", "", "log level (debug|info|warn|error)")
	pf.String("log-format", "", "log format (text|json)")
	pf.StringP("output", "o", "", "output format (table|json)")
	_ = root.RegisterFlagCompletionFunc("output", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return []string{config.OutputTable, config.OutputJSON}, cobra.ShellCompDirectiveNoFileComp
	})

	root.AddCommand(
		newSourceCmd(),
		newSchemaCmd(),
		newRebuildCmd(),
		newAssetsCmd(),
		newRawCmd(),
		newFieldCmd(),
		newCellCmd(),
		newPoolCmd(),
		newManipulatorCmd(),
		newGroupCmd(),
		newSelectorCmd(),
		newCoverageCmd(),
		newReportCmd(),
		newServeCmd(),
	)
	return root
}

// ExitCode maps an error onto the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, domain.ErrValidation):
		return ExitValidation
	case errors.Is(err, domain.ErrNotFound):
		return ExitNotFound
	default:
		return ExitError
	}
}

// Execute runs the command tree with args and returns the exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := NewRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	slot := &appSlot{}
	err := root.ExecuteContext(context.WithValue(ctx, appKey{}, slot))
	if cerr := slot.app.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close storage: %w", cerr)
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitCode(err)
	}
	return ExitOK
}
