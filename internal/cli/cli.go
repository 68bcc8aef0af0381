// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-chat/internal/config"
	"github.com/jeranaias/rigrun-chat/internal/export"
	"github.com/jeranaias/rigrun-chat/internal/logging"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// rootOptions are the persistent flags shared by every command.
type rootOptions struct {
	ConfigPath string
	Backend    string
	DataDir    string
	Model      string
	LogLevel   string
}

// =============================================================================
// COMMANDS
// =============================================================================

// NewRootCmd builds the command tree. Running it without a subcommand starts
// the interactive chat.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "rigrun-chat",
		Short:         "Multi-conversation chat with streaming replies",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", Version, GitCommit, BuildDate),
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(ctx context.Context, app *App) error {
				editor := newLineEditor()
				defer editor.Close()
				return NewREPL(app, editor, cmd.OutOrStdout()).Run(ctx)
			})
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.ConfigPath, "config", "c", "", "config file (.toml, .json, .yaml)")
	flags.StringVar(&opts.Backend, "backend", "", "storage backend: auto, bridge, kv, file")
	flags.StringVar(&opts.DataDir, "data-dir", "", "directory for conversation data")
	flags.StringVarP(&opts.Model, "model", "m", "", "default model")
	flags.StringVar(&opts.LogLevel, "log-level", "", "log level: trace, debug, info, warn, error")

	cmd.AddCommand(newListCmd(opts), newExportCmd(opts), newClearCmd(opts))
	return cmd
}

func newListCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List conversations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(_ context.Context, app *App) error {
				snap := app.Repository.State()
				if asJSON {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(snap)
				}
				RenderList(cmd.OutOrStdout(), snap, GetTerminalWidth())
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full snapshot as JSON")
	return cmd
}

func newExportCmd(opts *rootOptions) *cobra.Command {
	var (
		format string
		outDir string
		open   bool
	)
	cmd := &cobra.Command{
		Use:   "export <n|id>",
		Short: "Export a conversation to Markdown or JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(_ context.Context, app *App) error {
				id, ok := resolveRef(app.Repository.State(), args[0])
				if !ok {
					return errors.Errorf("no conversation matches %q", args[0])
				}
				conv, _ := app.Repository.Conversation(id)

				exportOpts := export.DefaultOptions()
				exportOpts.OutputDir = outDir
				exportOpts.OpenAfterExport = open
				exporter, err := export.ForFormat(format, exportOpts)
				if err != nil {
					return err
				}
				path, err := export.ExportToFile(&conv, exporter, exportOpts)
				if path != "" {
					fmt.Fprintln(cmd.OutOrStdout(), path)
				}
				return err
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", export.FormatMarkdown, "output format: md, json")
	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "output directory")
	cmd.Flags().BoolVar(&open, "open", false, "open the file after export")
	return cmd
}

func newClearCmd(opts *rootOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to delete every conversation without --yes")
			}
			return withApp(cmd.Context(), opts, func(_ context.Context, app *App) error {
				n := len(app.Repository.State().Conversations)
				app.Repository.ClearAll()
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d conversation(s).\n", n)
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm deletion")
	return cmd
}

// =============================================================================
// WIRING
// =============================================================================

// loadConfig resolves the config file and applies flag overrides.
func loadConfig(opts *rootOptions) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.ConfigPath != "" {
		cfg, err = config.LoadFromPath(opts.ConfigPath)
		if err != nil {
			return nil, err
		}
	} else {
		cfg, err = config.Load()
		if cfg == nil {
			return nil, err
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s %v (using defaults)\n", WarningStyle.Render("[Warning]"), err)
		}
	}

	if opts.Backend != "" {
		cfg.Storage.Backend = opts.Backend
	}
	if opts.DataDir != "" {
		cfg.Storage.DataDir = opts.DataDir
	}
	if opts.Model != "" {
		cfg.Provider.Model = opts.Model
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid options")
	}
	return cfg, nil
}

// withApp loads config, sets up logging, opens the App, runs fn, and closes
// the App so pending state is flushed.
func withApp(ctx context.Context, opts *rootOptions, fn func(ctx context.Context, app *App) error) (err error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	logger, logCloser, err := logging.Setup(cfg.LogConfig(), os.Stderr)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	app, err := OpenApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := app.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("shutdown")
			if err == nil {
				err = closeErr
			}
		}
	}()

	return fn(ctx, app)
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", ErrorStyle.Render("Error:"), err)
		return 1
	}
	return 0
}
