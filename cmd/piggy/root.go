package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"piggy/internal/cli"
	"piggy/internal/config"
	"piggy/internal/log"
)

// RootOptions holds global flags and the state shared by subcommands.
type RootOptions struct {
	Format string // "json" | "text"

	cfg    *config.Config
	logger *log.Logger
	app    *cli.App
	cancel context.CancelFunc
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// execute runs the CLI with args and releases everything the command opened.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	opts := &RootOptions{}
	cmd := NewRootCommand(opts)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if cerr := opts.close(); err == nil {
		err = cerr
	}
	return err
}

// NewRootCommand creates the root command of the piggy CLI.
func NewRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "piggy",
		Short:         "piggy - personal finance storage",
		Long:          "Manage the local piggy database: schema, backups, PIN and savings vaults.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			cli.LoadEnvFile()
			cfg, err := cli.LoadAndValidateConfig()
			if err != nil {
				return err
			}
			opts.cfg = cfg
			opts.logger = cli.SetupLogger(cfg, cmd.ErrOrStderr())

			ctx, cancel := cli.CommandContext(cmd.Context(), opts.logger, cfg.OperationTimeout)
			opts.cancel = cancel
			cmd.SetContext(ctx)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewInitCommand(opts))
	cmd.AddCommand(NewBackupCommand(opts))
	cmd.AddCommand(NewPinCommand(opts))
	cmd.AddCommand(NewVaultCommand(opts))

	return cmd
}

// open initializes the application once per invocation.
func (o *RootOptions) open(ctx context.Context) (*cli.App, error) {
	if o.app != nil {
		return o.app, nil
	}
	app, err := cli.Open(ctx, o.cfg, log.FromContext(ctx))
	if err != nil {
		return nil, err
	}
	o.app = app
	return app, nil
}

func (o *RootOptions) close() error {
	var err error
	if o.app != nil {
		err = o.app.Close()
		o.app = nil
	}
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	return err
}

// print writes v as indented JSON, or text via the fallback.
func (o *RootOptions) print(w io.Writer, v any, text func(io.Writer)) error {
	if o.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
