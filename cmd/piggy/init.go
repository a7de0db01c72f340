package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// NewInitCommand creates the init command.
func NewInitCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create or upgrade the database schema",
		Long: `Create the database if needed, apply schema migrations, repair legacy
data and seed default categories. Safe to run repeatedly.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			rows, err := app.Facade.QueryMany(cmd.Context(), "SELECT id FROM categories WHERE is_default = 1")
			if err != nil {
				return err
			}
			result := map[string]any{"database": opts.cfg.DBPath, "default_categories": len(rows)}
			return opts.print(cmd.OutOrStdout(), result, func(w io.Writer) {
				fmt.Fprintf(w, "Database ready at %s (%d default categories)\n", opts.cfg.DBPath, len(rows))
			})
		},
	}
}
