package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"piggy/internal/services"
)

// NewVaultCommand creates the vault command group.
func NewVaultCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vault",
		Short: "Move money in and out of savings vaults",
	}
	cmd.AddCommand(newVaultMoveCommand(opts, services.Deposit))
	cmd.AddCommand(newVaultMoveCommand(opts, services.Withdraw))
	return cmd
}

func newVaultMoveCommand(opts *RootOptions, kind string) *cobra.Command {
	var pin, note string
	cmd := &cobra.Command{
		Use:   kind + " <vault-id> <amount>",
		Short: fmt.Sprintf("Record a %s", kind),
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			move := app.Vaults.Deposit
			if kind == services.Withdraw {
				move = app.Vaults.Withdraw
			}
			m, err := move(cmd.Context(), args[0], args[1], pin, note)
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), m, func(w io.Writer) {
				fmt.Fprintf(w, "%s of %.2f recorded, vault %d balance %.2f\n", m.Type, m.Amount, m.VaultID, m.Balance)
			})
		},
	}
	cmd.Flags().StringVar(&pin, "pin", "", "vault PIN, required when one is set")
	cmd.Flags().StringVar(&note, "note", "", "optional note")
	return cmd
}
