package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"piggy/internal/credential"
	"piggy/internal/services"
)

// NewPinCommand creates the pin command group.
func NewPinCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pin",
		Short: "Manage the vault PIN",
	}
	cmd.AddCommand(newPinSetCommand(opts))
	cmd.AddCommand(newPinVerifyCommand(opts))
	cmd.AddCommand(newPinRemoveCommand(opts))
	cmd.AddCommand(newPinStatusCommand(opts))
	return cmd
}

func newPinSetCommand(opts *RootOptions) *cobra.Command {
	var current string
	cmd := &cobra.Command{
		Use:   "set <pin>",
		Short: "Set or change the 4-digit PIN",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			if err := requirePin(cmd, app.Guard, current); err != nil {
				return err
			}
			if err := app.Guard.Set(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "PIN set")
			return nil
		},
	}
	cmd.Flags().StringVar(&current, "current", "", "current PIN, required when one is set")
	return cmd
}

func newPinVerifyCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <pin>",
		Short: "Check a PIN",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			ok, err := app.Guard.Verify(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return services.ErrWrongPin
			}
			fmt.Fprintln(cmd.OutOrStdout(), "PIN ok")
			return nil
		},
	}
}

func newPinRemoveCommand(opts *RootOptions) *cobra.Command {
	var current string
	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove the PIN",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			if err := requirePin(cmd, app.Guard, current); err != nil {
				return err
			}
			if err := app.Guard.Remove(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "PIN removed")
			return nil
		},
	}
	cmd.Flags().StringVar(&current, "current", "", "current PIN")
	return cmd
}

type pinStatus struct {
	State          string `json:"state"`
	FailedAttempts int    `json:"failed_attempts"`
	LockedFor      string `json:"locked_for,omitempty"`
}

func newPinStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether a PIN is set and whether it is locked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			state, err := app.Guard.State()
			if err != nil {
				return err
			}
			failed, err := app.Guard.FailedAttempts()
			if err != nil {
				return err
			}
			status := pinStatus{State: state.String(), FailedAttempts: failed}
			if state == credential.StateLocked {
				remaining, err := app.Guard.RemainingLockout()
				if err != nil {
					return err
				}
				status.LockedFor = remaining.Round(time.Second).String()
			}
			return opts.print(cmd.OutOrStdout(), status, func(w io.Writer) {
				fmt.Fprintf(w, "PIN: %s (%d failed attempts)\n", status.State, status.FailedAttempts)
				if status.LockedFor != "" {
					fmt.Fprintf(w, "Locked for %s\n", status.LockedFor)
				}
			})
		},
	}
}

// requirePin verifies pin when a PIN is already set.
func requirePin(cmd *cobra.Command, guard *credential.Guard, pin string) error {
	state, err := guard.State()
	if err != nil {
		return err
	}
	if state == credential.StateNoCredential {
		return nil
	}
	ok, err := guard.Verify(cmd.Context(), pin)
	if err != nil {
		return err
	}
	if !ok {
		return services.ErrWrongPin
	}
	return nil
}
