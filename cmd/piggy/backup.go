package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"piggy/internal/backup"
)

// NewBackupCommand creates the backup command group.
func NewBackupCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Export, validate and import backup files",
	}
	cmd.AddCommand(newBackupExportCommand(opts))
	cmd.AddCommand(newBackupValidateCommand(opts))
	cmd.AddCommand(newBackupImportCommand(opts))
	return cmd
}

func newBackupExportCommand(opts *RootOptions) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the whole database as a backup file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			data, err := app.Backups.Export(cmd.Context())
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(output, data, 0600); err != nil {
				return fmt.Errorf("write backup: %w", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Backup written to %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	return cmd
}

// backupReport is the printable form of a validation or import.
type backupReport struct {
	File       string         `json:"file"`
	Importable bool           `json:"importable"`
	Partial    bool           `json:"partial,omitempty"`
	Records    int            `json:"records"`
	Errors     []string       `json:"errors,omitempty"`
	BatchID    string         `json:"batch_id,omitempty"`
	Inserted   map[string]int `json:"inserted,omitempty"`
	Skipped    map[string]int `json:"skipped,omitempty"`
}

func newBackupReport(file string, report backup.Report) backupReport {
	r := backupReport{File: file, Importable: report.Importable(), Errors: report.Errors}
	if report.Sanitized != nil {
		r.Records = report.Sanitized.Data.Records()
	}
	return r
}

func (r backupReport) text(w io.Writer) {
	if r.Importable {
		fmt.Fprintf(w, "%s: %d valid records\n", r.File, r.Records)
	} else {
		fmt.Fprintf(w, "%s: not importable (%d errors)\n", r.File, len(r.Errors))
	}
	for _, e := range r.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
	if r.BatchID != "" {
		if r.Partial {
			fmt.Fprintf(w, "Partially imported batch %s, %d records skipped\n", r.BatchID, len(r.Errors))
		} else {
			fmt.Fprintf(w, "Imported batch %s\n", r.BatchID)
		}
		for table, n := range r.Inserted {
			fmt.Fprintf(w, "  %-22s %d inserted, %d skipped\n", table, n, r.Skipped[table])
		}
	}
}

func newBackupValidateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a backup file without importing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readBackup(args[0])
			if err != nil {
				return err
			}
			app, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			report, err := app.Backups.Validate(cmd.Context(), data)
			if err != nil && !errors.Is(err, backup.ErrStructure) {
				return err
			}
			r := newBackupReport(args[0], report)
			if perr := opts.print(cmd.OutOrStdout(), r, r.text); perr != nil {
				return perr
			}
			if !r.Importable {
				return fmt.Errorf("%w: %d errors", backup.ErrNotImportable, len(r.Errors))
			}
			return nil
		},
	}
}

func newBackupImportCommand(opts *RootOptions) *cobra.Command {
	var partial bool
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import a backup file; refused if any record is invalid unless --partial",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readBackup(args[0])
			if err != nil {
				return err
			}
			app, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			importBackup := app.Backups.Import
			if partial {
				importBackup = app.Backups.ImportPartial
			}
			outcome, err := importBackup(cmd.Context(), data)
			r := newBackupReport(args[0], outcome.Report)
			if err == nil {
				r.Partial = outcome.Partial
				r.BatchID = outcome.BatchID
				r.Inserted = outcome.Result.Inserted
				r.Skipped = outcome.Result.Skipped
			}
			if perr := opts.print(cmd.OutOrStdout(), r, r.text); perr != nil {
				return perr
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&partial, "partial", false, "import the valid records and skip the invalid ones")
	return cmd
}

// readBackup reads at most one byte more than backup.MaxSize so oversized
// files are rejected by the parser without loading them whole.
func readBackup(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open backup: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, backup.MaxSize+1))
	if err != nil {
		return nil, fmt.Errorf("read backup: %w", err)
	}
	return data, nil
}
