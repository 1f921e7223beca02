package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/veilnote/veilnote/pkg/audit"
	"github.com/veilnote/veilnote/pkg/backup"
	"github.com/veilnote/veilnote/pkg/crypto"
)

// backupCmd is the parent command for export/import operations.
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Backup export and import",
}

var (
	exportOutput  string
	exportKeyFile string
	importInput   string
	importKeyFile string
)

func init() {
	backupCmd.AddCommand(backupExportCmd)
	backupCmd.AddCommand(backupImportCmd)
	backupCmd.AddCommand(backupKeygenCmd)

	backupExportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file path (required)")
	backupExportCmd.Flags().StringVar(&exportKeyFile, "key-file", "", "Seal with a key file instead of a password")
	_ = backupExportCmd.MarkFlagRequired("output")

	backupImportCmd.Flags().StringVarP(&importInput, "input", "i", "", "Export file to import (required)")
	backupImportCmd.Flags().StringVar(&importKeyFile, "key-file", "", "Open with a key file instead of a password")
	_ = backupImportCmd.MarkFlagRequired("input")
}

// backupExportCmd writes a sealed export of the open profile's notes.
var backupExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Exports every note to a sealed file",
	Long: `Exports the open profile's notes to one sealed blob.

By default the export is sealed under a password you choose; with
--key-file it is sealed under a 32-byte key file (see 'backup keygen').
The export stays readable after a wipe or device change.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := ensureUnlocked()
		if err != nil {
			return err
		}
		defer manager.Close()

		f, err := os.OpenFile(exportOutput, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()

		svc := backup.NewService(manager)
		if exportKeyFile != "" {
			err = svc.ExportWithKeyFile(f, exportKeyFile)
		} else {
			var password string
			password, err = promptExportPassword()
			if err != nil {
				return err
			}
			err = svc.ExportWithPassword(f, []byte(password))
		}
		if err != nil {
			auditError(audit.OpExport, string(sess.Profile()), "export_failed", err.Error())
			return fmt.Errorf("export failed: %w", err)
		}

		auditSuccess(audit.OpExport, string(sess.Profile()))
		fmt.Printf("Exported to %s\n", exportOutput)
		return nil
	},
}

// backupImportCmd merges a sealed export into the open profile.
var backupImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Merges a sealed export into the vault",
	Long: `Imports notes from a sealed export.

Notes are merged by id: unknown notes are added, known notes are
overwritten only when the export carries a newer version.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := ensureUnlocked()
		if err != nil {
			return err
		}
		defer manager.Close()

		f, err := os.Open(importInput)
		if err != nil {
			return fmt.Errorf("failed to open export file: %w", err)
		}
		defer f.Close()

		svc := backup.NewService(manager)
		var result *backup.ImportResult
		if importKeyFile != "" {
			result, err = svc.ImportWithKeyFile(f, importKeyFile)
		} else {
			var password string
			password, err = readSecret("Export password: ")
			if err != nil {
				return err
			}
			result, err = svc.ImportWithPassword(f, []byte(password))
		}
		if err != nil {
			auditError(audit.OpImport, string(sess.Profile()), "import_failed", err.Error())
			if errors.Is(err, crypto.ErrAuthenticationFailed) {
				return fmt.Errorf("wrong password or corrupted export")
			}
			return fmt.Errorf("import failed: %w", err)
		}

		auditSuccess(audit.OpImport, string(sess.Profile()))
		fmt.Printf("Imported %d, updated %d, skipped %d\n", result.Imported, result.Updated, result.Skipped)
		return nil
	},
}

// backupKeygenCmd writes a fresh random export key file.
var backupKeygenCmd = &cobra.Command{
	Use:   "keygen [path]",
	Short: "Generates a random export key file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := backup.GenerateKeyFile(args[0]); err != nil {
			return fmt.Errorf("failed to generate key file: %w", err)
		}
		fmt.Printf("Key file written to %s; store it separately from your backups\n", args[0])
		return nil
	},
}

func promptExportPassword() (string, error) {
	p1, err := readSecret("Export password: ")
	if err != nil {
		return "", err
	}
	if p1 == "" {
		return "", fmt.Errorf("password must not be empty")
	}
	p2, err := readSecret("Confirm: ")
	if err != nil {
		return "", err
	}
	if p1 != p2 {
		return "", fmt.Errorf("passwords do not match")
	}
	return p1, nil
}
