package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/veilnote/veilnote/pkg/profile"
)

// statusCmd reports vault configuration without unlocking anything. It
// deliberately says nothing about whether a decoy PIN exists: status output
// must be identical either way.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Shows vault configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		done, err := resolver.IsSetup()
		if err != nil {
			return err
		}

		fmt.Printf("Vault directory: %s\n", cfg.VaultDir)
		if !done {
			fmt.Println("Status: not set up (run 'veilnote setup')")
			return nil
		}
		fmt.Println("Status: set up")
		fmt.Printf("KDF: %s\n", cfg.FormatKDF())

		if cfg.Sync.BaseURL == "" {
			fmt.Println("Sync: disabled")
		} else {
			signedIn := "signed out"
			if cfg.SyncToken != "" {
				signedIn = "signed in"
			}
			fmt.Printf("Sync: %s every %s (%s)\n", cfg.Sync.BaseURL, cfg.Sync.Interval(), signedIn)
		}

		if cfg.Audit.Enabled {
			fmt.Printf("Audit: enabled, %d day retention\n", cfg.Audit.RetentionDays)
		} else {
			fmt.Println("Audit: disabled")
		}

		if _, err := os.Stat(paths.DatabaseFile(profile.Real)); err == nil {
			fmt.Println("Database: present")
		}
		return nil
	},
}
