package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/veilnote/veilnote/pkg/audit"
	"github.com/veilnote/veilnote/pkg/wipe"
)

var (
	wipeDecoyOnly bool
	wipeForce     bool
)

func init() {
	wipeCmd.Flags().BoolVar(&wipeDecoyOnly, "decoy-only", false, "Destroy only the decoy profile")
	wipeCmd.Flags().BoolVarP(&wipeForce, "force", "f", false, "Skip confirmation prompt")
}

// wipeCmd irreversibly destroys vault state. No PIN required: panic wipe
// must work under duress, when proving knowledge of the PIN is exactly what
// the user needs to avoid.
var wipeCmd = &cobra.Command{
	Use:   "wipe",
	Short: "Irreversibly destroys the vault",
	Long: `Destroys the vault databases, preferences, and sealed secrets.

With --decoy-only, only the decoy profile is destroyed. There is no undo;
without a backup the notes are unrecoverable.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		target := "BOTH profiles"
		if wipeDecoyOnly {
			target = "the decoy profile"
		}

		if !wipeForce {
			fmt.Printf("This will permanently destroy %s. There is no undo.\n", target)
			fmt.Print("Type 'wipe' to confirm: ")
			response, err := readLine()
			if err != nil || response != "wipe" {
				fmt.Println("Aborted")
				return nil
			}
		}

		// Log before destroying: the wipe removes the sealed secret the
		// audit chain is keyed from.
		auditSuccess(audit.OpWipe, "")

		svc := wipe.NewService(manager, paths, secrets)
		var err error
		if wipeDecoyOnly {
			err = svc.WipeDecoyOnly()
		} else {
			err = svc.WipeAll()
		}
		if err != nil {
			return fmt.Errorf("wipe finished with errors: %w", err)
		}
		fmt.Println("Wipe complete")
		return nil
	},
}
