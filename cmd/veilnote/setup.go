package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/veilnote/veilnote/pkg/audit"
	"github.com/veilnote/veilnote/pkg/profile"
	"github.com/veilnote/veilnote/pkg/security"
)

var setupClearDecoy bool

func init() {
	setupCmd.AddCommand(setupDecoyCmd)
	setupDecoyCmd.Flags().BoolVar(&setupClearDecoy, "clear", false, "Remove the decoy PIN")
}

// setupCmd initializes a new vault with a REAL PIN.
var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Initializes the vault with a PIN",
	RunE: func(cmd *cobra.Command, args []string) error {
		done, err := resolver.IsSetup()
		if err != nil {
			return err
		}
		if done {
			return fmt.Errorf("vault is already set up at %s", cfg.VaultDir)
		}

		fmt.Println("Setting up a new vault...")
		pin, err := promptNewPIN("Choose a PIN")
		if err != nil {
			return err
		}

		if err := resolver.SetRealPIN(pin); err != nil {
			return fmt.Errorf("failed to store PIN: %w", err)
		}

		// Open once so the database, keys, and check probe exist before the
		// first real use.
		if _, err := manager.Open(pin, profile.Real); err != nil {
			return fmt.Errorf("failed to initialize vault: %w", err)
		}
		defer manager.Close()

		auditSuccess(audit.OpSetup, string(profile.Real))
		fmt.Printf("Vault initialized at %s\n", cfg.VaultDir)
		return nil
	},
}

// setupDecoyCmd sets or clears the decoy PIN. Requires the real PIN first.
var setupDecoyCmd = &cobra.Command{
	Use:   "decoy",
	Short: "Sets or clears the decoy PIN",
	Long: `Sets a second PIN that opens an isolated decoy vault.

Anything stored under the decoy PIN is invisible from the real vault and
vice versa. Requires the real PIN to change.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		realPIN, err := readSecret("Enter real PIN: ")
		if err != nil {
			return err
		}
		ok, err := resolver.VerifyRealPIN(realPIN)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("invalid PIN")
		}

		if setupClearDecoy {
			if err := resolver.ClearDecoyPIN(); err != nil {
				return fmt.Errorf("failed to clear decoy PIN: %w", err)
			}
			fmt.Println("Decoy PIN removed")
			return nil
		}

		pin, err := promptNewPIN("Choose a decoy PIN")
		if err != nil {
			return err
		}
		// A decoy PIN equal to the real PIN would never resolve to the decoy
		// profile (real wins ties), so reject it outright.
		if same, err := resolver.VerifyRealPIN(pin); err != nil {
			return err
		} else if same {
			return fmt.Errorf("decoy PIN must differ from the real PIN")
		}

		if err := resolver.SetDecoyPIN(pin); err != nil {
			return fmt.Errorf("failed to store decoy PIN: %w", err)
		}

		// Initialize the decoy database so the first decoy unlock is not
		// distinguishable by its setup cost.
		if _, err := manager.Open(pin, profile.Decoy); err != nil {
			return fmt.Errorf("failed to initialize decoy vault: %w", err)
		}
		defer manager.Close()

		auditSuccess(audit.OpSetup, string(profile.Decoy))
		fmt.Println("Decoy PIN set")
		return nil
	},
}

// promptNewPIN reads a PIN twice, shows advisory strength guidance, and
// returns it. Weak PINs are warned about, never rejected.
func promptNewPIN(label string) (string, error) {
	pin1, err := readSecret(label + ": ")
	if err != nil {
		return "", err
	}
	if pin1 == "" {
		return "", fmt.Errorf("PIN must not be empty")
	}
	pin2, err := readSecret("Confirm: ")
	if err != nil {
		return "", err
	}
	if pin1 != pin2 {
		return "", fmt.Errorf("PINs do not match")
	}

	strength, warnings := security.EvaluatePIN(pin1)
	fmt.Printf("PIN strength: %s\n", strength)
	for _, w := range warnings {
		fmt.Printf("Warning: %s\n", w)
	}
	return pin1, nil
}
