// Package main provides the veilnote CLI application.
package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/veilnote/veilnote/internal/config"
	"github.com/veilnote/veilnote/pkg/audit"
	"github.com/veilnote/veilnote/pkg/credential"
	"github.com/veilnote/veilnote/pkg/keystore"
	"github.com/veilnote/veilnote/pkg/profile"
	"github.com/veilnote/veilnote/pkg/security"
	"github.com/veilnote/veilnote/pkg/vault"
)

var (
	cfg      *config.Config
	paths    profile.Paths
	secrets  keystore.SealedSecrets
	manager  *vault.Manager
	store    *vault.Store
	resolver *credential.Resolver
	auditLog *audit.Logger
	limiter  = security.NewLimiter()
)

var rootCmd = &cobra.Command{
	Use:   "veilnote",
	Short: "veilnote is a local-first encrypted notes vault",
	Long: `A local-first notes vault with dual-profile plausible deniability.

All note content is encrypted at rest with a key derived from your PIN and a
device-bound sealed secret. An optional decoy PIN opens a second, fully
isolated vault.`,
	SilenceUsage: true,
	// PersistentPreRunE wires the vault components for every subcommand.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		if err := os.MkdirAll(cfg.VaultDir, 0700); err != nil {
			return fmt.Errorf("failed to create vault directory: %w", err)
		}

		paths = profile.Paths{Root: cfg.VaultDir}
		secrets = keystore.NewFileStore(filepath.Join(cfg.VaultDir, "keystore"))
		manager = vault.NewManager(paths, secrets, cfg.Argon2Params())
		store = vault.NewStore(manager)
		if cfg.Sync.BaseURL != "" {
			id, err := deviceID()
			if err != nil {
				return err
			}
			store.EnableSync(id)
		}
		resolver = credential.NewResolver(
			profile.NewStore(paths.PrefsFile(profile.Real)),
			profile.NewStore(paths.PrefsFile(profile.Decoy)),
			cfg.Argon2Params(),
		)
		auditLog = audit.NewLogger(filepath.Join(cfg.VaultDir, "audit"))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(setupCmd)
	rootCmd.AddCommand(noteCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(compactCmd)
	rootCmd.AddCommand(wipeCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(statusCmd)
}

// ensureUnlocked prompts for a PIN, resolves it to a profile, and opens that
// profile's vault. The caller must defer manager.Close(). The resolved
// profile is deliberately never echoed: a decoy unlock must look identical
// to a real one.
func ensureUnlocked() (*vault.Session, error) {
	if ok, wait := limiter.Allow(); !ok {
		return nil, fmt.Errorf("too many failed attempts, retry in %s", wait.Round(time.Second))
	}

	pin, err := readSecret("Enter PIN: ")
	if err != nil {
		return nil, err
	}

	p, ok, err := resolver.Resolve(pin)
	if err != nil {
		return nil, err
	}
	if !ok {
		limiter.RecordFailure()
		auditError(audit.OpUnlockFailed, "", "pin_mismatch", "no profile matched")
		return nil, fmt.Errorf("invalid PIN")
	}

	sess, err := manager.Open(pin, p)
	if err != nil {
		limiter.RecordFailure()
		auditError(audit.OpUnlockFailed, string(p), "open_failed", err.Error())
		return nil, fmt.Errorf("failed to open vault: %w", err)
	}
	limiter.Reset()
	auditSuccess(audit.OpUnlock, string(p))
	return sess, nil
}

// auditKey lazily keys the audit logger from the REAL sealed secret. The
// sealed secret is device-bound, not PIN-derived, so keying the log does not
// require an unlock and the chain stays continuous across both profiles.
func auditKey() error {
	secret, err := secrets.GetOrCreate(paths.SecretAlias(profile.Real))
	if err != nil {
		return err
	}
	return auditLog.SetHMACKey(secret)
}

func auditSuccess(op, profileName string) {
	if !cfg.Audit.Enabled {
		return
	}
	if err := auditKey(); err != nil {
		return
	}
	_ = auditLog.LogSuccess(op, profileName)
}

func auditError(op, profileName, code, message string) {
	if !cfg.Audit.Enabled {
		return
	}
	if err := auditKey(); err != nil {
		return
	}
	_ = auditLog.LogError(op, profileName, code, message)
}

// deviceID returns the stable per-install sync device id, creating it on
// first use.
func deviceID() (string, error) {
	path := filepath.Join(cfg.VaultDir, "device_id")
	data, err := os.ReadFile(path)
	if err == nil {
		return strings.TrimSpace(string(data)), nil
	}
	if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to read device id: %w", err)
	}
	id := uuid.NewString()
	if err := os.WriteFile(path, []byte(id+"\n"), 0600); err != nil {
		return "", fmt.Errorf("failed to write device id: %w", err)
	}
	return id, nil
}

// readSecret reads a line without echo when stdin is a terminal, falling
// back to plain line reads for piped input.
func readSecret(prompt string) (string, error) {
	fmt.Print(prompt)
	if term.IsTerminal(int(syscall.Stdin)) {
		data, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("failed to read input: %w", err)
		}
		return string(data), nil
	}
	return readLine()
}

// readLine reads a single line from stdin, trimming the trailing newline.
func readLine() (string, error) {
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	value := strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(value, "\r"), nil
}

// confirm asks a yes/no question, defaulting to no.
func confirm(prompt string) bool {
	fmt.Print(prompt)
	var response string
	if _, err := fmt.Scanln(&response); err != nil {
		return false
	}
	return response == "y" || response == "Y"
}

// parseDuration parses a duration string like "30d", "12m", "1y", "24h".
func parseDuration(s string) (time.Duration, error) {
	if len(s) < 2 {
		return 0, fmt.Errorf("duration too short: %s", s)
	}

	unit := s[len(s)-1]
	valueStr := s[:len(s)-1]

	var value int
	if _, err := fmt.Sscanf(valueStr, "%d", &value); err != nil {
		return 0, fmt.Errorf("invalid duration value: %s", valueStr)
	}

	switch unit {
	case 'h':
		return time.Duration(value) * time.Hour, nil
	case 'd':
		return time.Duration(value) * 24 * time.Hour, nil
	case 'w':
		return time.Duration(value) * 7 * 24 * time.Hour, nil
	case 'm':
		return time.Duration(value) * 30 * 24 * time.Hour, nil
	case 'y':
		return time.Duration(value) * 365 * 24 * time.Hour, nil
	default:
		// Try standard time.ParseDuration
		return time.ParseDuration(s)
	}
}
