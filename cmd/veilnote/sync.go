package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/veilnote/veilnote/internal/config"
	"github.com/veilnote/veilnote/pkg/audit"
	"github.com/veilnote/veilnote/pkg/sync"
	"github.com/veilnote/veilnote/pkg/vault"
	"github.com/veilnote/veilnote/pkg/wipe"
)

// syncCmd is the parent command for sync operations.
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync operations",
}

func init() {
	syncCmd.AddCommand(syncNowCmd)
	syncCmd.AddCommand(syncRunCmd)
	syncCmd.AddCommand(syncStatusCmd)
	syncCmd.AddCommand(syncConflictsCmd)
}

// buildEngine wires the sync engine from config. The remote panic-wipe
// handler destroys both profiles, same as a local wipe.
func buildEngine(logger *zap.Logger) (*sync.Engine, *sync.Client, error) {
	if cfg.Sync.BaseURL == "" {
		return nil, nil, fmt.Errorf("sync is not configured (set sync.base_url or %s)", config.EnvSyncURL)
	}
	if cfg.SyncToken == "" {
		return nil, nil, fmt.Errorf("not signed in (set %s)", config.EnvSyncToken)
	}
	id, err := deviceID()
	if err != nil {
		return nil, nil, err
	}

	client := sync.NewClient(cfg.Sync.BaseURL)
	engine := sync.NewEngine(client, id, logger)
	engine.SetBatchLimit(cfg.Sync.BatchLimit)
	engine.SetWipeFunc(wipeHandler(logger))
	return engine, client, nil
}

// wipeHandler builds the remote panic-wipe callback. Wipe errors are
// surfaced to the engine so the cycle reports the failure.
func wipeHandler(logger *zap.Logger) sync.WipeFunc {
	return func() error {
		logger.Warn("remote panic wipe received, destroying vault")
		if err := wipe.NewService(manager, paths, secrets).WipeAll(); err != nil {
			logger.Error("remote wipe finished with errors", zap.Error(err))
			return err
		}
		return nil
	}
}

// syncNowCmd runs one push/pull cycle and reports the result.
var syncNowCmd = &cobra.Command{
	Use:   "now",
	Short: "Runs one sync cycle",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, client, err := buildEngine(zap.NewNop())
		if err != nil {
			return err
		}

		sess, err := ensureUnlocked()
		if err != nil {
			return err
		}
		defer manager.Close()

		ctx := cmd.Context()
		id, err := deviceID()
		if err != nil {
			return err
		}
		if err := client.Register(ctx, cfg.SyncToken, id, sess.Profile()); err != nil {
			return fmt.Errorf("device registration failed: %w", err)
		}

		report, err := engine.RunCycle(ctx, sess, cfg.SyncToken)
		if err != nil {
			auditError(audit.OpSyncCycle, string(sess.Profile()), "cycle_failed", err.Error())
			return fmt.Errorf("sync cycle failed: %w", err)
		}
		auditSuccess(audit.OpSyncCycle, string(sess.Profile()))

		fmt.Printf("Pushed: %d accepted, %d rejected\n", report.PushedAccepted, report.PushedRejected)
		fmt.Printf("Pulled: %d applied, %d conflicts\n", report.PulledApplied, report.PulledConflicts)
		if report.Halted {
			fmt.Println("Cycle halted by a remote panic wipe")
		}
		return nil
	},
}

// syncRunCmd keeps the vault open and syncs on an interval until
// interrupted. Reminders fire while it runs.
var syncRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Runs background sync until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := zap.NewProduction()
		if err != nil {
			return err
		}
		defer logger.Sync()

		engine, _, err := buildEngine(logger)
		if err != nil {
			return err
		}

		if _, err := ensureUnlocked(); err != nil {
			return err
		}
		defer manager.Close()

		sched := vault.NewTimerScheduler(func(noteID, repeat string) {
			logger.Info("reminder due", zap.String("note_id", noteID), zap.String("repeat", repeat))
		})
		defer sched.Stop()
		store.SetScheduler(sched)

		runner := sync.NewRunner(engine,
			func() sync.Session {
				if sess := manager.Active(); sess != nil {
					return sess
				}
				return nil
			},
			func() string { return cfg.SyncToken },
			logger)
		runner.SetInterval(cfg.Sync.Interval())

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Printf("Syncing every %s, Ctrl+C to stop\n", cfg.Sync.Interval())
		runner.Run(ctx)
		fmt.Println("Stopped")
		return nil
	},
}

// syncStatusCmd shows the outbox backlog and cursor position.
var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Shows pending operations and the sync cursor",
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := ensureUnlocked()
		if err != nil {
			return err
		}
		defer manager.Close()

		p := string(sess.Profile())
		pending, err := sync.NewOutbox(sess.DB()).Pending(p)
		if err != nil {
			return fmt.Errorf("failed to count pending operations: %w", err)
		}
		cursor, err := sync.NewState(sess.DB()).Cursor(p)
		if err != nil {
			return fmt.Errorf("failed to read cursor: %w", err)
		}

		fmt.Printf("Pending operations: %d\n", pending)
		if cursor == nil {
			fmt.Println("Cursor: (never synced)")
		} else {
			fmt.Printf("Cursor: %s\n", *cursor)
		}
		return nil
	},
}

// syncConflictsCmd lists recorded conflicts, oldest first.
var syncConflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "Lists recorded sync conflicts",
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := ensureUnlocked()
		if err != nil {
			return err
		}
		defer manager.Close()

		conflicts, err := sync.NewState(sess.DB()).Conflicts()
		if err != nil {
			return fmt.Errorf("failed to list conflicts: %w", err)
		}
		if len(conflicts) == 0 {
			fmt.Println("No conflicts")
			return nil
		}
		for _, c := range conflicts {
			remote := "(none)"
			if c.RemoteRevision != nil {
				remote = *c.RemoteRevision
			}
			fmt.Printf("%s  local=%s remote=%s policy=%s at=%s\n",
				c.EntityID, c.LocalRevision, remote, c.Policy,
				time.UnixMilli(c.CreatedAt).Local().Format(time.RFC3339))
		}
		return nil
	},
}
