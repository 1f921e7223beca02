package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// auditCmd is the parent command for audit log operations.
var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit log operations",
}

var (
	auditLimit          int
	auditSince          string
	auditPruneOlderThan string
	auditPruneForce     bool
)

func init() {
	auditCmd.AddCommand(auditListCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditPruneCmd)

	auditListCmd.Flags().IntVar(&auditLimit, "limit", 100, "Maximum number of events to show")
	auditListCmd.Flags().StringVar(&auditSince, "since", "", "Show events since duration (e.g. 24h, 7d)")

	auditPruneCmd.Flags().StringVar(&auditPruneOlderThan, "older-than", "", "Delete logs older than duration (default: configured retention)")
	auditPruneCmd.Flags().BoolVarP(&auditPruneForce, "force", "f", false, "Skip confirmation prompt")
}

// auditListCmd lists security events.
var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "Lists audit log events",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := auditKey(); err != nil {
			return fmt.Errorf("failed to key audit log: %w", err)
		}

		var since time.Time
		if auditSince != "" {
			d, err := parseDuration(auditSince)
			if err != nil {
				return fmt.Errorf("invalid since format: %w", err)
			}
			since = time.Now().Add(-d)
		}

		events, err := auditLog.ListEvents(auditLimit, since)
		if err != nil {
			return fmt.Errorf("failed to list audit events: %w", err)
		}
		if len(events) == 0 {
			fmt.Println("No audit events found")
			return nil
		}

		for _, event := range events {
			line := fmt.Sprintf("%s %s %s", event.Timestamp, event.Operation, event.Result)
			if event.Profile != "" {
				line += " profile:" + event.Profile
			}
			if event.Error != nil {
				line += " error:" + event.Error.Code
			}
			fmt.Println(line)
		}
		fmt.Printf("\nTotal: %d events\n", len(events))
		return nil
	},
}

// auditVerifyCmd checks the HMAC chain.
var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verifies audit log chain integrity",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := auditKey(); err != nil {
			return fmt.Errorf("failed to key audit log: %w", err)
		}

		result, err := auditLog.Verify()
		if err != nil {
			return fmt.Errorf("failed to verify audit log: %w", err)
		}
		if result.Valid {
			fmt.Printf("Audit log verified: %d records, chain intact\n", result.RecordsVerified)
			return nil
		}

		fmt.Printf("Audit log verification FAILED (%d records checked)\n", result.RecordsVerified)
		for _, e := range result.Errors {
			fmt.Printf("  - %s\n", e)
		}
		return fmt.Errorf("audit log integrity check failed")
	},
}

// auditPruneCmd deletes log files past the retention window.
var auditPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Deletes audit logs past the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		olderThan := cfg.Retention()
		if auditPruneOlderThan != "" {
			d, err := parseDuration(auditPruneOlderThan)
			if err != nil {
				return fmt.Errorf("invalid older-than format: %w", err)
			}
			olderThan = d
		}

		if !auditPruneForce {
			fmt.Printf("This deletes audit log files older than %s and truncates the verification chain.\n", olderThan)
			if !confirm("Are you sure? [y/N]: ") {
				fmt.Println("Aborted")
				return nil
			}
		}

		deleted, err := auditLog.Prune(olderThan)
		if err != nil {
			return fmt.Errorf("failed to prune audit logs: %w", err)
		}
		fmt.Printf("Deleted %d audit log entries\n", deleted)
		return nil
	},
}
