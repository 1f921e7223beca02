package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/veilnote/veilnote/internal/cli"
	"github.com/veilnote/veilnote/pkg/audit"
	"github.com/veilnote/veilnote/pkg/crypto"
	"github.com/veilnote/veilnote/pkg/vault"
)

// noteCmd is the parent command for note operations.
var noteCmd = &cobra.Command{
	Use:   "note",
	Short: "Note operations",
}

// note add flags
var (
	addText      string
	addLabels    []string
	addChecklist []string
	addPinned    bool
	addExpires   string
	addReadOnce  bool
	addRemindAt  string
	addRepeat    string
)

// note list flags
var (
	listLabels     []string
	listArchived   bool
	listTrashed    bool
	listShowLabels bool
)

// note edit flags
var (
	editText   string
	editLabels []string
)

// note remind flags
var (
	remindAt     string
	remindIn     string
	remindRepeat string
	remindDone   bool
	remindClear  bool
)

// note revisions flags
var revisionsKeep int

func init() {
	noteCmd.AddCommand(noteAddCmd)
	noteCmd.AddCommand(noteShowCmd)
	noteCmd.AddCommand(noteListCmd)
	noteCmd.AddCommand(noteEditCmd)
	noteCmd.AddCommand(noteRmCmd)
	noteCmd.AddCommand(noteArchiveCmd)
	noteCmd.AddCommand(noteUnarchiveCmd)
	noteCmd.AddCommand(noteTrashCmd)
	noteCmd.AddCommand(noteRestoreCmd)
	noteCmd.AddCommand(noteRemindCmd)
	noteCmd.AddCommand(noteRevisionsCmd)
	noteCmd.AddCommand(noteAttachCmd)
	noteCmd.AddCommand(noteFetchCmd)

	noteAddCmd.Flags().StringVarP(&addText, "text", "t", "", "Note text (reads stdin when omitted)")
	noteAddCmd.Flags().StringArrayVarP(&addLabels, "label", "l", nil, "Attach a label (can be repeated)")
	noteAddCmd.Flags().StringArrayVar(&addChecklist, "check", nil, "Add a checklist item (can be repeated)")
	noteAddCmd.Flags().BoolVar(&addPinned, "pinned", false, "Pin the note")
	noteAddCmd.Flags().StringVar(&addExpires, "expires", "", "Self-destruct after duration (e.g. 7d, 24h)")
	noteAddCmd.Flags().BoolVar(&addReadOnce, "read-once", false, "Destroy the note after its first read")
	noteAddCmd.Flags().StringVar(&addRemindAt, "remind", "", "Reminder time (RFC 3339 or '2006-01-02 15:04')")
	noteAddCmd.Flags().StringVar(&addRepeat, "repeat", "", "Reminder repeat rule (daily, weekly, monthly)")

	noteListCmd.Flags().StringArrayVarP(&listLabels, "label", "l", nil, "Filter by label glob (can be repeated)")
	noteListCmd.Flags().BoolVar(&listArchived, "archived", false, "Show archived notes")
	noteListCmd.Flags().BoolVar(&listTrashed, "trashed", false, "Show trashed notes")
	noteListCmd.Flags().BoolVar(&listShowLabels, "labels", false, "List distinct labels instead of notes")

	noteEditCmd.Flags().StringVarP(&editText, "text", "t", "", "New note text (reads stdin when omitted)")
	noteEditCmd.Flags().StringArrayVarP(&editLabels, "label", "l", nil, "Replace the label set (can be repeated)")

	noteRemindCmd.Flags().StringVar(&remindAt, "at", "", "Reminder time (RFC 3339 or '2006-01-02 15:04')")
	noteRemindCmd.Flags().StringVar(&remindIn, "in", "", "Reminder delay (e.g. 2h, 3d)")
	noteRemindCmd.Flags().StringVar(&remindRepeat, "repeat", "", "Repeat rule (daily, weekly, monthly)")
	noteRemindCmd.Flags().BoolVar(&remindDone, "done", false, "Mark the reminder done")
	noteRemindCmd.Flags().BoolVar(&remindClear, "clear", false, "Clear the reminder")

	noteRevisionsCmd.Flags().IntVar(&revisionsKeep, "keep", 0, "Prune to the N most recent revisions")
}

var noteAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Adds an encrypted note",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := ensureUnlocked(); err != nil {
			return err
		}
		defer manager.Close()

		text := addText
		if text == "" && len(addChecklist) == 0 {
			fmt.Print("Enter note text (Ctrl+D to finish): ")
			data, err := io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("failed to read note text: %w", err)
			}
			text = strings.TrimSuffix(string(data), "\n")
		}

		payload := &vault.Payload{
			Text:   text,
			Labels: addLabels,
			Pinned: addPinned,
		}
		for _, item := range addChecklist {
			payload.Checklist = append(payload.Checklist, vault.ChecklistItem{
				ID:   uuid.NewString(),
				Text: item,
			})
		}

		var opts vault.SaveOptions
		opts.ReadOnce = addReadOnce
		if addExpires != "" {
			d, err := parseDuration(addExpires)
			if err != nil {
				return fmt.Errorf("invalid expires format: %w", err)
			}
			at := time.Now().Add(d)
			opts.ExpiresAt = &at
		}
		if addRemindAt != "" {
			at, err := parseTime(addRemindAt)
			if err != nil {
				return fmt.Errorf("invalid remind format: %w", err)
			}
			opts.ReminderAt = &at
			opts.ReminderRepeat = addRepeat
		}

		id, err := store.Save(payload, opts)
		if err != nil {
			return fmt.Errorf("failed to save note: %w", err)
		}
		fmt.Println(id)
		return nil
	},
}

var noteShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Decrypts and prints a note",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := ensureUnlocked(); err != nil {
			return err
		}
		defer manager.Close()

		note, err := store.Get(args[0])
		if err != nil {
			return fmt.Errorf("failed to get note: %w", err)
		}
		printNote(note)
		if note.ReadOnce {
			fmt.Fprintln(os.Stderr, "\nThis note was read-once and has been destroyed.")
		}
		return nil
	},
}

var noteListCmd = &cobra.Command{
	Use:   "list",
	Short: "Lists notes",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := ensureUnlocked(); err != nil {
			return err
		}
		defer manager.Close()

		view := vault.ViewActive
		if listArchived {
			view = vault.ViewArchived
		}
		if listTrashed {
			view = vault.ViewTrashed
		}

		notes, err := store.List(view)
		if err != nil {
			return fmt.Errorf("failed to list notes: %w", err)
		}
		notes, err = cli.FilterByLabels(notes, listLabels)
		if err != nil {
			return err
		}

		if listShowLabels {
			for _, label := range cli.CollectLabels(notes) {
				fmt.Println(label)
			}
			return nil
		}

		if len(notes) == 0 {
			fmt.Println("No notes")
			return nil
		}
		for _, note := range notes {
			fmt.Println(summaryLine(note))
		}
		return nil
	},
}

var noteEditCmd = &cobra.Command{
	Use:   "edit [id]",
	Short: "Replaces a note's text",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := ensureUnlocked(); err != nil {
			return err
		}
		defer manager.Close()

		note, err := store.Get(args[0])
		if err != nil {
			return fmt.Errorf("failed to get note: %w", err)
		}

		text := editText
		if text == "" {
			fmt.Print("Enter new text (Ctrl+D to finish): ")
			data, err := io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("failed to read note text: %w", err)
			}
			text = strings.TrimSuffix(string(data), "\n")
		}

		payload := note.Payload
		payload.Text = text
		if editLabels != nil {
			payload.Labels = editLabels
		}
		if err := store.Update(args[0], payload); err != nil {
			return fmt.Errorf("failed to update note: %w", err)
		}
		fmt.Println("Note updated")
		return nil
	},
}

var noteRmCmd = &cobra.Command{
	Use:   "rm [id]",
	Short: "Deletes a note (zeroes its ciphertext)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := ensureUnlocked(); err != nil {
			return err
		}
		defer manager.Close()

		if err := store.Delete(args[0]); err != nil {
			return fmt.Errorf("failed to delete note: %w", err)
		}
		fmt.Println("Note deleted")
		return nil
	},
}

var noteArchiveCmd = &cobra.Command{
	Use:   "archive [id]",
	Short: "Archives a note",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setFlag(args[0], "archive", true) },
}

var noteUnarchiveCmd = &cobra.Command{
	Use:   "unarchive [id]",
	Short: "Moves an archived note back to the active view",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setFlag(args[0], "archive", false) },
}

var noteTrashCmd = &cobra.Command{
	Use:   "trash [id]",
	Short: "Moves a note to the trash",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setFlag(args[0], "trash", true) },
}

var noteRestoreCmd = &cobra.Command{
	Use:   "restore [id]",
	Short: "Restores a note from the trash",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setFlag(args[0], "trash", false) },
}

func setFlag(id, kind string, on bool) error {
	if _, err := ensureUnlocked(); err != nil {
		return err
	}
	defer manager.Close()

	var err error
	if kind == "archive" {
		err = store.SetArchived(id, on)
	} else {
		err = store.SetTrashed(id, on)
	}
	if err != nil {
		return fmt.Errorf("failed to update note: %w", err)
	}
	fmt.Println("Note updated")
	return nil
}

var noteRemindCmd = &cobra.Command{
	Use:   "remind [id]",
	Short: "Sets, completes, or clears a note's reminder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := ensureUnlocked(); err != nil {
			return err
		}
		defer manager.Close()

		if remindClear {
			if err := store.SetReminder(args[0], nil, false, ""); err != nil {
				return fmt.Errorf("failed to clear reminder: %w", err)
			}
			fmt.Println("Reminder cleared")
			return nil
		}

		var at *time.Time
		switch {
		case remindAt != "":
			t, err := parseTime(remindAt)
			if err != nil {
				return fmt.Errorf("invalid --at format: %w", err)
			}
			at = &t
		case remindIn != "":
			d, err := parseDuration(remindIn)
			if err != nil {
				return fmt.Errorf("invalid --in format: %w", err)
			}
			t := time.Now().Add(d)
			at = &t
		case !remindDone:
			return fmt.Errorf("one of --at, --in, --done, --clear is required")
		}

		if at == nil {
			// Marking done without a new time: keep the stored time.
			note, err := store.Get(args[0])
			if err != nil {
				return fmt.Errorf("failed to get note: %w", err)
			}
			at = note.ReminderAt
			remindRepeat = note.ReminderRepeat
		}

		if err := store.SetReminder(args[0], at, remindDone, remindRepeat); err != nil {
			return fmt.Errorf("failed to set reminder: %w", err)
		}
		fmt.Println("Reminder updated")
		return nil
	},
}

var noteRevisionsCmd = &cobra.Command{
	Use:   "revisions [id]",
	Short: "Lists a note's edit history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := ensureUnlocked()
		if err != nil {
			return err
		}
		defer manager.Close()

		if revisionsKeep > 0 {
			if err := store.PruneRevisions(args[0], revisionsKeep); err != nil {
				return fmt.Errorf("failed to prune revisions: %w", err)
			}
		}

		snapshots, err := store.Revisions(args[0])
		if err != nil {
			return fmt.Errorf("failed to list revisions: %w", err)
		}
		if len(snapshots) == 0 {
			fmt.Println("No revisions")
			return nil
		}

		for i, ct := range snapshots {
			plaintext, err := crypto.Decrypt(sess.NoteKey(), ct)
			if err != nil {
				return fmt.Errorf("failed to decrypt revision: %w", err)
			}
			payload, err := vault.DecodePayload(plaintext)
			text := ""
			if err != nil {
				text = string(plaintext)
			} else {
				text = payload.Text
			}
			fmt.Printf("%d: %s\n", i+1, firstLine(text))
		}
		return nil
	},
}

// printNote renders a full note to stdout.
func printNote(note *vault.Note) {
	fmt.Println(note.Payload.Text)
	for _, item := range note.Payload.Checklist {
		mark := " "
		if item.Checked {
			mark = "x"
		}
		fmt.Printf("[%s] %s\n", mark, item.Text)
	}
	for _, a := range note.Payload.Attachments {
		fmt.Printf("(attachment: %s %s %d bytes)\n", a.ID, a.Name, a.ByteCount)
	}
	if len(note.Payload.Labels) > 0 {
		fmt.Printf("\nLabels: %s\n", strings.Join(note.Payload.Labels, ", "))
	}
	fmt.Printf("Created: %s\n", note.CreatedAt.Local().Format(time.RFC3339))
	fmt.Printf("Updated: %s\n", note.UpdatedAt.Local().Format(time.RFC3339))
	if note.ExpiresAt != nil {
		fmt.Printf("Expires: %s\n", note.ExpiresAt.Local().Format(time.RFC3339))
	}
	if note.ReminderAt != nil {
		status := ""
		if note.ReminderDone {
			status = " (done)"
		}
		fmt.Printf("Reminder: %s%s", note.ReminderAt.Local().Format(time.RFC3339), status)
		if note.ReminderRepeat != "" {
			fmt.Printf(" repeats %s", note.ReminderRepeat)
		}
		fmt.Println()
	}
	if note.Legacy {
		fmt.Println("(legacy plain-text note)")
	}
}

// summaryLine renders one note list row.
func summaryLine(note *vault.Note) string {
	line := fmt.Sprintf("%s  %s  %s",
		note.ID, note.UpdatedAt.Local().Format("2006-01-02 15:04"), firstLine(note.Payload.Text))
	if note.Payload.Pinned {
		line = "* " + line
	} else {
		line = "  " + line
	}
	if len(note.Payload.Labels) > 0 {
		line += fmt.Sprintf(" [%s]", strings.Join(note.Payload.Labels, ","))
	}
	return line
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 60 {
		s = s[:57] + "..."
	}
	return s
}

// parseTime accepts RFC 3339 or the short local "2006-01-02 15:04" form.
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02 15:04", s, time.Local)
}

// sweepCmd destroys expired notes and purges tombstones.
var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Destroys expired notes and purges deleted ones",
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := ensureUnlocked()
		if err != nil {
			return err
		}
		defer manager.Close()

		if err := store.ExpirySweep(); err != nil {
			return fmt.Errorf("sweep failed: %w", err)
		}
		auditSuccess(audit.OpSweep, string(sess.Profile()))
		fmt.Println("Sweep complete")
		return nil
	},
}

// compactCmd reclaims database file space.
var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Reclaims database space freed by purged notes",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := ensureUnlocked(); err != nil {
			return err
		}
		defer manager.Close()

		if err := store.Compact(); err != nil {
			return fmt.Errorf("compact failed: %w", err)
		}
		fmt.Println("Compact complete")
		return nil
	},
}
