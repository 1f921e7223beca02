package main

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/veilnote/veilnote/internal/config"
	"github.com/veilnote/veilnote/pkg/crypto"
	"github.com/veilnote/veilnote/pkg/media"
	"github.com/veilnote/veilnote/pkg/vault"
)

var fetchOutput string

func init() {
	noteFetchCmd.Flags().StringVarP(&fetchOutput, "output", "o", "", "Output file path (default: attachment name)")
}

// mediaClient builds the attachment transfer client from the sync config.
func mediaClient() (*media.Client, string, error) {
	if cfg.Sync.BaseURL == "" {
		return nil, "", fmt.Errorf("attachments need a sync service (set sync.base_url or %s)", config.EnvSyncURL)
	}
	if cfg.SyncToken == "" {
		return nil, "", fmt.Errorf("not signed in (set %s)", config.EnvSyncToken)
	}
	return media.NewClient(cfg.Sync.BaseURL), cfg.SyncToken, nil
}

// noteAttachCmd seals a file under the note key and uploads it, recording
// the attachment metadata on the note. The service only ever sees
// ciphertext.
var noteAttachCmd = &cobra.Command{
	Use:   "attach [id] [file]",
	Short: "Attaches an encrypted file to a note",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, token, err := mediaClient()
		if err != nil {
			return err
		}

		sess, err := ensureUnlocked()
		if err != nil {
			return err
		}
		defer manager.Close()

		note, err := store.Get(args[0])
		if err != nil {
			return fmt.Errorf("failed to get note: %w", err)
		}

		data, err := os.ReadFile(args[1])
		if err != nil {
			return fmt.Errorf("failed to read file: %w", err)
		}
		defer crypto.SecureWipe(data)
		if int64(len(data)) > media.MaxAttachmentBytes {
			return fmt.Errorf("file exceeds the %d byte attachment limit", media.MaxAttachmentBytes)
		}

		sealed, err := crypto.Encrypt(sess.NoteKey(), data)
		if err != nil {
			return err
		}

		mimeType := mime.TypeByExtension(filepath.Ext(args[1]))
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}

		ctx := cmd.Context()
		slot, err := client.RequestUpload(ctx, token, mimeType, int64(len(sealed)))
		if err != nil {
			return fmt.Errorf("failed to request upload: %w", err)
		}
		if err := client.Upload(ctx, slot, sealed); err != nil {
			return fmt.Errorf("upload failed: %w", err)
		}

		note.Payload.Attachments = append(note.Payload.Attachments, vault.Attachment{
			ID:        slot.ID,
			Name:      filepath.Base(args[1]),
			MimeType:  mimeType,
			ByteCount: int64(len(data)),
		})
		if err := store.Update(args[0], note.Payload); err != nil {
			return fmt.Errorf("failed to record attachment: %w", err)
		}
		fmt.Printf("Attached %s as %s\n", filepath.Base(args[1]), slot.ID)
		return nil
	},
}

// noteFetchCmd downloads an attachment and decrypts it with the note key.
var noteFetchCmd = &cobra.Command{
	Use:   "fetch [id] [attachment-id]",
	Short: "Downloads and decrypts a note attachment",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, token, err := mediaClient()
		if err != nil {
			return err
		}

		sess, err := ensureUnlocked()
		if err != nil {
			return err
		}
		defer manager.Close()

		note, err := store.Get(args[0])
		if err != nil {
			return fmt.Errorf("failed to get note: %w", err)
		}
		var att *vault.Attachment
		for i := range note.Payload.Attachments {
			if note.Payload.Attachments[i].ID == args[1] {
				att = &note.Payload.Attachments[i]
				break
			}
		}
		if att == nil {
			return fmt.Errorf("note has no attachment %s", args[1])
		}

		sealed, err := client.Download(cmd.Context(), token, att.ID)
		if err != nil {
			return fmt.Errorf("download failed: %w", err)
		}
		data, err := crypto.Decrypt(sess.NoteKey(), sealed)
		if err != nil {
			return err
		}
		defer crypto.SecureWipe(data)

		out := fetchOutput
		if out == "" {
			out = att.Name
		}
		if err := os.WriteFile(out, data, 0600); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
		fmt.Printf("Wrote %s (%d bytes)\n", out, len(data))
		return nil
	},
}
