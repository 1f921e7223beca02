// Package backup provides encrypted export and import of vault notes.
package backup

import "errors"

var (
	// ErrUnsupportedVersion indicates the export format version is newer
	// than this build understands.
	ErrUnsupportedVersion = errors.New("backup: unsupported export format version")

	// ErrUnsupportedKind indicates the export carries something other than
	// vault notes.
	ErrUnsupportedKind = errors.New("backup: unsupported export kind")

	// ErrInvalidExport indicates the export file is not a veilnote export.
	ErrInvalidExport = errors.New("backup: invalid export file")

	// ErrInvalidKeyFile indicates the key file is missing or wrongly sized.
	ErrInvalidKeyFile = errors.New("backup: invalid key file: must be exactly 32 bytes")

	// ErrEmptyPassword indicates an empty export password.
	ErrEmptyPassword = errors.New("backup: password cannot be empty")

	// ErrWrongPassword indicates a password-sealed export that failed to
	// open. Wrong password and corrupted payload are indistinguishable.
	ErrWrongPassword = errors.New("backup: wrong password")
)
