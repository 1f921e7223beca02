package vault

import "errors"

// Errors
var (
	// ErrVaultLocked indicates an operation was attempted with no open
	// session. Recoverable: the caller prompts for an unlock.
	ErrVaultLocked = errors.New("vault: vault is locked")

	// ErrNotFound indicates a mutation referenced a note id that is missing
	// or already soft-deleted. Expected under races with delete; callers
	// treat it as a failed update, not a crash.
	ErrNotFound = errors.New("vault: note not found")

	// ErrProfileInvalid indicates an unknown profile was requested.
	ErrProfileInvalid = errors.New("vault: invalid profile")
)
