// Package wipe implements the panic-wipe service: irreversible destruction
// of one or both profiles' persisted state.
package wipe

import (
	"errors"
	"fmt"
	"os"

	"github.com/veilnote/veilnote/pkg/keystore"
	"github.com/veilnote/veilnote/pkg/profile"
	"github.com/veilnote/veilnote/pkg/vault"
)

// Service destroys profile state on demand. Every deletion step is attempted
// independently so one failure never shields the remaining artifacts; the
// errors are aggregated and returned together.
type Service struct {
	manager *vault.Manager
	paths   profile.Paths
	secrets keystore.SealedSecrets

	// stoppers cancel background maintenance (sync runner, schedulers)
	// before files are destroyed.
	stoppers []func()
}

// NewService builds a wipe service over the session manager, vault paths,
// and sealed-secret store.
func NewService(manager *vault.Manager, paths profile.Paths, secrets keystore.SealedSecrets) *Service {
	return &Service{manager: manager, paths: paths, secrets: secrets}
}

// RegisterMaintenance registers a cancel function invoked before any wipe.
func (s *Service) RegisterMaintenance(stop func()) {
	s.stoppers = append(s.stoppers, stop)
}

// WipeAll destroys both profiles' databases, preference namespaces, and
// sealed secrets. The active session (whichever profile) is closed first.
func (s *Service) WipeAll() error {
	return s.wipe(profile.All...)
}

// WipeDecoyOnly destroys only the decoy profile's state.
func (s *Service) WipeDecoyOnly() error {
	return s.wipe(profile.Decoy)
}

func (s *Service) wipe(profiles ...profile.Profile) error {
	// Stop background maintenance and release the database handles before
	// deleting files out from under them.
	for _, stop := range s.stoppers {
		stop()
	}
	s.manager.Close()

	var errs []error
	for _, p := range profiles {
		errs = append(errs, s.wipeProfile(p)...)
	}
	return errors.Join(errs...)
}

// wipeProfile attempts every deletion step for one profile, collecting
// failures instead of aborting on the first.
func (s *Service) wipeProfile(p profile.Profile) []error {
	var errs []error

	targets := append([]string{s.paths.DatabaseFile(p)}, s.paths.DatabaseSidecars(p)...)
	for _, path := range targets {
		if err := removeFile(path); err != nil {
			errs = append(errs, fmt.Errorf("wipe: %s database file: %w", p, err))
		}
	}

	if err := profile.NewStore(s.paths.PrefsFile(p)).Delete(); err != nil {
		errs = append(errs, fmt.Errorf("wipe: %s preferences: %w", p, err))
	}

	// Idempotent: a missing sealed secret is already the desired state.
	if err := s.secrets.Delete(s.paths.SecretAlias(p)); err != nil {
		errs = append(errs, fmt.Errorf("wipe: %s sealed secret: %w", p, err))
	}

	return errs
}

func removeFile(path string) error {
	err := os.Remove(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
