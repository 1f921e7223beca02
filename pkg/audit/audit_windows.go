//go:build windows

package audit

// checkDiskSpace is a no-op on Windows; writes proceed without a free-space
// check.
func (l *Logger) checkDiskSpace() error {
	return nil
}
