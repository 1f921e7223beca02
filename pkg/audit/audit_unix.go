//go:build !windows

package audit

import (
	"fmt"
	"path/filepath"
	"syscall"
)

// checkDiskSpace refuses writes when the filesystem is nearly full: a
// partial record would break the chain permanently.
func (l *Logger) checkDiskSpace() error {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(l.path, &stat); err != nil {
		// Directory may not exist yet; fall back to its parent. If that
		// also fails, proceed rather than block the event.
		if err := syscall.Statfs(filepath.Dir(l.path), &stat); err != nil {
			return nil
		}
	}

	available := stat.Bavail * uint64(stat.Bsize)
	if available < MinAuditDiskSpace {
		return fmt.Errorf("audit: insufficient disk space: %d bytes available, need %d",
			available, MinAuditDiskSpace)
	}
	return nil
}
