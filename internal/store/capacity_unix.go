//go:build unix

package store

import (
	"path/filepath"

	"golang.org/x/sys/unix"
)

// minFreeBytes is the free-space floor below which writes are refused before
// SQLite starts failing mid-transaction.
const minFreeBytes = 16 << 20 // 16 MiB

// CheckCapacity verifies the filesystem holding the database still has room
// to write. Exhaustion is reported as ErrStorage so the supervisor halts the
// writers while reads of existing data remain possible.
func (s *Store) CheckCapacity() error {
	var st unix.Statfs_t
	if err := unix.Statfs(filepath.Dir(s.path), &st); err != nil {
		return storageErr("statfs", err)
	}

	free := uint64(st.Bavail) * uint64(st.Bsize)
	if free < minFreeBytes {
		return storageErr("check capacity", errDiskFull)
	}
	return nil
}
