//go:build !unix

package store

// CheckCapacity is a no-op where Statfs is unavailable; write failures are
// still surfaced by the appends themselves.
func (s *Store) CheckCapacity() error {
	return nil
}
