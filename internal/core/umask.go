package core

import "golang.org/x/sys/unix"

// unixUmask wraps unix.Umask so callers can narrow permissions for a
// critical section and restore the prior mask afterward.
func unixUmask(mask int) int {
	return unix.Umask(mask)
}
