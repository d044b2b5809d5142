// Package transport provides the Unix-domain socket plumbing shared by
// the tund client and daemon: binding/connecting, refusing to start a
// second daemon, and enabling SO_LINGER so the final frame before a
// close is not truncated.
package transport

import (
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"go.tund.dev/tund/internal/protocol"
)

// lingerTimeout matches the original daemon's 2-second SO_LINGER window.
const lingerTimeout = 2 * time.Second

// Dial connects to the daemon socket at path and enables linger-on-close.
func Dial(path string) (*net.UnixConn, error) {
	conn, err := net.DialTimeout("unix", path, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w: %w", path, protocol.ErrTransport, err)
	}
	uc := conn.(*net.UnixConn)
	if err := ApplyLinger(uc); err != nil {
		uc.Close()
		return nil, fmt.Errorf("transport: apply linger: %w: %w", protocol.ErrTransport, err)
	}
	return uc, nil
}

// Listen binds the daemon socket at path. If a daemon is already
// listening there, it refuses to start. A stale socket file (one nothing
// answers on) is removed and rebound.
func Listen(path string) (*net.UnixListener, error) {
	if conn, err := net.DialTimeout("unix", path, time.Second); err == nil {
		conn.Close()
		return nil, fmt.Errorf("transport: refusing to start: a daemon is already listening on %s: %w", path, protocol.ErrResource)
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("transport: remove stale socket: %w: %w", protocol.ErrResource, err)
	}

	addr, err := net.ResolveUnixAddr("unix", path)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve socket address: %w: %w", protocol.ErrResource, err)
	}

	ln, err := net.ListenUnix("unix", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen on %s: %w: %w", path, protocol.ErrResource, err)
	}
	return ln, nil
}

// ApplyLinger sets SO_LINGER with a small positive timeout so that bytes
// written just before Close are flushed to the peer rather than dropped
// by an RST.
func ApplyLinger(conn *net.UnixConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}

	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptLinger(int(fd), unix.SOL_SOCKET, unix.SO_LINGER, &unix.Linger{
			Onoff:  1,
			Linger: int32(lingerTimeout / time.Second),
		})
	})
	if err != nil {
		return err
	}
	return sockErr
}
