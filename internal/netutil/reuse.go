// Package netutil holds small socket-option helpers shared by every UDP
// listener in this module.
package netutil

import (
	"context"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// ListenConfig returns a net.ListenConfig whose Control callback sets
// SO_REUSEADDR (and, where available, SO_REUSEPORT) before bind, so this
// process can coexist with another DJ Link participant already bound to
// the same port (rekordbox running locally, most notably).
func ListenConfig() net.ListenConfig {
	return net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var setErr error
			err := c.Control(func(fd uintptr) {
				_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
				if setErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); setErr != nil {
					// Not every platform supports SO_REUSEPORT; SO_REUSEADDR
					// alone is still enough to bind after a previous owner,
					// just not to share the socket concurrently.
					setErr = nil
				}
			})
			if err != nil {
				return err
			}
			return setErr
		},
	}
}

// ListenUDP opens a UDP listener with SO_REUSEADDR/SO_REUSEPORT set.
func ListenUDP(ctx context.Context, addr *net.UDPAddr) (*net.UDPConn, error) {
	lc := ListenConfig()
	pc, err := lc.ListenPacket(ctx, "udp4", addr.String())
	if err != nil {
		return nil, err
	}
	return pc.(*net.UDPConn), nil
}
