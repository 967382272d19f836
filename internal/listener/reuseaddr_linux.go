//go:build linux

package listener

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// listenConfig returns a net.ListenConfig that sets SO_REUSEADDR on the
// raw socket before bind, so a restarted supervisor does not have to wait
// out TIME_WAIT on a previously-bound loopback port.
func listenConfig() net.ListenConfig {
	return net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}
}
