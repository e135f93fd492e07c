//go:build !windows

package transport

import "golang.org/x/sys/unix"

// setSocketOptions sets SO_REUSEADDR and SO_REUSEPORT so multiple
// mDNS-aware processes on the same host can share port 5353, per §4.H.
func setSocketOptions(fd uintptr) error {
	if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return err
	}
	return unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
}
