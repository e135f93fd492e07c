//go:build windows

package transport

import "syscall"

// setSocketOptions sets SO_REUSEADDR only: Windows has no SO_REUSEPORT
// equivalent, and SO_REUSEADDR alone is sufficient to let a second
// mDNS-aware process bind the same multicast port.
func setSocketOptions(fd uintptr) error {
	return syscall.SetsockoptInt(syscall.Handle(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
}
