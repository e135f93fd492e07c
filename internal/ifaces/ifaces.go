// Package ifaces enumerates host network interfaces suitable for mDNS
// multicast, per §4.M. It is explicitly outside the core (state,
// scheduler, dispatcher, cache): the core only ever receives an
// already-resolved IPv4 address.
package ifaces

import "net"

// Enumerate returns every up, multicast-capable, non-loopback
// interface on the host. Interfaces that error while being inspected
// are skipped rather than aborting the whole enumeration.
func Enumerate() []net.Interface {
	all, err := net.Interfaces()
	if err != nil {
		return nil
	}

	var out []net.Interface
	for _, iface := range all {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if iface.Flags&net.FlagMulticast == 0 {
			continue
		}
		out = append(out, iface)
	}
	return out
}

// FirstIPv4 returns the first non-loopback IPv4 address bound to
// iface, used to populate A records with an address valid on the
// interface a query was received from (RFC 6762 §15).
func FirstIPv4(iface net.Interface) (net.IP, bool) {
	addrs, err := iface.Addrs()
	if err != nil {
		return nil, false
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil && !ip4.IsLoopback() {
			return ip4, true
		}
	}
	return nil, false
}

// FirstIPv4Address is a convenience wrapper around Enumerate+FirstIPv4
// that returns the first usable IPv4 address on any eligible
// interface, for callers that just need "an address that works"
// rather than a specific interface. Outside its own test nothing in
// this module calls it.
func FirstIPv4Address() (net.IP, error) {
	for _, iface := range Enumerate() {
		if ip, ok := FirstIPv4(iface); ok {
			return ip, nil
		}
	}
	return nil, errNoUsableInterface
}

var errNoUsableInterface = ifaceError("no usable non-loopback IPv4 interface found")

type ifaceError string

func (e ifaceError) Error() string { return string(e) }
