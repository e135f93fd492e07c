package ifaces

import (
	"net"
	"testing"
)

func TestEnumerate_ExcludesLoopbackAndDown(t *testing.T) {
	for _, iface := range Enumerate() {
		if iface.Flags&net.FlagLoopback != 0 {
			t.Errorf("interface %s: loopback interface should have been excluded", iface.Name)
		}
		if iface.Flags&net.FlagUp == 0 {
			t.Errorf("interface %s: down interface should have been excluded", iface.Name)
		}
	}
}

func TestFirstIPv4Address_NeverPanics(t *testing.T) {
	// On CI/container hosts this may legitimately find nothing; the
	// call must return a clean error rather than panicking.
	_, _ = FirstIPv4Address()
}
