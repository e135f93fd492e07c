// Package transport implements the UDP multicast socket the core mDNS
// engine sends and receives frames through, per §4.H. It is the
// concrete `send`/`onReceive` collaborator named out-of-scope for the
// core: internal/dispatcher only ever sees the FrameSink interface it
// defines and internal/scheduler never sees the transport; neither
// imports this package.
package transport

import (
	"context"
	"net"
)

// Transport abstracts the network operations the core needs: send a
// frame to a destination, block for the next incoming frame, and
// close. UDPv4Transport is the production implementation; tests use a
// simple in-memory fake.
type Transport interface {
	// Send transmits frame to dest (typically the mDNS multicast group,
	// occasionally a unicast QU responder).
	Send(ctx context.Context, frame []byte, dest net.Addr) error

	// Receive blocks for the next incoming frame, returning its source
	// address and the index of the local interface that received it
	// (0 if unknown — RFC 6762 §15's graceful degradation case).
	Receive(ctx context.Context) (frame []byte, src net.Addr, ifIndex int, err error)

	// Close releases the underlying socket.
	Close() error
}
