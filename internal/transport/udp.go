package transport

import (
	"context"
	"fmt"
	"net"
	"os"
	"syscall"

	"golang.org/x/net/ipv4"

	"github.com/beacondns/mdns/internal/ifaces"
	"github.com/beacondns/mdns/internal/protocol"
	"github.com/beacondns/mdns/internal/werrors"
)

// UDPv4Transport is the production Transport: a UDP socket bound to
// 0.0.0.0:5353 with SO_REUSEADDR/SO_REUSEPORT set before bind (so a
// second mDNS-aware process can coexist), wrapped in
// golang.org/x/net/ipv4.PacketConn for per-interface multicast group
// membership and IP_PKTINFO-derived interface indices on receive
// (RFC 6762 §15).
type UDPv4Transport struct {
	conn     *net.UDPConn
	ipv4Conn *ipv4.PacketConn
}

// NewUDPv4Transport binds the mDNS multicast socket and joins the
// group on every interface ifaces.Enumerate returns (or on the
// system default if that list is empty).
func NewUDPv4Transport() (*UDPv4Transport, error) {
	fd, err := syscall.Socket(syscall.AF_INET, syscall.SOCK_DGRAM, syscall.IPPROTO_UDP)
	if err != nil {
		return nil, &werrors.NetworkError{Op: "create socket", Err: err}
	}

	if err := setSocketOptions(uintptr(fd)); err != nil {
		_ = syscall.Close(fd)
		return nil, &werrors.NetworkError{Op: "set socket options", Err: err}
	}

	addr := syscall.SockaddrInet4{Port: protocol.Port}
	if err := syscall.Bind(fd, &addr); err != nil {
		_ = syscall.Close(fd)
		return nil, &werrors.NetworkError{Op: "bind socket", Err: err}
	}

	file := os.NewFile(uintptr(fd), "mdns-multicast")
	packetConn, err := net.FilePacketConn(file)
	_ = file.Close() // FilePacketConn dups the descriptor; the dup we made above is now redundant.
	if err != nil {
		return nil, &werrors.NetworkError{Op: "wrap socket", Err: err}
	}
	udpConn := packetConn.(*net.UDPConn)

	if err := udpConn.SetReadBuffer(65536); err != nil {
		_ = udpConn.Close()
		return nil, &werrors.NetworkError{Op: "configure socket", Err: err}
	}

	ipv4Conn := ipv4.NewPacketConn(udpConn)
	if err := ipv4Conn.SetControlMessage(ipv4.FlagInterface, true); err != nil {
		// Best-effort: some platforms (notably Windows) do not support
		// per-packet interface control messages. Receive degrades to
		// ifIndex=0 in that case.
		_ = err
	}
	_ = ipv4Conn.SetMulticastTTL(255)

	group := &net.UDPAddr{IP: net.ParseIP(protocol.MulticastAddrIPv4)}
	joined := 0
	for _, iface := range ifaces.Enumerate() {
		if err := ipv4Conn.JoinGroup(&iface, group); err == nil {
			joined++
		}
	}
	if joined == 0 {
		if err := ipv4Conn.JoinGroup(nil, group); err != nil {
			_ = udpConn.Close()
			return nil, &werrors.NetworkError{Op: "join multicast group", Err: err}
		}
	}

	return &UDPv4Transport{conn: udpConn, ipv4Conn: ipv4Conn}, nil
}

// Send transmits frame to dest, per §6's wire protocol (UDP, IP TTL
// 255 already configured on the socket).
func (t *UDPv4Transport) Send(ctx context.Context, frame []byte, dest net.Addr) error {
	select {
	case <-ctx.Done():
		return &werrors.NetworkError{Op: "send", Err: ctx.Err()}
	default:
	}

	n, err := t.conn.WriteTo(frame, dest)
	if err != nil {
		return &werrors.NetworkError{Op: "send", Err: err}
	}
	if n != len(frame) {
		return &werrors.NetworkError{Op: "send", Err: fmt.Errorf("short write: %d/%d bytes", n, len(frame))}
	}
	return nil
}

// Receive blocks for the next datagram, propagating ctx's deadline
// onto the socket's read deadline.
func (t *UDPv4Transport) Receive(ctx context.Context) ([]byte, net.Addr, int, error) {
	select {
	case <-ctx.Done():
		return nil, nil, 0, &werrors.NetworkError{Op: "receive", Err: ctx.Err()}
	default:
	}

	if deadline, ok := ctx.Deadline(); ok {
		if err := t.conn.SetReadDeadline(deadline); err != nil {
			return nil, nil, 0, &werrors.NetworkError{Op: "receive", Err: err}
		}
	}

	bufPtr := getBuffer()
	defer putBuffer(bufPtr)
	buf := *bufPtr

	n, cm, src, err := t.ipv4Conn.ReadFrom(buf)
	if err != nil {
		return nil, nil, 0, &werrors.NetworkError{Op: "receive", Err: err}
	}

	ifIndex := 0
	if cm != nil {
		ifIndex = cm.IfIndex
	}

	frame := make([]byte, n)
	copy(frame, buf[:n])
	return frame, src, ifIndex, nil
}

// Close releases the socket.
func (t *UDPv4Transport) Close() error {
	if t.conn == nil {
		return nil
	}
	if err := t.conn.Close(); err != nil {
		return &werrors.NetworkError{Op: "close", Err: err}
	}
	return nil
}
