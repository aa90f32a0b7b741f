package icmp

import (
	"errors"
	"net"
	"syscall"
	"time"

	xicmp "golang.org/x/net/icmp"
	"golang.org/x/sys/unix"
)

// transportIface is the engine's view of the socket layer — satisfied by
// *transport in production and by a fake in tests that exercise the
// engine without opening a real ICMP socket.
type transportIface interface {
	send(addr net.Addr, pkt []byte) error
	recv(buf []byte) (n int, peer net.Addr, isTimeout bool, err error)
	setReadDeadline(d time.Duration) error
	close() error
}

// transport owns the ICMP datagram socket. It never interprets packet
// contents — that is the engine's job.
type transport struct {
	conn   *xicmp.PacketConn
	family Family
}

// openTransportFiltered adapts openTransport to transportIface; it is the
// Pinger's default openTransportFn. The explicit nil return on error
// avoids wrapping a nil *transport in a non-nil transportIface value.
func openTransportFiltered(family Family) (transportIface, error) {
	t, err := openTransport(family)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// openTransport opens a non-privileged ICMP datagram socket
// (SOCK_DGRAM, IPPROTO_ICMP/IPPROTO_ICMPV6) for the given family. The
// datagram variant — "udp4"/"udp6" in golang.org/x/net/icmp's network
// naming — is the portable choice on platforms (Linux with
// net.ipv4.ping_group_range, Darwin) that restrict raw ICMP sockets to
// privileged processes.
func openTransport(family Family) (*transport, error) {
	var network string
	switch family {
	case FamilyV4:
		network = "udp4"
	case FamilyV6:
		network = "udp6"
	default:
		return nil, &ProtocolUnsupportedError{Family: family}
	}

	conn, err := xicmp.ListenPacket(network, "")
	if err != nil {
		if pe, ok := asPosixError("listen", err); ok {
			return nil, pe
		}
		return nil, err
	}
	return &transport{conn: conn, family: family}, nil
}

// send performs one sendto. A short write is treated as a failure, same
// as any other send error.
func (t *transport) send(addr net.Addr, pkt []byte) error {
	n, err := t.conn.WriteTo(pkt, addr)
	if err != nil {
		if pe, ok := asPosixError("sendto", err); ok {
			return pe
		}
		return err
	}
	if n != len(pkt) {
		return &PosixError{Errno: unix.EIO, Op: "sendto (short write)"}
	}
	return nil
}

// recv reads up to 65535 bytes. isTimeout distinguishes a read-deadline
// expiry (not fatal — the caller just loops and re-checks for
// cancellation) from every other read error, which is treated as fatal.
func (t *transport) recv(buf []byte) (n int, peer net.Addr, isTimeout bool, err error) {
	n, peer, err = t.conn.ReadFrom(buf)
	if err == nil {
		return n, peer, false, nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return 0, nil, true, nil
	}
	if pe, ok := asPosixError("recvfrom", err); ok {
		return 0, nil, false, pe
	}
	return 0, nil, false, err
}

// setReadDeadline bounds the next recv so the reader loop can periodically
// check for session cancellation even when no packet ever arrives.
func (t *transport) setReadDeadline(d time.Duration) error {
	return t.conn.SetReadDeadline(time.Now().Add(d))
}

func (t *transport) close() error {
	return t.conn.Close()
}

// asPosixError extracts the syscall errno embedded in a net/os error
// chain, preserving its exact value the way a C caller would see it in
// errno.
func asPosixError(op string, err error) (*PosixError, bool) {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return &PosixError{Errno: unix.Errno(errno), Op: op}, true
	}
	return nil, false
}
