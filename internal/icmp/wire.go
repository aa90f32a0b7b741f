package icmp

import (
	"encoding/binary"
	"fmt"

	xicmp "golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// ICMP type/code values for echo request/reply, RFC 792 (v4) and RFC 4443
// (v6). Code is always 0 for echo messages of either family.
const (
	typeEchoReplyV4   uint8 = 0
	typeEchoRequestV4 uint8 = 8
	typeEchoRequestV6 uint8 = 128
	typeEchoReplyV6   uint8 = 129

	// protocolICMP and protocolICMPv6 are the IANA protocol numbers
	// icmp.ParseMessage needs to pick the right type table.
	protocolICMP   = 1
	protocolICMPv6 = 58

	// headerLen is the fixed 8-byte ICMP echo header: type, code,
	// checksum, identifier, sequence.
	headerLen = 8

	// DefaultPayloadSize is the payload length that, combined with the
	// 8-byte header, produces the traditional 64-byte ICMP echo message.
	DefaultPayloadSize = 56

	// checksumOffset is the byte offset of the 16-bit checksum field
	// within an ICMP header.
	checksumOffset = 2
)

func echoRequestType(family Family) uint8 {
	if family == FamilyV6 {
		return typeEchoRequestV6
	}
	return typeEchoRequestV4
}

func echoReplyType(family Family) uint8 {
	if family == FamilyV6 {
		return typeEchoReplyV6
	}
	return typeEchoReplyV4
}

// messageType maps one of the four echo type/code constants above to the
// golang.org/x/net/icmp.Type value icmp.Message.Marshal expects for the
// given family.
func messageType(family Family, typ uint8) xicmp.Type {
	if family == FamilyV6 {
		if typ == typeEchoRequestV6 {
			return ipv6.ICMPTypeEchoRequest
		}
		return ipv6.ICMPTypeEchoReply
	}
	if typ == typeEchoRequestV4 {
		return ipv4.ICMPTypeEcho
	}
	return ipv4.ICMPTypeEchoReply
}

// header is the decoded form of an 8-byte ICMP echo header.
type header struct {
	Type       uint8
	Code       uint8
	Checksum   uint16
	Identifier uint16
	Sequence   uint16
}

// buildEcho encodes an ICMP echo request/reply packet via
// golang.org/x/net/icmp, the same marshaling path golang.org/x/net/icmp's
// own consumers use. For family v4, Marshal computes and stores the
// Internet checksum itself; for v6 it leaves the checksum field zero,
// since the kernel fills in the ICMPv6 pseudo-header checksum on send.
func buildEcho(family Family, typ uint8, identifier, sequence uint16, payload []byte) []byte {
	msg := xicmp.Message{
		Type: messageType(family, typ),
		Code: 0,
		Body: &xicmp.Echo{
			ID:   int(identifier),
			Seq:  int(sequence),
			Data: payload,
		},
	}
	b, err := msg.Marshal(nil)
	if err != nil {
		// messageType always pairs an echo type with *icmp.Echo, the one
		// combination Marshal accepts without error.
		panic(fmt.Sprintf("pulsecore: marshal echo message: %v", err))
	}
	return b
}

// defaultPayload returns a printable filler payload of the requested size,
// the convention most ping implementations use for their default echo
// body. Its exact contents are not part of the wire contract.
func defaultPayload(size int) []byte {
	p := make([]byte, size)
	for i := range p {
		p[i] = byte('a' + i%23)
	}
	return p
}

// parseICMP decodes an ICMP echo message via golang.org/x/net/icmp.
// family selects the type table (ICMPv4 vs ICMPv6) ParseMessage uses; a
// message that parses but isn't an echo request/reply is reported as an
// error, same as a too-short buffer.
func parseICMP(family Family, pkt []byte) (header, []byte, error) {
	if len(pkt) < headerLen {
		return header{}, nil, fmt.Errorf("pulsecore: short ICMP packet: %d bytes", len(pkt))
	}
	proto := protocolICMP
	if family == FamilyV6 {
		proto = protocolICMPv6
	}
	msg, err := xicmp.ParseMessage(proto, pkt)
	if err != nil {
		return header{}, nil, fmt.Errorf("pulsecore: parse ICMP message: %w", err)
	}
	echo, ok := msg.Body.(*xicmp.Echo)
	if !ok {
		return header{}, nil, fmt.Errorf("pulsecore: not an echo message: %v", msg.Type)
	}
	h := header{
		Type:       typeValue(msg.Type),
		Code:       uint8(msg.Code),
		Checksum:   binary.BigEndian.Uint16(pkt[checksumOffset:]),
		Identifier: uint16(echo.ID),
		Sequence:   uint16(echo.Seq),
	}
	return h, echo.Data, nil
}

// typeValue extracts the numeric ICMP type from the concrete
// ipv4.ICMPType/ipv6.ICMPType golang.org/x/net/icmp reports.
func typeValue(t xicmp.Type) uint8 {
	switch v := t.(type) {
	case ipv4.ICMPType:
		return uint8(v)
	case ipv6.ICMPType:
		return uint8(v)
	default:
		return 0
	}
}

// internetChecksum computes the RFC 1071 16-bit one's-complement checksum
// over b, treating the two bytes at checksumOffset as zero regardless of
// their actual value in b. Passing an offset outside [0, len(b)) computes
// the checksum over the buffer unmodified.
//
// golang.org/x/net/icmp computes this same checksum on encode, but only
// for a packet it built itself with the field already zeroed; validating
// a *received* packet needs the field's real bytes skipped rather than
// assumed zero, which icmp.ParseMessage does not do, so this stays
// hand-rolled.
//
// The algorithm: sum 16-bit big-endian words (padding an odd trailing byte
// with a zero low byte), fold carries back into the low 16 bits until none
// remain, then return the one's complement.
func internetChecksum(b []byte, checksumOffset int) uint16 {
	var sum uint32
	n := len(b)
	for i := 0; i+1 < n; i += 2 {
		if i == checksumOffset {
			continue
		}
		sum += uint32(b[i])<<8 | uint32(b[i+1])
	}
	if n%2 != 0 && n-1 != checksumOffset {
		sum += uint32(b[n-1]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}

// icmpOffsetInV4 returns the byte offset of the ICMP message within a v4
// datagram the kernel has handed up (IPv4 header length is IHL*4 bytes),
// or ok=false when packet is too short or isn't an IPv4/ICMP datagram.
// golang.org/x/net/icmp has no equivalent — it parses an ICMP message
// that has already been located, not the IPv4 envelope around it.
func icmpOffsetInV4(packet []byte) (offset int, ok bool) {
	const minV4Header = 20
	if len(packet) < minV4Header+headerLen {
		return 0, false
	}
	version := packet[0] >> 4
	protocol := packet[9]
	if version != 4 || protocol != 1 {
		return 0, false
	}
	ihl := int(packet[0]&0x0f) * 4
	if len(packet) < ihl+headerLen {
		return 0, false
	}
	return ihl, true
}
