package icmp

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	xicmp "golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

func TestBuildEchoRoundTrip(t *testing.T) {
	payload := []byte("ABCDEFGH")
	pkt := buildEcho(FamilyV4, typeEchoRequestV4, 0x1234, 0x0001, payload)

	require.Len(t, pkt, headerLen+len(payload))
	assert.Equal(t, uint8(8), pkt[0], "type")
	assert.Equal(t, uint8(0), pkt[1], "code")
	assert.Equal(t, uint16(0x1234), binary.BigEndian.Uint16(pkt[4:]), "identifier")
	assert.Equal(t, uint16(0x0001), binary.BigEndian.Uint16(pkt[6:]), "sequence")

	h, body, err := parseICMP(FamilyV4, pkt)
	require.NoError(t, err)
	assert.Equal(t, uint8(8), h.Type)
	assert.Equal(t, uint8(0), h.Code)
	assert.Equal(t, uint16(0x1234), h.Identifier)
	assert.Equal(t, uint16(0x0001), h.Sequence)
	assert.Equal(t, payload, body)
}

func TestBuildEchoChecksumProperty(t *testing.T) {
	// S1/property 6: recomputing the checksum over the emitted packet,
	// with the checksum field treated as zero, must equal the stored
	// checksum.
	pkt := buildEcho(FamilyV4, typeEchoRequestV4, 0x1234, 0x0001, []byte("ABCDEFGH"))
	stored := binary.BigEndian.Uint16(pkt[checksumOffset:])
	recomputed := internetChecksum(pkt, checksumOffset)
	assert.Equal(t, stored, recomputed)
	assert.NotZero(t, stored, "a well-formed request should not checksum to zero for this payload")
}

func TestBuildEchoV6LeavesChecksumZero(t *testing.T) {
	pkt := buildEcho(FamilyV6, typeEchoRequestV6, 0xabcd, 7, []byte("hello"))
	assert.Zero(t, binary.BigEndian.Uint16(pkt[checksumOffset:]))
}

func TestParseICMPRejectsShortBuffer(t *testing.T) {
	_, _, err := parseICMP(FamilyV4, make([]byte, 7))
	assert.Error(t, err)
}

func TestParseICMPRejectsNonEchoMessage(t *testing.T) {
	// Type 3 (Destination Unreachable) carries a *icmp.DstUnreach body,
	// not *icmp.Echo, and must be reported as an error rather than
	// misparsed.
	msg := xicmp.Message{
		Type: ipv4.ICMPTypeDestinationUnreachable,
		Code: 1,
		Body: &xicmp.DstUnreach{Data: make([]byte, 8)},
	}
	pkt, err := msg.Marshal(nil)
	require.NoError(t, err)

	_, _, err = parseICMP(FamilyV4, pkt)
	assert.Error(t, err)
}

func TestICMPOffsetInV4(t *testing.T) {
	v4 := make([]byte, 20)
	v4[0] = 0x45 // version 4, IHL 5 (20 bytes)
	v4[9] = 1    // protocol ICMP
	pkt := append(v4, buildEcho(FamilyV4, typeEchoReplyV4, 1, 1, make([]byte, 8))...)

	offset, ok := icmpOffsetInV4(pkt)
	require.True(t, ok)
	assert.Equal(t, 20, offset)
}

func TestICMPOffsetInV4RejectsTooShort(t *testing.T) {
	_, ok := icmpOffsetInV4(make([]byte, 10))
	assert.False(t, ok)
}

func TestICMPOffsetInV4RejectsWrongProtocol(t *testing.T) {
	v4 := make([]byte, 28)
	v4[0] = 0x45
	v4[9] = 17 // UDP, not ICMP
	_, ok := icmpOffsetInV4(v4)
	assert.False(t, ok)
}

func TestICMPOffsetInV4RejectsNonV4Version(t *testing.T) {
	v4 := make([]byte, 28)
	v4[0] = 0x65 // version 6 in the high nibble
	v4[9] = 1
	_, ok := icmpOffsetInV4(v4)
	assert.False(t, ok)
}

func TestICMPOffsetInV4WithOptions(t *testing.T) {
	// IHL=6 means a 24-byte header (one 4-byte options word).
	v4 := make([]byte, 24)
	v4[0] = 0x46
	v4[9] = 1
	pkt := append(v4, buildEcho(FamilyV4, typeEchoReplyV4, 1, 1, make([]byte, 8))...)

	offset, ok := icmpOffsetInV4(pkt)
	require.True(t, ok)
	assert.Equal(t, 24, offset)
}

func TestInternetChecksumFoldsCarries(t *testing.T) {
	// Two words that overflow 16 bits when summed force a carry fold.
	b := []byte{0xff, 0xff, 0xff, 0xff}
	got := internetChecksum(b, -1)
	// sum = 0x1fffe -> fold -> 0xfffe + 1 = 0xffff -> complement -> 0x0000
	assert.Equal(t, uint16(0x0000), got)
}

func TestDefaultPayloadSize(t *testing.T) {
	p := defaultPayload(DefaultPayloadSize)
	assert.Len(t, p, DefaultPayloadSize)
	for _, b := range p {
		assert.True(t, b >= 'a' && b <= 'z', "filler should be printable ASCII")
	}
}
