// Package gbn implements the sender and receiver state machines of a
// full-duplex Go-Back-N ARQ protocol over an unreliable, non-reordering
// transport. Corruption is detected with the Internet checksum; loss is
// recovered by cumulative ACKs and timeout-driven retransmission.
package gbn

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Wire layout, network byte order. The fixed header is followed by
// PayloadLen bytes of UTF-8 text (absent on ACKs).
const (
	// HeaderSize is seq(4) + ack(4) + checksum(2) + isAck(1) + payloadLen(4).
	HeaderSize = 15

	offSeq        = 0
	offAck        = 4
	offChecksum   = 8
	offIsAck      = 10
	offPayloadLen = 11
)

// Errors
var (
	// ErrCorrupt is the base class for every decode failure. Callers that
	// only care whether a packet survived transit can errors.Is against it.
	ErrCorrupt = errors.New("gbn: corrupt packet")

	// ErrTruncated means the header could not be parsed or the declared
	// payload length exceeds the bytes actually received. Detected before
	// checksum verification, since the payload cannot be sliced out.
	ErrTruncated = fmt.Errorf("%w: truncated", ErrCorrupt)

	// ErrChecksumMismatch means the packet parsed but the Internet
	// checksum did not verify.
	ErrChecksumMismatch = fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
)

// Packet is the wire unit exchanged between two endpoints.
type Packet struct {
	Seq      uint32 // nonzero for data packets (starts at 1), 0 on ACKs
	Ack      uint32 // acknowledged seq on ACKs; advisory last-ACKed hint on data
	Checksum uint16 // Internet checksum over the whole packet, checksum field zeroed
	IsAck    bool
	Payload  string // UTF-8 text, empty on ACKs
}

// Size returns the serialized size of the packet.
func (p *Packet) Size() int {
	return HeaderSize + len(p.Payload)
}

func (p *Packet) String() string {
	if p.IsAck {
		return fmt.Sprintf("ACK{ack=%d}", p.Ack)
	}
	return fmt.Sprintf("DATA{seq=%d ack=%d len=%d}", p.Seq, p.Ack, len(p.Payload))
}

// EncodeData builds a data packet carrying payload. The ack field is not
// used by the receiver's correctness logic; by convention it carries the
// sender's last cumulatively acknowledged sequence number.
func EncodeData(seq, lastAcked uint32, payload string) []byte {
	return encode(seq, lastAcked, false, payload)
}

// EncodeAck builds a pure ACK packet acknowledging ack.
func EncodeAck(ack uint32) []byte {
	return encode(0, ack, true, "")
}

// encode lays out the header with a zeroed checksum field, computes the
// Internet checksum over header plus payload, and patches it in.
func encode(seq, ack uint32, isAck bool, payload string) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf[offSeq:], seq)
	binary.BigEndian.PutUint32(buf[offAck:], ack)
	binary.BigEndian.PutUint16(buf[offChecksum:], 0)
	if isAck {
		buf[offIsAck] = 1
	}
	binary.BigEndian.PutUint32(buf[offPayloadLen:], uint32(len(payload)))
	copy(buf[HeaderSize:], payload)

	binary.BigEndian.PutUint16(buf[offChecksum:], Checksum(buf))
	return buf
}

// Decode parses raw into a Packet. It fails with ErrTruncated when the
// header is short or the declared payload length overruns the buffer,
// and with ErrChecksumMismatch when the Internet checksum does not
// verify over the received bytes.
func Decode(raw []byte) (*Packet, error) {
	if len(raw) < HeaderSize {
		return nil, fmt.Errorf("%w: header needs %d bytes, have %d", ErrTruncated, HeaderSize, len(raw))
	}

	payloadLen := binary.BigEndian.Uint32(raw[offPayloadLen:])
	total := uint64(HeaderSize) + uint64(payloadLen)
	if total > uint64(len(raw)) {
		return nil, fmt.Errorf("%w: declared payload of %d bytes overruns packet of %d", ErrTruncated, payloadLen, len(raw))
	}

	pkt := raw[:total]
	received := binary.BigEndian.Uint16(pkt[offChecksum:])
	if VerifyChecksum(pkt) != received {
		return nil, fmt.Errorf("%w: got 0x%04x", ErrChecksumMismatch, received)
	}

	return &Packet{
		Seq:      binary.BigEndian.Uint32(pkt[offSeq:]),
		Ack:      binary.BigEndian.Uint32(pkt[offAck:]),
		Checksum: received,
		IsAck:    pkt[offIsAck] != 0,
		Payload:  string(pkt[HeaderSize:total]),
	}, nil
}
