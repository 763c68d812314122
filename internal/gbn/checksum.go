package gbn

// Checksum computes the Internet checksum (RFC 1071) over data: sum the
// 16-bit big-endian words, padding an odd-length input with one zero
// byte, fold the carries back into the low 16 bits, and return the
// one's complement. The padding affects only the sum, never the
// transmitted bytes.
func Checksum(data []byte) uint16 {
	var sum uint32
	n := len(data) &^ 1
	for i := 0; i < n; i += 2 {
		sum += uint32(data[i])<<8 | uint32(data[i+1])
	}
	if len(data)%2 == 1 {
		sum += uint32(data[len(data)-1]) << 8
	}
	for sum>>16 != 0 {
		sum = sum&0xffff + sum>>16
	}
	return ^uint16(sum)
}

// VerifyChecksum recomputes the checksum of a received packet with the
// checksum field treated as zero, mirroring how the sender produced it.
// The result equals the transmitted checksum exactly when the packet
// survived transit intact.
func VerifyChecksum(pkt []byte) uint16 {
	scratch := make([]byte, len(pkt))
	copy(scratch, pkt)
	scratch[offChecksum] = 0
	scratch[offChecksum+1] = 0
	return Checksum(scratch)
}
