package nat

import "encoding/binary"

// One's-complement internet checksum (RFC 1071), used for both the IPv4
// header checksum and the TCP/UDP pseudo-header checksum.

// checksumAdd accumulates b as big-endian 16-bit words, padding a trailing
// odd byte with zero.
func checksumAdd(sum uint32, b []byte) uint32 {
	n := len(b)
	for i := 0; i+1 < n; i += 2 {
		sum += uint32(binary.BigEndian.Uint16(b[i : i+2]))
	}
	if n%2 == 1 {
		sum += uint32(b[n-1]) << 8
	}
	return sum
}

// checksumFold folds the carries and complements the result.
func checksumFold(sum uint32) uint16 {
	for sum > 0xffff {
		sum = (sum >> 16) + (sum & 0xffff)
	}
	return ^uint16(sum)
}

// ipv4HeaderChecksum computes the header checksum over hdr with the checksum
// field treated as zero. hdr is the full IPv4 header including options.
func ipv4HeaderChecksum(hdr []byte) uint16 {
	sum := checksumAdd(0, hdr[:10])
	sum = checksumAdd(sum, hdr[12:])
	return checksumFold(sum)
}

// transportChecksum computes the TCP/UDP checksum over the pseudo-header
// {src, dst, zero, protocol, length} and the transport segment, whose
// checksum field the caller must have zeroed. For UDP a result of zero must
// be transmitted as 0xffff; the caller applies that substitution.
func transportChecksum(srcAddr, dstAddr uint32, protocol uint8, segment []byte) uint16 {
	var pseudo [12]byte
	binary.BigEndian.PutUint32(pseudo[0:4], srcAddr)
	binary.BigEndian.PutUint32(pseudo[4:8], dstAddr)
	pseudo[9] = protocol
	binary.BigEndian.PutUint16(pseudo[10:12], uint16(len(segment)))

	sum := checksumAdd(0, pseudo[:])
	sum = checksumAdd(sum, segment)
	return checksumFold(sum)
}
