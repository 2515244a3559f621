package nat

import "encoding/binary"

// In-place view over one Ethernet II / IPv4 / TCP-or-UDP frame. The
// translation path mutates header bytes directly in the receive buffer, so
// parsing hands out subslices, never copies.

const (
	etherHeaderLen = 14
	etherTypeIPv4  = 0x0800
	ipv4MinHeader  = 20
	tcpMinHeader   = 20
	udpHeaderLen   = 8
	tcpChecksumOff = 16
	udpChecksumOff = 6
)

type packetView struct {
	frame    []byte
	ip       []byte // IPv4 header including options
	l4       []byte // transport segment: header plus payload
	protocol uint8
}

// parsePacket validates the frame just enough to translate it: Ethernet II
// with an IPv4 payload, a sane IHL, and enough bytes for the claimed total
// length. It deliberately does not verify the IPv4 checksum or look past the
// base transport header. ok is false for anything the engine should drop.
func parsePacket(frame []byte) (pv packetView, ok bool) {
	if len(frame) < etherHeaderLen+ipv4MinHeader {
		return pv, false
	}
	if binary.BigEndian.Uint16(frame[12:14]) != etherTypeIPv4 {
		return pv, false
	}

	ip := frame[etherHeaderLen:]
	if ip[0]>>4 != 4 {
		return pv, false
	}
	ihl := int(ip[0]&0x0f) * 4
	if ihl < ipv4MinHeader || len(ip) < ihl {
		return pv, false
	}

	totalLen := int(binary.BigEndian.Uint16(ip[2:4]))
	if totalLen < ihl || totalLen > len(ip) {
		return pv, false
	}

	pv.frame = frame
	pv.ip = ip[:ihl]
	pv.l4 = ip[ihl:totalLen]
	pv.protocol = ip[9]

	switch pv.protocol {
	case ProtoTCP:
		if len(pv.l4) < tcpMinHeader {
			return pv, false
		}
	case ProtoUDP:
		if len(pv.l4) < udpHeaderLen {
			return pv, false
		}
	default:
		// The caller distinguishes unknown protocols from malformed frames
		// only in that both are dropped.
		return pv, false
	}

	return pv, true
}

// flowID packs the packet's 5-tuple.
func (pv *packetView) flowID() FlowID {
	return FlowID{
		SrcAddr:  binary.BigEndian.Uint32(pv.ip[12:16]),
		DstAddr:  binary.BigEndian.Uint32(pv.ip[16:20]),
		SrcPort:  binary.BigEndian.Uint16(pv.l4[0:2]),
		DstPort:  binary.BigEndian.Uint16(pv.l4[2:4]),
		Protocol: pv.protocol,
	}
}

// setMACs rewrites the Ethernet source and destination addresses.
func (pv *packetView) setMACs(src, dst [6]byte) {
	copy(pv.frame[0:6], dst[:])
	copy(pv.frame[6:12], src[:])
}

// rewriteSource replaces the IPv4 source address and transport source port.
func (pv *packetView) rewriteSource(addr uint32, port uint16) {
	binary.BigEndian.PutUint32(pv.ip[12:16], addr)
	binary.BigEndian.PutUint16(pv.l4[0:2], port)
}

// rewriteDestination replaces the IPv4 destination address and transport
// destination port.
func (pv *packetView) rewriteDestination(addr uint32, port uint16) {
	binary.BigEndian.PutUint32(pv.ip[16:20], addr)
	binary.BigEndian.PutUint16(pv.l4[2:4], port)
}

// finalizeChecksums recomputes the IPv4 header checksum and the transport
// checksum after the headers have been rewritten.
func (pv *packetView) finalizeChecksums() {
	binary.BigEndian.PutUint16(pv.ip[10:12], 0)
	binary.BigEndian.PutUint16(pv.ip[10:12], ipv4HeaderChecksum(pv.ip))

	src := binary.BigEndian.Uint32(pv.ip[12:16])
	dst := binary.BigEndian.Uint32(pv.ip[16:20])

	switch pv.protocol {
	case ProtoTCP:
		binary.BigEndian.PutUint16(pv.l4[tcpChecksumOff:tcpChecksumOff+2], 0)
		sum := transportChecksum(src, dst, ProtoTCP, pv.l4)
		binary.BigEndian.PutUint16(pv.l4[tcpChecksumOff:tcpChecksumOff+2], sum)
	case ProtoUDP:
		binary.BigEndian.PutUint16(pv.l4[udpChecksumOff:udpChecksumOff+2], 0)
		sum := transportChecksum(src, dst, ProtoUDP, pv.l4)
		if sum == 0 {
			sum = 0xffff
		}
		binary.BigEndian.PutUint16(pv.l4[udpChecksumOff:udpChecksumOff+2], sum)
	}
}
