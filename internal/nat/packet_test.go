package nat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePacketTCP(t *testing.T) {
	frame := buildFrame(t, hostMAC, lanMAC, "10.0.0.2", 53124, "198.51.100.7", 80, ProtoTCP, []byte("data"))

	pv, ok := parsePacket(frame)
	require.True(t, ok)
	assert.Equal(t, uint8(ProtoTCP), pv.protocol)
	assert.Equal(t, FlowID{
		SrcAddr:  ipv4("10.0.0.2"),
		DstAddr:  ipv4("198.51.100.7"),
		SrcPort:  53124,
		DstPort:  80,
		Protocol: ProtoTCP,
	}, pv.flowID())
}

func TestParsePacketRejects(t *testing.T) {
	tcp := buildFrame(t, hostMAC, lanMAC, "10.0.0.2", 1, "10.0.0.3", 2, ProtoTCP, nil)
	udp := buildFrame(t, hostMAC, lanMAC, "10.0.0.2", 1, "10.0.0.3", 2, ProtoUDP, nil)

	cases := []struct {
		name  string
		frame []byte
	}{
		{"empty", nil},
		{"runt", tcp[:20]},
		{"non-ipv4 ethertype", func() []byte {
			f := append([]byte(nil), tcp...)
			f[12], f[13] = 0x08, 0x06
			return f
		}()},
		{"ipv6 version nibble", func() []byte {
			f := append([]byte(nil), tcp...)
			f[14] = 0x60
			return f
		}()},
		{"bad ihl", func() []byte {
			f := append([]byte(nil), tcp...)
			f[14] = 0x42
			return f
		}()},
		{"icmp", buildICMPFrame(t)},
		{"truncated total length", func() []byte {
			f := append([]byte(nil), tcp...)
			f[16], f[17] = 0xff, 0xff
			return f
		}()},
		{"tcp header cut short", func() []byte {
			f := append([]byte(nil), tcp...)
			// Claim a total length that ends inside the TCP header.
			f[16], f[17] = 0x00, byte(ipv4MinHeader+10)
			return f
		}()},
		{"udp header cut short", func() []byte {
			f := append([]byte(nil), udp[:etherHeaderLen+ipv4MinHeader+4]...)
			// Total length field must agree with the truncation to reach the
			// transport-length check.
			f[16], f[17] = 0x00, byte(ipv4MinHeader+4)
			return f
		}()},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, ok := parsePacket(tc.frame)
			assert.False(t, ok)
		})
	}
}

func TestPacketRewrite(t *testing.T) {
	frame := buildFrame(t, hostMAC, lanMAC, "10.0.0.2", 53124, "198.51.100.7", 80, ProtoTCP, nil)
	pv, ok := parsePacket(frame)
	require.True(t, ok)

	var src, dst [6]byte
	copy(src[:], wanMAC)
	copy(dst[:], wanEndMAC)
	pv.setMACs(src, dst)
	pv.rewriteSource(ipv4("203.0.113.1"), 40003)

	assert.Equal(t, []byte(wanEndMAC), frame[0:6])
	assert.Equal(t, []byte(wanMAC), frame[6:12])
	assert.Equal(t, FlowID{
		SrcAddr:  ipv4("203.0.113.1"),
		DstAddr:  ipv4("198.51.100.7"),
		SrcPort:  40003,
		DstPort:  80,
		Protocol: ProtoTCP,
	}, pv.flowID())

	pv.rewriteDestination(ipv4("10.9.8.7"), 999)
	id := pv.flowID()
	assert.Equal(t, ipv4("10.9.8.7"), id.DstAddr)
	assert.Equal(t, uint16(999), id.DstPort)
}

func TestOutsideKeyDerivation(t *testing.T) {
	f := &Flow{
		id: FlowID{
			SrcAddr:  ipv4("10.0.0.2"),
			DstAddr:  ipv4("198.51.100.7"),
			SrcPort:  53124,
			DstPort:  80,
			Protocol: ProtoTCP,
		},
		externalPort: 40003,
	}

	assert.Equal(t, FlowID{
		SrcAddr:  ipv4("198.51.100.7"),
		SrcPort:  80,
		DstAddr:  ipv4("203.0.113.1"),
		DstPort:  40003,
		Protocol: ProtoTCP,
	}, f.outsideKey(ipv4("203.0.113.1")))
}

func TestFlowIDString(t *testing.T) {
	id := FlowID{
		SrcAddr:  ipv4("10.0.0.2"),
		DstAddr:  ipv4("198.51.100.7"),
		SrcPort:  53124,
		DstPort:  80,
		Protocol: ProtoTCP,
	}
	assert.Equal(t, "10.0.0.2:53124 -> 198.51.100.7:80 proto=6", id.String())
}
