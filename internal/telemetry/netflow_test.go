package telemetry

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelkim/nat_engine/internal/nat"
)

func testEvent() nat.FlowEvent {
	return nat.FlowEvent{
		ID: nat.FlowID{
			SrcAddr:  0x0a000002, // 10.0.0.2
			DstAddr:  0xc6336407, // 198.51.100.7
			SrcPort:  53124,
			DstPort:  80,
			Protocol: nat.ProtoTCP,
		},
		ExternalAddr:   0xcb007101,
		ExternalPort:   40003,
		InternalDevice: 0,
		FirstSeen:      1000,
		LastSeen:       1060,
		Packets:        12,
		Bytes:          3456,
	}
}

func TestNetFlowExportRecord(t *testing.T) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer conn.Close()

	exp, err := NewNetFlowExporter(conn.LocalAddr().String(), 5)
	require.NoError(t, err)
	defer exp.Close()

	exp.FlowExpired(testEvent())

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 256)
	n, _, err := conn.ReadFromUDP(buf)
	require.NoError(t, err)
	require.Equal(t, 72, n, "v5 header plus one record")

	assert.Equal(t, uint16(5), binary.BigEndian.Uint16(buf[0:2]))
	assert.Equal(t, uint16(1), binary.BigEndian.Uint16(buf[2:4]))
	assert.Equal(t, uint32(1), binary.BigEndian.Uint32(buf[16:20]), "first export has sequence 1")

	rec := buf[24:72]
	assert.Equal(t, uint32(0x0a000002), binary.BigEndian.Uint32(rec[0:4]))
	assert.Equal(t, uint32(0xc6336407), binary.BigEndian.Uint32(rec[4:8]))
	assert.Equal(t, uint32(12), binary.BigEndian.Uint32(rec[16:20]))
	assert.Equal(t, uint32(3456), binary.BigEndian.Uint32(rec[20:24]))
	assert.Equal(t, uint32(1000), binary.BigEndian.Uint32(rec[24:28]))
	assert.Equal(t, uint32(1060), binary.BigEndian.Uint32(rec[28:32]))
	assert.Equal(t, uint16(53124), binary.BigEndian.Uint16(rec[32:34]))
	assert.Equal(t, uint16(80), binary.BigEndian.Uint16(rec[34:36]))
	assert.Equal(t, uint8(nat.ProtoTCP), rec[38])
}

func TestNetFlowSequenceIncrements(t *testing.T) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer conn.Close()

	exp, err := NewNetFlowExporter(conn.LocalAddr().String(), 5)
	require.NoError(t, err)
	defer exp.Close()

	exp.FlowExpired(testEvent())
	exp.FlowExpired(testEvent())

	buf := make([]byte, 256)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadFromUDP(buf)
	require.NoError(t, err)
	_, _, err = conn.ReadFromUDP(buf)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), binary.BigEndian.Uint32(buf[16:20]))
}

// Unsupported versions export nothing rather than fail.
func TestNetFlowUnsupportedVersion(t *testing.T) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer conn.Close()

	exp, err := NewNetFlowExporter(conn.LocalAddr().String(), 9)
	require.NoError(t, err)
	defer exp.Close()

	exp.FlowExpired(testEvent())

	conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err = conn.ReadFromUDP(make([]byte, 256))
	assert.Error(t, err, "nothing should arrive")
}
