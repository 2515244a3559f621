package telemetry

import (
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/pavelkim/nat_engine/internal/nat"
)

// NetFlowExporter emits one NetFlow v5 record per expired flow. It runs
// synchronously on the datapath thread: the engine's flow table is the only
// source of truth, so the exporter keeps no state beyond the UDP socket and
// the export sequence number.
type NetFlowExporter struct {
	collectorAddr string
	version       int
	conn          *net.UDPConn
	sequenceNum   uint32
	bootTime      time.Time
	record        [72]byte
}

// NewNetFlowExporter connects to the collector.
func NewNetFlowExporter(collectorAddr string, version int) (*NetFlowExporter, error) {
	addr, err := net.ResolveUDPAddr("udp", collectorAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve collector address: %w", err)
	}

	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to collector: %w", err)
	}

	return &NetFlowExporter{
		collectorAddr: collectorAddr,
		version:       version,
		conn:          conn,
		bootTime:      time.Now(),
	}, nil
}

// FlowCreated is part of nat.Observer; creation is not a NetFlow event.
func (e *NetFlowExporter) FlowCreated(nat.FlowEvent) {}

// FlowExpired exports the finished flow. Export failures are dropped the
// same way the datapath drops packets: telemetry must never stall it.
func (e *NetFlowExporter) FlowExpired(ev nat.FlowEvent) {
	e.exportFlow(ev)
}

// Close closes the collector socket.
func (e *NetFlowExporter) Close() error {
	if e.conn != nil {
		return e.conn.Close()
	}
	return nil
}

// exportFlow encodes and sends a single-record NetFlow v5 datagram.
func (e *NetFlowExporter) exportFlow(ev nat.FlowEvent) {
	if e.version != 5 {
		// Only NetFlow v5 is implemented.
		return
	}

	// NetFlow v5 header (24 bytes) + 1 record (48 bytes) = 72 bytes
	buf := e.record[:]
	for i := range buf {
		buf[i] = 0
	}

	now := time.Now()
	uptime := uint32(now.Sub(e.bootTime) / time.Millisecond)

	// Header
	binary.BigEndian.PutUint16(buf[0:2], 5)                       // Version
	binary.BigEndian.PutUint16(buf[2:4], 1)                       // Count (1 record)
	binary.BigEndian.PutUint32(buf[4:8], uptime)                  // SysUptime
	binary.BigEndian.PutUint32(buf[8:12], uint32(now.Unix()))     // Unix secs
	binary.BigEndian.PutUint32(buf[12:16], uint32(now.Nanosecond())) // Unix nsecs
	e.sequenceNum++
	binary.BigEndian.PutUint32(buf[16:20], e.sequenceNum) // Flow sequence
	// Engine type, ID, and sampling interval = 0

	// Flow record (starts at offset 24): the inside view of the flow.
	offset := 24
	binary.BigEndian.PutUint32(buf[offset:offset+4], ev.ID.SrcAddr)
	binary.BigEndian.PutUint32(buf[offset+4:offset+8], ev.ID.DstAddr)
	// Next hop = 0.0.0.0
	binary.BigEndian.PutUint16(buf[offset+12:offset+14], uint16(ev.InternalDevice)) // Input interface
	binary.BigEndian.PutUint16(buf[offset+14:offset+16], 0)                         // Output interface
	binary.BigEndian.PutUint32(buf[offset+16:offset+20], uint32(ev.Packets))
	binary.BigEndian.PutUint32(buf[offset+20:offset+24], uint32(ev.Bytes))
	binary.BigEndian.PutUint32(buf[offset+24:offset+28], uint32(ev.FirstSeen))
	binary.BigEndian.PutUint32(buf[offset+28:offset+32], uint32(ev.LastSeen))
	binary.BigEndian.PutUint16(buf[offset+32:offset+34], ev.ID.SrcPort)
	binary.BigEndian.PutUint16(buf[offset+34:offset+36], ev.ID.DstPort)
	buf[offset+37] = 0 // TCP flags (not tracked)
	buf[offset+38] = ev.ID.Protocol
	// TOS, AS numbers and masks = 0

	e.conn.Write(buf)
}
