package nat

import (
	"fmt"

	"github.com/pavelkim/nat_engine/internal/iodev"
)

// Protocol numbers the engine translates. Everything else is dropped.
const (
	ProtoTCP = 6
	ProtoUDP = 17
)

// FlowID is the packed 5-tuple identity of a flow. Addresses and ports hold
// the big-endian values exactly as they appear on the wire, so equality is
// bytewise and the same key works in both directions of the lookup.
type FlowID struct {
	SrcAddr  uint32
	DstAddr  uint32
	SrcPort  uint16
	DstPort  uint16
	Protocol uint8
}

// String formats the tuple for logs and flow events.
func (id FlowID) String() string {
	return fmt.Sprintf("%s:%d -> %s:%d proto=%d",
		ipString(id.SrcAddr), id.SrcPort, ipString(id.DstAddr), id.DstPort, id.Protocol)
}

func ipString(addr uint32) string {
	return fmt.Sprintf("%d.%d.%d.%d", byte(addr>>24), byte(addr>>16), byte(addr>>8), byte(addr))
}

// Flow is one tracked translation. The id field is the inside view of the
// flow, exactly as first observed from the LAN side.
type Flow struct {
	id             FlowID
	internalDevice iodev.DeviceID
	externalPort   uint16
	lastSeen       int64

	// Telemetry only; never read by the translation path.
	firstSeen int64
	packets   uint64
	bytes     uint64

	live bool
	gen  uint32
}

// outsideKey derives the tuple under which return packets find the flow.
func (f *Flow) outsideKey(externalAddr uint32) FlowID {
	return FlowID{
		SrcAddr:  f.id.DstAddr,
		SrcPort:  f.id.DstPort,
		DstAddr:  externalAddr,
		DstPort:  f.externalPort,
		Protocol: f.id.Protocol,
	}
}

// flowHandle names a slab slot. Handles, not pointers, are what the indexes
// and the expiry index store.
type flowHandle int32

const noFlow flowHandle = -1

// flowSlab owns every Flow record. All slots are allocated up front, so the
// steady state never allocates; the freelist is LIFO for locality.
type flowSlab struct {
	slots []Flow
	free  []flowHandle
}

func newFlowSlab(capacity int) *flowSlab {
	s := &flowSlab{
		slots: make([]Flow, capacity),
		free:  make([]flowHandle, 0, capacity),
	}
	for i := capacity - 1; i >= 0; i-- {
		s.free = append(s.free, flowHandle(i))
	}
	return s
}

// alloc claims a slot and resets its record. The capacity of the slab equals
// the size of the port pool, so a caller holding a freshly acquired port is
// guaranteed a slot; running dry anyway means the two structures diverged.
func (s *flowSlab) alloc() flowHandle {
	if len(s.free) == 0 {
		panic("nat: flow slab exhausted with ports still available")
	}
	h := s.free[len(s.free)-1]
	s.free = s.free[:len(s.free)-1]

	f := &s.slots[h]
	gen := f.gen
	*f = Flow{gen: gen, live: true}
	return h
}

// release returns a slot to the freelist and advances its generation so any
// entry still naming the old incarnation can no longer resolve it.
func (s *flowSlab) release(h flowHandle) {
	f := &s.slots[h]
	if !f.live {
		panic("nat: flow released twice")
	}
	f.live = false
	f.gen++
	s.free = append(s.free, h)
}

func (s *flowSlab) get(h flowHandle) *Flow {
	return &s.slots[h]
}

func (s *flowSlab) liveCount() int {
	return len(s.slots) - len(s.free)
}
