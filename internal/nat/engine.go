package nat

import (
	"time"

	"github.com/pavelkim/nat_engine/internal/iodev"
	"github.com/pavelkim/nat_engine/internal/logger"
)

// Config is the static configuration record of one engine, fixed for the
// process lifetime. Addresses hold big-endian values, matching FlowID.
type Config struct {
	ExternalAddr   uint32
	WANDevice      iodev.DeviceID
	LANMainDevice  iodev.DeviceID
	DevicesMask    uint32
	DeviceMACs     [iodev.MaxDevices][6]byte
	EndpointMACs   [iodev.MaxDevices][6]byte
	StartPort      uint16
	MaxFlows       int
	ExpirationTime int64
}

// FlowEvent is the snapshot handed to an Observer when a flow is created or
// expired.
type FlowEvent struct {
	ID             FlowID
	ExternalAddr   uint32
	ExternalPort   uint16
	InternalDevice iodev.DeviceID
	FirstSeen      int64
	LastSeen       int64
	Packets        uint64
	Bytes          uint64
}

// Observer receives flow lifecycle notifications. Calls happen synchronously
// on the datapath thread between packets, so implementations must not block.
type Observer interface {
	FlowCreated(FlowEvent)
	FlowExpired(FlowEvent)
}

// Engine is the NAT flow engine. One engine is owned by exactly one datapath
// thread; none of its methods are safe for concurrent use.
type Engine struct {
	cfg     Config
	devices *iodev.DeviceSet
	log     *logger.Logger

	slab    *flowSlab
	inside  *flowIndex
	outside *flowIndex
	expiry  *expiryIndex
	pool    *portPool

	now      int64
	clock    func() int64
	observer Observer

	// Scratch buffers reused across batches.
	tx     []*iodev.Buffer
	txOne  [1]*iodev.Buffer
	expire func(ts int64, e expiryEntry)
}

// NewEngine builds an engine from a validated configuration. The flow slab,
// both flow indexes and the port pool are sized here from MaxFlows and never
// grow. ProcessBatch still allocates in two places: the transmit scratch
// slice grows when a batch exceeds its capacity, and each new one-second
// expiry bucket gets a freshly allocated entry slice.
func NewEngine(cfg Config, devices *iodev.DeviceSet, observer Observer, log *logger.Logger) *Engine {
	e := &Engine{
		cfg:      cfg,
		devices:  devices,
		log:      log,
		slab:     newFlowSlab(cfg.MaxFlows),
		inside:   newFlowIndex(cfg.MaxFlows),
		outside:  newFlowIndex(cfg.MaxFlows),
		expiry:   newExpiryIndex(cfg.MaxFlows),
		pool:     newPortPool(cfg.StartPort, cfg.MaxFlows),
		clock:    func() int64 { return time.Now().Unix() },
		observer: observer,
		tx:       make([]*iodev.Buffer, 0, 64),
	}
	e.expire = e.expireEntry
	return e
}

// Init must be called once per datapath before any ProcessBatch.
func (e *Engine) Init(coreID uint) {
	e.log.Info("NAT engine ready",
		"core_id", coreID,
		"max_flows", e.cfg.MaxFlows,
		"start_port", e.cfg.StartPort,
		"expiration_time", e.cfg.ExpirationTime)
}

// ProcessBatch translates one received burst. Every buffer is consumed:
// transmitted on success, released on any drop.
func (e *Engine) ProcessBatch(device iodev.DeviceID, bufs []*iodev.Buffer) {
	e.now = e.clock()
	e.expiry.sweep(e.now, e.cfg.ExpirationTime, e.expire)

	if device == e.cfg.WANDevice {
		e.processReturn(bufs)
	} else {
		e.processForward(device, bufs)
	}
}

// processReturn handles WAN-side packets one by one; different flows exit on
// different LAN devices, so there is nothing to batch.
func (e *Engine) processReturn(bufs []*iodev.Buffer) {
	for _, b := range bufs {
		pv, ok := parsePacket(b.Bytes())
		if !ok {
			b.Release()
			continue
		}

		h, found := e.outside.lookup(pv.flowID())
		if !found {
			// Unsolicited inbound traffic never creates a flow.
			b.Release()
			continue
		}
		f := e.slab.get(h)

		e.refresh(h, f)
		f.packets++
		f.bytes += uint64(len(b.Bytes()))

		pv.setMACs(e.cfg.DeviceMACs[f.internalDevice], e.cfg.EndpointMACs[f.internalDevice])
		pv.rewriteDestination(f.id.SrcAddr, f.id.SrcPort)
		pv.finalizeChecksums()

		dev := e.devices.Device(f.internalDevice)
		e.txOne[0] = b
		if dev.TxBurst(e.txOne[:1]) == 0 {
			b.Release()
		}
	}
}

// processForward handles LAN-side packets. Every surviving packet exits the
// WAN device, so the rewritten buffers are sent as one burst.
func (e *Engine) processForward(device iodev.DeviceID, bufs []*iodev.Buffer) {
	tx := e.tx[:0]
	wanSrc := e.cfg.DeviceMACs[e.cfg.WANDevice]
	wanDst := e.cfg.EndpointMACs[e.cfg.WANDevice]

	for _, b := range bufs {
		pv, ok := parsePacket(b.Bytes())
		if !ok {
			b.Release()
			continue
		}

		id := pv.flowID()
		h, found := e.inside.lookup(id)
		if !found {
			port, ok := e.pool.acquire()
			if !ok {
				// Pool exhausted: drop without creating a flow.
				b.Release()
				continue
			}

			h = e.slab.alloc()
			f := e.slab.get(h)
			f.id = id
			f.externalPort = port
			f.internalDevice = device
			f.firstSeen = e.now
			// Never-seen sentinel, so the refresh below is unconditional
			// even when the clock epoch starts at zero.
			f.lastSeen = -1

			e.inside.insert(id, h)
			e.outside.insert(f.outsideKey(e.cfg.ExternalAddr), h)
		}
		f := e.slab.get(h)

		e.refresh(h, f)
		f.packets++
		f.bytes += uint64(len(b.Bytes()))

		if !found {
			if e.observer != nil {
				e.observer.FlowCreated(e.event(f))
			}
			e.log.Debug("flow created",
				"device", device,
				"external_port", f.externalPort,
				"live_flows", e.slab.liveCount())
		}

		pv.setMACs(wanSrc, wanDst)
		pv.rewriteSource(e.cfg.ExternalAddr, f.externalPort)
		pv.finalizeChecksums()

		tx = append(tx, b)
	}

	if len(tx) > 0 {
		sent := e.devices.Device(e.cfg.WANDevice).TxBurst(tx)
		for _, b := range tx[sent:] {
			b.Release()
		}
	}
	// Keep whatever growth this batch forced, so the next one reuses it.
	e.tx = tx[:0]
}

// refresh marks the flow seen now. Suppressed when the flow was already seen
// this second, which bounds the expiry index to one new entry per flow per
// second and keeps (flow, bucket) pairs unique.
func (e *Engine) refresh(h flowHandle, f *Flow) {
	if f.lastSeen == e.now {
		return
	}
	f.lastSeen = e.now
	e.expiry.insert(e.now, expiryEntry{h: h, gen: f.gen})
}

// expireEntry is the sweep visitor. Entries whose generation or bucket
// timestamp no longer match the slot are stale lazy duplicates and are
// skipped; the authoritative entry is the one filed under the flow's current
// lastSeen, so each flow is freed exactly once.
func (e *Engine) expireEntry(ts int64, ent expiryEntry) {
	f := e.slab.get(ent.h)
	if !f.live || f.gen != ent.gen || f.lastSeen != ts {
		return
	}

	e.inside.remove(f.id)
	e.outside.remove(f.outsideKey(e.cfg.ExternalAddr))
	e.pool.release(f.externalPort)

	if e.observer != nil {
		e.observer.FlowExpired(e.event(f))
	}
	e.log.Debug("flow expired",
		"external_port", f.externalPort,
		"idle", e.now-f.lastSeen)

	e.slab.release(ent.h)
}

func (e *Engine) event(f *Flow) FlowEvent {
	return FlowEvent{
		ID:             f.id,
		ExternalAddr:   e.cfg.ExternalAddr,
		ExternalPort:   f.externalPort,
		InternalDevice: f.internalDevice,
		FirstSeen:      f.firstSeen,
		LastSeen:       f.lastSeen,
		Packets:        f.packets,
		Bytes:          f.bytes,
	}
}

// LiveFlows reports how many flows are currently tracked.
func (e *Engine) LiveFlows() int {
	return e.slab.liveCount()
}

// FreePorts reports how many external ports remain in the pool.
func (e *Engine) FreePorts() int {
	return e.pool.available()
}
