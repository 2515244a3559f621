package nat

import (
	"github.com/pavelkim/nat_engine/internal/iodev"
	"github.com/pavelkim/nat_engine/internal/logger"
)

// PassThrough is the no-op forwarding variant: no flow tracking, no header
// translation beyond L2. Everything received on the WAN device is sent to
// the main LAN device and everything else to the WAN device, and the
// recipients are expected to ignore frames that were not for them.
type PassThrough struct {
	cfg     Config
	devices *iodev.DeviceSet
	log     *logger.Logger
}

// NewPassThrough builds the pass-through forwarder.
func NewPassThrough(cfg Config, devices *iodev.DeviceSet, log *logger.Logger) *PassThrough {
	return &PassThrough{cfg: cfg, devices: devices, log: log}
}

// Init must be called once per datapath before any ProcessBatch.
func (p *PassThrough) Init(coreID uint) {
	p.log.Info("pass-through forwarder ready", "core_id", coreID)
}

// ProcessBatch rewrites the Ethernet addresses for the destination device
// and forwards the whole burst. Frames too short to carry an Ethernet header
// are released; a refused transmit tail is released as well.
func (p *PassThrough) ProcessBatch(device iodev.DeviceID, bufs []*iodev.Buffer) {
	dst := p.cfg.WANDevice
	if device == p.cfg.WANDevice {
		dst = p.cfg.LANMainDevice
	}
	srcMAC := p.cfg.DeviceMACs[dst]
	dstMAC := p.cfg.EndpointMACs[dst]

	n := 0
	for _, b := range bufs {
		frame := b.Bytes()
		if len(frame) < etherHeaderLen {
			b.Release()
			continue
		}
		copy(frame[0:6], dstMAC[:])
		copy(frame[6:12], srcMAC[:])
		bufs[n] = b
		n++
	}

	if n > 0 {
		sent := p.devices.Device(dst).TxBurst(bufs[:n])
		for _, b := range bufs[sent:n] {
			b.Release()
		}
	}
}
