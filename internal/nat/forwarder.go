package nat

import (
	"fmt"

	"github.com/pavelkim/nat_engine/internal/iodev"
	"github.com/pavelkim/nat_engine/internal/logger"
)

// Mode selects the forwarding variant at construction time. The datapath
// never dispatches per packet; it holds one Forwarder for its lifetime.
type Mode string

const (
	ModeNAT         Mode = "nat"
	ModePassThrough Mode = "passthrough"
)

// Forwarder is the surface the I/O driver sees. Init must be called once per
// datapath before the first ProcessBatch; ProcessBatch consumes every buffer
// it is handed.
type Forwarder interface {
	Init(coreID uint)
	ProcessBatch(device iodev.DeviceID, bufs []*iodev.Buffer)
}

// NewForwarder constructs the selected variant. The observer is only used by
// the NAT variant and may be nil.
func NewForwarder(mode Mode, cfg Config, devices *iodev.DeviceSet, observer Observer, log *logger.Logger) (Forwarder, error) {
	switch mode {
	case ModeNAT:
		return NewEngine(cfg, devices, observer, log), nil
	case ModePassThrough:
		return NewPassThrough(cfg, devices, log), nil
	default:
		return nil, fmt.Errorf("unknown forwarding mode %q", mode)
	}
}
