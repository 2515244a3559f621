package datapath

import (
	"context"
	"time"

	"github.com/pavelkim/nat_engine/internal/iodev"
	"github.com/pavelkim/nat_engine/internal/logger"
	"github.com/pavelkim/nat_engine/internal/nat"
)

// FlowStats is implemented by forwarders that track flows; the pass-through
// variant does not.
type FlowStats interface {
	LiveFlows() int
	FreePorts() int
}

// Runner owns the poll loop of one datapath thread: round-robin over the
// enabled devices, receive a burst, hand it to the forwarder. Everything,
// including the statistics report, runs on that single thread.
type Runner struct {
	devices   *iodev.DeviceSet
	enabled   []iodev.DeviceID
	forwarder nat.Forwarder
	log       *logger.Logger

	batchSize     int
	statsInterval time.Duration
	tap           *iodev.PcapWriter

	framesReceived uint64
	batches        uint64
}

// Config contains runner configuration
type Config struct {
	Devices       *iodev.DeviceSet
	Enabled       []iodev.DeviceID
	Forwarder     nat.Forwarder
	Logger        *logger.Logger
	BatchSize     int
	StatsInterval time.Duration
	Tap           *iodev.PcapWriter
}

// NewRunner creates a new datapath runner
func NewRunner(cfg *Config) *Runner {
	return &Runner{
		devices:       cfg.Devices,
		enabled:       cfg.Enabled,
		forwarder:     cfg.Forwarder,
		log:           cfg.Logger,
		batchSize:     cfg.BatchSize,
		statsInterval: cfg.StatsInterval,
		tap:           cfg.Tap,
	}
}

// Run polls until the context is cancelled. coreID is informational; one
// runner owns one forwarder and never shares it.
func (r *Runner) Run(ctx context.Context, coreID uint) error {
	r.forwarder.Init(coreID)
	r.log.Info("Datapath polling",
		"core_id", coreID,
		"devices", len(r.enabled),
		"batch_size", r.batchSize)

	bufs := make([]*iodev.Buffer, r.batchSize)
	lastReport := time.Now()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("Context cancelled, stopping datapath")
			r.report()
			return nil
		default:
		}

		idle := true
		for _, id := range r.enabled {
			dev := r.devices.Device(id)
			n := dev.RxBurst(bufs)
			if n == 0 {
				continue
			}
			idle = false

			r.framesReceived += uint64(n)
			r.batches++

			if r.tap != nil {
				now := time.Now()
				for _, b := range bufs[:n] {
					r.tap.WritePacket(b.Bytes(), now)
				}
			}

			r.forwarder.ProcessBatch(id, bufs[:n])
		}

		if idle {
			// The devices are polled, not event-driven; back off briefly so
			// an idle datapath does not pin the core.
			time.Sleep(50 * time.Microsecond)
		}

		if r.statsInterval > 0 && time.Since(lastReport) >= r.statsInterval {
			r.report()
			lastReport = time.Now()
		}
	}
}

func (r *Runner) report() {
	fields := []interface{}{
		"frames_received", r.framesReceived,
		"batches", r.batches,
	}
	if s, ok := r.forwarder.(FlowStats); ok {
		fields = append(fields,
			"live_flows", s.LiveFlows(),
			"free_ports", s.FreePorts())
	}
	r.log.Info("=== Statistics Report ===", fields...)
}
