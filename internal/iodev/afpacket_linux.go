package iodev

import (
	"fmt"
	"time"

	"github.com/google/gopacket/afpacket"
)

// AFPacketDevice is a live device backed by an AF_PACKET ring on a Linux
// interface. The poll timeout is kept short so RxBurst stays close to a
// non-blocking poll.
type AFPacketDevice struct {
	pool *BufferPool
	tp   *afpacket.TPacket
}

// NewAFPacketDevice opens the named interface.
func NewAFPacketDevice(pool *BufferPool, iface string) (*AFPacketDevice, error) {
	tp, err := afpacket.NewTPacket(
		afpacket.OptInterface(iface),
		afpacket.OptPollTimeout(time.Millisecond),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open AF_PACKET socket on %s: %w", iface, err)
	}
	return &AFPacketDevice{pool: pool, tp: tp}, nil
}

// RxBurst copies up to len(bufs) frames out of the ring.
func (d *AFPacketDevice) RxBurst(bufs []*Buffer) int {
	n := 0
	for n < len(bufs) {
		b := d.pool.Get()
		if b == nil {
			break
		}
		data, _, err := d.tp.ZeroCopyReadPacketData()
		if err != nil {
			// Timeouts mean the ring is empty; anything else also ends the
			// burst and is retried on the next poll.
			b.Release()
			break
		}
		b.Fill(data)
		bufs[n] = b
		n++
	}
	return n
}

// TxBurst writes frames to the interface; the first refused frame ends the
// burst and the caller keeps the tail.
func (d *AFPacketDevice) TxBurst(bufs []*Buffer) int {
	for i, b := range bufs {
		if err := d.tp.WritePacketData(b.Bytes()); err != nil {
			return i
		}
		b.Release()
	}
	return len(bufs)
}

// Close tears down the ring.
func (d *AFPacketDevice) Close() {
	d.tp.Close()
}
