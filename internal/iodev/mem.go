package iodev

// MemDevice is an in-memory device used by tests and benchmarks. Injected
// frames are queued for RxBurst; transmitted frames are copied out and
// recorded in arrival order.
type MemDevice struct {
	pool *BufferPool
	rxq  []*Buffer
	sent [][]byte

	// TxLimit, when non-negative, caps how many buffers a single TxBurst
	// accepts. Used to exercise transmit backpressure.
	TxLimit int
}

// NewMemDevice creates a device backed by its own buffer pool.
func NewMemDevice(poolSize, frameSize int) *MemDevice {
	return &MemDevice{
		pool:    NewBufferPool(poolSize, frameSize),
		TxLimit: -1,
	}
}

// Inject queues a frame for the next RxBurst. Returns false if the device's
// buffer pool is exhausted.
func (d *MemDevice) Inject(frame []byte) bool {
	b := d.pool.Get()
	if b == nil {
		return false
	}
	b.Fill(frame)
	d.rxq = append(d.rxq, b)
	return true
}

// RxBurst pops queued frames in injection order.
func (d *MemDevice) RxBurst(bufs []*Buffer) int {
	n := len(d.rxq)
	if n > len(bufs) {
		n = len(bufs)
	}
	copy(bufs, d.rxq[:n])
	d.rxq = d.rxq[n:]
	return n
}

// TxBurst records copies of the accepted frames and releases their buffers.
func (d *MemDevice) TxBurst(bufs []*Buffer) int {
	n := len(bufs)
	if d.TxLimit >= 0 && n > d.TxLimit {
		n = d.TxLimit
	}
	for _, b := range bufs[:n] {
		frame := make([]byte, len(b.Bytes()))
		copy(frame, b.Bytes())
		d.sent = append(d.sent, frame)
		b.Release()
	}
	return n
}

// Sent returns every frame transmitted so far, in order.
func (d *MemDevice) Sent() [][]byte {
	return d.sent
}

// Pool exposes the device's buffer pool.
func (d *MemDevice) Pool() *BufferPool {
	return d.pool
}
