package iodev

// DeviceID indexes a port in the driver's device tables.
type DeviceID uint8

// MaxDevices bounds the device index space; the enabled-devices mask is a
// uint32, so indexes above 31 cannot be enabled anyway.
const MaxDevices = 32

// Buffer is a single packet buffer drawn from a BufferPool. The frame
// occupies the first Len() bytes of the backing array.
type Buffer struct {
	data []byte
	n    int
	pool *BufferPool
}

// Bytes returns the frame currently held by the buffer.
func (b *Buffer) Bytes() []byte {
	return b.data[:b.n]
}

// SetLen truncates or extends the frame within the buffer's capacity.
func (b *Buffer) SetLen(n int) {
	if n > len(b.data) {
		n = len(b.data)
	}
	b.n = n
}

// Fill copies a frame into the buffer, truncating it to the buffer capacity.
func (b *Buffer) Fill(frame []byte) {
	b.n = copy(b.data, frame)
}

// Release returns the buffer to its pool. The caller must not touch the
// buffer afterwards.
func (b *Buffer) Release() {
	b.pool.put(b)
}

// BufferPool is a fixed-size LIFO freelist of packet buffers, allocated once
// at startup. Get returns nil when the pool is exhausted; the datapath treats
// that as receive-side backpressure.
type BufferPool struct {
	free []*Buffer
}

// NewBufferPool allocates count buffers of frameSize bytes each.
func NewBufferPool(count, frameSize int) *BufferPool {
	p := &BufferPool{free: make([]*Buffer, 0, count)}
	for i := 0; i < count; i++ {
		p.free = append(p.free, &Buffer{data: make([]byte, frameSize), pool: p})
	}
	return p
}

// Get pops a buffer from the freelist, or returns nil if none is available.
func (p *BufferPool) Get() *Buffer {
	if len(p.free) == 0 {
		return nil
	}
	b := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	b.n = 0
	return b
}

// Available reports how many buffers are currently free.
func (p *BufferPool) Available() int {
	return len(p.free)
}

func (p *BufferPool) put(b *Buffer) {
	p.free = append(p.free, b)
}

// Device is one port of the I/O driver. Both calls are non-blocking polled
// operations: RxBurst fills at most len(bufs) received frames into buffers
// from the device's pool and returns how many it produced; TxBurst accepts a
// prefix of bufs, takes ownership of the accepted buffers (releasing them
// once transmitted), and returns how many it accepted. The caller keeps
// ownership of the refused tail.
type Device interface {
	RxBurst(bufs []*Buffer) int
	TxBurst(bufs []*Buffer) int
}

// DeviceSet resolves device indexes to devices. Lookups for ids that were
// never registered return nil.
type DeviceSet struct {
	devs [MaxDevices]Device
}

// Register binds a device to an index. Registering twice is an init-time
// configuration bug and panics.
func (s *DeviceSet) Register(id DeviceID, dev Device) {
	if s.devs[id] != nil {
		panic("iodev: device registered twice")
	}
	s.devs[id] = dev
}

// Device returns the device bound to id, or nil.
func (s *DeviceSet) Device(id DeviceID) Device {
	if int(id) >= MaxDevices {
		return nil
	}
	return s.devs[id]
}
