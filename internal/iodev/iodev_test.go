package iodev

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferPoolLIFO(t *testing.T) {
	p := NewBufferPool(2, 64)
	require.Equal(t, 2, p.Available())

	a := p.Get()
	b := p.Get()
	require.NotNil(t, a)
	require.NotNil(t, b)
	assert.Nil(t, p.Get(), "exhausted pool must return nil")

	b.Release()
	assert.Same(t, b, p.Get(), "most recently released buffer comes back first")
}

func TestBufferFillTruncates(t *testing.T) {
	p := NewBufferPool(1, 4)
	b := p.Get()
	b.Fill([]byte{1, 2, 3, 4, 5, 6})
	assert.Equal(t, []byte{1, 2, 3, 4}, b.Bytes())

	b.SetLen(2)
	assert.Equal(t, []byte{1, 2}, b.Bytes())
}

func TestMemDeviceRoundTrip(t *testing.T) {
	d := NewMemDevice(4, 64)

	require.True(t, d.Inject([]byte{0xaa, 0xbb}))
	require.True(t, d.Inject([]byte{0xcc}))

	bufs := make([]*Buffer, 8)
	n := d.RxBurst(bufs)
	require.Equal(t, 2, n)
	assert.Equal(t, []byte{0xaa, 0xbb}, bufs[0].Bytes())
	assert.Equal(t, []byte{0xcc}, bufs[1].Bytes())

	sent := d.TxBurst(bufs[:n])
	assert.Equal(t, 2, sent)
	assert.Equal(t, [][]byte{{0xaa, 0xbb}, {0xcc}}, d.Sent())
	assert.Equal(t, 4, d.Pool().Available(), "transmit must release the buffers")
}

func TestDeviceSetRegisterTwicePanics(t *testing.T) {
	s := &DeviceSet{}
	d := NewMemDevice(1, 64)
	s.Register(3, d)
	assert.Same(t, d, s.Device(3).(*MemDevice))
	assert.Nil(t, s.Device(4))
	assert.Panics(t, func() { s.Register(3, d) })
}
