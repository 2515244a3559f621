package nat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelkim/nat_engine/internal/iodev"
	"github.com/pavelkim/nat_engine/internal/logger"
)

func newPassThroughEnv(t *testing.T) (*PassThrough, *iodev.MemDevice, *iodev.MemDevice, *iodev.BufferPool) {
	t.Helper()

	cfg := Config{
		WANDevice:     1,
		LANMainDevice: 0,
		DevicesMask:   0x3,
	}
	copy(cfg.DeviceMACs[0][:], lanMAC)
	copy(cfg.EndpointMACs[0][:], lanEndMAC)
	copy(cfg.DeviceMACs[1][:], wanMAC)
	copy(cfg.EndpointMACs[1][:], wanEndMAC)

	devices := &iodev.DeviceSet{}
	lan := iodev.NewMemDevice(16, 2048)
	wan := iodev.NewMemDevice(16, 2048)
	devices.Register(0, lan)
	devices.Register(1, wan)

	log, err := logger.NewLogger(&logger.Config{})
	require.NoError(t, err)

	return NewPassThrough(cfg, devices, log), lan, wan, iodev.NewBufferPool(16, 2048)
}

func sendBatch(t *testing.T, fwd Forwarder, pool *iodev.BufferPool, device iodev.DeviceID, frames ...[]byte) {
	t.Helper()
	bufs := make([]*iodev.Buffer, 0, len(frames))
	for _, frame := range frames {
		b := pool.Get()
		require.NotNil(t, b)
		b.Fill(frame)
		bufs = append(bufs, b)
	}
	fwd.ProcessBatch(device, bufs)
}

// LAN traffic exits the WAN device and WAN traffic exits the main LAN
// device, with only the L2 addresses rewritten.
func TestPassThroughForwarding(t *testing.T) {
	p, lan, wan, pool := newPassThroughEnv(t)

	frame := buildFrame(t, hostMAC, lanMAC, "10.0.0.2", 1234, "198.51.100.7", 80, ProtoUDP, []byte("x"))
	sendBatch(t, p, pool, 0, frame)

	require.Len(t, wan.Sent(), 1)
	out := wan.Sent()[0]
	assert.Equal(t, []byte(wanEndMAC), out[0:6])
	assert.Equal(t, []byte(wanMAC), out[6:12])
	// Everything past L2 is untouched.
	assert.Equal(t, frame[12:], out[12:])

	sendBatch(t, p, pool, 1, frame)
	require.Len(t, lan.Sent(), 1)
	back := lan.Sent()[0]
	assert.Equal(t, []byte(lanEndMAC), back[0:6])
	assert.Equal(t, []byte(lanMAC), back[6:12])
}

func TestPassThroughBackpressureAndRunts(t *testing.T) {
	p, _, wan, pool := newPassThroughEnv(t)
	wan.TxLimit = 1

	frame := buildFrame(t, hostMAC, lanMAC, "10.0.0.2", 1234, "198.51.100.7", 80, ProtoUDP, nil)
	free := pool.Available()
	sendBatch(t, p, pool, 0, frame, []byte{0x01, 0x02}, frame)

	require.Len(t, wan.Sent(), 1)
	assert.Equal(t, free, pool.Available(), "runt and refused tail must be released")
}
