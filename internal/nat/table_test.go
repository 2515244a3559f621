package nat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlowIndexLifecycle(t *testing.T) {
	x := newFlowIndex(4)
	k := FlowID{SrcAddr: 1, DstAddr: 2, SrcPort: 3, DstPort: 4, Protocol: ProtoTCP}

	_, ok := x.lookup(k)
	assert.False(t, ok)

	x.insert(k, 7)
	h, ok := x.lookup(k)
	require.True(t, ok)
	assert.Equal(t, flowHandle(7), h)

	// A key differing in one field is a different flow.
	k2 := k
	k2.Protocol = ProtoUDP
	_, ok = x.lookup(k2)
	assert.False(t, ok)

	x.remove(k)
	_, ok = x.lookup(k)
	assert.False(t, ok)
}

func TestFlowIndexMisusePanics(t *testing.T) {
	x := newFlowIndex(4)
	k := FlowID{SrcAddr: 1}
	x.insert(k, 1)
	assert.Panics(t, func() { x.insert(k, 2) })
	assert.Panics(t, func() { x.remove(FlowID{SrcAddr: 9}) })
}

func TestFlowSlabRecyclesWithNewGeneration(t *testing.T) {
	s := newFlowSlab(2)

	h1 := s.alloc()
	gen1 := s.get(h1).gen
	require.True(t, s.get(h1).live)
	assert.Equal(t, 1, s.liveCount())

	s.release(h1)
	assert.Equal(t, 0, s.liveCount())
	assert.Panics(t, func() { s.release(h1) })

	// LIFO freelist hands the same slot back, one generation later.
	h2 := s.alloc()
	assert.Equal(t, h1, h2)
	assert.Equal(t, gen1+1, s.get(h2).gen)
}

func TestFlowSlabExhaustionPanics(t *testing.T) {
	s := newFlowSlab(1)
	s.alloc()
	assert.Panics(t, func() { s.alloc() })
}
