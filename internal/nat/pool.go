package nat

// portPool is the reservoir of external ports, a bounded LIFO stack. LIFO
// keeps recently released ports hot; correctness only needs each port held
// by at most one live flow at a time.
type portPool struct {
	ports []uint16
}

// newPortPool fills the pool with [start, start+count) in ascending order,
// so the first acquire returns start+count-1.
func newPortPool(start uint16, count int) *portPool {
	p := &portPool{ports: make([]uint16, 0, count)}
	for i := 0; i < count; i++ {
		p.ports = append(p.ports, start+uint16(i))
	}
	return p
}

// acquire pops a port; ok is false when the pool is empty.
func (p *portPool) acquire() (port uint16, ok bool) {
	if len(p.ports) == 0 {
		return 0, false
	}
	port = p.ports[len(p.ports)-1]
	p.ports = p.ports[:len(p.ports)-1]
	return port, true
}

// release pushes a port back. Only ports previously acquired may be
// released, and each at most once per acquire.
func (p *portPool) release(port uint16) {
	if len(p.ports) == cap(p.ports) {
		panic("nat: port released into a full pool")
	}
	p.ports = append(p.ports, port)
}

func (p *portPool) available() int {
	return len(p.ports)
}
