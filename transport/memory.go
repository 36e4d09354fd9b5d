package transport

import (
	"fmt"
	"math/rand"
	"sync"
)

// Memory is an in-process network for tests and single-process clusters.
// Endpoints can be disconnected to simulate partitions, and DropRate makes it lossy.
type Memory struct {
	mx sync.RWMutex

	conns        map[string]*memConn
	disconnected map[string]bool
	seq          int

	// DropRate is the probability in [0, 1) that a datagram is lost
	DropRate float64
}

func NewMemory() *Memory {
	return &Memory{
		conns:        make(map[string]*memConn),
		disconnected: make(map[string]bool),
	}
}

func (m *Memory) Listen(addr string) (Conn, error) {
	m.mx.Lock()
	defer m.mx.Unlock()

	if addr == "" {
		m.seq++
		addr = fmt.Sprintf("mem-%d", m.seq)
	}

	if _, ok := m.conns[addr]; ok {
		return nil, fmt.Errorf("cannot listen on %s: address in use", addr)
	}

	var c = &memConn{
		net:     m,
		addr:    addr,
		packets: make(chan Packet, 1024),
	}
	m.conns[addr] = c

	return c, nil
}

// Disconnect drops every datagram sent from or to addr until Reconnect
func (m *Memory) Disconnect(addr string) {
	m.mx.Lock()
	defer m.mx.Unlock()
	m.disconnected[addr] = true
}

func (m *Memory) Reconnect(addr string) {
	m.mx.Lock()
	defer m.mx.Unlock()
	delete(m.disconnected, addr)
}

func (m *Memory) deliver(from, to string, payload []byte) {
	m.mx.RLock()
	defer m.mx.RUnlock()

	if m.disconnected[from] || m.disconnected[to] {
		return
	}

	if m.DropRate > 0 && rand.Float64() < m.DropRate {
		return
	}

	var dst, ok = m.conns[to]
	if !ok {
		return
	}

	var data = make([]byte, len(payload))
	copy(data, payload)

	dst.push(Packet{From: from, Data: data})
}

func (m *Memory) remove(addr string) {
	m.mx.Lock()
	defer m.mx.Unlock()
	delete(m.conns, addr)
}

type memConn struct {
	net     *Memory
	addr    string
	packets chan Packet

	mx     sync.Mutex
	closed bool
}

func (c *memConn) LocalAddr() string {
	return c.addr
}

func (c *memConn) Send(to string, payload []byte) error {
	c.mx.Lock()
	var closed = c.closed
	c.mx.Unlock()

	if closed {
		return ErrClosed
	}

	if len(payload) > MaxDatagram {
		return fmt.Errorf("cannot send %d bytes to %s: %w", len(payload), to, ErrTooLarge)
	}

	c.net.deliver(c.addr, to, payload)
	return nil
}

func (c *memConn) push(p Packet) {
	c.mx.Lock()
	defer c.mx.Unlock()

	if c.closed {
		return
	}

	select {
	case c.packets <- p:
	default:
	}
}

func (c *memConn) Packets() <-chan Packet {
	return c.packets
}

func (c *memConn) Close() error {
	c.mx.Lock()
	if c.closed {
		c.mx.Unlock()
		return nil
	}
	c.closed = true
	close(c.packets)
	c.mx.Unlock()

	c.net.remove(c.addr)
	return nil
}
