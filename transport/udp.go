package transport

import (
	"errors"
	"fmt"
	"net"
	"sync"
)

// UDP opens real datagram sockets
type UDP struct {
	// Host is used for ephemeral endpoints, e.g. "127.0.0.1"
	Host string
}

func (u UDP) Listen(addr string) (Conn, error) {
	if addr == "" {
		var host = u.Host
		if host == "" {
			host = "127.0.0.1"
		}
		addr = net.JoinHostPort(host, "0")
	}

	var pc, err = net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("cannot listen on %s: %w", addr, err)
	}

	var c = &udpConn{
		pc:       pc,
		packets:  make(chan Packet, 1024),
		resolved: make(map[string]*net.UDPAddr),
	}

	go c.read()

	return c, nil
}

type udpConn struct {
	pc      net.PacketConn
	packets chan Packet

	mx       sync.Mutex
	resolved map[string]*net.UDPAddr // resolved peer addresses, filled on first send
	closed   bool
}

func (c *udpConn) LocalAddr() string {
	return c.pc.LocalAddr().String()
}

func (c *udpConn) read() {
	defer close(c.packets)

	var buf = make([]byte, MaxDatagram)
	for {
		n, from, err := c.pc.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}

		var data = make([]byte, n)
		copy(data, buf[:n])

		select {
		case c.packets <- Packet{From: from.String(), Data: data}:
		default:
			// receiver is behind, behave like a full socket buffer
		}
	}
}

func (c *udpConn) resolve(to string) (*net.UDPAddr, error) {
	c.mx.Lock()
	defer c.mx.Unlock()

	if c.closed {
		return nil, ErrClosed
	}

	if addr, ok := c.resolved[to]; ok {
		return addr, nil
	}

	var addr, err = net.ResolveUDPAddr("udp", to)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve %s: %w", to, err)
	}
	c.resolved[to] = addr

	return addr, nil
}

func (c *udpConn) Send(to string, payload []byte) error {
	if len(payload) > MaxDatagram {
		return fmt.Errorf("cannot send %d bytes to %s: %w", len(payload), to, ErrTooLarge)
	}

	var addr, err = c.resolve(to)
	if err != nil {
		return err
	}

	if _, err = c.pc.WriteTo(payload, addr); err != nil {
		return fmt.Errorf("cannot send to %s: %w", to, err)
	}

	return nil
}

func (c *udpConn) Packets() <-chan Packet {
	return c.packets
}

func (c *udpConn) Close() error {
	c.mx.Lock()
	if c.closed {
		c.mx.Unlock()
		return nil
	}
	c.closed = true
	c.mx.Unlock()

	return c.pc.Close()
}
