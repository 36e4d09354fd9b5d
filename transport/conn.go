// Package transport carries datagrams between processes.
//
// Delivery is best effort: a datagram can be dropped, duplicated by the sender or reordered,
// and nothing here retries. Protocols on top are expected to cope.
package transport

import "errors"

var ErrClosed = errors.New("transport: connection closed")

// ErrTooLarge is returned for payloads above MaxDatagram, they are never delivered
var ErrTooLarge = errors.New("transport: datagram too large")

// MaxDatagram is the largest payload a UDP datagram carries over IPv4
const MaxDatagram = 65507

// Packet is one received datagram
type Packet struct {
	From string // sender address, can be used as a reply address
	Data []byte
}

// Conn is a bound datagram endpoint.
type Conn interface {
	// LocalAddr is the address peers use to reach this endpoint
	LocalAddr() string

	// Send is fire-and-forget, a nil error does not mean the datagram arrived
	Send(to string, payload []byte) error

	// Packets is closed after Close
	Packets() <-chan Packet

	Close() error
}

// Network opens endpoints. An empty address asks for an ephemeral one.
type Network interface {
	Listen(addr string) (Conn, error)
}
