package server

import (
	"log"

	"github.com/Abhay478/paxos-v-raft/transport"
)

// raftClient sends messages to the other servers and to clients.
// Datagrams are fire-and-forget, a failed send is only logged.
type raftClient struct {
	id int

	// peers represent the list of peer addresses indexed by server id
	peers []string

	conn   transport.Conn
	logger *log.Logger
}

func (c *raftClient) send(to string, m Msg) {
	var data, err = Encode(m)
	if err != nil {
		c.logger.Printf("%v", err)
		return
	}

	if err = c.conn.Send(to, data); err != nil {
		c.logger.Printf("failed to send %s to %s: %v", m.Type, to, err)
	}
}

func (c *raftClient) sendTo(serverID int, m Msg) {
	if serverID < 0 || serverID >= len(c.peers) {
		c.logger.Printf("invalid server ID: %d", serverID)
		return
	}
	c.send(c.peers[serverID], m)
}

// broadcast sends m to every server but this one
func (c *raftClient) broadcast(m Msg) {
	var data, err = Encode(m)
	if err != nil {
		c.logger.Printf("%v", err)
		return
	}

	for id, addr := range c.peers {
		if id == c.id {
			continue
		}
		if err = c.conn.Send(addr, data); err != nil {
			c.logger.Printf("failed to send %s to %s: %v", m.Type, addr, err)
		}
	}
}
