package server

import (
	"fmt"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Abhay478/paxos-v-raft/transport"
)

func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func peerAddrs(n int) []string {
	var res = make([]string, n)
	for i := range res {
		res[i] = fmt.Sprintf("raft-%d", i)
	}
	return res
}

func testConfig(id, n int) *Config {
	return &Config{
		ID:                 id,
		Peers:              peerAddrs(n),
		ElectionTimeoutMin: 150 * time.Millisecond,
		ElectionTimeoutMax: 300 * time.Millisecond,
		HeartbeatInterval:  50 * time.Millisecond,
	}
}

// testNode is a server that is not running: the test feeds it datagrams one by one and
// reads what it sends from the endpoints of the other servers
type testNode struct {
	srv   *Server
	net   *transport.Memory
	peers map[int]transport.Conn
}

func newTestNode(t *testing.T, id, n int) *testNode {
	t.Helper()

	var net = transport.NewMemory()
	var config = testConfig(id, n)

	conn, err := net.Listen(config.Peers[id])
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	srv, err := NewServer(config, conn, discardLogger())
	require.NoError(t, err)
	t.Cleanup(srv.stopElectionTimer)

	var node = &testNode{srv: srv, net: net, peers: make(map[int]transport.Conn)}
	for i, addr := range config.Peers {
		if i == id {
			continue
		}
		c, err := net.Listen(addr)
		require.NoError(t, err)
		t.Cleanup(func() { _ = c.Close() })
		node.peers[i] = c
	}

	return node
}

// deliver hands m to the server as if peer sent it
func (n *testNode) deliver(t *testing.T, peer int, m Msg) {
	t.Helper()
	n.deliverFrom(t, n.srv.config.Peers[peer], m)
}

func (n *testNode) deliverFrom(t *testing.T, from string, m Msg) {
	t.Helper()
	data, err := Encode(m)
	require.NoError(t, err)
	n.srv.handle(transport.Packet{From: from, Data: data})
}

func (n *testNode) recv(t *testing.T, peer int) Msg {
	t.Helper()
	return recvMsg(t, n.peers[peer])
}

func (n *testNode) silent(t *testing.T, peer int) {
	t.Helper()
	requireSilent(t, n.peers[peer])
}

func recvMsg(t *testing.T, conn transport.Conn) Msg {
	t.Helper()
	select {
	case pkt, ok := <-conn.Packets():
		require.True(t, ok, "connection closed")
		msg, err := Decode(pkt.Data)
		require.NoError(t, err)
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("no message on %s", conn.LocalAddr())
	}
	return Msg{}
}

func requireSilent(t *testing.T, conn transport.Conn) {
	t.Helper()
	select {
	case pkt := <-conn.Packets():
		t.Fatalf("unexpected datagram on %s: %s", conn.LocalAddr(), pkt.Data)
	case <-time.After(20 * time.Millisecond):
	}
}

// withLog replaces the log of the server, terms given for indices 1..len(terms)
func (n *testNode) withLog(terms ...int) {
	var l = newLog()
	for i, term := range terms {
		l = append(l, Log{Term: term, Command: &Command{OpID: i + 1, Op: fmt.Sprintf("op-%d", i+1)}})
	}
	n.srv.persistentState.log = l
}

func entry(index, term int) Entry {
	return Entry{Index: index, Log: Log{Term: term, Command: &Command{OpID: index, Op: fmt.Sprintf("op-%d", index)}}}
}

func logTerms(s *Server) []int {
	var res []int
	for _, l := range s.persistentState.log[1:] {
		res = append(res, l.Term)
	}
	return res
}
