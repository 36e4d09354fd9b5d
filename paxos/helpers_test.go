package paxos

import (
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

func listen(t *testing.T, network transport.Network, addr string) transport.Conn {
	t.Helper()
	conn, err := network.Listen(addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func receiveMsg(t *testing.T, conn transport.Conn) (Msg, string) {
	t.Helper()
	select {
	case pkt, ok := <-conn.Packets():
		require.True(t, ok, "connection closed")
		msg, err := Decode(pkt.Data)
		require.NoError(t, err)
		return msg, pkt.From
	case <-time.After(2 * time.Second):
		t.Fatalf("no message on %s", conn.LocalAddr())
	}
	return Msg{}, ""
}

func requireNoMsg(t *testing.T, conn transport.Conn) {
	t.Helper()
	select {
	case pkt := <-conn.Packets():
		t.Fatalf("unexpected datagram from %s: %s", pkt.From, pkt.Data)
	case <-time.After(50 * time.Millisecond):
	}
}

func sendMsg(t *testing.T, conn transport.Conn, to string, m Msg) {
	t.Helper()
	require.NoError(t, send(conn, to, m))
}

func receiveOutcome(t *testing.T, outcomes <-chan Outcome) Outcome {
	t.Helper()
	select {
	case o := <-outcomes:
		return o
	case <-time.After(2 * time.Second):
		t.Fatalf("no outcome reported")
	}
	return Outcome{}
}

func requireNoOutcome(t *testing.T, outcomes <-chan Outcome) {
	t.Helper()
	select {
	case o := <-outcomes:
		t.Fatalf("unexpected outcome %s", o.Kind)
	case <-time.After(50 * time.Millisecond):
	}
}

func waitFor(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()
	require.Eventually(t, condition, timeout, 10*time.Millisecond)
}
