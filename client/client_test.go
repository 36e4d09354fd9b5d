package client

import (
	"context"
	"fmt"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Abhay478/paxos-v-raft/cluster"
	"github.com/Abhay478/paxos-v-raft/paxos"
	"github.com/Abhay478/paxos-v-raft/raft-server"
	"github.com/Abhay478/paxos-v-raft/state-machine"
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

// echoReplica answers every Paxos request with the op as result, answers times
func echoReplica(ctx context.Context, conn transport.Conn, answers int) {
	for {
		select {
		case <-ctx.Done():
			return
		case pkt, ok := <-conn.Packets():
			if !ok {
				return
			}
			msg, err := paxos.Decode(pkt.Data)
			if err != nil || msg.Type != paxos.Request {
				continue
			}
			for i := 0; i < answers; i++ {
				var resp = paxos.NewResponse(msg.Command.OpID, "echo", state_machine.Result{Value: msg.Command.Op})
				data, _ := paxos.Encode(resp)
				_ = conn.Send(pkt.From, data)
			}
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	tt := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"valid", Config{Targets: []string{"a"}, Params: cluster.Params{K: 1, Lambda: 1}}, false},
		{"no targets", Config{Params: cluster.Params{K: 1}}, true},
		{"negative count", Config{Targets: []string{"a"}, Params: cluster.Params{K: -1}}, true},
		{"negative lambda", Config{Targets: []string{"a"}, Params: cluster.Params{K: 1, Lambda: -1}}, true},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			var err = tc.config.Validate()
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestRunPaxos_AllAnswered(t *testing.T) {
	var net = transport.NewMemory()
	var ctx, cancel = context.WithCancel(context.Background())
	defer cancel()

	var targets = []string{"replica-0", "replica-1", "replica-2"}
	for _, addr := range targets {
		go echoReplica(ctx, listen(t, net, addr), 1)
	}

	var config = Config{ID: 3, Targets: targets, Params: cluster.Params{K: 25, Lambda: 1}, Seed: 7}
	report, err := RunPaxos(ctx, config, listen(t, net, "client-3"), discardLogger())
	require.NoError(t, err)

	require.Equal(t, 25, report.Sent)
	require.Len(t, report.Results, 25)
	require.Empty(t, report.Missing())
	require.Zero(t, report.Duplicates)
	require.Contains(t, targets, report.Target)
	require.NotEmpty(t, report.RunID)

	// ops are random integers
	for _, result := range report.Results {
		require.True(t, result.OK())
		require.Regexp(t, `^[0-9]+$`, result.Value)
	}

	// the seed fixes the choice of target
	report2, err := RunPaxos(ctx, config, listen(t, net, "client-4"), discardLogger())
	require.NoError(t, err)
	require.Equal(t, report.Target, report2.Target)
	require.NotEqual(t, report.RunID, report2.RunID)
}

func TestRunPaxos_SendsToOneTarget(t *testing.T) {
	var net = transport.NewMemory()
	var replica = listen(t, net, "replica-0")

	var config = Config{ID: 5, Targets: []string{"replica-0"}, Params: cluster.Params{K: 4, Lambda: 0}, Linger: 50 * time.Millisecond}
	report, err := RunPaxos(context.Background(), config, listen(t, net, "client-5"), discardLogger())
	require.NoError(t, err)

	// nothing answered within the linger time
	require.Equal(t, []int{0, 1, 2, 3}, report.Missing())

	for opID := 0; opID < 4; opID++ {
		var pkt = <-replica.Packets()
		require.Equal(t, "client-5", pkt.From)

		msg, err := paxos.Decode(pkt.Data)
		require.NoError(t, err)
		require.Equal(t, paxos.Request, msg.Type)
		require.Equal(t, 5, msg.Command.ClientID)
		require.Equal(t, opID, msg.Command.OpID)
	}
}

func TestRunPaxos_CountsDuplicates(t *testing.T) {
	var net = transport.NewMemory()
	var ctx, cancel = context.WithCancel(context.Background())
	defer cancel()

	go echoReplica(ctx, listen(t, net, "replica-0"), 2)

	var config = Config{Targets: []string{"replica-0"}, Params: cluster.Params{K: 3, Lambda: 0}, Linger: 200 * time.Millisecond}
	report, err := RunPaxos(ctx, config, listen(t, net, "client-0"), discardLogger())
	require.NoError(t, err)
	require.Len(t, report.Results, 3)

	// the run ends with the third first answer, its duplicate may or may not have arrived
	require.GreaterOrEqual(t, report.Duplicates, 2)
}

func TestRun_NothingToSend(t *testing.T) {
	var net = transport.NewMemory()
	var config = Config{Targets: []string{"x"}, Params: cluster.Params{K: 0, Lambda: 10}}

	report, err := RunRaft(context.Background(), config, listen(t, net, "client-0"), discardLogger())
	require.NoError(t, err)
	require.Zero(t, report.Sent)
	require.Empty(t, report.Missing())
}

func TestRun_Cancelled(t *testing.T) {
	var net = transport.NewMemory()
	listen(t, net, "replica-0")

	var ctx, cancel = context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// a mean delay of one hour never gets past the first request
	var config = Config{Targets: []string{"replica-0"}, Params: cluster.Params{K: 10, Lambda: 3600 * 1000}}
	report, err := RunPaxos(ctx, config, listen(t, net, "client-0"), discardLogger())
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 1, report.Sent)
}

func TestRunRaft_AdvertisedAddress(t *testing.T) {
	var net = transport.NewMemory()
	var srv = listen(t, net, "raft-0")

	var config = Config{Targets: []string{"raft-0"}, Params: cluster.Params{K: 1}, Advertise: "10.0.0.9:10000", Linger: 20 * time.Millisecond}
	_, err := RunRaft(context.Background(), config, listen(t, net, "client-0"), discardLogger())
	require.NoError(t, err)

	var pkt = <-srv.Packets()
	msg, err := server.Decode(pkt.Data)
	require.NoError(t, err)
	require.Equal(t, server.Request, msg.Type)
	require.Equal(t, "10.0.0.9:10000", msg.Command.Client)
	require.Equal(t, 0, msg.Command.OpID)
}

func TestRunPaxos_AgainstCluster(t *testing.T) {
	var net = transport.NewMemory()
	var ctx, cancel = context.WithCancel(context.Background())

	var acceptors = []string{"acceptor-0", "acceptor-1", "acceptor-2"}
	var leaders = []string{"leader-0"}
	var replicas = []string{"replica-0", "replica-1"}

	var runs []func(context.Context) error
	for i, addr := range acceptors {
		runs = append(runs, paxos.NewAcceptor(i, cluster.PromisePerSlot, listen(t, net, addr), discardLogger()).Run)
	}
	for i, addr := range leaders {
		runs = append(runs, paxos.NewLeader(i, listen(t, net, addr), net, acceptors, replicas, discardLogger()).Run)
	}
	for i, addr := range replicas {
		runs = append(runs, paxos.NewReplica(i, listen(t, net, addr), leaders, discardLogger()).Run)
	}

	var done = make(chan error, len(runs))
	for _, run := range runs {
		go func(run func(context.Context) error) { done <- run(ctx) }(run)
	}
	defer func() {
		cancel()
		for range runs {
			<-done
		}
	}()

	var config = Config{ID: 0, Targets: replicas, Params: cluster.Params{K: 20, Lambda: 1}}
	report, err := RunPaxos(ctx, config, listen(t, net, "client-0"), discardLogger())
	require.NoError(t, err)
	require.Empty(t, report.Missing())
}

func TestRunRaft_AgainstCluster(t *testing.T) {
	var net = transport.NewMemory()
	var ctx, cancel = context.WithCancel(context.Background())

	var peers []string
	for i := 0; i < 3; i++ {
		peers = append(peers, fmt.Sprintf("raft-%d", i))
	}

	var servers []*server.Server
	for i, addr := range peers {
		var config = &server.Config{
			ID:                 i,
			Peers:              peers,
			ElectionTimeoutMin: 150 * time.Millisecond,
			ElectionTimeoutMax: 300 * time.Millisecond,
			HeartbeatInterval:  50 * time.Millisecond,
		}
		srv, err := server.NewServer(config, listen(t, net, addr), discardLogger())
		require.NoError(t, err)
		servers = append(servers, srv)
	}

	var done = make(chan error, len(servers))
	for _, srv := range servers {
		go func(s *server.Server) { done <- s.Run(ctx) }(srv)
	}
	defer func() {
		cancel()
		for range servers {
			<-done
		}
	}()

	// requests sent before anyone leads wait in the servers, but a request taken by a
	// leader that loses its first election would be lost with it
	require.Eventually(t, func() bool {
		for _, srv := range servers {
			status, err := srv.Status(ctx)
			if err == nil && status.IsLeader {
				return true
			}
		}
		return false
	}, 3*time.Second, 10*time.Millisecond)

	var config = Config{ID: 0, Targets: peers, Params: cluster.Params{K: 20, Lambda: 1}, Linger: 3 * time.Second}
	report, err := RunRaft(ctx, config, listen(t, net, "client-0"), discardLogger())
	require.NoError(t, err)
	require.Empty(t, report.Missing())
	require.Zero(t, report.Duplicates)
}
