package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/Abhay478/paxos-v-raft/client"
	"github.com/Abhay478/paxos-v-raft/cluster"
	"github.com/Abhay478/paxos-v-raft/paxos"
	"github.com/Abhay478/paxos-v-raft/transport"
)

func (a *app) runAcceptor(ctx context.Context, id int) error {
	var logger = newLogger(cluster.Acceptor, id)

	conn, err := a.listen(cluster.Acceptor, id)
	if err != nil {
		return err
	}
	defer conn.Close()

	var acceptor = paxos.NewAcceptor(id, a.dir.Config().Paxos.PromiseMode, conn, logger)

	var stopStatus = a.serveStatus(cluster.Acceptor, id, paxos.NewAcceptorHandler(acceptor).RegisterHandlers, logger)
	defer stopStatus()

	return acceptor.Run(ctx)
}

func (a *app) runLeader(ctx context.Context, id int) error {
	var logger = newLogger(cluster.Leader, id)

	acceptors, err := a.dir.All(cluster.Acceptor)
	if err != nil {
		return err
	}
	replicas, err := a.dir.All(cluster.Replica)
	if err != nil {
		return err
	}

	conn, err := a.listen(cluster.Leader, id)
	if err != nil {
		return err
	}
	defer conn.Close()

	var leader = paxos.NewLeader(id, conn, a.network(), acceptors, replicas, logger)
	leader.SetPreemptBackoff(a.dir.Config().Paxos.PreemptBackoff)

	var stopStatus = a.serveStatus(cluster.Leader, id, paxos.NewLeaderHandler(leader).RegisterHandlers, logger)
	defer stopStatus()

	return leader.Run(ctx)
}

func (a *app) runReplica(ctx context.Context, id int) error {
	var logger = newLogger(cluster.Replica, id)

	leaders, err := a.dir.All(cluster.Leader)
	if err != nil {
		return err
	}

	conn, err := a.listen(cluster.Replica, id)
	if err != nil {
		return err
	}
	defer conn.Close()

	var replica = paxos.NewReplica(id, conn, leaders, logger)

	var stopStatus = a.serveStatus(cluster.Replica, id, paxos.NewReplicaHandler(replica).RegisterHandlers, logger)
	defer stopStatus()

	return replica.Run(ctx)
}

func (a *app) runPaxosClient(ctx context.Context, id int) error {
	var logger = newLogger(cluster.PaxosClient, id)

	replicas, err := a.dir.All(cluster.Replica)
	if err != nil {
		return err
	}

	conn, err := a.listen(cluster.PaxosClient, id)
	if err != nil {
		return err
	}
	defer conn.Close()

	report, err := client.RunPaxos(ctx, client.Config{ID: id, Targets: replicas, Params: a.params}, conn, logger)
	printReport(report)
	return err
}

// runPaxosLocal starts every acceptor, leader and replica of the directory in this
// process, runs one client against them and prints what the replicas decided
func (a *app) runPaxosLocal(ctx context.Context) error {
	var logger = newLogger(cluster.PaxosClient, 0)

	var network transport.Network = a.network()
	if a.inMemory {
		network = transport.NewMemory()
	}

	acceptorAddrs, err := a.dir.All(cluster.Acceptor)
	if err != nil {
		return err
	}
	leaderAddrs, err := a.dir.All(cluster.Leader)
	if err != nil {
		return err
	}
	replicaAddrs, err := a.dir.All(cluster.Replica)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	var conns []transport.Conn
	defer func() {
		cancel()
		wg.Wait()
		for _, conn := range conns {
			_ = conn.Close()
		}
	}()

	var start = func(role cluster.Role, id int, run func(ctx context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := run(ctx); err != nil && ctx.Err() == nil {
				log.Printf("%s %d stopped: %v", role, id, err)
			}
		}()
	}

	var listen = func(role cluster.Role, id int) (transport.Conn, error) {
		if a.inMemory {
			addr, err := a.dir.Address(role, id)
			if err != nil {
				return nil, err
			}
			return network.Listen(addr)
		}
		return a.listen(role, id)
	}

	for id := range acceptorAddrs {
		conn, err := listen(cluster.Acceptor, id)
		if err != nil {
			return err
		}
		conns = append(conns, conn)
		start(cluster.Acceptor, id, paxos.NewAcceptor(id, a.dir.Config().Paxos.PromiseMode, conn, newLogger(cluster.Acceptor, id)).Run)
	}

	for id := range leaderAddrs {
		conn, err := listen(cluster.Leader, id)
		if err != nil {
			return err
		}
		conns = append(conns, conn)

		var leader = paxos.NewLeader(id, conn, network, acceptorAddrs, replicaAddrs, newLogger(cluster.Leader, id))
		leader.SetPreemptBackoff(a.dir.Config().Paxos.PreemptBackoff)
		start(cluster.Leader, id, leader.Run)
	}

	var replicas []*paxos.Replica
	for id := range replicaAddrs {
		conn, err := listen(cluster.Replica, id)
		if err != nil {
			return err
		}
		conns = append(conns, conn)

		var replica = paxos.NewReplica(id, conn, leaderAddrs, newLogger(cluster.Replica, id))
		replicas = append(replicas, replica)
		start(cluster.Replica, id, replica.Run)
	}

	clientConn, err := listen(cluster.PaxosClient, 0)
	if err != nil {
		return err
	}
	conns = append(conns, clientConn)

	report, err := client.RunPaxos(ctx, client.Config{ID: 0, Targets: replicaAddrs, Params: a.params}, clientConn, logger)
	printReport(report)
	if err != nil {
		return err
	}

	for _, replica := range replicas {
		statusCtx, statusCancel := context.WithTimeout(ctx, time.Second)
		status, err := replica.Status(statusCtx)
		statusCancel()
		if err != nil {
			return err
		}
		printJSON(status)
	}

	return nil
}

func printReport(report client.Report) {
	fmt.Printf("run %s: %d sent to %s, %d answered, %d duplicate answers\n",
		report.RunID, report.Sent, report.Target, len(report.Results), report.Duplicates)
	if missing := report.Missing(); len(missing) > 0 {
		fmt.Printf("unanswered op ids: %v\n", missing)
	}
}

func printJSON(v any) {
	var enc = json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Printf("failed to print status: %v", err)
	}
}
