package main

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Abhay478/paxos-v-raft/client"
	"github.com/Abhay478/paxos-v-raft/cluster"
	"github.com/Abhay478/paxos-v-raft/raft-server"
	"github.com/Abhay478/paxos-v-raft/transport"
)

func (a *app) runRaft(ctx context.Context, id int) error {
	var logger = newLogger(cluster.Raft, id)

	config, err := server.NewConfig(a.dir, id)
	if err != nil {
		return err
	}

	conn, err := a.listen(cluster.Raft, id)
	if err != nil {
		return err
	}
	defer conn.Close()

	srv, err := server.NewServer(config, conn, logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	var stopStatus = a.serveStatus(cluster.Raft, id, server.NewHTTPHandler(srv).RegisterHandlers, logger)
	defer stopStatus()

	return srv.Run(ctx)
}

func (a *app) runRaftClient(ctx context.Context, id int) error {
	var logger = newLogger(cluster.RaftClient, id)

	servers, err := a.dir.All(cluster.Raft)
	if err != nil {
		return err
	}

	// servers answer at the directory address, the socket may be bound to every interface
	advertise, err := a.dir.Address(cluster.RaftClient, id)
	if err != nil {
		return err
	}

	conn, err := a.listen(cluster.RaftClient, id)
	if err != nil {
		return err
	}
	defer conn.Close()

	var config = client.Config{ID: id, Targets: servers, Params: a.params, Advertise: advertise}
	report, err := client.RunRaft(ctx, config, conn, logger)
	printReport(report)
	return err
}

// runRaftLocal starts every server of the directory in this process, waits for a leader,
// runs one client against them and prints the status of every server
func (a *app) runRaftLocal(ctx context.Context) error {
	var logger = newLogger(cluster.RaftClient, 0)

	var memory *transport.Memory
	if a.inMemory {
		memory = transport.NewMemory()
	}

	var listen = func(role cluster.Role, id int) (transport.Conn, error) {
		if memory != nil {
			addr, err := a.dir.Address(role, id)
			if err != nil {
				return nil, err
			}
			return memory.Listen(addr)
		}
		return a.listen(role, id)
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

	peers, err := a.dir.All(cluster.Raft)
	if err != nil {
		return err
	}

	var servers []*server.Server
	for id := range peers {
		config, err := server.NewConfig(a.dir, id)
		if err != nil {
			return err
		}

		conn, err := listen(cluster.Raft, id)
		if err != nil {
			return err
		}
		conns = append(conns, conn)

		srv, err := server.NewServer(config, conn, newLogger(cluster.Raft, id))
		if err != nil {
			return err
		}
		servers = append(servers, srv)

		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
				log.Printf("raft %d stopped: %v", id, err)
			}
		}(id)
	}

	leader, err := waitForLeader(ctx, servers, 10*time.Second)
	if err != nil {
		return err
	}
	logger.Printf("server %d leads", leader)

	conn, err := listen(cluster.RaftClient, 0)
	if err != nil {
		return err
	}
	conns = append(conns, conn)

	advertise, err := a.dir.Address(cluster.RaftClient, 0)
	if err != nil {
		return err
	}

	var config = client.Config{Targets: peers, Params: a.params, Advertise: advertise}
	report, err := client.RunRaft(ctx, config, conn, logger)
	printReport(report)
	if err != nil {
		return err
	}

	for _, srv := range servers {
		statusCtx, statusCancel := context.WithTimeout(ctx, time.Second)
		status, err := srv.Status(statusCtx)
		statusCancel()
		if err != nil {
			return err
		}
		printJSON(status)
	}

	return nil
}

func waitForLeader(ctx context.Context, servers []*server.Server, timeout time.Duration) (int, error) {
	var deadline = time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		for _, srv := range servers {
			status, err := srv.Status(ctx)
			if err != nil {
				return -1, err
			}
			if status.IsLeader {
				return status.ID, nil
			}
		}

		select {
		case <-ctx.Done():
			return -1, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}

	return -1, fmt.Errorf("no leader elected within %s", timeout)
}
