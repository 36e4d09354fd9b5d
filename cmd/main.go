package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Abhay478/paxos-v-raft/cluster"
	"github.com/Abhay478/paxos-v-raft/paxos"
	"github.com/Abhay478/paxos-v-raft/transport"
)

const usage = `usage: paxos-v-raft [flags] <command> [args]

commands:
  acceptor <id>         run a Paxos acceptor
  leader <id>           run a Paxos leader
  replica <id>          run a Paxos replica
  raft <id>             run a Raft server
  paxos-client <id>     send the workload to a random Paxos replica
  raft-client <id>      send the workload to a random Raft server
  paxos-local           run a whole Paxos cluster and one client in this process
  raft-local            run a whole Raft cluster and one client in this process
  terminate <role> <id> stop a Paxos acceptor, leader or replica

flags:
`

type app struct {
	dir    *cluster.Directory
	params cluster.Params

	// inMemory runs the local clusters on an in-process network
	inMemory bool
}

func main() {
	var (
		configPath = flag.String("config", "", "Cluster configuration file (YAML), defaults when empty")
		paramsPath = flag.String("params", "", "Workload parameters file holding \"k lambda\"")
		inMemory   = flag.Bool("mem", false, "Run paxos-local and raft-local on an in-process network instead of UDP")
	)

	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	config, err := cluster.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	params, err := cluster.LoadParams(*paramsPath)
	if err != nil {
		log.Fatalf("Failed to load params: %v", err)
	}

	var a = &app{dir: cluster.NewDirectory(config), params: params, inMemory: *inMemory}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err = a.dispatch(ctx, flag.Args()); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal(err)
	}
}

func (a *app) dispatch(ctx context.Context, args []string) error {
	var command, rest = args[0], args[1:]

	switch command {
	case "paxos-local":
		return a.runPaxosLocal(ctx)
	case "raft-local":
		return a.runRaftLocal(ctx)
	case "terminate":
		if len(rest) != 2 {
			return fmt.Errorf("usage: terminate <role> <id>")
		}
		id, err := parseID(rest[1])
		if err != nil {
			return err
		}
		return a.terminate(cluster.Role(rest[0]), id)
	}

	if len(rest) != 1 {
		return fmt.Errorf("usage: %s <id>", command)
	}
	id, err := parseID(rest[0])
	if err != nil {
		return err
	}

	switch cluster.Role(command) {
	case cluster.Acceptor:
		return a.runAcceptor(ctx, id)
	case cluster.Leader:
		return a.runLeader(ctx, id)
	case cluster.Replica:
		return a.runReplica(ctx, id)
	case cluster.Raft:
		return a.runRaft(ctx, id)
	case cluster.PaxosClient:
		return a.runPaxosClient(ctx, id)
	case cluster.RaftClient:
		return a.runRaftClient(ctx, id)
	}

	return fmt.Errorf("%w: %q", cluster.ErrUnknownRole, command)
}

func parseID(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func newLogger(role cluster.Role, id int) *log.Logger {
	return log.New(os.Stderr, fmt.Sprintf("[%s %d] ", role, id), log.LstdFlags|log.Lmicroseconds)
}

// network is where agents open their ephemeral endpoints, on every interface so that
// peers on other hosts can answer them
func (a *app) network() transport.Network {
	return transport.UDP{Host: "0.0.0.0"}
}

// listen binds the endpoint of one process at its directory port
func (a *app) listen(role cluster.Role, id int) (transport.Conn, error) {
	addr, err := a.dir.BindAddress(role, id)
	if err != nil {
		return nil, err
	}
	return a.network().Listen(addr)
}

// serveStatus starts the status endpoint of a process when the configuration enables it.
// The returned function shuts it down.
func (a *app) serveStatus(role cluster.Role, id int, register func(mux *http.ServeMux), logger *log.Logger) func() {
	var addr = a.dir.StatusAddress(role, id)
	if addr == "" {
		return func() {}
	}

	mux := http.NewServeMux()
	register(mux)

	httpServer := &http.Server{Addr: addr, Handler: mux}

	go func() {
		logger.Printf("status endpoint listening on %s", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("status endpoint: %v", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctx)
	}
}

func (a *app) terminate(role cluster.Role, id int) error {
	switch role {
	case cluster.Acceptor, cluster.Leader, cluster.Replica:
	default:
		return fmt.Errorf("only Paxos processes can be terminated, got %q", role)
	}

	addr, err := a.dir.Address(role, id)
	if err != nil {
		return err
	}

	conn, err := a.network().Listen("")
	if err != nil {
		return err
	}
	defer conn.Close()

	data, err := paxos.Encode(paxos.NewTerminate())
	if err != nil {
		return err
	}

	if err = conn.Send(addr, data); err != nil {
		return err
	}

	log.Printf("Terminate sent to %s %d at %s", role, id, addr)
	return nil
}
