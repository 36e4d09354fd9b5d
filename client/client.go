// Package client generates the request workload for either protocol: K operations sent to
// one randomly chosen replica or server, spaced by exponentially distributed delays.
package client

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/Abhay478/paxos-v-raft/cluster"
	"github.com/Abhay478/paxos-v-raft/paxos"
	"github.com/Abhay478/paxos-v-raft/raft-server"
	"github.com/Abhay478/paxos-v-raft/state-machine"
	"github.com/Abhay478/paxos-v-raft/transport"
)

// DefaultLinger is how long a client keeps listening for responses after its last request
const DefaultLinger = 2 * time.Second

type Config struct {
	ID int

	// Targets are the replicas (Paxos) or servers (Raft) to pick from
	Targets []string

	Params cluster.Params

	// Advertise is the reply address put into Raft commands, the local address of the
	// endpoint when empty
	Advertise string

	// Linger bounds the wait for outstanding responses, DefaultLinger when zero
	Linger time.Duration

	// Seed makes the target choice, the operations and the delays reproducible, 0 picks one
	Seed int64
}

func (c *Config) Validate() error {
	if len(c.Targets) == 0 {
		return fmt.Errorf("no targets to send requests to")
	}
	if c.Params.K < 0 || c.Params.Lambda < 0 {
		return fmt.Errorf("invalid params: %+v", c.Params)
	}
	return nil
}

// Report summarizes one client run
type Report struct {
	RunID  string
	Target string
	Sent   int

	// Results holds the first response received for every op id
	Results map[int]state_machine.Result

	// Duplicates counts responses beyond the first one of an op id, a command decided at
	// several slots is answered once per slot
	Duplicates int
}

// Missing lists the op ids nobody answered
func (r Report) Missing() []int {
	var res []int
	for opID := 0; opID < r.Sent; opID++ {
		if _, ok := r.Results[opID]; !ok {
			res = append(res, opID)
		}
	}
	return res
}

// codec is what differs between the two protocols
type codec interface {
	request(opID int, op string) ([]byte, error)

	// response extracts the answer from a datagram, ok=false for anything else
	response(data []byte) (opID int, result state_machine.Result, ok bool)
}

type paxosCodec struct {
	clientID int
}

func (c paxosCodec) request(opID int, op string) ([]byte, error) {
	return paxos.Encode(paxos.NewRequest(paxos.Command{ClientID: c.clientID, OpID: opID, Op: op}))
}

func (c paxosCodec) response(data []byte) (int, state_machine.Result, bool) {
	var msg, err = paxos.Decode(data)
	if err != nil || msg.Type != paxos.Response {
		return 0, state_machine.Result{}, false
	}
	return msg.OpID, *msg.Result, true
}

type raftCodec struct {
	advertise string
}

func (c raftCodec) request(opID int, op string) ([]byte, error) {
	return server.Encode(server.NewRequest(server.Command{Client: c.advertise, OpID: opID, Op: op}))
}

func (c raftCodec) response(data []byte) (int, state_machine.Result, bool) {
	var msg, err = server.Decode(data)
	if err != nil || msg.Type != server.Response {
		return 0, state_machine.Result{}, false
	}
	return msg.Command.OpID, *msg.Result, true
}

// RunPaxos drives the workload against Paxos replicas
func RunPaxos(ctx context.Context, config Config, conn transport.Conn, logger *log.Logger) (Report, error) {
	return run(ctx, config, conn, paxosCodec{clientID: config.ID}, logger)
}

// RunRaft drives the workload against Raft servers. Every command names the client's
// reply address so the leader can answer it directly.
func RunRaft(ctx context.Context, config Config, conn transport.Conn, logger *log.Logger) (Report, error) {
	var advertise = config.Advertise
	if advertise == "" {
		advertise = conn.LocalAddr()
	}
	return run(ctx, config, conn, raftCodec{advertise: advertise}, logger)
}

func run(ctx context.Context, config Config, conn transport.Conn, c codec, logger *log.Logger) (Report, error) {
	if err := config.Validate(); err != nil {
		return Report{}, fmt.Errorf("invalid configuration: %w", err)
	}

	var seed = config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano() + int64(config.ID)
	}
	var rng = rand.New(rand.NewSource(seed))

	var linger = config.Linger
	if linger <= 0 {
		linger = DefaultLinger
	}

	var report = Report{
		RunID:   uuid.NewString(),
		Target:  config.Targets[rng.Intn(len(config.Targets))],
		Results: make(map[int]state_machine.Result),
	}
	logger.Printf("run %s: sending %d requests to %s", report.RunID, config.Params.K, report.Target)

	if config.Params.K == 0 {
		return report, nil
	}

	var next = time.NewTimer(0)
	defer next.Stop()

	// armed once the last request went out
	var done <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return report, ctx.Err()

		case <-next.C:
			var op = strconv.FormatUint(rng.Uint64(), 10)
			var data, err = c.request(report.Sent, op)
			if err != nil {
				return report, err
			}

			if err = conn.Send(report.Target, data); err != nil {
				logger.Printf("request %d: %v", report.Sent, err)
			}
			report.Sent++

			if report.Sent < config.Params.K {
				next.Reset(config.Params.Delay(rng))
			} else {
				done = time.After(linger)
			}

		case <-done:
			if missing := report.Missing(); len(missing) > 0 {
				logger.Printf("run %s: %d requests unanswered", report.RunID, len(missing))
			}
			return report, nil

		case pkt, ok := <-conn.Packets():
			if !ok {
				return report, transport.ErrClosed
			}

			var opID, result, isResponse = c.response(pkt.Data)
			if !isResponse || opID < 0 || opID >= report.Sent {
				logger.Printf("unexpected datagram from %s: %q", pkt.From, pkt.Data)
				continue
			}

			if _, seen := report.Results[opID]; seen {
				report.Duplicates++
			} else {
				report.Results[opID] = result
			}

			if report.Sent == config.Params.K && len(report.Results) >= report.Sent {
				logger.Printf("run %s: every request answered", report.RunID)
				return report, nil
			}
		}
	}
}
