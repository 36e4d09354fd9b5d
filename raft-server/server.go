// Package server implements a Raft server: a single event loop owns the role, the log,
// the election and heartbeat timers and the replication progress of every peer.
package server

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/Abhay478/paxos-v-raft/state-machine"
	"github.com/Abhay478/paxos-v-raft/transport"
)

type Server struct {
	ID     int
	config *Config

	persistentState persistentState
	volatileState   volatileState
	leaderState     leaderState    // only used when state == Leader
	candidateState  candidateState // only used when state == Candidate

	// current state
	state State

	// leaderID is the leader learned from the last accepted heartbeat, noVote if unknown
	leaderID int

	// pending holds requests received while no leader was known
	pending []Command

	sm state_machine.State

	electionTimer   *time.Timer  // timer that triggers election if no heartbeat received
	heartbeatTicker *time.Ticker // ticker that sends periodic heartbeats while leader

	conn   transport.Conn
	client *raftClient
	rng    *rand.Rand
	logger *log.Logger

	// statusCh runs read-only queries inside the event loop
	statusCh chan func()
}

func NewServer(config *Config, conn transport.Conn, logger *log.Logger) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	server := &Server{
		ID:     config.ID,
		config: config,
		state:  Follower,
		persistentState: persistentState{
			votedFor: noVote,
			log:      newLog(),
		},
		leaderState: leaderState{
			nextIndex:  make(map[int]int),
			matchIndex: make(map[int]int),
		},
		leaderID: noVote,
		conn:     conn,
		client: &raftClient{
			id:     config.ID,
			peers:  config.Peers,
			conn:   conn,
			logger: logger,
		},
		rng:      rand.New(rand.NewSource(time.Now().UnixNano() + int64(config.ID))),
		logger:   logger,
		statusCh: make(chan func()),
	}

	return server, nil
}

// Run is the main cycle of the server, it waits for events and handles them one at a time
// until ctx is done. Nothing else touches the server state.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Printf("started on %s", s.conn.LocalAddr())

	// leaders don't hold elections, they just ignore the timer
	s.resetElectionTimer()
	s.heartbeatTicker = time.NewTicker(s.config.HeartbeatInterval)

	defer func() {
		s.electionTimer.Stop()
		s.heartbeatTicker.Stop()
	}()

	for {
		select {
		case <-ctx.Done():
			s.logger.Printf("shutdown")
			return ctx.Err()

		case fn := <-s.statusCh:
			fn()

		case <-s.electionTimer.C:
			if s.state != Leader {
				s.campaign()
			}

		case <-s.heartbeatTicker.C:
			if s.state == Leader {
				s.decree()
			}

		case pkt, ok := <-s.conn.Packets():
			if !ok {
				return transport.ErrClosed
			}
			s.handle(pkt)
		}
	}
}

// handle dispatches one datagram. Undecodable payloads are dropped.
func (s *Server) handle(pkt transport.Packet) {
	var msg, err = Decode(pkt.Data)
	if err != nil {
		s.logger.Printf("dropping undecodable payload from %s: %v", pkt.From, err)
		return
	}

	switch msg.Type {
	case Request:
		s.handleRequest(*msg.Command)
	case Heartbeat:
		s.handleHeartbeat(pkt.From, *msg.Replicate)
	case Campaign:
		s.handleCampaign(pkt.From, *msg.Campaign)
	case ServerReply:
		s.handleReply(*msg.Reply)
	case Response:
		// the leader answers clients directly, a server is never the target of a response
		panic(fmt.Errorf("%w: server %d received %s from %s", ErrProtocolViolation, s.ID, msg.Type, pkt.From))
	}
}

// Submit hands an operation to the server as if a client without a reply address sent it
func (s *Server) Submit(ctx context.Context, op string) error {
	var done = make(chan struct{})
	var fn = func() {
		s.handleRequest(Command{Op: op})
		close(done)
	}

	select {
	case s.statusCh <- fn:
		<-done
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// becomeFollower adopts term, forgetting the vote when the term moves forward
func (s *Server) becomeFollower(term int) {
	if term > s.persistentState.currentTerm {
		s.persistentState.currentTerm = term
		s.persistentState.votedFor = noVote
		s.leaderID = noVote
	}

	if s.state != Follower {
		s.logger.Printf("term %d: %s -> Follower", s.persistentState.currentTerm, s.state)
	}

	var wasLeader = s.state == Leader
	s.state = Follower

	// a demoted leader has no election timer running
	if wasLeader {
		s.resetElectionTimer()
	}
}

// advanceCommitIndex moves commitIndex to the highest entry of the current term stored on
// a strict majority of the servers, counting the leader itself
func (s *Server) advanceCommitIndex() {
	if s.state != Leader {
		return
	}

	for n := s.lastLogIndex(); n > s.volatileState.commitIndex; n-- {
		// entries of older terms are only committed indirectly
		if s.persistentState.log[n].Term != s.persistentState.currentTerm {
			break
		}

		var count = 1
		for id, match := range s.leaderState.matchIndex {
			if id != s.ID && match >= n {
				count++
			}
		}

		if majority(count, len(s.config.Peers)) {
			s.volatileState.commitIndex = n
			break
		}
	}

	if s.volatileState.commitIndex > s.volatileState.lastApplied {
		s.perform()
	}
}

// perform applies the committed entries the state machine hasn't seen yet. The leader
// answers the client of each command.
func (s *Server) perform() {
	for i := s.volatileState.lastApplied + 1; i <= s.volatileState.commitIndex; i++ {
		var cmd = s.persistentState.log[i].Command
		if cmd == nil {
			continue
		}

		var next, result = state_machine.Apply(s.sm, cmd.Op)
		s.sm = next

		if s.state == Leader && cmd.Client != "" {
			s.client.send(cmd.Client, NewResponse(*cmd, result))
		}
	}

	s.volatileState.lastApplied = s.volatileState.commitIndex
}

// majority reports whether votes out of n is a strict majority
func majority(votes, n int) bool {
	return votes*2 > n
}

// Status is a snapshot of a server
type Status struct {
	ID          int    `json:"id"`
	Term        int    `json:"term"`
	IsLeader    bool   `json:"isLeader"`
	State       string `json:"state"`
	Leader      int    `json:"leader"`
	CommitIndex int    `json:"commitIndex"`
	LastApplied int    `json:"lastApplied"`
	LogLength   int    `json:"logLength"`

	Machine state_machine.State `json:"machine"`
}

func (s *Server) snapshot() Status {
	var data = make(map[string]string, len(s.sm.Data))
	for k, v := range s.sm.Data {
		data[k] = v
	}

	var machine = s.sm
	machine.Data = data

	return Status{
		ID:          s.ID,
		Term:        s.persistentState.currentTerm,
		IsLeader:    s.state == Leader,
		State:       s.state.String(),
		Leader:      s.leaderID,
		CommitIndex: s.volatileState.commitIndex,
		LastApplied: s.volatileState.lastApplied,
		LogLength:   len(s.persistentState.log),
		Machine:     machine,
	}
}

// Status reads the server state from inside the event loop
func (s *Server) Status(ctx context.Context) (Status, error) {
	var res = make(chan Status, 1)

	select {
	case s.statusCh <- func() { res <- s.snapshot() }:
		return <-res, nil
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}

// Entries returns a copy of the log without the sentinel, committed or not
func (s *Server) Entries(ctx context.Context) ([]Entry, error) {
	var res = make(chan []Entry, 1)
	var fn = func() {
		var entries = make([]Entry, 0, s.lastLogIndex())
		for i := 1; i < len(s.persistentState.log); i++ {
			entries = append(entries, Entry{Index: i, Log: s.persistentState.log[i]})
		}
		res <- entries
	}

	select {
	case s.statusCh <- fn:
		return <-res, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
