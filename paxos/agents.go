package paxos

import (
	"context"
	"log"

	"github.com/Abhay478/paxos-v-raft/transport"
)

type OutcomeKind int

const (
	Adopted OutcomeKind = iota
	Preempted
	Committed
)

func (k OutcomeKind) String() string {
	switch k {
	case Adopted:
		return "Adopted"
	case Preempted:
		return "Preempted"
	case Committed:
		return "Committed"
	}
	return "INVALID"
}

// Outcome is what a scout or a commander reports back to its leader
type Outcome struct {
	Kind OutcomeKind

	// Adopted: the adopted ballot. Preempted: the higher ballot seen.
	// Committed: the ballot of the decided proposal.
	Ballot Ballot

	// Adopted only, the proposals reported by the majority grouped by slot
	PValues map[int][]Proposal

	// Committed only, the decided slot and its command
	Slot    int
	Command Command
}

func report(ctx context.Context, outcomes chan<- Outcome, o Outcome) {
	select {
	case outcomes <- o:
	case <-ctx.Done():
	}
}

// phase1 is what a scout needs for one round: the ballot to get adopted and the lowest
// slot the leader does not know to be decided
type phase1 struct {
	Ballot  Ballot
	LowSlot int
}

// scout runs phase 1 for its leader. It idles until a round arrives on rounds, and
// a newer round restarts the one in progress.
type scout struct {
	leaderID  int
	acceptors []string

	conn     transport.Conn
	rounds   <-chan phase1
	outcomes chan<- Outcome
	logger   *log.Logger
}

func (s *scout) run(ctx context.Context) {
	defer s.conn.Close()

	for {
		var req phase1
		select {
		case <-ctx.Done():
			return
		case req = <-s.rounds:
		}

	round:
		for {
			var outcome, restart, ok = s.round(ctx, req)
			switch {
			case !ok:
				return
			case restart != nil:
				req = *restart
				continue round
			default:
				report(ctx, s.outcomes, outcome)
				break round
			}
		}
	}
}

// round collects promises for one ballot. It returns the outcome, or the round to restart
// with when the leader moved on, or ok=false when the scout must stop.
func (s *scout) round(ctx context.Context, req phase1) (outcome Outcome, restart *phase1, ok bool) {
	var ballot = req.Ballot
	broadcast(s.conn, s.acceptors, NewPhase1a(s.leaderID, ballot, req.LowSlot), s.logger)

	var promised = make(map[int]bool)
	var pvals = make(map[int][]Proposal)

	// parts received of the promises that came split
	var parts = make(map[int]map[int]bool)

	for {
		select {
		case <-ctx.Done():
			return Outcome{}, nil, false

		case next := <-s.rounds:
			return Outcome{}, &next, true

		case pkt, open := <-s.conn.Packets():
			if !open {
				return Outcome{}, nil, false
			}

			var msg, err = Decode(pkt.Data)
			if err != nil || msg.Type != Phase1b {
				continue
			}

			switch msg.Ballot.Compare(ballot) {
			case 1:
				// an acceptor has promised a higher ballot, this round is lost
				return Outcome{Kind: Preempted, Ballot: msg.Ballot}, nil, true
			case -1:
				// reply to an older round
				continue
			}

			if msg.AcceptorID < 0 || msg.AcceptorID >= len(s.acceptors) || promised[msg.AcceptorID] {
				continue
			}

			var total = max(msg.Parts, 1)
			if msg.Part < 0 || msg.Part >= total {
				continue
			}

			var got = parts[msg.AcceptorID]
			if got == nil {
				got = make(map[int]bool, total)
				parts[msg.AcceptorID] = got
			}
			if got[msg.Part] {
				continue
			}
			got[msg.Part] = true

			for _, p := range msg.Accepted {
				pvals[p.Slot] = append(pvals[p.Slot], p)
			}

			// a split promise counts once all of it arrived
			if len(got) < total {
				continue
			}
			promised[msg.AcceptorID] = true

			if majority(len(promised), len(s.acceptors)) {
				return Outcome{Kind: Adopted, Ballot: ballot, PValues: pvals}, nil, true
			}
		}
	}
}

// commander runs phase 2 for a single proposal and announces the decision to the replicas
type commander struct {
	leaderID  int
	proposal  Proposal
	acceptors []string
	replicas  []string

	conn     transport.Conn
	outcomes chan<- Outcome
	logger   *log.Logger
}

func (c *commander) run(ctx context.Context) {
	defer c.conn.Close()

	broadcast(c.conn, c.acceptors, NewPhase2a(c.leaderID, c.proposal), c.logger)

	var accepted = make(map[int]bool)

	for {
		select {
		case <-ctx.Done():
			return

		case pkt, open := <-c.conn.Packets():
			if !open {
				return
			}

			var msg, err = Decode(pkt.Data)
			if err != nil || msg.Type != Phase2b {
				continue
			}

			switch msg.Ballot.Compare(c.proposal.Ballot) {
			case 1:
				report(ctx, c.outcomes, Outcome{Kind: Preempted, Ballot: msg.Ballot})
				return
			case -1:
				// the acceptor has not promised our ballot yet and refused the proposal.
				// Nobody is ahead of us, so this is no preemption, and a later reply of
				// the same acceptor can still count.
				continue
			}

			if msg.AcceptorID < 0 || msg.AcceptorID >= len(c.acceptors) || accepted[msg.AcceptorID] {
				continue
			}
			accepted[msg.AcceptorID] = true

			if majority(len(accepted), len(c.acceptors)) {
				broadcast(c.conn, c.replicas, NewDecision(c.proposal.Slot, c.proposal.Command), c.logger)
				report(ctx, c.outcomes, Outcome{
					Kind:    Committed,
					Ballot:  c.proposal.Ballot,
					Slot:    c.proposal.Slot,
					Command: c.proposal.Command,
				})
				return
			}
		}
	}
}
