package paxos

import (
	"context"
	"fmt"
	"log"
	"sort"

	"github.com/Abhay478/paxos-v-raft/cluster"
	"github.com/Abhay478/paxos-v-raft/transport"
)

// Acceptor is the memory of the protocol: one ballot and every proposal it ever accepted.
// All state is owned by the goroutine running Run.
type Acceptor struct {
	id   int
	mode cluster.PromiseMode

	ballot   Ballot
	accepted []Proposal

	conn     transport.Conn
	logger   *log.Logger
	statusCh chan func()
}

func NewAcceptor(id int, mode cluster.PromiseMode, conn transport.Conn, logger *log.Logger) *Acceptor {
	if mode == "" {
		mode = cluster.PromisePerSlot
	}

	return &Acceptor{
		id:       id,
		mode:     mode,
		conn:     conn,
		logger:   logger,
		statusCh: make(chan func()),
	}
}

// Run answers requests until ctx is done, a Terminate arrives or the endpoint closes
func (a *Acceptor) Run(ctx context.Context) error {
	a.logger.Printf("acceptor started on %s", a.conn.LocalAddr())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case fn := <-a.statusCh:
			fn()

		case pkt, ok := <-a.conn.Packets():
			if !ok {
				return transport.ErrClosed
			}

			if isInvalidReply(pkt.Data) {
				continue
			}

			var msg, err = Decode(pkt.Data)
			if err != nil {
				a.logger.Printf("undecodable payload from %s: %v", pkt.From, err)
				_ = a.conn.Send(pkt.From, []byte(InvalidMessage))
				continue
			}

			if msg.Type == Terminate {
				a.logger.Printf("terminated")
				return nil
			}

			if err = a.reply(pkt.From, a.Handle(msg)); err != nil {
				a.logger.Printf("reply: %v", err)
			}
		}
	}
}

// reply sends a promise in as many parts as it takes to fit the datagrams
func (a *Acceptor) reply(to string, msg Msg) error {
	if msg.Type != Phase1b {
		return send(a.conn, to, msg)
	}

	var parts, err = splitPromise(msg, promisePart)
	if err != nil {
		return err
	}

	for _, part := range parts {
		if err = send(a.conn, to, part); err != nil {
			return err
		}
	}
	return nil
}

// Handle answers a Phase1a or a Phase2a. Any other message panics.
func (a *Acceptor) Handle(msg Msg) Msg {
	switch msg.Type {
	case Phase1a:
		return a.promise(msg.Ballot, msg.LowSlot)
	case Phase2a:
		return a.accept(msg.LeaderID, *msg.Proposal)
	}

	panic(fmt.Errorf("%w: acceptor %d received %s", ErrProtocolViolation, a.id, msg.Type))
}

func (a *Acceptor) promise(ballot Ballot, lowSlot int) Msg {
	// the ballot only moves forward
	if a.ballot.Less(ballot) {
		a.ballot = ballot
	}

	return NewPhase1b(ballot.LeaderID, a.id, a.ballot, a.latestAccepted(lowSlot))
}

func (a *Acceptor) accept(leaderID int, p Proposal) Msg {
	if p.Ballot == a.ballot {
		a.accepted = append(a.accepted, p)
	}

	// answering with our own ballot tells the commander whether it was accepted,
	// it equals p.Ballot exactly when it was
	return NewPhase2b(leaderID, a.id, a.ballot)
}

// latestAccepted reports the accepted proposals of slots from lowSlot on
func (a *Acceptor) latestAccepted(lowSlot int) []Proposal {
	var accepted = a.accepted
	if lowSlot > 1 {
		accepted = nil
		for _, p := range a.accepted {
			if p.Slot >= lowSlot {
				accepted = append(accepted, p)
			}
		}
	}

	if a.mode == cluster.PromiseMaxSet {
		return maxSet(accepted)
	}
	return perSlotMax(accepted)
}

// perSlotMax keeps, for every slot, the proposals carrying that slot's highest ballot
func perSlotMax(accepted []Proposal) []Proposal {
	var best = make(map[int][]Proposal)
	for _, p := range accepted {
		var cur = best[p.Slot]
		switch {
		case len(cur) == 0 || cur[0].Ballot.Less(p.Ballot):
			best[p.Slot] = []Proposal{p}
		case cur[0].Ballot == p.Ballot:
			best[p.Slot] = append(cur, p)
		}
	}

	var slots = make([]int, 0, len(best))
	for slot := range best {
		slots = append(slots, slot)
	}
	sort.Ints(slots)

	var res []Proposal
	for _, slot := range slots {
		res = append(res, best[slot]...)
	}
	return res
}

// maxSet is the set of proposals tied for the maximum of the whole collection, each
// candidate being compared against the first member of the current set. Proposals of
// different slots compare equal, so the result depends on the order of acceptance.
func maxSet(accepted []Proposal) []Proposal {
	if len(accepted) == 0 {
		return nil
	}

	var res = []Proposal{accepted[0]}
	for _, p := range accepted[1:] {
		switch p.Compare(res[0]) {
		case 0:
			res = append(res, p)
		case 1:
			res = []Proposal{p}
		}
	}
	return res
}

// AcceptorStatus is a snapshot of an acceptor
type AcceptorStatus struct {
	ID       int    `json:"id"`
	Ballot   Ballot `json:"ballot"`
	Accepted int    `json:"accepted"`
}

// Status reads the acceptor state from inside the running loop
func (a *Acceptor) Status(ctx context.Context) (AcceptorStatus, error) {
	var res = make(chan AcceptorStatus, 1)
	var fn = func() {
		res <- AcceptorStatus{ID: a.id, Ballot: a.ballot, Accepted: len(a.accepted)}
	}

	select {
	case a.statusCh <- fn:
		return <-res, nil
	case <-ctx.Done():
		return AcceptorStatus{}, ctx.Err()
	}
}
