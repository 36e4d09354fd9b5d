package paxos

import (
	"context"
	"log"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/Abhay478/paxos-v-raft/transport"
)

// MaxCommanders bounds how many commanders of a leader hold an endpoint at the same time
const MaxCommanders = 128

// Leader turns proposals from replicas into commanders once its scout has adopted a ballot.
// Run is the only goroutine touching ballot, active and proposals; the agents report back
// through the outcomes channel.
type Leader struct {
	id     int
	ballot Ballot
	active bool

	// proposals is what this leader believes should be decided at each slot it has not
	// seen decided yet
	proposals map[int]Command

	// decided holds the slots one of our commanders got chosen, lowSlot is the lowest
	// slot missing from it
	decided map[int]Command
	lowSlot int

	// launched records the ballot of the last commander started for a slot
	launched map[int]Ballot

	// commanders is cancelled when the ballot they work for is left behind
	commanders     context.Context
	stopCommanders context.CancelFunc
	running        chan struct{}

	acceptors []string
	replicas  []string

	conn     transport.Conn
	network  transport.Network
	outcomes chan Outcome
	rounds   chan phase1
	statusCh chan func()
	logger   *log.Logger

	// backoff bounds the random pause before a preempted leader scouts again, 0 retries
	// at once
	backoff time.Duration
	retry   <-chan time.Time
	rng     *rand.Rand

	agents sync.WaitGroup
}

func NewLeader(id int, conn transport.Conn, network transport.Network, acceptors, replicas []string, logger *log.Logger) *Leader {
	return &Leader{
		id:        id,
		ballot:    Ballot{Num: 0, LeaderID: id},
		proposals: make(map[int]Command),
		decided:   make(map[int]Command),
		lowSlot:   1,
		launched:  make(map[int]Ballot),
		running:   make(chan struct{}, MaxCommanders),
		acceptors: acceptors,
		replicas:  replicas,
		conn:      conn,
		network:   network,
		outcomes:  make(chan Outcome, 64),
		rounds:    make(chan phase1, 1),
		statusCh:  make(chan func()),
		logger:    logger,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano() + int64(id))),
	}
}

// SetPreemptBackoff makes a preempted leader wait a random time below d before it scouts
// with its new ballot, so that two leaders preempting each other eventually let one win.
// It must be called before Run.
func (l *Leader) SetPreemptBackoff(d time.Duration) {
	l.backoff = d
}

// Run starts the scout and serves proposals until ctx is done or a Terminate arrives.
// Every agent is stopped before Run returns.
func (l *Leader) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		l.agents.Wait()
	}()

	scoutConn, err := l.network.Listen("")
	if err != nil {
		return err
	}

	var s = &scout{
		leaderID:  l.id,
		acceptors: l.acceptors,
		conn:      scoutConn,
		rounds:    l.rounds,
		outcomes:  l.outcomes,
		logger:    l.logger,
	}

	l.agents.Add(1)
	go func() {
		defer l.agents.Done()
		s.run(ctx)
	}()

	l.logger.Printf("leader started on %s with ballot %s", l.conn.LocalAddr(), l.ballot)
	l.rearmScout()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case fn := <-l.statusCh:
			fn()

		case o := <-l.outcomes:
			l.handleOutcome(ctx, o)

		case <-l.retry:
			l.retry = nil
			l.rearmScout()

		case pkt, ok := <-l.conn.Packets():
			if !ok {
				return transport.ErrClosed
			}

			var msg, err = Decode(pkt.Data)
			if err != nil {
				l.logger.Printf("undecodable payload from %s: %v", pkt.From, err)
				continue
			}

			switch msg.Type {
			case Propose:
				l.handlePropose(pkt.From, msg.Slot, *msg.Command)
			case Terminate:
				l.logger.Printf("terminated")
				return nil
			default:
				l.logger.Printf("unexpected %s from %s", msg.Type, pkt.From)
			}
		}
	}
}

func (l *Leader) handleOutcome(ctx context.Context, o Outcome) {
	switch o.Kind {
	case Adopted:
		// a scout round for a ballot we already left behind
		if o.Ballot != l.ballot {
			return
		}

		for slot, p := range pmax(o.PValues) {
			if _, ok := l.decided[slot]; !ok {
				l.proposals[slot] = p.Command
			}
		}

		l.active = true
		l.startRound(ctx)
		l.logger.Printf("ballot %s adopted, %d proposals", l.ballot, len(l.proposals))

		var slots = make([]int, 0, len(l.proposals))
		for slot := range l.proposals {
			slots = append(slots, slot)
		}
		sort.Ints(slots)

		for _, slot := range slots {
			l.spawnCommander(slot, l.proposals[slot])
		}

	case Preempted:
		if !l.ballot.Less(o.Ballot) {
			return
		}

		l.active = false
		l.stopRound()
		l.ballot = Ballot{Num: o.Ballot.Num + 1, LeaderID: l.id}
		l.logger.Printf("preempted by %s, retrying with %s", o.Ballot, l.ballot)

		if l.backoff <= 0 {
			l.rearmScout()
			return
		}
		l.retry = time.After(time.Duration(l.rng.Int63n(int64(l.backoff))))

	case Committed:
		if _, ok := l.decided[o.Slot]; ok {
			return
		}

		l.decided[o.Slot] = o.Command
		delete(l.proposals, o.Slot)
		delete(l.launched, o.Slot)

		for {
			if _, ok := l.decided[l.lowSlot]; !ok {
				break
			}
			l.lowSlot++
		}
	}
}

func (l *Leader) handlePropose(from string, slot int, cmd Command) {
	if slot < 1 {
		l.logger.Printf("propose for invalid slot %d", slot)
		return
	}

	// the replica missed the decision
	if decided, ok := l.decided[slot]; ok {
		if err := send(l.conn, from, NewDecision(slot, decided)); err != nil {
			l.logger.Printf("decision: %v", err)
		}
		return
	}

	// a commander already carries a value for this slot under the current ballot,
	// and a ballot proposes at most one value per slot
	if b, ok := l.launched[slot]; ok && b == l.ballot && l.active {
		return
	}

	l.proposals[slot] = cmd

	if l.active {
		l.spawnCommander(slot, cmd)
	}
}

// startRound gives the commanders of a newly adopted ballot their own context
func (l *Leader) startRound(ctx context.Context) {
	l.stopRound()
	l.commanders, l.stopCommanders = context.WithCancel(ctx)
}

// stopRound cancels the commanders of the ballot in use, a preempted ballot cannot
// decide anything any more
func (l *Leader) stopRound() {
	if l.stopCommanders != nil {
		l.stopCommanders()
		l.stopCommanders = nil
	}
}

func (l *Leader) spawnCommander(slot int, cmd Command) {
	if b, ok := l.launched[slot]; ok && b == l.ballot {
		return
	}

	var c = &commander{
		leaderID:  l.id,
		proposal:  Proposal{Slot: slot, Ballot: l.ballot, Command: cmd},
		acceptors: l.acceptors,
		replicas:  l.replicas,
		outcomes:  l.outcomes,
		logger:    l.logger,
	}
	l.launched[slot] = l.ballot

	var ctx = l.commanders

	l.agents.Add(1)
	go func() {
		defer l.agents.Done()

		// wait for one of the MaxCommanders endpoints
		select {
		case l.running <- struct{}{}:
		case <-ctx.Done():
			return
		}
		defer func() { <-l.running }()

		var conn, err = l.network.Listen("")
		if err != nil {
			l.logger.Printf("commander for slot %d: %v", slot, err)
			return
		}
		c.conn = conn
		c.run(ctx)
	}()
}

// rearmScout hands the current ballot to the scout, replacing a round it has not picked
// up yet
func (l *Leader) rearmScout() {
	select {
	case <-l.rounds:
	default:
	}
	l.rounds <- phase1{Ballot: l.ballot, LowSlot: l.lowSlot}
}

// pmax picks, for every slot, the proposal with the highest ballot
func pmax(pvals map[int][]Proposal) map[int]Proposal {
	var res = make(map[int]Proposal, len(pvals))
	for slot, props := range pvals {
		for _, p := range props {
			if cur, ok := res[slot]; !ok || cur.Ballot.Less(p.Ballot) {
				res[slot] = p
			}
		}
	}
	return res
}

type LeaderStatus struct {
	ID        int    `json:"id"`
	Ballot    Ballot `json:"ballot"`
	Active    bool   `json:"active"`
	Proposals int    `json:"proposals"`
	Decided   int    `json:"decided"`
	LowSlot   int    `json:"low_slot"`
}

func (l *Leader) Status(ctx context.Context) (LeaderStatus, error) {
	var res = make(chan LeaderStatus, 1)
	var fn = func() {
		res <- LeaderStatus{
			ID:        l.id,
			Ballot:    l.ballot,
			Active:    l.active,
			Proposals: len(l.proposals),
			Decided:   len(l.decided),
			LowSlot:   l.lowSlot,
		}
	}

	select {
	case l.statusCh <- fn:
		return <-res, nil
	case <-ctx.Done():
		return LeaderStatus{}, ctx.Err()
	}
}
