package paxos

import (
	"context"
	"log"
	"sort"

	"github.com/google/uuid"

	"github.com/Abhay478/paxos-v-raft/state-machine"
	"github.com/Abhay478/paxos-v-raft/transport"
)

// Window bounds how many slots a replica may have proposed but not yet applied
const Window = 32

// Replica takes client requests, proposes them into free slots and applies the decided
// commands in slot order
type Replica struct {
	id int

	// incarnation tells clients which replica process answered
	incarnation string

	state   state_machine.State
	slotIn  int // next slot to propose in
	slotOut int // next slot to apply

	requests  []Command
	proposals map[int]Command
	decisions map[int]Command
	clients   map[int]string

	leaders []string

	conn     transport.Conn
	statusCh chan func()
	logger   *log.Logger
}

func NewReplica(id int, conn transport.Conn, leaders []string, logger *log.Logger) *Replica {
	return &Replica{
		id:          id,
		incarnation: uuid.NewString(),
		slotIn:      1,
		slotOut:     1,
		proposals:   make(map[int]Command),
		decisions:   make(map[int]Command),
		clients:     make(map[int]string),
		leaders:     leaders,
		conn:        conn,
		statusCh:    make(chan func()),
		logger:      logger,
	}
}

func (r *Replica) Incarnation() string {
	return r.incarnation
}

// Run serves clients and leaders until ctx is done or a Terminate arrives
func (r *Replica) Run(ctx context.Context) error {
	r.logger.Printf("replica %s started on %s", r.incarnation, r.conn.LocalAddr())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case fn := <-r.statusCh:
			fn()

		case pkt, ok := <-r.conn.Packets():
			if !ok {
				return transport.ErrClosed
			}

			if r.handle(pkt) {
				r.logger.Printf("terminated")
				return nil
			}
		}
	}
}

// handle processes one datagram and reports whether the replica must stop
func (r *Replica) handle(pkt transport.Packet) bool {
	if isInvalidReply(pkt.Data) {
		return false
	}

	var msg, err = Decode(pkt.Data)
	if err != nil {
		r.logger.Printf("undecodable payload from %s: %v", pkt.From, err)
		_ = r.conn.Send(pkt.From, []byte(InvalidMessage))
		return false
	}

	switch msg.Type {
	case Request:
		r.onRequest(pkt.From, *msg.Command)
	case Decision:
		r.onDecision(msg.Slot, *msg.Command)
	case Terminate:
		return true
	default:
		r.logger.Printf("unexpected %s from %s", msg.Type, pkt.From)
		return false
	}

	r.propose()
	return false
}

func (r *Replica) onRequest(from string, cmd Command) {
	// the first address seen for a client is where all its responses go
	if _, ok := r.clients[cmd.ClientID]; !ok {
		r.clients[cmd.ClientID] = from
	}

	r.requests = append(r.requests, cmd)
}

func (r *Replica) onDecision(slot int, cmd Command) {
	if slot < 1 {
		r.logger.Printf("decision for invalid slot %d", slot)
		return
	}

	if prev, ok := r.decisions[slot]; ok {
		if prev != cmd {
			r.logger.Printf("conflicting decisions for slot %d: %+v and %+v", slot, prev, cmd)
		}
		return
	}
	r.decisions[slot] = cmd

	for {
		var decided, ok = r.decisions[r.slotOut]
		if !ok {
			break
		}

		// our own command lost this slot to another one, propose it again later
		if mine, ok := r.proposals[r.slotOut]; ok {
			delete(r.proposals, r.slotOut)
			if mine != decided {
				r.requests = append(r.requests, mine)
			}
		}

		r.perform(decided)
	}
}

// propose moves queued requests into free slots inside the window
func (r *Replica) propose() {
	for r.slotIn < r.slotOut+Window && len(r.requests) > 0 {
		if _, decided := r.decisions[r.slotIn]; !decided {
			var cmd = r.requests[0]
			r.requests = r.requests[1:]

			r.proposals[r.slotIn] = cmd
			broadcast(r.conn, r.leaders, NewPropose(r.slotIn, cmd), r.logger)
		}
		r.slotIn++
	}
}

// perform applies the command of slot slotOut. A command decided at several slots is
// applied once per slot.
func (r *Replica) perform(cmd Command) {
	var next, result = state_machine.Apply(r.state, cmd.Op)
	r.state = next
	r.slotOut++

	var addr, ok = r.clients[cmd.ClientID]
	if !ok {
		return
	}

	if err := send(r.conn, addr, NewResponse(cmd.OpID, r.incarnation, result)); err != nil {
		r.logger.Printf("response: %v", err)
	}
}

type Decided struct {
	Slot    int     `json:"slot"`
	Command Command `json:"command"`
}

type ReplicaStatus struct {
	ID          int                 `json:"id"`
	Incarnation string              `json:"incarnation"`
	SlotIn      int                 `json:"slot_in"`
	SlotOut     int                 `json:"slot_out"`
	Pending     int                 `json:"pending"`
	State       state_machine.State `json:"state"`
}

func (r *Replica) snapshot() ReplicaStatus {
	var data = make(map[string]string, len(r.state.Data))
	for k, v := range r.state.Data {
		data[k] = v
	}

	var state = r.state
	state.Data = data

	return ReplicaStatus{
		ID:          r.id,
		Incarnation: r.incarnation,
		SlotIn:      r.slotIn,
		SlotOut:     r.slotOut,
		Pending:     len(r.requests),
		State:       state,
	}
}

// decided lists the decisions in slot order
func (r *Replica) decided() []Decided {
	var res = make([]Decided, 0, len(r.decisions))
	for slot, cmd := range r.decisions {
		res = append(res, Decided{Slot: slot, Command: cmd})
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Slot < res[j].Slot })
	return res
}

func (r *Replica) Status(ctx context.Context) (ReplicaStatus, error) {
	var res = make(chan ReplicaStatus, 1)

	select {
	case r.statusCh <- func() { res <- r.snapshot() }:
		return <-res, nil
	case <-ctx.Done():
		return ReplicaStatus{}, ctx.Err()
	}
}

func (r *Replica) Decisions(ctx context.Context) ([]Decided, error) {
	var res = make(chan []Decided, 1)

	select {
	case r.statusCh <- func() { res <- r.decided() }:
		return <-res, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
