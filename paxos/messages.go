package paxos

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/Abhay478/paxos-v-raft/state-machine"
	"github.com/Abhay478/paxos-v-raft/transport"
)

// ErrProtocolViolation is raised when a process receives a message its role never handles.
// It means a bug, not a network condition.
var ErrProtocolViolation = errors.New("paxos protocol violation")

// InvalidMessage is the reply to a payload that could not be decoded
const InvalidMessage = "invalid message"

// isInvalidReply reports whether data is somebody's InvalidMessage reply. It is never
// answered, two processes would otherwise bounce it between them forever.
func isInvalidReply(data []byte) bool {
	return string(data) == InvalidMessage
}

type MsgType uint

const (
	Invalid   MsgType = iota
	Request           // client -> replica
	Response          // replica -> client
	Propose           // replica -> leader
	Decision          // commander -> replica
	Phase1a           // scout -> acceptor
	Phase1b           // acceptor -> scout
	Phase2a           // commander -> acceptor
	Phase2b           // acceptor -> commander
	Terminate         // operator -> any process
)

var msgTypeNames = map[MsgType]string{
	Request:   "Request",
	Response:  "Response",
	Propose:   "Propose",
	Decision:  "Decision",
	Phase1a:   "Phase1a",
	Phase1b:   "Phase1b",
	Phase2a:   "Phase2a",
	Phase2b:   "Phase2b",
	Terminate: "Terminate",
}

func (m MsgType) String() string {
	if name, ok := msgTypeNames[m]; ok {
		return name
	}
	return "INVALID"
}

func (m MsgType) MarshalText() ([]byte, error) {
	if _, ok := msgTypeNames[m]; !ok {
		return nil, fmt.Errorf("unknown message type %d", m)
	}
	return []byte(m.String()), nil
}

func (m *MsgType) UnmarshalText(text []byte) error {
	for t, name := range msgTypeNames {
		if name == string(text) {
			*m = t
			return nil
		}
	}
	return fmt.Errorf("unknown message type %q", text)
}

// Msg is the envelope of every Paxos datagram. Which fields are set depends on Type.
type Msg struct {
	Type MsgType `json:"type"`

	LeaderID   int    `json:"leader_id,omitempty"`
	AcceptorID int    `json:"acceptor_id,omitempty"`
	Ballot     Ballot `json:"ballot"`

	// Propose, Decision
	Slot int `json:"slot,omitempty"`

	// Request, Propose, Decision
	Command *Command `json:"command,omitempty"`

	// Phase2a
	Proposal *Proposal `json:"proposal,omitempty"`

	// Phase1a: the lowest slot the leader still has to learn about, acceptors leave the
	// proposals of lower slots out of their promise
	LowSlot int `json:"low_slot,omitempty"`

	// Phase1b
	Accepted []Proposal `json:"accepted,omitempty"`

	// Phase1b: a promise too large for one datagram is sent as Parts messages, numbered
	// from 0 by Part. Parts is 0 for a promise sent whole.
	Part  int `json:"part,omitempty"`
	Parts int `json:"parts,omitempty"`

	// Response
	OpID     int                   `json:"op_id,omitempty"`
	Metadata string                `json:"metadata,omitempty"`
	Result   *state_machine.Result `json:"result,omitempty"`
}

func NewRequest(cmd Command) Msg {
	return Msg{Type: Request, Command: &cmd}
}

func NewResponse(opID int, metadata string, result state_machine.Result) Msg {
	return Msg{Type: Response, OpID: opID, Metadata: metadata, Result: &result}
}

func NewPropose(slot int, cmd Command) Msg {
	return Msg{Type: Propose, Slot: slot, Command: &cmd}
}

func NewDecision(slot int, cmd Command) Msg {
	return Msg{Type: Decision, Slot: slot, Command: &cmd}
}

func NewPhase1a(leaderID int, ballot Ballot, lowSlot int) Msg {
	return Msg{Type: Phase1a, LeaderID: leaderID, Ballot: ballot, LowSlot: lowSlot}
}

func NewPhase1b(leaderID, acceptorID int, ballot Ballot, accepted []Proposal) Msg {
	return Msg{Type: Phase1b, LeaderID: leaderID, AcceptorID: acceptorID, Ballot: ballot, Accepted: accepted}
}

func NewPhase2a(leaderID int, p Proposal) Msg {
	return Msg{Type: Phase2a, LeaderID: leaderID, Proposal: &p}
}

func NewPhase2b(leaderID, acceptorID int, ballot Ballot) Msg {
	return Msg{Type: Phase2b, LeaderID: leaderID, AcceptorID: acceptorID, Ballot: ballot}
}

// promisePart bounds the encoded proposals of one Phase1b part
const promisePart = transport.MaxDatagram / 2

// splitPromise cuts a Phase1b whose proposals do not fit in one datagram into numbered parts
func splitPromise(m Msg, limit int) ([]Msg, error) {
	var groups [][]Proposal
	var group []Proposal
	var size int

	for _, p := range m.Accepted {
		var data, err = json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("failed to encode proposal for slot %d: %w", p.Slot, err)
		}

		if len(group) > 0 && size+len(data)+1 > limit {
			groups = append(groups, group)
			group, size = nil, 0
		}
		group = append(group, p)
		size += len(data) + 1
	}

	if len(groups) == 0 {
		return []Msg{m}, nil
	}
	groups = append(groups, group)

	var parts = make([]Msg, len(groups))
	for i, g := range groups {
		var part = m
		part.Accepted = g
		part.Part = i
		part.Parts = len(groups)
		parts[i] = part
	}
	return parts, nil
}

func NewTerminate() Msg {
	return Msg{Type: Terminate}
}

func Encode(m Msg) ([]byte, error) {
	var data, err = json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", m.Type, err)
	}
	return data, nil
}

// Decode parses a datagram and checks that the fields its type needs are present
func Decode(data []byte) (Msg, error) {
	var m Msg
	if err := json.Unmarshal(data, &m); err != nil {
		return Msg{}, fmt.Errorf("failed to decode message: %w", err)
	}

	switch m.Type {
	case Request, Propose, Decision:
		if m.Command == nil {
			return Msg{}, fmt.Errorf("%s without a command", m.Type)
		}
	case Phase2a:
		if m.Proposal == nil {
			return Msg{}, fmt.Errorf("%s without a proposal", m.Type)
		}
	case Response:
		if m.Result == nil {
			return Msg{}, fmt.Errorf("%s without a result", m.Type)
		}
	case Phase1a, Phase1b, Phase2b, Terminate:
	default:
		return Msg{}, fmt.Errorf("message without a type")
	}

	return m, nil
}

func send(conn transport.Conn, to string, m Msg) error {
	var data, err = Encode(m)
	if err != nil {
		return err
	}

	if err = conn.Send(to, data); err != nil {
		return fmt.Errorf("failed to send %s to %s: %w", m.Type, to, err)
	}

	return nil
}

// broadcast encodes m once and sends it to every address, logging the failed sends
func broadcast(conn transport.Conn, addrs []string, m Msg, logger *log.Logger) {
	var data, err = Encode(m)
	if err != nil {
		logger.Printf("broadcast: %v", err)
		return
	}

	for _, addr := range addrs {
		if err = conn.Send(addr, data); err != nil {
			logger.Printf("failed to send %s to %s: %v", m.Type, addr, err)
		}
	}
}
