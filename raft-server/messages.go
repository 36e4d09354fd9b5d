package server

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Abhay478/paxos-v-raft/state-machine"
)

// ErrProtocolViolation is raised when a server receives a message no server ever handles
var ErrProtocolViolation = errors.New("raft protocol violation")

type MsgType uint

const (
	Invalid     MsgType = iota
	Request             // client -> any server, forwarded to the leader
	Response            // leader -> client
	Heartbeat           // leader -> followers, carries the log suffix to replicate
	Campaign            // candidate -> all servers
	ServerReply         // answer to Heartbeat and Campaign
)

var msgTypeNames = map[MsgType]string{
	Request:     "Request",
	Response:    "Response",
	Heartbeat:   "Heartbeat",
	Campaign:    "Campaign",
	ServerReply: "ServerReply",
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

// Command is a client operation. Client is the datagram address the leader answers to,
// empty when nobody waits for the answer.
type Command struct {
	Client string `json:"client"`
	OpID   int    `json:"op_id"`
	Op     string `json:"op"`
}

// HeartbeatInfo is what every heartbeat carries besides the entries
type HeartbeatInfo struct {
	Term         int `json:"term"`           // leader's term
	LeaderID     int `json:"leader_id"`      // so followers can forward requests
	PrevLogIndex int `json:"prev_log_index"` // index of the entry preceding the new ones
	PrevLogTerm  int `json:"prev_log_term"`  // term of the prevLogIndex entry
	LeaderCommit int `json:"leader_commit"`  // leader's commitIndex
}

// Replicate is a heartbeat with the entries to store, empty when the follower is caught up
type Replicate struct {
	HB      HeartbeatInfo `json:"hb"`
	Entries []Entry       `json:"entries,omitempty"`
}

// CampaignInfo asks for a vote
type CampaignInfo struct {
	Term         int `json:"term"`
	CandidateID  int `json:"candidate_id"`
	LastLogIndex int `json:"last_log_index"`
	LastLogTerm  int `json:"last_log_term"`
}

// Reply answers both heartbeats and campaigns
type Reply struct {
	From    int  `json:"from"`
	Success bool `json:"success"`
	Term    int  `json:"term"`

	// Index is the last log index the sender is known to share with the leader,
	// set on successful heartbeat replies only
	Index int `json:"index,omitempty"`
}

// Msg is the envelope of every Raft datagram, only the field matching Type is set
type Msg struct {
	Type MsgType `json:"type"`

	Command   *Command              `json:"command,omitempty"`   // Request, Response
	Result    *state_machine.Result `json:"result,omitempty"`    // Response
	Replicate *Replicate            `json:"replicate,omitempty"` // Heartbeat
	Campaign  *CampaignInfo         `json:"campaign,omitempty"`  // Campaign
	Reply     *Reply                `json:"reply,omitempty"`     // ServerReply
}

func NewRequest(cmd Command) Msg {
	return Msg{Type: Request, Command: &cmd}
}

func NewResponse(cmd Command, result state_machine.Result) Msg {
	return Msg{Type: Response, Command: &cmd, Result: &result}
}

func NewHeartbeat(hb HeartbeatInfo, entries []Entry) Msg {
	return Msg{Type: Heartbeat, Replicate: &Replicate{HB: hb, Entries: entries}}
}

func NewCampaign(c CampaignInfo) Msg {
	return Msg{Type: Campaign, Campaign: &c}
}

func NewReply(r Reply) Msg {
	return Msg{Type: ServerReply, Reply: &r}
}

func Encode(m Msg) ([]byte, error) {
	var data, err = json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", m.Type, err)
	}
	return data, nil
}

// Decode parses a datagram and checks that the body its type needs is present
func Decode(data []byte) (Msg, error) {
	var m Msg
	if err := json.Unmarshal(data, &m); err != nil {
		return Msg{}, fmt.Errorf("failed to decode message: %w", err)
	}

	var ok bool
	switch m.Type {
	case Request:
		ok = m.Command != nil
	case Response:
		ok = m.Command != nil && m.Result != nil
	case Heartbeat:
		ok = m.Replicate != nil
	case Campaign:
		ok = m.Campaign != nil
	case ServerReply:
		ok = m.Reply != nil
	default:
		return Msg{}, fmt.Errorf("message without a type")
	}

	if !ok {
		return Msg{}, fmt.Errorf("%s without a body", m.Type)
	}

	return m, nil
}
