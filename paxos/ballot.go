// Package paxos implements Multi-Paxos with separate agents: acceptors answer promise and
// accept requests, each leader drives one scout and a commander per proposal, and replicas
// pipeline client requests into slots and apply decisions in slot order.
package paxos

import "fmt"

// Ballot orders leadership attempts, lexicographically by (Num, LeaderID)
type Ballot struct {
	Num      int `json:"num"`
	LeaderID int `json:"leader_id"`
}

func (b Ballot) Compare(other Ballot) int {
	switch {
	case b.Num < other.Num:
		return -1
	case b.Num > other.Num:
		return 1
	case b.LeaderID < other.LeaderID:
		return -1
	case b.LeaderID > other.LeaderID:
		return 1
	}
	return 0
}

func (b Ballot) Less(other Ballot) bool {
	return b.Compare(other) < 0
}

func (b Ballot) String() string {
	return fmt.Sprintf("(%d,%d)", b.Num, b.LeaderID)
}

// Command is an operation submitted by a client. Two commands are the same command when
// every field matches.
type Command struct {
	ClientID int    `json:"client_id"`
	OpID     int    `json:"op_id"`
	Op       string `json:"op"`
}

// Proposal binds a command to a slot under a ballot
type Proposal struct {
	Slot    int     `json:"slot"`
	Ballot  Ballot  `json:"ballot"`
	Command Command `json:"command"`
}

// Compare orders proposals of the same slot by ballot. Proposals of different slots are
// not comparable and compare as equal.
func (p Proposal) Compare(other Proposal) int {
	if p.Slot != other.Slot {
		return 0
	}
	return p.Ballot.Compare(other.Ballot)
}

// Same reports whether two proposals share slot and ballot, the command is not looked at
func (p Proposal) Same(other Proposal) bool {
	return p.Slot == other.Slot && p.Ballot == other.Ballot
}

// majority reports whether votes out of n is a strict majority
func majority(votes, n int) bool {
	return votes*2 > n
}
