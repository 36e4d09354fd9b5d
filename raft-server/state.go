package server

type State int

const (
	// Follower - normal state, receives entries from the leader
	// If no heartbeats received, becomes candidate
	Follower State = iota

	// Candidate - trying to become leader, requests votes from other servers
	Candidate

	// Leader - receives client requests and replicates to followers
	// Only 1 leader per term
	Leader
)

func (s State) String() string {
	switch s {
	case Follower:
		return "Follower"
	case Candidate:
		return "Candidate"
	case Leader:
		return "Leader"
	}
	return "INVALID"
}

// noVote marks that the server hasn't voted in the current term
const noVote = -1

// persistentState is what a durable Raft keeps on disk. Here it lives in memory only and
// is lost on restart.
type persistentState struct {
	// currentTerm is the latest term server has seen
	// (initialized to 0 on first boot, increases monotonically)
	currentTerm int

	// votedFor marks which candidate did we vote for in the current term,
	// noVote == haven't voted yet
	votedFor int

	// log is a sequence of commands for state machine, log[0] is the sentinel
	log []Log
}

// volatileState represents data that can be rebuilt after a crash
type volatileState struct {
	// commitIndex is the highest log entry known to be committed
	commitIndex int

	// lastApplied is the highest log entry applied to state machine
	lastApplied int
}

// leaderState is the data that server tracks about what each follower has replicated,
// reset on every election won
type leaderState struct {
	// nextIndex: for each server, index of the next log entry to send
	// If append fails, decrement and retry
	nextIndex map[int]int

	// matchIndex: for each server: highest log entry known to be replicated,
	// Used to determine when entries are committed (majority rule)
	matchIndex map[int]int
}

// candidateState counts the votes of the current campaign
type candidateState struct {
	votes map[int]bool
}
