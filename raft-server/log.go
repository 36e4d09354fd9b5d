package server

// Log is one entry of the replicated log. The entry at index 0 is a sentinel with
// term 0 and no command.
type Log struct {
	Term    int      `json:"term"`              // term when entry was received by leader
	Command *Command `json:"command,omitempty"` // command for state machine
}

// Entry is a log entry with its position, as shipped in heartbeats
type Entry struct {
	Index int `json:"index"`
	Log   Log `json:"log"`
}

// maxBatch caps the entries of one heartbeat so a lagging follower doesn't overflow a datagram
const maxBatch = 64

func newLog() []Log {
	return []Log{{Term: 0}}
}

func (s *Server) lastLogIndex() int {
	return len(s.persistentState.log) - 1
}

func (s *Server) lastLogTerm() int {
	return s.persistentState.log[s.lastLogIndex()].Term
}

// entriesFrom returns the entries starting at index, at most maxBatch of them
func (s *Server) entriesFrom(index int) []Entry {
	var log = s.persistentState.log
	if index >= len(log) {
		return nil
	}

	var end = min(len(log), index+maxBatch)
	var res = make([]Entry, 0, end-index)
	for i := index; i < end; i++ {
		res = append(res, Entry{Index: i, Log: log[i]})
	}
	return res
}

// splice stores the entries following prevLogIndex and returns the last index known to
// match the leader's log.
//
// An entry that conflicts with a local one (same index, other term) drops the local entry
// and everything after it. Entries already present are left alone.
func (s *Server) splice(prevLogIndex int, entries []Entry) int {
	var last = prevLogIndex

	for _, e := range entries {
		// entries must follow each other, anything else is garbage
		if e.Index != last+1 {
			break
		}

		switch {
		case e.Index < len(s.persistentState.log):
			if s.persistentState.log[e.Index].Term != e.Log.Term {
				s.persistentState.log = append(s.persistentState.log[:e.Index], e.Log)
			}
		default:
			s.persistentState.log = append(s.persistentState.log, e.Log)
		}

		last = e.Index
	}

	return last
}
