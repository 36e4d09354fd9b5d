package server

// handleRequest puts a client command on its way into the log: the leader appends it,
// a follower that knows the leader forwards it, anyone else keeps it until a leader shows up
func (s *Server) handleRequest(cmd Command) {
	switch {
	case s.state == Leader:
		s.appendCommand(cmd)
		s.decree()
		s.advanceCommitIndex()

	case s.state == Follower && s.leaderID != noVote:
		s.client.sendTo(s.leaderID, NewRequest(cmd))

	default:
		s.pending = append(s.pending, cmd)
	}
}

func (s *Server) appendCommand(cmd Command) {
	s.persistentState.log = append(s.persistentState.log, Log{
		Term:    s.persistentState.currentTerm,
		Command: &cmd,
	})
}

// decree sends every follower the part of the log it is missing, an empty heartbeat for
// the ones that are caught up
func (s *Server) decree() {
	for id := range s.config.Peers {
		if id != s.ID {
			s.replicate(id)
		}
	}
}

func (s *Server) replicate(peerID int) {
	// determine what to send to peer,
	// nextIndex[peer] - where to start from
	var nextIndex = s.leaderState.nextIndex[peerID]
	nextIndex = max(1, min(nextIndex, len(s.persistentState.log)))
	s.leaderState.nextIndex[peerID] = nextIndex

	// build the "consistency check" params
	// prevLogIndex - log entry before new one
	// prevLogTerm - term of that log entry
	// Follower checks if it has matching entry at prevLogIndex,
	// If not, logs are inconsistent and follower rejects
	var prevLogIndex = nextIndex - 1

	var hb = HeartbeatInfo{
		Term:         s.persistentState.currentTerm,
		LeaderID:     s.ID,
		PrevLogIndex: prevLogIndex,
		PrevLogTerm:  s.persistentState.log[prevLogIndex].Term,
		LeaderCommit: s.volatileState.commitIndex, // tell follower what's committed
	}

	s.client.sendTo(peerID, NewHeartbeat(hb, s.entriesFrom(nextIndex)))
}

func (s *Server) handleHeartbeat(from string, rep Replicate) {
	var hb = rep.HB
	var reject = Reply{From: s.ID, Success: false}

	// an old leader, tell it about the newer term
	if hb.Term < s.persistentState.currentTerm {
		reject.Term = s.persistentState.currentTerm
		s.client.send(from, NewReply(reject))
		return
	}

	// the sender leads hb.Term, whatever happens to the entries
	var newer = hb.Term > s.persistentState.currentTerm
	s.becomeFollower(hb.Term)
	s.leaderID = hb.LeaderID
	if newer {
		s.persistentState.votedFor = hb.LeaderID
	}
	s.resetElectionTimer()

	// Check if log contains entry at prevLogIndex with matching term,
	// this is needed to ensure logs are consistent.
	// On reject the leader decrements nextIndex and retries with earlier entries
	// until the logs meet.
	if hb.PrevLogIndex < 0 || hb.PrevLogIndex > s.lastLogIndex() ||
		s.persistentState.log[hb.PrevLogIndex].Term != hb.PrevLogTerm {
		reject.Term = s.persistentState.currentTerm
		s.client.send(from, NewReply(reject))
		return
	}

	s.persistentState.votedFor = hb.LeaderID

	var matched = s.splice(hb.PrevLogIndex, rep.Entries)

	// entries past matched are not known to be the leader's, don't commit them
	if commit := min(hb.LeaderCommit, matched); commit > s.volatileState.commitIndex {
		s.volatileState.commitIndex = commit
	}

	if s.volatileState.commitIndex > s.volatileState.lastApplied {
		s.perform()
	}

	// requests that arrived while no leader was known
	var pending = s.pending
	s.pending = nil
	for _, cmd := range pending {
		s.client.sendTo(s.leaderID, NewRequest(cmd))
	}

	s.client.send(from, NewReply(Reply{
		From:    s.ID,
		Success: true,
		Term:    s.persistentState.currentTerm,
		Index:   matched,
	}))
}

func (s *Server) handleReply(r Reply) {
	// we're behind, need to step down to the follower state
	if r.Term > s.persistentState.currentTerm {
		s.becomeFollower(r.Term)
		return
	}

	// replies for an earlier term
	if r.Term < s.persistentState.currentTerm {
		return
	}

	switch s.state {
	case Candidate:
		if !r.Success {
			return
		}

		s.candidateState.votes[r.From] = true
		if majority(len(s.candidateState.votes), len(s.config.Peers)) {
			s.crown()
		}

	case Leader:
		if r.From == s.ID {
			return
		}
		if _, ok := s.leaderState.nextIndex[r.From]; !ok {
			return
		}

		if !r.Success {
			// term matches, log does not: go one entry back and retry right away
			if s.leaderState.nextIndex[r.From] > 1 {
				s.leaderState.nextIndex[r.From]--
			}
			s.replicate(r.From)
			return
		}

		// if peer successfully replicated the entries, update our tracking
		// late votes carry no index and change nothing here
		if r.Index > s.leaderState.matchIndex[r.From] && r.Index <= s.lastLogIndex() {
			s.leaderState.matchIndex[r.From] = r.Index
			s.leaderState.nextIndex[r.From] = r.Index + 1
		}

		s.advanceCommitIndex()
	}
}
