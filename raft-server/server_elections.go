package server

import (
	"time"
)

func (s *Server) resetElectionTimer() {
	// Random timeout in [min, max)
	// If all the servers timeout at the same time, they all become candidates, causing failed elections.
	// Random timeout means one server usually becomes a candidate first.
	var spread = s.config.ElectionTimeoutMax - s.config.ElectionTimeoutMin
	var timeout = s.config.ElectionTimeoutMin + time.Duration(s.rng.Int63n(int64(spread)))

	if s.electionTimer != nil {
		s.electionTimer.Stop()
	}

	s.electionTimer = time.NewTimer(timeout)
}

func (s *Server) stopElectionTimer() {
	if s.electionTimer != nil {
		s.electionTimer.Stop()
	}
}

// campaign starts a new term with this server as a candidate
func (s *Server) campaign() {
	// increment term (new election round), vote for yourself
	s.persistentState.currentTerm++
	s.persistentState.votedFor = s.ID
	s.leaderID = noVote

	s.state = Candidate
	s.candidateState.votes = map[int]bool{s.ID: true}

	s.logger.Printf("term %d: campaigning", s.persistentState.currentTerm)

	s.client.broadcast(NewCampaign(CampaignInfo{
		Term:         s.persistentState.currentTerm,
		CandidateID:  s.ID,
		LastLogIndex: s.lastLogIndex(),
		LastLogTerm:  s.lastLogTerm(),
	}))

	// reset time for the next election if this fails
	s.resetElectionTimer()

	// a cluster of one elects itself
	if majority(len(s.candidateState.votes), len(s.config.Peers)) {
		s.crown()
	}
}

// handleCampaign decides on a vote request. A granted vote is answered with success,
// a candidate of an older term with a failure, anything else is left unanswered.
func (s *Server) handleCampaign(from string, c CampaignInfo) {
	// check the relevance of the requested term, reject if it's lower
	if c.Term < s.persistentState.currentTerm {
		s.client.send(from, NewReply(Reply{From: s.ID, Success: false, Term: s.persistentState.currentTerm}))
		return
	}

	// a newer term clears the vote and demotes leaders and candidates
	if c.Term > s.persistentState.currentTerm {
		s.becomeFollower(c.Term)
	}

	// check if candidate's log is at least as up to date as receiver's log
	// (section 5.4.1 of Raft paper: https://raft.github.io/raft.pdf)
	var logUpToDate = c.LastLogTerm > s.lastLogTerm() ||
		(c.LastLogTerm == s.lastLogTerm() && c.LastLogIndex >= s.lastLogIndex())

	var canVote = s.persistentState.votedFor == noVote || s.persistentState.votedFor == c.CandidateID

	if !logUpToDate || !canVote {
		return
	}

	// grant vote
	s.persistentState.votedFor = c.CandidateID
	s.state = Follower
	s.client.send(from, NewReply(Reply{From: s.ID, Success: true, Term: s.persistentState.currentTerm}))
	s.resetElectionTimer()
}

// crown turns a candidate that won its election into the leader of the current term
func (s *Server) crown() {
	s.state = Leader
	s.leaderID = s.ID

	s.logger.Printf("term %d: leader", s.persistentState.currentTerm)

	// init leader state
	// for each peer: track what they have replicated
	s.leaderState.nextIndex = make(map[int]int, len(s.config.Peers))
	s.leaderState.matchIndex = make(map[int]int, len(s.config.Peers))
	for id := range s.config.Peers {
		if id != s.ID {
			s.leaderState.nextIndex[id] = len(s.persistentState.log)
			s.leaderState.matchIndex[id] = 0
		}
	}

	// stop election timer, because leaders don't hold elections
	s.stopElectionTimer()

	// requests that waited for a leader go into the log now
	var pending = s.pending
	s.pending = nil
	for _, cmd := range pending {
		s.appendCommand(cmd)
	}

	// heartbeats are just Replicate messages without entries,
	// they prevent followers from starting elections
	s.decree()
	s.advanceCommitIndex()
}
