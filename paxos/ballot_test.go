package paxos

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBallot_Compare(t *testing.T) {
	tt := []struct {
		name string
		a, b Ballot
		want int
	}{
		{"equal", Ballot{1, 1}, Ballot{1, 1}, 0},
		{"lower number", Ballot{0, 5}, Ballot{1, 0}, -1},
		{"higher number", Ballot{2, 0}, Ballot{1, 9}, 1},
		{"same number lower leader", Ballot{3, 1}, Ballot{3, 2}, -1},
		{"same number higher leader", Ballot{3, 2}, Ballot{3, 1}, 1},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, tc.a.Compare(tc.b))
			require.Equal(t, -tc.want, tc.b.Compare(tc.a))
			require.Equal(t, tc.want < 0, tc.a.Less(tc.b))
		})
	}
}

func TestProposal_Compare(t *testing.T) {
	var cmd = Command{ClientID: 1, OpID: 1, Op: "x"}

	var low = Proposal{Slot: 1, Ballot: Ballot{1, 0}, Command: cmd}
	var high = Proposal{Slot: 1, Ballot: Ballot{2, 0}, Command: Command{ClientID: 2}}
	var other = Proposal{Slot: 2, Ballot: Ballot{9, 9}, Command: cmd}

	require.Equal(t, -1, low.Compare(high))
	require.Equal(t, 1, high.Compare(low))

	// different slots are not ordered
	require.Equal(t, 0, low.Compare(other))
	require.Equal(t, 0, other.Compare(high))

	// identity ignores the command
	require.True(t, low.Same(Proposal{Slot: 1, Ballot: Ballot{1, 0}}))
	require.False(t, low.Same(other))
}

func TestMajority(t *testing.T) {
	tt := []struct {
		votes, n int
		want     bool
	}{
		{1, 3, false},
		{2, 3, true},
		{3, 3, true},
		{2, 4, false},
		{3, 4, true},
		{2, 5, false},
		{3, 5, true},
		{1, 1, true},
		{0, 1, false},
	}

	for _, tc := range tt {
		require.Equal(t, tc.want, majority(tc.votes, tc.n), "%d of %d", tc.votes, tc.n)
	}
}
