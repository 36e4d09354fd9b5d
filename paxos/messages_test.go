package paxos

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Abhay478/paxos-v-raft/state-machine"
	"github.com/Abhay478/paxos-v-raft/transport"
)

func TestEncode_WireFormat(t *testing.T) {
	data, err := Encode(NewPhase1a(2, Ballot{Num: 3, LeaderID: 2}, 4))
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"Phase1a","leader_id":2,"ballot":{"num":3,"leader_id":2},"low_slot":4}`, string(data))

	_, err = Encode(Msg{})
	require.Error(t, err)
}

func TestDecode(t *testing.T) {
	var cmd = Command{ClientID: 1, OpID: 7, Op: "42"}

	tt := []struct {
		name    string
		msg     Msg
		wantErr bool
	}{
		{"request", NewRequest(cmd), false},
		{"response", NewResponse(7, "replica", state_machine.Result{Value: "42"}), false},
		{"decision", NewDecision(3, cmd), false},
		{"phase1b", NewPhase1b(0, 1, Ballot{1, 0}, []Proposal{{Slot: 1, Ballot: Ballot{1, 0}, Command: cmd}}), false},
		{"phase2a", NewPhase2a(0, Proposal{Slot: 1, Ballot: Ballot{1, 0}, Command: cmd}), false},
		{"terminate", NewTerminate(), false},
		{"request without command", Msg{Type: Request}, true},
		{"phase2a without proposal", Msg{Type: Phase2a}, true},
		{"response without result", Msg{Type: Response, OpID: 1}, true},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			data, err := Encode(tc.msg)
			require.NoError(t, err)

			got, err := Decode(data)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.msg, got)
		})
	}
}

func TestSplitPromise(t *testing.T) {
	var accepted []Proposal
	for slot := 1; slot <= 800; slot++ {
		accepted = append(accepted, Proposal{Slot: slot, Ballot: Ballot{2, 1}, Command: Command{ClientID: 1, OpID: slot, Op: "18446744073709551615"}})
	}
	var promise = NewPhase1b(1, 2, Ballot{3, 1}, accepted)

	whole, err := Encode(promise)
	require.NoError(t, err)
	require.Greater(t, len(whole), transport.MaxDatagram)

	parts, err := splitPromise(promise, promisePart)
	require.NoError(t, err)
	require.Greater(t, len(parts), 1)

	var joined []Proposal
	for i, part := range parts {
		require.Equal(t, i, part.Part)
		require.Equal(t, len(parts), part.Parts)
		require.Equal(t, promise.Ballot, part.Ballot)
		require.Equal(t, 2, part.AcceptorID)

		data, err := Encode(part)
		require.NoError(t, err)
		require.LessOrEqual(t, len(data), transport.MaxDatagram)

		decoded, err := Decode(data)
		require.NoError(t, err)
		joined = append(joined, decoded.Accepted...)
	}
	require.Equal(t, accepted, joined)

	// a promise that fits is sent as it is
	parts, err = splitPromise(NewPhase1b(1, 2, Ballot{3, 1}, accepted[:10]), promisePart)
	require.NoError(t, err)
	require.Equal(t, []Msg{NewPhase1b(1, 2, Ballot{3, 1}, accepted[:10])}, parts)
}

func TestDecode_Garbage(t *testing.T) {
	for _, payload := range []string{"", "not json", `{"type":"Phase9"}`, `{"slot":1}`, InvalidMessage} {
		_, err := Decode([]byte(payload))
		require.Error(t, err, payload)
	}
}
