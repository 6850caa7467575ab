package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGameMessageTypeFollowsPayload(t *testing.T) {
	ts := time.Unix(100, 0)
	msg, err := NewGameMessage("m1", "room-1", "p1", VotePayload{TargetID: "p3"}, ts)
	require.NoError(t, err)

	assert.Equal(t, MessageVote, msg.Type)
	assert.Equal(t, "p1", msg.PlayerID)
	assert.Equal(t, ts, msg.Timestamp)
}

func TestNewGameMessageRejectsInvalidPayload(t *testing.T) {
	cases := []struct {
		name    string
		payload Payload
	}{
		{"nil", nil},
		{"empty chat", ChatPayload{}},
		{"vote without target", VotePayload{}},
		{"unknown phase", PhaseChangePayload{Phase: "DUSK"}},
		{"ai count mismatch", GameStartPayload{AICount: 2, AIPlayerIDs: []string{"ai_mafia_1"}}},
		{"death without player", DeathPayload{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewGameMessage("m1", "room-1", "p1", tc.payload, time.Now())
			assert.ErrorIs(t, err, ErrInvalidPayload)
		})
	}
}

func TestGameMessageJSONDecodesPayloadVariant(t *testing.T) {
	msg, err := NewGameMessage("m1", "room-1", SystemSender, DeathPayload{PlayerID: "p3", Cause: "vote"}, time.Unix(5, 0).UTC())
	require.NoError(t, err)
	msg.Seq = 7

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded GameMessage
	require.NoError(t, json.Unmarshal(data, &decoded))

	death, ok := decoded.Payload.(DeathPayload)
	require.True(t, ok, "payload decoded as %T", decoded.Payload)
	assert.Equal(t, "p3", death.PlayerID)
	assert.Equal(t, int64(7), decoded.Seq)
	assert.Equal(t, MessageDeath, decoded.Type)
}

func TestGameMessageJSONRejectsUnknownType(t *testing.T) {
	var decoded GameMessage
	err := json.Unmarshal([]byte(`{"id":"m1","type":"whisper","payload":{}}`), &decoded)
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestSettingsValidate(t *testing.T) {
	assert.NoError(t, DefaultSettings().Validate())

	s := DefaultSettings()
	s.AICount = 0
	assert.Error(t, s.Validate())

	s = DefaultSettings()
	s.MaxPlayers = 3
	assert.Error(t, s.Validate())

	s = DefaultSettings()
	s.VotingDuration = 0
	assert.Error(t, s.Validate())
}

func TestGameStateCloneIsDeep(t *testing.T) {
	state := NewGameState("room-1", DefaultSettings(), time.Now())
	state.Players = append(state.Players, NewPlayer("p1"))
	state.Votes["p1"] = "p2"

	clone := state.Clone()
	clone.Players[0].IsAlive = false
	clone.Votes["p1"] = "p3"
	state.LastVoteCounts = map[string]int{"p2": 1}
	clone = state.Clone()
	clone.LastVoteCounts["p2"] = 5

	assert.True(t, state.Players[0].IsAlive)
	assert.Equal(t, "p2", state.Votes["p1"])
	assert.Equal(t, 1, state.LastVoteCounts["p2"])
}

func TestPhaseChangeDeadlineOmittedWhenUntimed(t *testing.T) {
	data, err := json.Marshal(PhaseChangePayload{Phase: PhaseEnd, Round: 3})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "deadline")

	deadline := time.Unix(90, 0).UTC()
	msg, err := NewGameMessage("m1", "room-1", SystemSender, PhaseChangePayload{Phase: PhaseDay, Round: 1, Deadline: &deadline}, time.Unix(60, 0).UTC())
	require.NoError(t, err)
	data, err = json.Marshal(msg)
	require.NoError(t, err)

	var decoded GameMessage
	require.NoError(t, json.Unmarshal(data, &decoded))
	change := decoded.Payload.(PhaseChangePayload)
	require.NotNil(t, change.Deadline)
	assert.True(t, deadline.Equal(*change.Deadline))
}
