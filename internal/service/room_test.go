package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mafia_web/internal/models"
	"mafia_web/internal/repository"
)

func newTestRoomService(t *testing.T) (*RoomService, *fakeClock, repository.RoomRepository) {
	t.Helper()
	clock := newFakeClock()
	repo := repository.NewMemoryRoomRepository()
	s := NewRoomService(context.Background(), repo, nil, testSettings(), testOptions(clock))
	t.Cleanup(s.Shutdown)
	return s, clock, repo
}

func TestCreateRoom(t *testing.T) {
	s, _, _ := newTestRoomService(t)
	ctx := context.Background()

	id, err := s.CreateRoom(ctx, "", nil, "")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	id, err = s.CreateRoom(ctx, "room-a", nil, "alice")
	require.NoError(t, err)
	assert.Equal(t, "room-a", id)

	state, err := s.GetRoom(ctx, "room-a")
	require.NoError(t, err)
	assert.Equal(t, models.PhaseLobby, state.Phase)
	require.Len(t, state.Players, 1)
	assert.Equal(t, "alice", state.Players[0].ID)

	_, err = s.CreateRoom(ctx, "room-a", nil, "")
	assert.True(t, IsConflict(err))

	bad := testSettings()
	bad.AICount = 0
	_, err = s.CreateRoom(ctx, "room-b", &bad, "")
	assert.True(t, IsValidation(err))

	rooms, err := s.ListRooms(ctx)
	require.NoError(t, err)
	assert.Len(t, rooms, 2)
}

func TestUnknownRoom(t *testing.T) {
	s, _, _ := newTestRoomService(t)
	ctx := context.Background()

	err := s.JoinRoom(ctx, "nope", "alice")
	assert.True(t, errors.Is(err, ErrRoomNotFound))
	assert.True(t, IsNotFound(err))

	_, err = s.GetMessages(ctx, "nope")
	assert.True(t, errors.Is(err, ErrRoomNotFound))

	_, err = s.PostMessage(ctx, "nope", PostMessageInput{Type: "chat", Sender: "alice", Content: "hi"})
	assert.True(t, errors.Is(err, ErrRoomNotFound))
}

func TestPostMessage(t *testing.T) {
	s, _, _ := newTestRoomService(t)
	ctx := context.Background()
	_, err := s.CreateRoom(ctx, "room-a", nil, "alice")
	require.NoError(t, err)

	messages, err := s.GetMessages(ctx, "room-a")
	require.NoError(t, err)
	require.Len(t, messages, 1, "join announcement")

	_, err = s.PostMessage(ctx, "room-a", PostMessageInput{Type: "shout", Sender: "alice", Content: "hi"})
	require.Error(t, err)
	assert.Equal(t, "Invalid message type", err.Error())

	_, err = s.PostMessage(ctx, "room-a", PostMessageInput{Type: "vote", Sender: "alice"})
	assert.Equal(t, "Vote target required", err.Error())

	msg, err := s.PostMessage(ctx, "room-a", PostMessageInput{Type: "chat", Sender: "alice", Content: "hi all"})
	require.NoError(t, err)
	assert.Equal(t, models.ChatPayload{Message: "hi all"}, msg.Payload)

	messages, err = s.GetMessages(ctx, "room-a")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, msg.ID, messages[1].ID)
}

func TestGetMessagesEmptyRoom(t *testing.T) {
	s, _, _ := newTestRoomService(t)
	ctx := context.Background()
	_, err := s.CreateRoom(ctx, "quiet", nil, "")
	require.NoError(t, err)

	messages, err := s.GetMessages(ctx, "quiet")
	require.NoError(t, err)
	assert.NotNil(t, messages)
	assert.Empty(t, messages)
}

func TestHandleCommand(t *testing.T) {
	s, _, _ := newTestRoomService(t)
	ctx := context.Background()
	_, err := s.CreateRoom(ctx, "room-a", nil, "")
	require.NoError(t, err)
	for _, id := range []string{"p1", "p2", "p3"} {
		require.NoError(t, s.JoinRoom(ctx, "room-a", id))
	}

	for _, id := range []string{"p1", "p2", "p3"} {
		require.NoError(t, s.HandleCommand(ctx, "room-a", id, ClientCommand{Type: "ready"}))
	}
	state, err := s.GetRoom(ctx, "room-a")
	require.NoError(t, err)
	assert.Equal(t, models.PhaseStarting, state.Phase)

	err = s.HandleCommand(ctx, "room-a", "p1", ClientCommand{Type: "chat", Content: "hello"})
	assert.Equal(t, "Cannot send message at this time", err.Error())
}

func TestDeleteRoom(t *testing.T) {
	s, clock, _ := newTestRoomService(t)
	ctx := context.Background()
	_, err := s.CreateRoom(ctx, "room-a", nil, "")
	require.NoError(t, err)
	for _, id := range []string{"p1", "p2", "p3"} {
		require.NoError(t, s.JoinRoom(ctx, "room-a", id))
		require.NoError(t, s.SetReady(ctx, "room-a", id, true))
	}

	require.NoError(t, s.DeleteRoom(ctx, "room-a"))
	assert.Zero(t, clock.Pending())
	_, err = s.GetRoom(ctx, "room-a")
	assert.True(t, errors.Is(err, ErrRoomNotFound))
	assert.True(t, errors.Is(s.DeleteRoom(ctx, "room-a"), ErrRoomNotFound))
}

func TestRecoverRearmsActiveRooms(t *testing.T) {
	clock := newFakeClock()
	repo := repository.NewMemoryRoomRepository()
	ctx := context.Background()

	// 模擬重啟前已存在的房間
	active := models.NewGameState("active", testSettings(), clock.Now())
	active.Players = []models.Player{
		{ID: "p1", Role: models.RoleVillager, IsAlive: true, IsReady: true},
		{ID: "p2", Role: models.RoleVillager, IsAlive: true, IsReady: true},
		{ID: "ai_mafia_1", Role: models.RoleAIMafia, IsAlive: true, IsReady: true, IsAI: true},
	}
	active.AIPlayerIDs = []string{"ai_mafia_1"}
	active.Phase = models.PhaseDay
	active.Round = 1
	active.PhaseStartedAt = clock.Now().Add(-8 * time.Second)
	active.PhaseDeadline = clock.Now().Add(2 * time.Second)
	require.NoError(t, repo.Create(ctx, active))
	require.NoError(t, repo.Create(ctx, models.NewGameState("lobby", testSettings(), clock.Now())))

	s := NewRoomService(ctx, repo, nil, testSettings(), testOptions(clock))
	defer s.Shutdown()

	n, err := s.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, clock.Pending())

	clock.Advance(2 * time.Second)
	state, err := s.GetRoom(ctx, "active")
	require.NoError(t, err)
	assert.Equal(t, models.PhaseVoting, state.Phase)

	stored, err := repo.FindByID(ctx, "active")
	require.NoError(t, err)
	assert.Equal(t, models.PhaseVoting, stored.Phase)
}

func TestDeleteRoomDisconnectsSubscribers(t *testing.T) {
	clock := newFakeClock()
	bc := &recordingBroadcaster{}
	s := NewRoomService(context.Background(), repository.NewMemoryRoomRepository(), bc, testSettings(), testOptions(clock))
	defer s.Shutdown()
	ctx := context.Background()

	_, err := s.CreateRoom(ctx, "room-a", nil, "alice")
	require.NoError(t, err)
	require.NoError(t, s.DeleteRoom(ctx, "room-a"))

	bc.mu.Lock()
	defer bc.mu.Unlock()
	assert.Equal(t, []string{"room-a"}, bc.closed)
}

func TestCreateRoomRollsBackWhenCreatorCannotJoin(t *testing.T) {
	clock := newFakeClock()
	repo := &flakyRepository{MemoryRoomRepository: repository.NewMemoryRoomRepository()}
	s := NewRoomService(context.Background(), repo, nil, testSettings(), testOptions(clock))
	defer s.Shutdown()
	ctx := context.Background()

	repo.SetFail(true)
	id, err := s.CreateRoom(ctx, "r1", nil, "alice")
	require.Error(t, err)
	assert.Empty(t, id)
	var perr *PersistenceError
	assert.True(t, errors.As(err, &perr))

	_, err = s.GetRoom(ctx, "r1")
	assert.True(t, errors.Is(err, ErrRoomNotFound))
	rooms, err := s.ListRooms(ctx)
	require.NoError(t, err)
	assert.Empty(t, rooms)

	// 同一個 ID 可以再次建立
	repo.SetFail(false)
	id, err = s.CreateRoom(ctx, "r1", nil, "alice")
	require.NoError(t, err)
	assert.Equal(t, "r1", id)
}

func TestRecoverContinuesMessageHistory(t *testing.T) {
	clock := newFakeClock()
	repo := repository.NewMemoryRoomRepository()
	ctx := context.Background()

	active := models.NewGameState("active", testSettings(), clock.Now())
	active.Players = []models.Player{
		{ID: "p1", Role: models.RoleVillager, IsAlive: true, IsReady: true},
		{ID: "p2", Role: models.RoleVillager, IsAlive: true, IsReady: true},
		{ID: "ai_mafia_1", Role: models.RoleAIMafia, IsAlive: true, IsReady: true, IsAI: true},
	}
	active.AIPlayerIDs = []string{"ai_mafia_1"}
	active.Phase = models.PhaseDay
	active.Round = 1
	active.PhaseDeadline = clock.Now().Add(2 * time.Second)
	require.NoError(t, repo.Create(ctx, active))

	// 序號計數落後於已儲存的消息，最後一則消息的時間晚於目前時鐘
	future := clock.Now().Add(time.Hour)
	old, err := models.NewGameMessage("old", "active", "p1", models.ChatPayload{Message: "see you tomorrow"}, future)
	require.NoError(t, err)
	old.Seq = 5
	require.NoError(t, repo.Save(ctx, active, old))

	s := NewRoomService(ctx, repo, nil, testSettings(), testOptions(clock))
	defer s.Shutdown()
	n, err := s.Recover(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	clock.Advance(2 * time.Second)
	messages, err := repo.FindMessages(ctx, "active")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	next := messages[1]
	assert.Equal(t, models.MessagePhaseChange, next.Type)
	assert.Equal(t, int64(6), next.Seq)
	assert.False(t, next.Timestamp.Before(future))
}
