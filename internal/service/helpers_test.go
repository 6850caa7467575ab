package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mafia_web/internal/models"
	"mafia_web/internal/repository"
)

// fakeClock 手動推進的時鐘，Advance 時依截止時間順序同步執行到期的回呼
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var next *fakeTimer
		for _, t := range c.timers {
			if t.stopped || t.fired || t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) {
				next = t
			}
		}
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		if next.at.After(c.now) {
			c.now = next.at
		}
		next.fired = true
		c.mu.Unlock()
		next.f()
	}
}

func (c *fakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// flakyRepository 可切換為儲存失敗的 repository
type flakyRepository struct {
	*repository.MemoryRoomRepository
	mu   sync.Mutex
	fail bool
}

var errStoreDown = errors.New("store unavailable")

func (r *flakyRepository) SetFail(fail bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail = fail
}

func (r *flakyRepository) Save(ctx context.Context, state *models.GameState, messages ...models.GameMessage) error {
	r.mu.Lock()
	fail := r.fail
	r.mu.Unlock()
	if fail {
		return errStoreDown
	}
	return r.MemoryRoomRepository.Save(ctx, state, messages...)
}

// recordingGenerator 記錄每次生成的上下文，reply 決定回傳內容
type recordingGenerator struct {
	mu       sync.Mutex
	contexts []ChatContext
	reply    func(ChatContext) string
}

func (g *recordingGenerator) Generate(_ context.Context, chat ChatContext) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.contexts = append(g.contexts, chat)
	return g.reply(chat), nil
}

func (g *recordingGenerator) Contexts() []ChatContext {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]ChatContext(nil), g.contexts...)
}

// recordingBroadcaster 記錄推送順序，可設定為推送失敗
type recordingBroadcaster struct {
	mu       sync.Mutex
	messages []models.GameMessage
	closed   []string
	err      error
}

func (b *recordingBroadcaster) CloseRoom(roomID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = append(b.closed, roomID)
}

func (b *recordingBroadcaster) Publish(_ string, msg models.GameMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, msg)
	return b.err
}

func (b *recordingBroadcaster) Messages() []models.GameMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]models.GameMessage(nil), b.messages...)
}

type fixture struct {
	t       *testing.T
	ctx     context.Context
	clock   *fakeClock
	repo    *flakyRepository
	bc      *recordingBroadcaster
	manager *GameManager
	delays  PhaseDelays
}

func noNightKill([]models.Player) string { return "" }

func testSettings() models.Settings {
	return models.Settings{
		MinPlayers:     3,
		MaxPlayers:     10,
		AICount:        1,
		DayDuration:    10,
		NightDuration:  10,
		VotingDuration: 10,
	}
}

func testOptions(clock *fakeClock) ManagerOptions {
	return ManagerOptions{
		Clock:         clock,
		Delays:        DefaultPhaseDelays(),
		NightTarget:   noNightKill,
		Spawn:         func(f func()) { f() },
		ChatGenerator: nil,
	}
}

func newFixture(t *testing.T, settings models.Settings, tweak func(*ManagerOptions)) *fixture {
	t.Helper()
	clock := newFakeClock()
	return newFixtureFromState(t, clock, models.NewGameState("room-1", settings, clock.Now()), tweak)
}

// newFixtureFromState 以任意的既有狀態建立房間
func newFixtureFromState(t *testing.T, clock *fakeClock, state *models.GameState, tweak func(*ManagerOptions)) *fixture {
	t.Helper()
	repo := &flakyRepository{MemoryRoomRepository: repository.NewMemoryRoomRepository()}
	bc := &recordingBroadcaster{}
	opts := testOptions(clock)
	if tweak != nil {
		tweak(&opts)
	}

	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, state))

	return &fixture{
		t:       t,
		ctx:     ctx,
		clock:   clock,
		repo:    repo,
		bc:      bc,
		manager: NewGameManager(ctx, state, repo, bc, opts),
		delays:  opts.Delays,
	}
}

// startWith 讓玩家加入並全部準備，遊戲進入 STARTING
func (f *fixture) startWith(ids ...string) {
	f.t.Helper()
	for _, id := range ids {
		require.NoError(f.t, f.manager.Join(f.ctx, id))
	}
	for _, id := range ids {
		require.NoError(f.t, f.manager.SetReady(f.ctx, id, true))
	}
	require.Equal(f.t, models.PhaseStarting, f.phase())
}

func (f *fixture) phase() models.Phase {
	return f.manager.Snapshot().Phase
}

// advancePhase 推進到目前階段的截止時間
func (f *fixture) advancePhase() {
	f.t.Helper()
	deadline := f.manager.Snapshot().PhaseDeadline
	require.False(f.t, deadline.IsZero(), "phase %s has no deadline", f.phase())
	f.clock.Advance(deadline.Sub(f.clock.Now()))
}

// advanceTo 持續推進直到進入 phase
func (f *fixture) advanceTo(phase models.Phase) {
	f.t.Helper()
	for i := 0; i < 10 && f.phase() != phase; i++ {
		f.advancePhase()
	}
	require.Equal(f.t, phase, f.phase())
}

func (f *fixture) messages() []models.GameMessage {
	f.t.Helper()
	messages, err := f.repo.FindMessages(f.ctx, "room-1")
	require.NoError(f.t, err)
	return messages
}

func messagesOfType(messages []models.GameMessage, typ models.MessageType) []models.GameMessage {
	var out []models.GameMessage
	for _, msg := range messages {
		if msg.Type == typ {
			out = append(out, msg)
		}
	}
	return out
}

func deathsOf(messages []models.GameMessage, playerID string) int {
	n := 0
	for _, msg := range messagesOfType(messages, models.MessageDeath) {
		if msg.Payload.(models.DeathPayload).PlayerID == playerID {
			n++
		}
	}
	return n
}
