package service

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"mafia_web/internal/game"
	"mafia_web/internal/models"
	"mafia_web/internal/repository"
)

const (
	causeVote  = "vote"
	causeNight = "night"
	causeAdmin = "eliminated"

	// 計時器觸發的轉換儲存失敗時，稍後重試
	persistRetryDelay = time.Second
	aiChatTimeout     = 30 * time.Second
)

// NightTargetFunc 夜晚時 AI 陣營從候選村民中選出淘汰對象，回傳空字串表示不行動
type NightTargetFunc func(candidates []models.Player) string

// RandomNightTarget 隨機選擇一位存活村民
func RandomNightTarget(candidates []models.Player) string {
	if len(candidates) == 0 {
		return ""
	}
	return candidates[rand.Intn(len(candidates))].ID
}

// ManagerOptions GameManager 的可替換依賴
type ManagerOptions struct {
	Clock         Clock
	Delays        PhaseDelays
	ChatGenerator ChatGenerator
	NightTarget   NightTargetFunc
	NewID         func() string
	Spawn         func(func()) // 執行鎖外的背景工作，預設為 goroutine
}

func (o ManagerOptions) withDefaults() ManagerOptions {
	if o.Clock == nil {
		o.Clock = realClock{}
	}
	if o.Delays == (PhaseDelays{}) {
		o.Delays = DefaultPhaseDelays()
	}
	if o.NightTarget == nil {
		o.NightTarget = RandomNightTarget
	}
	if o.NewID == nil {
		o.NewID = uuid.NewString
	}
	if o.Spawn == nil {
		o.Spawn = func(f func()) { go f() }
	}
	return o
}

// GameManager 一個房間的狀態機。所有指令與計時器回呼都在 mu 之下序列化，
// 變更先寫入副本，儲存成功後才替換狀態並依提交順序廣播。
type GameManager struct {
	mu            sync.Mutex
	ctx           context.Context
	roomID        string
	state         *models.GameState
	repo          repository.RoomRepository
	broadcaster   Broadcaster
	scheduler     *PhaseScheduler
	opts          ManagerOptions
	lastTimestamp time.Time
	logger        zerolog.Logger
}

// NewGameManager 以已存在的狀態建立管理器，ctx 供計時器與背景工作使用
func NewGameManager(ctx context.Context, state *models.GameState, repo repository.RoomRepository, broadcaster Broadcaster, opts ManagerOptions) *GameManager {
	if broadcaster == nil {
		broadcaster = NoopBroadcaster{}
	}
	if ctx == nil {
		ctx = context.Background()
	}
	opts = opts.withDefaults()
	m := &GameManager{
		ctx:           ctx,
		roomID:        state.RoomID,
		state:         state.Clone(),
		repo:          repo,
		broadcaster:   broadcaster,
		opts:          opts,
		lastTimestamp: state.UpdatedAt,
		logger:        log.With().Str("room_id", state.RoomID).Logger(),
	}
	m.scheduler = NewPhaseScheduler(opts.Clock, state.Settings, opts.Delays, m.onTimer)
	return m
}

func (m *GameManager) RoomID() string {
	return m.roomID
}

// Snapshot 回傳目前狀態的深拷貝
func (m *GameManager) Snapshot() *models.GameState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone()
}

// Join 玩家加入大廳。重複加入不做任何事。
func (m *GameManager) Join(ctx context.Context, playerID string) error {
	const op = "join"
	m.mu.Lock()
	defer m.mu.Unlock()

	if playerID == "" {
		return invalid(op, "Player ID is required")
	}
	if m.state.Phase != models.PhaseLobby {
		return invalid(op, "Cannot join after the game has started")
	}
	if p, _ := m.state.Player(playerID); p != nil {
		return nil
	}
	if len(m.state.Players) >= m.state.Settings.HumanCapacity() {
		return invalid(op, "Room is full")
	}

	t := m.begin()
	t.next.Players = append(t.next.Players, models.NewPlayer(playerID))
	if err := t.emit(models.SystemSender, models.SystemPayload{Message: playerID + " joined the room"}); err != nil {
		return err
	}
	return m.commit(ctx, op, t)
}

// SetReady 更新玩家的準備狀態，所有人類玩家準備好且人數符合時開始遊戲
func (m *GameManager) SetReady(ctx context.Context, playerID string, ready bool) error {
	const op = "ready"
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Phase != models.PhaseLobby {
		return invalid(op, "Ready state can only change in the lobby")
	}
	if p, _ := m.state.Player(playerID); p == nil {
		return fmt.Errorf("%s %s: %w", op, playerID, ErrPlayerNotFound)
	}

	t := m.begin()
	p, _ := t.next.Player(playerID)
	p.IsReady = ready
	if err := t.emit(playerID, models.ReadyPayload{Ready: ready}); err != nil {
		return err
	}
	if canStart(t.next) {
		if err := t.startGame(); err != nil {
			return err
		}
	}
	return m.commit(ctx, op, t)
}

// StartGame 在大廳條件滿足時開始遊戲
func (m *GameManager) StartGame(ctx context.Context) error {
	const op = "start"
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Phase != models.PhaseLobby {
		return invalid(op, "Game has already started")
	}
	if !canStart(m.state) {
		return invalid(op, "Not all players are ready")
	}
	t := m.begin()
	if err := t.startGame(); err != nil {
		return err
	}
	return m.commit(ctx, op, t)
}

// HandleChat 大廳與白天允許存活的人類玩家發言，回傳儲存的訊息。
// 白天的發言會在鎖外觸發 AI 席位的回覆。
func (m *GameManager) HandleChat(ctx context.Context, playerID, content string) (*models.GameMessage, error) {
	msg, day, err := m.handleChat(ctx, playerID, content)
	if err != nil {
		return nil, err
	}
	if day > 0 {
		trigger := *msg
		m.opts.Spawn(func() { m.runAIChat(day, &trigger) })
	}
	return msg, nil
}

// handleChat 回傳白天的回合數，不在白天時為 0
func (m *GameManager) handleChat(ctx context.Context, playerID, content string) (*models.GameMessage, int, error) {
	const op = "chat"
	m.mu.Lock()
	defer m.mu.Unlock()

	p, _ := m.state.Player(playerID)
	switch {
	case p == nil:
		return nil, 0, fmt.Errorf("%s %s: %w", op, playerID, ErrPlayerNotFound)
	case p.IsAI || m.state.IsAI(playerID):
		return nil, 0, invalid(op, "AI seats cannot send chat")
	case !p.IsAlive:
		return nil, 0, invalid(op, "Dead players cannot chat")
	case m.state.Phase != models.PhaseLobby && m.state.Phase != models.PhaseDay:
		return nil, 0, invalid(op, "Cannot send message at this time")
	case strings.TrimSpace(content) == "":
		return nil, 0, invalid(op, "Message content is required")
	}

	t := m.begin()
	if err := t.emit(playerID, models.ChatPayload{Message: content}); err != nil {
		return nil, 0, err
	}
	msg := t.messages[0]
	if err := m.commit(ctx, op, t); err != nil {
		return nil, 0, err
	}
	day := 0
	if m.state.Phase == models.PhaseDay {
		day = m.state.Round
	}
	return &msg, day, nil
}

// HandleVote 記錄投票；所有存活人類都投票後立即結算
func (m *GameManager) HandleVote(ctx context.Context, voterID, targetID string) (*models.GameMessage, error) {
	const op = "vote"
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Phase != models.PhaseVoting {
		return nil, invalid(op, "Voting is not open")
	}
	voter, _ := m.state.Player(voterID)
	target, _ := m.state.Player(targetID)
	switch {
	case voter == nil:
		return nil, fmt.Errorf("%s voter %s: %w", op, voterID, ErrPlayerNotFound)
	case target == nil:
		return nil, fmt.Errorf("%s target %s: %w", op, targetID, ErrPlayerNotFound)
	case voter.IsAI || m.state.IsAI(voterID):
		return nil, invalid(op, "AI seats cannot vote")
	case !voter.IsAlive:
		return nil, invalid(op, "Dead players cannot vote")
	case !target.IsAlive:
		return nil, invalid(op, "Cannot vote for a dead player")
	case voterID == targetID:
		return nil, invalid(op, "Cannot vote for yourself")
	}

	t := m.begin()
	t.next.Votes[voterID] = targetID
	tally := game.TallyVotes(t.next.Votes, t.next.AlivePlayers())
	game.ApplyVoteCounts(t.next.Players, tally.Counts)
	if err := t.emit(voterID, models.VotePayload{TargetID: targetID}); err != nil {
		return nil, err
	}
	msg := t.messages[0]
	if len(t.next.Votes) >= t.next.AliveHumanCount() {
		if err := t.resolveVoting(); err != nil {
			return nil, err
		}
	}
	if err := m.commit(ctx, op, t); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Eliminate 淘汰玩家；對已死亡的玩家不做任何事
func (m *GameManager) Eliminate(ctx context.Context, playerID string) error {
	const op = "eliminate"
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Phase == models.PhaseLobby || m.state.Phase == models.PhaseEnd {
		return invalid(op, "No game in progress")
	}
	p, _ := m.state.Player(playerID)
	if p == nil {
		return fmt.Errorf("%s %s: %w", op, playerID, ErrPlayerNotFound)
	}
	if !p.IsAlive {
		return nil
	}

	t := m.begin()
	if _, err := t.eliminate(playerID, causeAdmin); err != nil {
		return err
	}
	if _, err := t.checkWin(); err != nil {
		return err
	}
	return m.commit(ctx, op, t)
}

// CheckWinCondition 回傳目前的勝方，尚未分出勝負時為 FactionNone
func (m *GameManager) CheckWinCondition() models.Faction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return game.CheckWinCondition(m.state.Players)
}

// OnPhaseDeadline 執行目前階段的自動轉換
func (m *GameManager) OnPhaseDeadline(ctx context.Context) error {
	m.mu.Lock()
	t, err := m.advance(ctx)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	m.afterCommit(t)
	return nil
}

// Resume 依持久化的截止時間重新排程，用於重啟後恢復
func (m *GameManager) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.state.Active() {
		return
	}
	deadline := m.state.PhaseDeadline
	if deadline.IsZero() {
		deadline = m.scheduler.DeadlineFor(m.state.Phase, m.opts.Clock.Now())
	}
	m.scheduler.Arm(m.state.Phase, deadline)
	m.logger.Info().Str("phase", string(m.state.Phase)).Time("deadline", deadline).Msg("phase timer resumed")
}

// Close 停止計時器
func (m *GameManager) Close() {
	m.scheduler.Cancel()
}

// restoreHistory 以已儲存的最後一則消息校正序號與時間戳，用於重啟後載入
func (m *GameManager) restoreHistory(last *models.GameMessage) {
	if last == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if last.Seq > m.state.MessageSeq {
		m.logger.Warn().Int64("stored_seq", m.state.MessageSeq).Int64("last_seq", last.Seq).Msg("message sequence behind history")
		m.state.MessageSeq = last.Seq
	}
	if last.Timestamp.After(m.lastTimestamp) {
		m.lastTimestamp = last.Timestamp
	}
}

func (m *GameManager) onTimer(phase models.Phase, generation uint64) {
	m.mu.Lock()
	if !m.scheduler.Current(phase, generation) || m.state.Phase != phase {
		m.mu.Unlock()
		return
	}
	t, err := m.advance(m.ctx)
	if err != nil {
		var perr *PersistenceError
		retry := errors.As(err, &perr)
		if retry {
			m.scheduler.Arm(phase, m.opts.Clock.Now().Add(persistRetryDelay))
		}
		m.mu.Unlock()
		if retry {
			m.logger.Error().Err(err).Str("phase", string(phase)).Dur("retry_in", persistRetryDelay).Msg("phase transition failed, retrying")
		} else {
			m.logger.Error().Err(err).Str("phase", string(phase)).Msg("phase transition failed, room timer stopped")
		}
		return
	}
	m.mu.Unlock()
	m.afterCommit(t)
}

// advance 需持有 mu
func (m *GameManager) advance(ctx context.Context) (*txn, error) {
	const op = "advance"
	t := m.begin()
	var err error
	switch m.state.Phase {
	case models.PhaseStarting:
		err = t.enterPhase(models.PhaseNight)
	case models.PhaseNight:
		err = t.resolveNight()
	case models.PhaseDay:
		err = t.enterPhase(models.PhaseVoting)
	case models.PhaseVoting:
		err = t.resolveVoting()
	case models.PhaseVotingResult:
		err = t.enterPhase(models.PhaseNight)
	default:
		return nil, invalid(op, "Phase %s has no deadline", m.state.Phase)
	}
	if err != nil {
		return nil, err
	}
	if err := m.commit(ctx, op, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (m *GameManager) afterCommit(t *txn) {
	if t == nil || !t.enteredDay {
		return
	}
	round := t.next.Round
	m.opts.Spawn(func() { m.runAIChat(round, nil) })
}

// runAIChat 為每個存活的 AI 席位產生發言，trigger 為 nil 表示白天剛開始。
// 不持有鎖呼叫外部生成器，生成器回傳空字串表示不發言。
func (m *GameManager) runAIChat(round int, trigger *models.GameMessage) {
	if m.opts.ChatGenerator == nil {
		return
	}
	snapshot := m.Snapshot()
	recent := m.recentChat(snapshot.RoomID)
	share := voteShare(snapshot.LastVoteCounts)
	var triggerLine string
	if trigger != nil {
		if chat, ok := trigger.Payload.(models.ChatPayload); ok {
			triggerLine = trigger.PlayerID + ": " + chat.Message
		}
	}

	for _, p := range snapshot.Players {
		if !p.IsAI || !p.IsAlive {
			continue
		}
		ctx, cancel := context.WithTimeout(m.ctx, aiChatTimeout)
		content, err := m.opts.ChatGenerator.Generate(ctx, ChatContext{
			RoomID:    snapshot.RoomID,
			PlayerID:  p.ID,
			Round:     round,
			Recent:    recent,
			Trigger:   triggerLine,
			VoteShare: share,
		})
		cancel()
		if err != nil {
			m.logger.Warn().Err(err).Str("player_id", p.ID).Msg("ai chat generation failed")
			continue
		}
		if strings.TrimSpace(content) == "" {
			m.logger.Debug().Str("player_id", p.ID).Msg("ai seat stays silent")
			continue
		}
		if err := m.postAIChat(p.ID, round, content); err != nil {
			m.logger.Debug().Err(err).Str("player_id", p.ID).Msg("ai chat dropped")
		}
	}
}

func (m *GameManager) recentChat(roomID string) []string {
	messages, err := m.repo.FindMessages(m.ctx, roomID)
	if err != nil {
		return nil
	}
	var recent []string
	for _, msg := range messages {
		if chat, ok := msg.Payload.(models.ChatPayload); ok {
			recent = append(recent, msg.PlayerID+": "+chat.Message)
		}
	}
	if len(recent) > 10 {
		recent = recent[len(recent)-10:]
	}
	return recent
}

func (m *GameManager) postAIChat(playerID string, round int, content string) error {
	const op = "ai_chat"
	m.mu.Lock()
	defer m.mu.Unlock()

	content = strings.TrimSpace(content)
	p, _ := m.state.Player(playerID)
	switch {
	case p == nil || !p.IsAI || !p.IsAlive:
		return invalid(op, "AI seat %s cannot speak", playerID)
	case m.state.Phase != models.PhaseDay || m.state.Round != round:
		return invalid(op, "Day %d is over", round)
	case content == "":
		return invalid(op, "Empty AI message")
	}

	t := m.begin()
	if err := t.emit(playerID, models.ChatPayload{Message: content}); err != nil {
		return err
	}
	return m.commit(m.ctx, op, t)
}

// voteShare 將得票數轉為得票比例
func voteShare(counts map[string]int) map[string]float64 {
	total := 0
	for _, n := range counts {
		total += n
	}
	if total == 0 {
		return nil
	}
	share := make(map[string]float64, len(counts))
	for id, n := range counts {
		share[id] = float64(n) / float64(total)
	}
	return share
}

// formatVoteShare 依得票比例由高到低輸出，例如 "p3 67%, p1 33%"
func formatVoteShare(share map[string]float64) string {
	ids := make([]string, 0, len(share))
	for id := range share {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if share[ids[i]] != share[ids[j]] {
			return share[ids[i]] > share[ids[j]]
		}
		return ids[i] < ids[j]
	})
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("%s %.0f%%", id, share[id]*100))
	}
	return strings.Join(parts, ", ")
}

func canStart(s *models.GameState) bool {
	humans := s.Humans()
	if len(humans) == 0 {
		return false
	}
	for _, p := range humans {
		if !p.IsReady {
			return false
		}
	}
	total := len(humans) + s.Settings.AICount
	return total >= s.Settings.MinPlayers && total <= s.Settings.MaxPlayers
}

// commit 需持有 mu。儲存失敗時狀態維持不變。
func (m *GameManager) commit(ctx context.Context, op string, t *txn) error {
	t.next.UpdatedAt = t.now
	if err := m.repo.Save(ctx, t.next, t.messages...); err != nil {
		m.logger.Error().Err(err).Str("op", op).Str("phase", string(m.state.Phase)).Msg("failed to persist room state")
		return mapRepoError(op, err)
	}

	from := m.state.Phase
	m.state = t.next
	m.lastTimestamp = t.last

	if t.phaseChanged {
		m.logger.Info().
			Str("from", string(from)).
			Str("phase", string(m.state.Phase)).
			Int("round", m.state.Round).
			Msg("phase changed")
		if m.state.Phase == models.PhaseEnd {
			m.scheduler.Cancel()
		} else {
			m.scheduler.Arm(m.state.Phase, m.state.PhaseDeadline)
		}
	}

	for _, msg := range t.messages {
		if err := m.broadcaster.Publish(m.state.RoomID, msg); err != nil {
			m.logger.Warn().Err(err).Str("message_id", msg.ID).Str("type", string(msg.Type)).Msg("broadcast failed")
		}
	}
	return nil
}

// txn 一次指令中對狀態副本的變更與產生的消息
type txn struct {
	m            *GameManager
	next         *models.GameState
	messages     []models.GameMessage
	now          time.Time
	last         time.Time
	phaseChanged bool
	enteredDay   bool
}

func (m *GameManager) begin() *txn {
	now := m.opts.Clock.Now()
	if now.Before(m.lastTimestamp) {
		now = m.lastTimestamp
	}
	return &txn{
		m:    m,
		next: m.state.Clone(),
		now:  now,
		last: m.lastTimestamp,
	}
}

func (t *txn) emit(playerID string, payload models.Payload) error {
	ts := t.now
	if ts.Before(t.last) {
		ts = t.last
	}
	msg, err := models.NewGameMessage(t.m.opts.NewID(), t.next.RoomID, playerID, payload, ts)
	if err != nil {
		return err
	}
	t.next.MessageSeq++
	msg.Seq = t.next.MessageSeq
	t.last = ts
	t.messages = append(t.messages, msg)
	return nil
}

func (t *txn) enterPhase(to models.Phase) error {
	from := t.next.Phase
	if !game.CanTransition(from, to) {
		return fmt.Errorf("illegal phase transition %s -> %s", from, to)
	}
	if from == models.PhaseNight && to == models.PhaseDay {
		t.next.Round++
		t.enteredDay = true
	}
	if to == models.PhaseVoting {
		game.ApplyVoteCounts(t.next.Players, nil)
	}
	t.next.Votes = map[string]string{}
	t.next.Phase = to
	t.next.PhaseStartedAt = t.now
	t.next.PhaseDeadline = t.m.scheduler.DeadlineFor(to, t.now)
	t.phaseChanged = true

	payload := models.PhaseChangePayload{Phase: to, Round: t.next.Round}
	if !t.next.PhaseDeadline.IsZero() {
		deadline := t.next.PhaseDeadline
		payload.Deadline = &deadline
	}
	return t.emit(models.SystemSender, payload)
}

func (t *txn) startGame() error {
	players, aiIDs, err := game.AssignRoles(t.next.Players, t.next.Settings)
	if err != nil {
		return invalid("start", "%v", err)
	}
	t.next.Players = players
	t.next.AIPlayerIDs = aiIDs

	if err := t.emit(models.SystemSender, models.GameStartPayload{AICount: len(aiIDs), AIPlayerIDs: aiIDs}); err != nil {
		return err
	}
	announce := fmt.Sprintf("Game is starting. There are %d AI Mafia players among you.", len(aiIDs))
	if err := t.emit(models.SystemSender, models.SystemPayload{Message: announce}); err != nil {
		return err
	}
	return t.enterPhase(models.PhaseStarting)
}

// resolveNight AI 陣營先行動，之後進入白天
func (t *txn) resolveNight() error {
	var candidates []models.Player
	aiAlive := false
	for _, p := range t.next.Players {
		if !p.IsAlive {
			continue
		}
		if p.IsAI {
			aiAlive = true
		} else {
			candidates = append(candidates, p)
		}
	}

	if aiAlive && len(candidates) > 0 {
		if target := t.m.opts.NightTarget(candidates); target != "" {
			if err := t.emit(models.SystemSender, models.AIActionPayload{Action: "kill", TargetID: target}); err != nil {
				return err
			}
			if _, err := t.eliminate(target, causeNight); err != nil {
				return err
			}
			if ended, err := t.checkWin(); ended || err != nil {
				return err
			}
		}
	}
	return t.enterPhase(models.PhaseDay)
}

// resolveVoting 計票並淘汰最高票者
func (t *txn) resolveVoting() error {
	tally := game.TallyVotes(t.next.Votes, t.next.AlivePlayers())
	game.ApplyVoteCounts(t.next.Players, tally.Counts)
	if err := t.enterPhase(models.PhaseVotingResult); err != nil {
		return err
	}
	t.next.LastVoteCounts = maps.Clone(tally.Counts)

	if len(tally.Eliminated) == 0 {
		return t.emit(models.SystemSender, models.SystemPayload{Message: "No votes were cast. Nobody was eliminated."})
	}

	target := tally.Eliminated[0]
	summary := fmt.Sprintf("%s received the most votes (%d).", target, tally.Counts[target])
	if tally.Tie {
		summary = fmt.Sprintf("Vote tied at %d; %s is eliminated by lowest id.", tally.Counts[target], target)
	}
	if err := t.emit(models.SystemSender, models.SystemPayload{Message: summary}); err != nil {
		return err
	}
	if _, err := t.eliminate(target, causeVote); err != nil {
		return err
	}
	_, err := t.checkWin()
	return err
}

// eliminate 回傳是否真的淘汰了玩家
func (t *txn) eliminate(playerID, cause string) (bool, error) {
	p, _ := t.next.Player(playerID)
	if p == nil {
		return false, fmt.Errorf("eliminate %s: %w", playerID, ErrPlayerNotFound)
	}
	if !p.IsAlive {
		return false, nil
	}
	p.IsAlive = false
	for voter, target := range t.next.Votes {
		if voter == playerID || target == playerID {
			delete(t.next.Votes, voter)
		}
	}
	return true, t.emit(models.SystemSender, models.DeathPayload{PlayerID: playerID, Cause: cause})
}

// checkWin 有勝方時進入 END
func (t *txn) checkWin() (bool, error) {
	winner := game.CheckWinCondition(t.next.Players)
	if winner == models.FactionNone {
		return false, nil
	}
	if err := t.enterPhase(models.PhaseEnd); err != nil {
		return false, err
	}
	t.next.Winner = winner
	msg := "Villagers win! All AI Mafia have been eliminated."
	if winner == models.FactionAIMafia {
		msg = "AI Mafia wins! They now outnumber the villagers."
	}
	return true, t.emit(models.SystemSender, models.SystemPayload{Message: msg})
}
