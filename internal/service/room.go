package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"mafia_web/internal/models"
	"mafia_web/internal/repository"
)

// PostMessageInput 玩家送出的訊息指令
type PostMessageInput struct {
	Type    string `json:"type"` // chat | vote
	Sender  string `json:"sender"`
	Content string `json:"content"`
	Target  string `json:"target,omitempty"`
}

// RoomSummary 房間列表使用的摘要
type RoomSummary struct {
	RoomID      string          `json:"roomId"`
	Phase       models.Phase    `json:"phase"`
	Round       int             `json:"round"`
	PlayerCount int             `json:"playerCount"`
	Settings    models.Settings `json:"settings"`
}

// RoomService 管理所有房間的 GameManager，並提供房間與訊息相關的指令
type RoomService struct {
	ctx         context.Context
	roomRepo    repository.RoomRepository
	broadcaster Broadcaster
	opts        ManagerOptions
	defaults    models.Settings

	mu       sync.RWMutex
	managers map[string]*GameManager
}

// NewRoomService ctx 的生命週期涵蓋所有房間的計時器
func NewRoomService(ctx context.Context, roomRepo repository.RoomRepository, broadcaster Broadcaster, defaults models.Settings, opts ManagerOptions) *RoomService {
	if broadcaster == nil {
		broadcaster = NoopBroadcaster{}
	}
	return &RoomService{
		ctx:         ctx,
		roomRepo:    roomRepo,
		broadcaster: broadcaster,
		opts:        opts.withDefaults(),
		defaults:    defaults,
		managers:    make(map[string]*GameManager),
	}
}

// CreateRoom 建立房間，roomID 為空時自動產生；creatorID 不為空時直接加入房間。
// 建立者加入失敗時刪除房間，不留下沒有建立者的房間。
func (s *RoomService) CreateRoom(ctx context.Context, roomID string, settings *models.Settings, creatorID string) (string, error) {
	const op = "create"
	if roomID == "" {
		roomID = uuid.NewString()
	}
	cfg := s.defaults
	if settings != nil {
		cfg = *settings
	}
	if err := cfg.Validate(); err != nil {
		return "", invalid(op, "Invalid settings: %v", err)
	}

	state := models.NewGameState(roomID, cfg, s.opts.Clock.Now())
	if err := s.roomRepo.Create(ctx, state); err != nil {
		return "", mapRepoError(op, err)
	}

	m := NewGameManager(s.ctx, state, s.roomRepo, s.broadcaster, s.opts)
	s.mu.Lock()
	s.managers[roomID] = m
	s.mu.Unlock()
	log.Info().Str("room_id", roomID).Msg("room created")

	if creatorID != "" {
		if err := m.Join(ctx, creatorID); err != nil {
			s.rollbackCreate(ctx, roomID, m)
			return "", err
		}
	}
	return roomID, nil
}

func (s *RoomService) rollbackCreate(ctx context.Context, roomID string, m *GameManager) {
	s.mu.Lock()
	if s.managers[roomID] == m {
		delete(s.managers, roomID)
	}
	s.mu.Unlock()
	m.Close()
	if err := s.roomRepo.Delete(ctx, roomID); err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to remove room after creator join failed")
	}
}

// load 以儲存的狀態與最後一則消息建立 GameManager
func (s *RoomService) load(ctx context.Context, state *models.GameState) (*GameManager, error) {
	last, err := s.roomRepo.FindLastMessage(ctx, state.RoomID)
	if err != nil {
		return nil, mapRepoError("load", err)
	}
	m := NewGameManager(s.ctx, state, s.roomRepo, s.broadcaster, s.opts)
	m.restoreHistory(last)
	return m, nil
}

// manager 取得房間的 GameManager，不在記憶體中時從儲存載入
func (s *RoomService) manager(ctx context.Context, roomID string) (*GameManager, error) {
	s.mu.RLock()
	m, ok := s.managers[roomID]
	s.mu.RUnlock()
	if ok {
		return m, nil
	}

	state, err := s.roomRepo.FindByID(ctx, roomID)
	if err != nil {
		return nil, mapRepoError("load", err)
	}
	m, err = s.load(ctx, state)
	if err != nil {
		return nil, err
	}
	return s.register(m), nil
}

// register 登記管理器並恢復計時器；已有同房間的管理器時回傳既有的
func (s *RoomService) register(m *GameManager) *GameManager {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.managers[m.RoomID()]; ok {
		return existing
	}
	s.managers[m.RoomID()] = m
	m.Resume()
	return m
}

// Manager 供需要直接操作狀態機的呼叫端使用
func (s *RoomService) Manager(ctx context.Context, roomID string) (*GameManager, error) {
	return s.manager(ctx, roomID)
}

func (s *RoomService) JoinRoom(ctx context.Context, roomID, playerID string) error {
	m, err := s.manager(ctx, roomID)
	if err != nil {
		return err
	}
	return m.Join(ctx, playerID)
}

func (s *RoomService) SetReady(ctx context.Context, roomID, playerID string, ready bool) error {
	m, err := s.manager(ctx, roomID)
	if err != nil {
		return err
	}
	return m.SetReady(ctx, playerID, ready)
}

// PostMessage 處理聊天或投票，成功時回傳最新儲存的訊息
func (s *RoomService) PostMessage(ctx context.Context, roomID string, in PostMessageInput) (*models.GameMessage, error) {
	const op = "post_message"
	m, err := s.manager(ctx, roomID)
	if err != nil {
		return nil, err
	}

	switch models.MessageType(in.Type) {
	case models.MessageChat:
		return m.HandleChat(ctx, in.Sender, in.Content)
	case models.MessageVote:
		if in.Target == "" {
			return nil, invalid(op, "Vote target required")
		}
		return m.HandleVote(ctx, in.Sender, in.Target)
	default:
		return nil, invalid(op, "Invalid message type")
	}
}

// GetMessages 回傳房間的所有訊息，由舊到新
func (s *RoomService) GetMessages(ctx context.Context, roomID string) ([]models.GameMessage, error) {
	if _, err := s.manager(ctx, roomID); err != nil {
		return nil, err
	}
	messages, err := s.roomRepo.FindMessages(ctx, roomID)
	if err != nil {
		return nil, mapRepoError("get_messages", err)
	}
	if messages == nil {
		messages = []models.GameMessage{}
	}
	return messages, nil
}

func (s *RoomService) GetRoom(ctx context.Context, roomID string) (*models.GameState, error) {
	m, err := s.manager(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return m.Snapshot(), nil
}

// ListRooms 查詢所有房間的摘要
func (s *RoomService) ListRooms(ctx context.Context) ([]RoomSummary, error) {
	states, err := s.roomRepo.FindAll(ctx)
	if err != nil {
		return nil, mapRepoError("list", err)
	}
	rooms := make([]RoomSummary, 0, len(states))
	for _, state := range states {
		rooms = append(rooms, RoomSummary{
			RoomID:      state.RoomID,
			Phase:       state.Phase,
			Round:       state.Round,
			PlayerCount: len(state.Players),
			Settings:    state.Settings,
		})
	}
	return rooms, nil
}

// DeleteRoom 停止房間的計時器並刪除記錄
func (s *RoomService) DeleteRoom(ctx context.Context, roomID string) error {
	s.mu.Lock()
	m, ok := s.managers[roomID]
	delete(s.managers, roomID)
	s.mu.Unlock()
	if ok {
		m.Close()
	}
	if closer, ok := s.broadcaster.(RoomCloser); ok {
		closer.CloseRoom(roomID)
	}
	return mapRepoError("delete", s.roomRepo.Delete(ctx, roomID))
}

// HandleCommand 處理透過 WebSocket 送來的指令
func (s *RoomService) HandleCommand(ctx context.Context, roomID, playerID string, cmd ClientCommand) error {
	switch cmd.Type {
	case "ready":
		ready := true
		if cmd.Ready != nil {
			ready = *cmd.Ready
		}
		return s.SetReady(ctx, roomID, playerID, ready)
	default:
		_, err := s.PostMessage(ctx, roomID, PostMessageInput{
			Type:    cmd.Type,
			Sender:  playerID,
			Content: cmd.Content,
			Target:  cmd.Target,
		})
		return err
	}
}

// Recover 重啟後載入所有進行中的房間，依持久化的截止時間恢復計時器。
// 單一房間載入失敗只記錄錯誤，不影響其他房間。
func (s *RoomService) Recover(ctx context.Context) (int, error) {
	states, err := s.roomRepo.FindActive(ctx)
	if err != nil {
		return 0, mapRepoError("recover", err)
	}
	if len(states) == 0 {
		log.Info().Msg("no active rooms to recover")
		return 0, nil
	}

	var recovered atomic.Int64
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(8)
	for _, state := range states {
		state := state
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			m, err := s.load(ctx, state)
			if err != nil {
				log.Error().Err(err).Str("room_id", state.RoomID).Msg("failed to recover room")
				return nil
			}
			if s.register(m) == m {
				recovered.Add(1)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return int(recovered.Load()), err
	}
	log.Info().Int64("count", recovered.Load()).Int("active", len(states)).Msg("recovered active rooms")
	return int(recovered.Load()), nil
}

// Shutdown 停止所有房間的計時器
func (s *RoomService) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, m := range s.managers {
		m.Close()
		delete(s.managers, id)
	}
}

var _ CommandHandler = (*RoomService)(nil)

// IsConflict 判斷是否為重複建立房間
func IsConflict(err error) bool {
	return errors.Is(err, ErrRoomExists)
}
