package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"mafia_web/internal/models"
	"mafia_web/internal/storage"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrRoomExists   = errors.New("room already exists")
)

// RoomRepository 房間狀態與事件流的持久化介面
type RoomRepository interface {
	Create(ctx context.Context, state *models.GameState) error
	FindByID(ctx context.Context, roomID string) (*models.GameState, error)
	// Save 在同一個交易中寫入狀態與新增的消息
	Save(ctx context.Context, state *models.GameState, messages ...models.GameMessage) error
	FindMessages(ctx context.Context, roomID string) ([]models.GameMessage, error)
	// FindLastMessage 回傳序號最大的消息，沒有消息時為 nil
	FindLastMessage(ctx context.Context, roomID string) (*models.GameMessage, error)
	FindActive(ctx context.Context) ([]*models.GameState, error) // 需要恢復計時器的房間
	FindAll(ctx context.Context) ([]*models.GameState, error)
	Delete(ctx context.Context, roomID string) error
}

type roomRecord struct {
	RoomID         string            `gorm:"primaryKey;size:64"`
	Phase          string            `gorm:"size:20;index"`
	Round          int
	Players        []models.Player   `gorm:"serializer:json"`
	AIPlayerIDs    []string          `gorm:"serializer:json"`
	Votes          map[string]string `gorm:"serializer:json"`
	Settings       models.Settings   `gorm:"embedded;embeddedPrefix:settings_"`
	PhaseStartedAt time.Time
	PhaseDeadline  time.Time
	Winner         string         `gorm:"size:20"`
	LastVoteCounts map[string]int `gorm:"serializer:json"`
	MessageSeq     int64
	CreatedAt      time.Time `gorm:"autoCreateTime:false"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime:false"`
}

func (roomRecord) TableName() string { return "rooms" }

type messageRecord struct {
	ID        string `gorm:"primaryKey;size:64"`
	RoomID    string `gorm:"size:64;index:idx_messages_room_seq,priority:1"`
	Seq       int64  `gorm:"index:idx_messages_room_seq,priority:2"`
	Type      string `gorm:"size:20"`
	PlayerID  string `gorm:"size:64"`
	Payload   string `gorm:"type:text"`
	Timestamp time.Time
}

func (messageRecord) TableName() string { return "game_messages" }

// Models 回傳需要自動遷移的資料表模型
func Models() []interface{} {
	return []interface{}{&roomRecord{}, &messageRecord{}}
}

type roomRepository struct {
	db *storage.Database
}

func NewRoomRepository(db *storage.Database) RoomRepository {
	return &roomRepository{db: db}
}

func (r *roomRepository) Create(ctx context.Context, state *models.GameState) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&roomRecord{}).Where("room_id = ?", state.RoomID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%w: %s", ErrRoomExists, state.RoomID)
		}
		return tx.Create(toRoomRecord(state)).Error
	})
}

func (r *roomRepository) FindByID(ctx context.Context, roomID string) (*models.GameState, error) {
	var rec roomRecord
	err := r.db.WithContext(ctx).Where("room_id = ?", roomID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	}
	if err != nil {
		return nil, err
	}
	return rec.toState(), nil
}

func (r *roomRepository) Save(ctx context.Context, state *models.GameState, messages ...models.GameMessage) error {
	records := make([]messageRecord, 0, len(messages))
	for _, msg := range messages {
		rec, err := toMessageRecord(msg)
		if err != nil {
			return err
		}
		records = append(records, rec)
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&roomRecord{}).Where("room_id = ?", state.RoomID).
			Select("*").Updates(toRoomRecord(state))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: %s", ErrRoomNotFound, state.RoomID)
		}
		if len(records) == 0 {
			return nil
		}
		return tx.Create(&records).Error
	})
}

func (r *roomRepository) FindMessages(ctx context.Context, roomID string) ([]models.GameMessage, error) {
	var records []messageRecord
	err := r.db.WithContext(ctx).Where("room_id = ?", roomID).Order("seq asc").Find(&records).Error
	if err != nil {
		return nil, err
	}

	messages := make([]models.GameMessage, 0, len(records))
	for _, rec := range records {
		msg, err := rec.toMessage()
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func (r *roomRepository) FindLastMessage(ctx context.Context, roomID string) (*models.GameMessage, error) {
	var records []messageRecord
	err := r.db.WithContext(ctx).Where("room_id = ?", roomID).Order("seq desc").Limit(1).Find(&records).Error
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	msg, err := records[0].toMessage()
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *roomRepository) FindActive(ctx context.Context) ([]*models.GameState, error) {
	var records []roomRecord
	err := r.db.WithContext(ctx).
		Where("phase NOT IN ?", []string{string(models.PhaseLobby), string(models.PhaseEnd)}).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return toStates(records), nil
}

// FindAll 查詢所有房間，最新建立的在前
func (r *roomRepository) FindAll(ctx context.Context) ([]*models.GameState, error) {
	var records []roomRecord
	err := r.db.WithContext(ctx).Order("created_at DESC").Find(&records).Error
	if err != nil {
		return nil, err
	}
	return toStates(records), nil
}

func (r *roomRepository) Delete(ctx context.Context, roomID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("room_id = ?", roomID).Delete(&messageRecord{}).Error; err != nil {
			return err
		}
		res := tx.Where("room_id = ?", roomID).Delete(&roomRecord{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
		}
		return nil
	})
}

func toRoomRecord(s *models.GameState) *roomRecord {
	return &roomRecord{
		RoomID:         s.RoomID,
		Phase:          string(s.Phase),
		Round:          s.Round,
		Players:        s.Players,
		AIPlayerIDs:    s.AIPlayerIDs,
		Votes:          s.Votes,
		Settings:       s.Settings,
		PhaseStartedAt: s.PhaseStartedAt,
		PhaseDeadline:  s.PhaseDeadline,
		Winner:         string(s.Winner),
		LastVoteCounts: s.LastVoteCounts,
		MessageSeq:     s.MessageSeq,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}
}

func (rec *roomRecord) toState() *models.GameState {
	state := &models.GameState{
		RoomID:         rec.RoomID,
		Phase:          models.Phase(rec.Phase),
		Round:          rec.Round,
		Players:        rec.Players,
		AIPlayerIDs:    rec.AIPlayerIDs,
		Votes:          rec.Votes,
		Settings:       rec.Settings,
		PhaseStartedAt: rec.PhaseStartedAt,
		PhaseDeadline:  rec.PhaseDeadline,
		Winner:         models.Faction(rec.Winner),
		LastVoteCounts: rec.LastVoteCounts,
		MessageSeq:     rec.MessageSeq,
		CreatedAt:      rec.CreatedAt,
		UpdatedAt:      rec.UpdatedAt,
	}
	if state.Players == nil {
		state.Players = []models.Player{}
	}
	if state.AIPlayerIDs == nil {
		state.AIPlayerIDs = []string{}
	}
	if state.Votes == nil {
		state.Votes = map[string]string{}
	}
	return state
}

func toStates(records []roomRecord) []*models.GameState {
	states := make([]*models.GameState, 0, len(records))
	for i := range records {
		states = append(states, records[i].toState())
	}
	return states
}

func toMessageRecord(msg models.GameMessage) (messageRecord, error) {
	payload, err := json.Marshal(msg.Payload)
	if err != nil {
		return messageRecord{}, fmt.Errorf("encode %s payload: %w", msg.Type, err)
	}
	return messageRecord{
		ID:        msg.ID,
		RoomID:    msg.RoomID,
		Seq:       msg.Seq,
		Type:      string(msg.Type),
		PlayerID:  msg.PlayerID,
		Payload:   string(payload),
		Timestamp: msg.Timestamp,
	}, nil
}

func (rec messageRecord) toMessage() (models.GameMessage, error) {
	payload, err := models.DecodePayload(models.MessageType(rec.Type), []byte(rec.Payload))
	if err != nil {
		return models.GameMessage{}, fmt.Errorf("decode message %s: %w", rec.ID, err)
	}
	return models.GameMessage{
		ID:        rec.ID,
		RoomID:    rec.RoomID,
		Seq:       rec.Seq,
		Type:      models.MessageType(rec.Type),
		PlayerID:  rec.PlayerID,
		Payload:   payload,
		Timestamp: rec.Timestamp,
	}, nil
}
