package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// MessageType 封閉的消息類型集合
type MessageType string

const (
	MessageChat        MessageType = "chat"
	MessageSystem      MessageType = "system"
	MessageVote        MessageType = "vote"
	MessageReady       MessageType = "ready"
	MessagePhaseChange MessageType = "phase_change"
	MessageGameStart   MessageType = "game_start"
	MessageDeath       MessageType = "death"
	MessageAIAction    MessageType = "ai_action"
)

// SystemSender 系統產生的消息所使用的發送者 ID
const SystemSender = "system"

var ErrInvalidPayload = errors.New("invalid message payload")

// Payload 是 GameMessage 的內容，每種 MessageType 對應一個實作
type Payload interface {
	MessageType() MessageType
	validate() error
}

type ChatPayload struct {
	Message string `json:"message"`
}

type SystemPayload struct {
	Message string `json:"message"`
}

type VotePayload struct {
	TargetID string `json:"targetId"`
}

type ReadyPayload struct {
	Ready bool `json:"ready"`
}

type PhaseChangePayload struct {
	Phase    Phase     `json:"phase"`
	Round    int       `json:"round"`
	Deadline *time.Time `json:"deadline,omitempty"` // 沒有計時器的階段為 nil
}

type GameStartPayload struct {
	AICount     int      `json:"aiCount"`
	AIPlayerIDs []string `json:"aiPlayerIds"`
}

type DeathPayload struct {
	PlayerID string `json:"playerId"`
	Cause    string `json:"cause"` // "vote" 或 "night"
}

type AIActionPayload struct {
	Action   string `json:"action"`
	TargetID string `json:"targetId"`
}

func (ChatPayload) MessageType() MessageType        { return MessageChat }
func (SystemPayload) MessageType() MessageType      { return MessageSystem }
func (VotePayload) MessageType() MessageType        { return MessageVote }
func (ReadyPayload) MessageType() MessageType       { return MessageReady }
func (PhaseChangePayload) MessageType() MessageType { return MessagePhaseChange }
func (GameStartPayload) MessageType() MessageType   { return MessageGameStart }
func (DeathPayload) MessageType() MessageType       { return MessageDeath }
func (AIActionPayload) MessageType() MessageType    { return MessageAIAction }

func (p ChatPayload) validate() error {
	if p.Message == "" {
		return fmt.Errorf("%w: empty chat message", ErrInvalidPayload)
	}
	return nil
}

func (p SystemPayload) validate() error {
	if p.Message == "" {
		return fmt.Errorf("%w: empty system message", ErrInvalidPayload)
	}
	return nil
}

func (p VotePayload) validate() error {
	if p.TargetID == "" {
		return fmt.Errorf("%w: vote without target", ErrInvalidPayload)
	}
	return nil
}

func (ReadyPayload) validate() error { return nil }

func (p PhaseChangePayload) validate() error {
	if !p.Phase.Valid() {
		return fmt.Errorf("%w: unknown phase %q", ErrInvalidPayload, p.Phase)
	}
	return nil
}

func (p GameStartPayload) validate() error {
	if p.AICount != len(p.AIPlayerIDs) {
		return fmt.Errorf("%w: aiCount %d does not match %d ids", ErrInvalidPayload, p.AICount, len(p.AIPlayerIDs))
	}
	return nil
}

func (p DeathPayload) validate() error {
	if p.PlayerID == "" {
		return fmt.Errorf("%w: death without player", ErrInvalidPayload)
	}
	return nil
}

func (p AIActionPayload) validate() error {
	if p.Action == "" {
		return fmt.Errorf("%w: ai action without action", ErrInvalidPayload)
	}
	return nil
}

// GameMessage 房間事件流中的一條記錄
type GameMessage struct {
	ID        string      `json:"id"`
	RoomID    string      `json:"roomId"`
	Seq       int64       `json:"seq"`
	Type      MessageType `json:"type"`
	PlayerID  string      `json:"playerId"`
	Payload   Payload     `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewGameMessage 建立消息並檢查 payload，類型由 payload 決定
func NewGameMessage(id, roomID, playerID string, payload Payload, ts time.Time) (GameMessage, error) {
	if payload == nil {
		return GameMessage{}, fmt.Errorf("%w: nil payload", ErrInvalidPayload)
	}
	if err := payload.validate(); err != nil {
		return GameMessage{}, err
	}
	return GameMessage{
		ID:        id,
		RoomID:    roomID,
		Type:      payload.MessageType(),
		PlayerID:  playerID,
		Payload:   payload,
		Timestamp: ts,
	}, nil
}

type gameMessageJSON struct {
	ID        string          `json:"id"`
	RoomID    string          `json:"roomId"`
	Seq       int64           `json:"seq"`
	Type      MessageType     `json:"type"`
	PlayerID  string          `json:"playerId"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// UnmarshalJSON 依 type 欄位解碼對應的 payload
func (m *GameMessage) UnmarshalJSON(data []byte) error {
	var raw gameMessageJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	payload, err := DecodePayload(raw.Type, raw.Payload)
	if err != nil {
		return err
	}
	*m = GameMessage{
		ID:        raw.ID,
		RoomID:    raw.RoomID,
		Seq:       raw.Seq,
		Type:      raw.Type,
		PlayerID:  raw.PlayerID,
		Payload:   payload,
		Timestamp: raw.Timestamp,
	}
	return nil
}

// DecodePayload 將原始 JSON 轉為 typ 對應的 payload 結構
func DecodePayload(typ MessageType, data []byte) (Payload, error) {
	var payload Payload
	var err error
	switch typ {
	case MessageChat:
		payload, err = decodeAs[ChatPayload](data)
	case MessageSystem:
		payload, err = decodeAs[SystemPayload](data)
	case MessageVote:
		payload, err = decodeAs[VotePayload](data)
	case MessageReady:
		payload, err = decodeAs[ReadyPayload](data)
	case MessagePhaseChange:
		payload, err = decodeAs[PhaseChangePayload](data)
	case MessageGameStart:
		payload, err = decodeAs[GameStartPayload](data)
	case MessageDeath:
		payload, err = decodeAs[DeathPayload](data)
	case MessageAIAction:
		payload, err = decodeAs[AIActionPayload](data)
	default:
		return nil, fmt.Errorf("%w: unknown message type %q", ErrInvalidPayload, typ)
	}
	if err != nil {
		return nil, err
	}
	if err := payload.validate(); err != nil {
		return nil, err
	}
	return payload, nil
}

func decodeAs[T Payload](data []byte) (Payload, error) {
	var v T
	if len(data) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return v, nil
}
