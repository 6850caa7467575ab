package service

import "mafia_web/internal/models"

// Broadcaster 將已提交的消息推送給房間的訂閱者。
// 推送失敗不影響已儲存的狀態，呼叫端只記錄錯誤。
type Broadcaster interface {
	Publish(roomID string, msg models.GameMessage) error
}

type NoopBroadcaster struct{}

func (NoopBroadcaster) Publish(string, models.GameMessage) error { return nil }

// RoomCloser 可選介面，能主動斷開房間訂閱者的 Broadcaster 實作它
type RoomCloser interface {
	CloseRoom(roomID string)
}
