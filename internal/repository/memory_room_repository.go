package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"mafia_web/internal/models"
)

// MemoryRoomRepository 以記憶體保存房間，用於開發與測試
type MemoryRoomRepository struct {
	mu       sync.RWMutex
	rooms    map[string]*models.GameState
	messages map[string][]models.GameMessage
}

func NewMemoryRoomRepository() *MemoryRoomRepository {
	return &MemoryRoomRepository{
		rooms:    make(map[string]*models.GameState),
		messages: make(map[string][]models.GameMessage),
	}
}

func (r *MemoryRoomRepository) Create(_ context.Context, state *models.GameState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.rooms[state.RoomID]; exists {
		return fmt.Errorf("%w: %s", ErrRoomExists, state.RoomID)
	}
	r.rooms[state.RoomID] = state.Clone()
	return nil
}

func (r *MemoryRoomRepository) FindByID(_ context.Context, roomID string) (*models.GameState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.rooms[roomID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	}
	return state.Clone(), nil
}

func (r *MemoryRoomRepository) Save(_ context.Context, state *models.GameState, messages ...models.GameMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rooms[state.RoomID]; !ok {
		return fmt.Errorf("%w: %s", ErrRoomNotFound, state.RoomID)
	}
	r.rooms[state.RoomID] = state.Clone()
	r.messages[state.RoomID] = append(r.messages[state.RoomID], messages...)
	return nil
}

func (r *MemoryRoomRepository) FindMessages(_ context.Context, roomID string) ([]models.GameMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	messages := append([]models.GameMessage{}, r.messages[roomID]...)
	sort.SliceStable(messages, func(i, j int) bool { return messages[i].Seq < messages[j].Seq })
	return messages, nil
}

func (r *MemoryRoomRepository) FindLastMessage(_ context.Context, roomID string) (*models.GameMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var last *models.GameMessage
	for i, msg := range r.messages[roomID] {
		if last == nil || msg.Seq > last.Seq {
			last = &r.messages[roomID][i]
		}
	}
	if last == nil {
		return nil, nil
	}
	msg := *last
	return &msg, nil
}

func (r *MemoryRoomRepository) FindActive(_ context.Context) ([]*models.GameState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var active []*models.GameState
	for _, state := range r.rooms {
		if state.Active() {
			active = append(active, state.Clone())
		}
	}
	return active, nil
}

func (r *MemoryRoomRepository) FindAll(_ context.Context) ([]*models.GameState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := make([]*models.GameState, 0, len(r.rooms))
	for _, state := range r.rooms {
		all = append(all, state.Clone())
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	return all, nil
}

func (r *MemoryRoomRepository) Delete(_ context.Context, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rooms[roomID]; !ok {
		return fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	}
	delete(r.rooms, roomID)
	delete(r.messages, roomID)
	return nil
}

var _ RoomRepository = (*MemoryRoomRepository)(nil)
