package repository

import "mafia_web/internal/storage"

type Repositories struct {
	Room RoomRepository
}

func NewRepositories(db *storage.Database) *Repositories {
	return &Repositories{
		Room: NewRoomRepository(db),
	}
}

// NewMemoryRepositories 不需要資料庫的組合，適合本機開發
func NewMemoryRepositories() *Repositories {
	return &Repositories{
		Room: NewMemoryRoomRepository(),
	}
}
