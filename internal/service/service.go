package service

import (
	"context"

	"mafia_web/internal/models"
	"mafia_web/internal/repository"
)

type Services struct {
	Room      *RoomService
	WebSocket *WebSocketService
}

func NewServices(ctx context.Context, repos *repository.Repositories, defaults models.Settings, opts ManagerOptions) *Services {
	wsService := NewWebSocketService()
	roomService := NewRoomService(ctx, repos.Room, wsService, defaults, opts)
	wsService.SetCommandHandler(roomService)

	return &Services{
		Room:      roomService,
		WebSocket: wsService,
	}
}
