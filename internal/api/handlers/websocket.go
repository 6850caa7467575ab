package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"mafia_web/internal/middleware"
	"mafia_web/internal/service"
)

// 定義 WebSocket 升級器
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketHandler 處理 WebSocket 連接
type WebSocketHandler struct {
	wsService   *service.WebSocketService
	roomService *service.RoomService
	authEnabled bool
}

// NewWebSocketHandler 創建一個新的 WebSocketHandler 實例
func NewWebSocketHandler(wsService *service.WebSocketService, roomService *service.RoomService, authEnabled bool) *WebSocketHandler {
	return &WebSocketHandler{
		wsService:   wsService,
		roomService: roomService,
		authEnabled: authEnabled,
	}
}

// HandleWebSocket 確認玩家在房間內後升級連接，並持續推送房間事件
func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	roomID := c.Param("id")
	playerID := c.Query("playerId")
	if playerID == "" {
		playerID = c.GetString(middleware.PlayerIDKey)
	}
	if playerID == "" {
		fail(c, http.StatusBadRequest, "Player ID is required")
		return
	}
	if !authorize(c, h.authEnabled, playerID) {
		return
	}

	room, err := h.roomService.GetRoom(c.Request.Context(), roomID)
	if err != nil {
		respondError(c, err)
		return
	}
	if p, _ := room.Player(playerID); p == nil {
		fail(c, http.StatusForbidden, "Player has not joined this room")
		return
	}

	// 升級 HTTP 連接為 WebSocket 連接，失敗時升級器已回應客戶端
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Msg("websocket upgrade failed")
		return
	}

	log.Debug().Str("room_id", roomID).Str("player_id", playerID).Msg("websocket connected")
	h.wsService.HandleConnection(c.Request.Context(), service.NewClient(conn, roomID, playerID))
}
