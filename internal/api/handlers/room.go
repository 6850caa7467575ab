package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"mafia_web/internal/models"
	"mafia_web/internal/service"
)

// RoomHandler 處理與遊戲房間相關的請求
type RoomHandler struct {
	roomService *service.RoomService
	authEnabled bool
}

// NewRoomHandler 創建一個新的 RoomHandler 實例
func NewRoomHandler(roomService *service.RoomService, authEnabled bool) *RoomHandler {
	return &RoomHandler{roomService: roomService, authEnabled: authEnabled}
}

type CreateRoomInput struct {
	RoomID   string           `json:"roomId"`
	PlayerID string           `json:"playerId"`
	Settings *models.Settings `json:"settings"`
}

type PlayerInput struct {
	PlayerID string `json:"playerId" binding:"required"`
}

type ReadyInput struct {
	PlayerID string `json:"playerId" binding:"required"`
	Ready    *bool  `json:"ready"`
}

// CreateRoom 處理創建新房間的請求
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	var input CreateRoomInput
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&input); err != nil {
			fail(c, http.StatusBadRequest, "Invalid request body")
			return
		}
	}
	if input.PlayerID != "" && !authorize(c, h.authEnabled, input.PlayerID) {
		return
	}

	roomID, err := h.roomService.CreateRoom(c.Request.Context(), input.RoomID, input.Settings, input.PlayerID)
	if err != nil {
		respondError(c, err)
		return
	}

	ok(c, http.StatusCreated, gin.H{"roomId": roomID})
}

// ListRooms 列出所有房間
func (h *RoomHandler) ListRooms(c *gin.Context) {
	rooms, err := h.roomService.ListRooms(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	ok(c, http.StatusOK, rooms)
}

// GetRoom 處理獲取房間狀態的請求
func (h *RoomHandler) GetRoom(c *gin.Context) {
	room, err := h.roomService.GetRoom(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	ok(c, http.StatusOK, room)
}

func (h *RoomHandler) DeleteRoom(c *gin.Context) {
	if err := h.roomService.DeleteRoom(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"roomId": c.Param("id")})
}

// JoinRoom 處理加入房間的請求
func (h *RoomHandler) JoinRoom(c *gin.Context) {
	var input PlayerInput
	if err := c.ShouldBindJSON(&input); err != nil {
		fail(c, http.StatusBadRequest, "Player ID is required")
		return
	}
	if !authorize(c, h.authEnabled, input.PlayerID) {
		return
	}

	roomID := c.Param("id")
	if err := h.roomService.JoinRoom(c.Request.Context(), roomID, input.PlayerID); err != nil {
		respondError(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"roomId": roomID})
}

// SetReady 更新玩家的準備狀態，未帶 ready 時視為準備
func (h *RoomHandler) SetReady(c *gin.Context) {
	var input ReadyInput
	if err := c.ShouldBindJSON(&input); err != nil {
		fail(c, http.StatusBadRequest, "Player ID is required")
		return
	}
	if !authorize(c, h.authEnabled, input.PlayerID) {
		return
	}
	ready := true
	if input.Ready != nil {
		ready = *input.Ready
	}

	if err := h.roomService.SetReady(c.Request.Context(), c.Param("id"), input.PlayerID, ready); err != nil {
		respondError(c, err)
		return
	}
	room, err := h.roomService.GetRoom(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	ok(c, http.StatusOK, room)
}

// PostMessage 送出聊天或投票
func (h *RoomHandler) PostMessage(c *gin.Context) {
	var input service.PostMessageInput
	if err := c.ShouldBindJSON(&input); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !authorize(c, h.authEnabled, input.Sender) {
		return
	}

	msg, err := h.roomService.PostMessage(c.Request.Context(), c.Param("id"), input)
	if err != nil {
		respondError(c, err)
		return
	}
	ok(c, http.StatusCreated, msg)
}

// GetMessages 依順序回傳房間的所有訊息
func (h *RoomHandler) GetMessages(c *gin.Context) {
	messages, err := h.roomService.GetMessages(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	ok(c, http.StatusOK, messages)
}
