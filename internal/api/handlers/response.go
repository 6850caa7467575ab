package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"mafia_web/internal/middleware"
	"mafia_web/internal/service"
)

// Response 所有 API 使用的回應格式
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func ok(c *gin.Context, status int, data any) {
	c.JSON(status, Response{Success: true, Data: data})
}

func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, Response{Success: false, Error: msg})
}

// respondError 將服務層錯誤轉為 HTTP 狀態碼
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrRoomNotFound):
		fail(c, http.StatusNotFound, "Room not found")
	case errors.Is(err, service.ErrPlayerNotFound):
		fail(c, http.StatusNotFound, "Player not found")
	case service.IsConflict(err):
		fail(c, http.StatusConflict, "Room already exists")
	case service.IsValidation(err):
		fail(c, http.StatusBadRequest, err.Error())
	default:
		log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		fail(c, http.StatusInternalServerError, "Internal server error")
	}
}

// authorize 啟用驗證時，操作的玩家必須是 token 的持有者
func authorize(c *gin.Context, enabled bool, playerID string) bool {
	if !enabled {
		return true
	}
	if c.GetString(middleware.PlayerIDKey) != playerID {
		fail(c, http.StatusForbidden, "Token does not match player")
		return false
	}
	return true
}
