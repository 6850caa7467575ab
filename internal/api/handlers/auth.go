package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"mafia_web/internal/utils"
)

// AuthHandler 發放玩家的 session token
type AuthHandler struct {
	secret string
	ttl    time.Duration
}

func NewAuthHandler(secret string, ttl time.Duration) *AuthHandler {
	return &AuthHandler{secret: secret, ttl: ttl}
}

type TokenInput struct {
	PlayerID string `json:"playerId" binding:"required"`
}

// IssueToken 為玩家生成 JWT token
func (h *AuthHandler) IssueToken(c *gin.Context) {
	var input TokenInput
	if err := c.ShouldBindJSON(&input); err != nil {
		fail(c, http.StatusBadRequest, "Player ID is required")
		return
	}

	token, err := utils.GenerateToken(input.PlayerID, h.secret, h.ttl)
	if err != nil {
		respondError(c, err)
		return
	}

	ok(c, http.StatusOK, gin.H{"token": token, "expiresIn": int(h.ttl.Seconds())})
}
