package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"mafia_web/internal/utils"
)

// PlayerIDKey 驗證通過後玩家 ID 在 gin.Context 中的鍵
const PlayerIDKey = "playerID"

// AuthMiddleware 是一個 Gin 中間件，用於驗證請求的 JWT token
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		// WebSocket 連接無法設定標頭，允許以 query 參數傳入 token
		token := c.Query("token")
		if token == "" {
			authHeader := c.GetHeader("Authorization")
			if authHeader == "" {
				abort(c, http.StatusUnauthorized, "Authorization header is required")
				return
			}

			// 檢查 Authorization 頭的格式
			parts := strings.SplitN(authHeader, " ", 2)
			if !(len(parts) == 2 && parts[0] == "Bearer") {
				abort(c, http.StatusUnauthorized, "Authorization header format must be Bearer {token}")
				return
			}
			token = parts[1]
		}

		claims, err := utils.ParseToken(token, secret)
		if err != nil {
			abort(c, http.StatusUnauthorized, "Invalid or expired token")
			return
		}

		c.Set(PlayerIDKey, claims.PlayerID)
		c.Next()
	}
}

func abort(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"success": false, "error": msg})
}
