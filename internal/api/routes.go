package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"mafia_web/internal/api/handlers"
	"mafia_web/internal/middleware"
	"mafia_web/internal/service"
	"mafia_web/pkg/config"
)

func SetupRoutes(r *gin.Engine, services *service.Services, auth config.AuthConfig) {
	// 初始化 handlers
	roomHandler := handlers.NewRoomHandler(services.Room, auth.Enabled)
	wsHandler := handlers.NewWebSocketHandler(services.WebSocket, services.Room, auth.Enabled)

	// API 路由群組
	api := r.Group("/api")

	// 處理 404 錯誤
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, handlers.Response{Error: "Not found"})
	})

	// 公開路由
	{
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, handlers.Response{Success: true, Data: gin.H{"status": "ok"}})
		})

		if auth.Enabled {
			authHandler := handlers.NewAuthHandler(auth.Secret, auth.TTL)
			api.POST("/auth/token", authHandler.IssueToken)
		}

		api.GET("/rooms", roomHandler.ListRooms)
		api.GET("/rooms/:id", roomHandler.GetRoom)
		api.GET("/rooms/:id/messages", roomHandler.GetMessages)
	}

	// 修改房間狀態的路由，啟用驗證時需要 token
	authorized := api.Group("/rooms")
	if auth.Enabled {
		authorized.Use(middleware.AuthMiddleware(auth.Secret))
	}
	{
		authorized.POST("", roomHandler.CreateRoom)
		authorized.DELETE("/:id", roomHandler.DeleteRoom)
		authorized.POST("/:id/join", roomHandler.JoinRoom)
		authorized.POST("/:id/ready", roomHandler.SetReady)
		authorized.POST("/:id/messages", roomHandler.PostMessage)
		authorized.GET("/:id/ws", wsHandler.HandleWebSocket)
	}
}
