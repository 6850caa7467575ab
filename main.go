package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"mafia_web/internal/api"
	"mafia_web/internal/middleware"
	"mafia_web/internal/repository"
	"mafia_web/internal/service"
	"mafia_web/internal/storage"
	"mafia_web/pkg/config"
)

func main() {
	// 載入應用程式配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 初始化 repositories，memory 模式不需要資料庫
	var repos *repository.Repositories
	if cfg.DB.Driver == "memory" {
		repos = repository.NewMemoryRepositories()
	} else {
		db, err := storage.Open(cfg.DB.Driver, cfg.DB.Host, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.Port, cfg.DB.Path)
		if err != nil {
			log.Fatal().Err(err).Str("driver", cfg.DB.Driver).Msg("failed to initialize database")
		}
		// 確保在程序結束時關閉數據庫連接
		defer db.Close()

		if err := db.AutoMigrate(repository.Models()...); err != nil {
			log.Fatal().Err(err).Msg("failed to auto migrate database")
		}
		repos = repository.NewRepositories(db)
	}

	// 初始化 services
	services := service.NewServices(ctx, repos, cfg.Game.Settings(), service.ManagerOptions{
		Delays: service.PhaseDelays{
			Starting:     cfg.Game.StartingDelay,
			VotingResult: cfg.Game.VotingResultDelay,
		},
		ChatGenerator: newChatGenerator(cfg.AI),
	})

	// 恢復重啟前進行中的房間
	if _, err := services.Room.Recover(ctx); err != nil {
		log.Error().Err(err).Msg("failed to recover rooms")
	}

	// 設置 Gin 路由
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger())
	api.SetupRoutes(r, services, cfg.Auth)

	srv := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: r,
	}

	go func() {
		log.Info().Str("address", cfg.Server.Address).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("failed to run server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}
	services.Room.Shutdown()
}

func setupLogger(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if cfg.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

// newChatGenerator 有設定 API key 時使用 OpenAI 相容的服務，否則使用預設台詞
func newChatGenerator(cfg config.AIConfig) service.ChatGenerator {
	if cfg.Provider == "openai" && cfg.APIKey != "" {
		log.Info().Str("model", cfg.Model).Str("base_url", cfg.BaseURL).Msg("ai chat uses chat completions api")
		return service.NewOpenAIChatGenerator(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Timeout)
	}
	return service.NewStaticChatGenerator()
}
