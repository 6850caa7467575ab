package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"

	"mafia_web/internal/models"
)

type Config struct {
	Server ServerConfig
	DB     DBConfig
	Auth   AuthConfig
	Game   GameConfig
	AI     AIConfig
	Log    LogConfig
}

type ServerConfig struct {
	Address string
}

// DBConfig driver 為 postgres、sqlite 或 memory
type DBConfig struct {
	Driver   string
	Host     string
	User     string
	Password string
	Name     string
	Port     int
	Path     string
}

type AuthConfig struct {
	Enabled bool
	Secret  string
	TTL     time.Duration
}

// GameConfig 新房間的預設設定，各階段時間以秒為單位
type GameConfig struct {
	StartingDelay     time.Duration `mapstructure:"starting_delay"`
	VotingResultDelay time.Duration `mapstructure:"voting_result_delay"`
	MinPlayers        int           `mapstructure:"min_players"`
	MaxPlayers        int           `mapstructure:"max_players"`
	AICount           int           `mapstructure:"ai_count"`
	DayDuration       int           `mapstructure:"day_duration"`
	NightDuration     int           `mapstructure:"night_duration"`
	VotingDuration    int           `mapstructure:"voting_duration"`
}

// AIConfig provider 為 openai 或 static，沒有 api_key 時一律使用 static
type AIConfig struct {
	Provider string
	BaseURL  string `mapstructure:"base_url"`
	APIKey   string `mapstructure:"api_key"`
	Model    string
	Timeout  time.Duration
}

type LogConfig struct {
	Level  string
	Pretty bool
}

// Settings 轉為房間預設設定
func (g GameConfig) Settings() models.Settings {
	return models.Settings{
		MinPlayers:     g.MinPlayers,
		MaxPlayers:     g.MaxPlayers,
		AICount:        g.AICount,
		DayDuration:    g.DayDuration,
		NightDuration:  g.NightDuration,
		VotingDuration: g.VotingDuration,
	}
}

func setDefaults(v *viper.Viper) {
	defaults := models.DefaultSettings()

	v.SetDefault("server.address", ":8080")

	v.SetDefault("db.driver", "sqlite")
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.user", "postgres")
	v.SetDefault("db.password", "")
	v.SetDefault("db.name", "mafia")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.path", "mafia.db")

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.ttl", 24*time.Hour)

	v.SetDefault("game.starting_delay", 3*time.Second)
	v.SetDefault("game.voting_result_delay", 5*time.Second)
	v.SetDefault("game.min_players", defaults.MinPlayers)
	v.SetDefault("game.max_players", defaults.MaxPlayers)
	v.SetDefault("game.ai_count", defaults.AICount)
	v.SetDefault("game.day_duration", defaults.DayDuration)
	v.SetDefault("game.night_duration", defaults.NightDuration)
	v.SetDefault("game.voting_duration", defaults.VotingDuration)

	v.SetDefault("ai.provider", "static")
	v.SetDefault("ai.base_url", "https://api.openai.com/v1")
	v.SetDefault("ai.api_key", "")
	v.SetDefault("ai.model", "gpt-4o-mini")
	v.SetDefault("ai.timeout", 30*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

// Load 讀取 config.yaml 與 MAFIA_ 開頭的環境變數，找不到設定檔時只使用預設值
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{"./pkg/config", "."}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix("MAFIA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Auth.Enabled && c.Auth.Secret == "" {
		return errors.New("auth.secret is required when auth is enabled")
	}
	switch c.DB.Driver {
	case "postgres", "sqlite", "memory":
	default:
		return errors.New("db.driver must be postgres, sqlite or memory")
	}
	return c.Game.Settings().Validate()
}
