package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// AppConfig 汇总运行服务所需的基础配置。
type AppConfig struct {
	ListenAddr    string `mapstructure:"LISTEN_ADDR"`
	Port          string `mapstructure:"PORT"`
	GinMode       string `mapstructure:"GIN_MODE"`
	SessionSecret string `mapstructure:"SESSION_SECRET"`

	StoreBackend          string        `mapstructure:"STORE_BACKEND"`
	DatabasePath          string        `mapstructure:"DATABASE_PATH"`
	SpreadsheetID         string        `mapstructure:"SPREADSHEET_ID"`
	GoogleCredentialsFile string        `mapstructure:"GOOGLE_CREDENTIALS_FILE"`
	StoreTimeout          time.Duration `mapstructure:"STORE_TIMEOUT"`
	CacheTTL              time.Duration `mapstructure:"CACHE_TTL"`
	BreakerFailures       uint32        `mapstructure:"BREAKER_FAILURES"`

	AIProvider     string        `mapstructure:"AI_PROVIDER"`
	OpenAIAPIKey   string        `mapstructure:"OPENAI_API_KEY"`
	OpenAIModel    string        `mapstructure:"OPENAI_MODEL"`
	DeepSeekAPIKey string        `mapstructure:"DEEPSEEK_API_KEY"`
	DeepSeekModel  string        `mapstructure:"DEEPSEEK_MODEL"`
	AITimeout      time.Duration `mapstructure:"AI_TIMEOUT"`
	MaxTurns       int           `mapstructure:"MAX_TURNS"`
	HistoryWindow  int           `mapstructure:"HISTORY_WINDOW"`

	Timezone  string `mapstructure:"TIMEZONE"`
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`

	ReviewerUserName string `mapstructure:"REVIEWER_USER_NAME"`
	ReviewerPassword string `mapstructure:"REVIEWER_PASSWORD"`
}

var keys = []string{
	"LISTEN_ADDR", "PORT", "GIN_MODE", "SESSION_SECRET",
	"STORE_BACKEND", "DATABASE_PATH", "SPREADSHEET_ID", "GOOGLE_CREDENTIALS_FILE",
	"STORE_TIMEOUT", "CACHE_TTL", "BREAKER_FAILURES",
	"AI_PROVIDER", "OPENAI_API_KEY", "OPENAI_MODEL", "DEEPSEEK_API_KEY", "DEEPSEEK_MODEL",
	"AI_TIMEOUT", "MAX_TURNS", "HISTORY_WINDOW",
	"TIMEZONE", "LOG_LEVEL", "LOG_FORMAT",
	"REVIEWER_USER_NAME", "REVIEWER_PASSWORD",
}

// Load 从环境变量（以及可选的 .env 文件）读取应用配置，并为缺失项提供安全的默认值。
func Load() (AppConfig, error) {
	return LoadFile(".env")
}

// LoadFile 与 Load 相同，但允许指定 .env 文件路径；文件不存在时忽略。
func LoadFile(envFile string) (AppConfig, error) {
	v := viper.New()
	if strings.TrimSpace(envFile) != "" {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
	}

	v.SetDefault("PORT", "8080")
	v.SetDefault("GIN_MODE", "release")
	v.SetDefault("SESSION_SECRET", "aicare-lung-dev-secret")
	v.SetDefault("STORE_BACKEND", "sqlite")
	v.SetDefault("DATABASE_PATH", "aicare.db")
	v.SetDefault("STORE_TIMEOUT", "10s")
	v.SetDefault("CACHE_TTL", "60s")
	v.SetDefault("BREAKER_FAILURES", 5)
	v.SetDefault("AI_PROVIDER", "openai")
	v.SetDefault("OPENAI_MODEL", "gpt-4o-mini")
	v.SetDefault("DEEPSEEK_MODEL", "deepseek-chat")
	v.SetDefault("AI_TIMEOUT", "30s")
	v.SetDefault("MAX_TURNS", 8)
	v.SetDefault("HISTORY_WINDOW", 10)
	v.SetDefault("TIMEZONE", "Asia/Taipei")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")

	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return AppConfig{}, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	// .env 不存在时沿用环境变量与默认值
	_ = v.ReadInConfig()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return AppConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.trim()
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = fmt.Sprintf(":%s", cfg.Port)
	}
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// Validate 检查互相依赖的配置项。
func (c AppConfig) Validate() error {
	switch c.StoreBackend {
	case "sqlite", "memory":
	case "sheets":
		if c.SpreadsheetID == "" || c.GoogleCredentialsFile == "" {
			return fmt.Errorf("STORE_BACKEND=sheets requires SPREADSHEET_ID and GOOGLE_CREDENTIALS_FILE")
		}
	default:
		return fmt.Errorf("unsupported STORE_BACKEND %q", c.StoreBackend)
	}

	switch c.AIProvider {
	case "openai", "deepseek", "rules":
	default:
		return fmt.Errorf("unsupported AI_PROVIDER %q", c.AIProvider)
	}

	if c.MaxTurns <= 0 {
		return fmt.Errorf("MAX_TURNS must be positive")
	}
	if c.HistoryWindow <= 0 {
		return fmt.Errorf("HISTORY_WINDOW must be positive")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("load TIMEZONE %q: %w", c.Timezone, err)
	}
	return nil
}

// Location 返回用于划分"今天"的时区，加载失败时退回 UTC。
func (c AppConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *AppConfig) trim() {
	for _, field := range []*string{
		&c.ListenAddr, &c.Port, &c.GinMode, &c.SessionSecret,
		&c.DatabasePath, &c.SpreadsheetID, &c.GoogleCredentialsFile,
		&c.OpenAIAPIKey, &c.OpenAIModel, &c.DeepSeekAPIKey, &c.DeepSeekModel,
		&c.Timezone, &c.LogLevel, &c.LogFormat,
		&c.ReviewerUserName, &c.ReviewerPassword,
	} {
		*field = strings.TrimSpace(*field)
	}
	c.StoreBackend = strings.ToLower(strings.TrimSpace(c.StoreBackend))
	c.AIProvider = strings.ToLower(strings.TrimSpace(c.AIProvider))
}
