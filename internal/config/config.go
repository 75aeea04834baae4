package config

import (
	"os"
	"strconv"
	"strings"
)

type Config struct {
	// Telegram
	BotToken string

	// Panel API
	PanelBaseURL  string
	PanelUsername string
	PanelPassword string

	// Webhook
	WebhookPort   int
	WebhookSecret string

	// Routing
	ForumChatID     int64
	FallbackChatID  int64
	FallbackTopicID int

	// Database
	DBPath string

	// Filter
	ExpireExtendDays int
}

func Load() *Config {
	return &Config{
		// Telegram
		BotToken: getEnv("BOT_TOKEN", ""),

		// Panel API
		PanelBaseURL:  strings.TrimSuffix(getEnv("PANEL_BASE_URL", ""), "/"),
		PanelUsername: getEnv("PANEL_USERNAME", ""),
		PanelPassword: getEnv("PANEL_PASSWORD", ""),

		// Webhook
		WebhookPort:   getEnvInt("WEBHOOK_PORT", 8080),
		WebhookSecret: getEnv("WEBHOOK_SECRET", ""),

		// Routing
		ForumChatID:     getEnvInt64("FORUM_CHAT_ID", 0),
		FallbackChatID:  getEnvInt64("FALLBACK_CHAT_ID", 0),
		FallbackTopicID: getEnvInt("FALLBACK_TOPIC_ID", 0),

		// Database
		DBPath: getEnv("DB_PATH", "./accounting.db"),

		// Filter
		ExpireExtendDays: getEnvInt("EXPIRE_EXTEND_DAYS", 7),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}
