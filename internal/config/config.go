package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// Environment
	Environment string

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// Agent server
	Port        string
	FrontendURL string

	// Security
	JWTSecret string

	// Realtime connection
	SubscribeTimeoutSecs int
	IdleTimeoutMins      int

	// Polling fallback
	InvitePollSecs   int
	InviteWindowSecs int
	FriendPollSecs   int
	FriendWindowSecs int
	GamePollSecs     int

	// Matchmaking
	MatchPollSecs        int
	RatingRange          int
	RecentGameWindowSecs int
	MaxMissedTicks       int
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	return &Config{
		// Environment
		Environment: getEnv("APP_ENV", "development"),

		// Database
		DatabaseURL: getEnv("DATABASE_URL", "postgres://localhost:5432/playgambit?sslmode=disable"),

		// Redis
		RedisURL: getEnv("REDIS_URL", "redis://localhost:6379/0"),

		// Agent server
		Port:        getEnv("APP_PORT", "8090"),
		FrontendURL: getEnv("FRONTEND_URL", "http://localhost:5173"),

		// Security
		JWTSecret: getEnv("JWT_SECRET", "change-me-in-production"),

		// Realtime connection
		SubscribeTimeoutSecs: getEnvInt("SUBSCRIBE_TIMEOUT_SECONDS", 10),
		IdleTimeoutMins:      getEnvInt("IDLE_TIMEOUT_MINUTES", 5),

		// Polling fallback
		InvitePollSecs:   getEnvInt("INVITE_POLL_SECONDS", 10),
		InviteWindowSecs: getEnvInt("INVITE_WINDOW_SECONDS", 15),
		FriendPollSecs:   getEnvInt("FRIEND_POLL_SECONDS", 30),
		FriendWindowSecs: getEnvInt("FRIEND_WINDOW_SECONDS", 35),
		GamePollSecs:     getEnvInt("GAME_POLL_SECONDS", 2),

		// Matchmaking
		MatchPollSecs:        getEnvInt("MATCH_POLL_SECONDS", 2),
		RatingRange:          getEnvInt("RATING_RANGE", 300),
		RecentGameWindowSecs: getEnvInt("RECENT_GAME_WINDOW_SECONDS", 10),
		MaxMissedTicks:       getEnvInt("MAX_MISSED_TICKS", 3),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
