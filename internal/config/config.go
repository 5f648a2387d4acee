package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"rnvlive/pkg/rnvapi"
)

type Config struct {
	LogLevel        slog.Level
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	APIBaseURL      string
	TokenURL        string
	ClientID        string
	ClientSecret    string
	Resource        string
	SigningEnabled  bool
	SigningKey      string
	RequestInterval time.Duration
	MaxResponseSize int64

	TickInterval   time.Duration
	TripStaleAfter time.Duration

	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	StoreTTL      time.Duration

	NATSEnabled   bool
	NATSURL       string
	SubjectPrefix string

	RateLimitPerWindow int
	RateLimitWindow    time.Duration
	RateLimitWhitelist []string
}

func Load() (*Config, error) {
	// a missing .env file is fine, the environment wins anyway
	godotenv.Load()

	return &Config{
		LogLevel:        getLogLevelEnv("LOG_LEVEL", slog.LevelInfo),
		HTTPAddr:        getEnv("HTTP_ADDR", ":8080"),
		ReadTimeout:     getDurationEnv("READ_TIMEOUT", 10*time.Second),
		WriteTimeout:    getDurationEnv("WRITE_TIMEOUT", 10*time.Second),
		ShutdownTimeout: getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),

		APIBaseURL:      getEnv("RNV_GRAPHQL_URL", rnvapi.DefaultBaseURL),
		TokenURL:        getEnv("RNV_TOKEN_URL", ""),
		ClientID:        getEnv("RNV_CLIENT_ID", ""),
		ClientSecret:    getEnv("RNV_CLIENT_SECRET", ""),
		Resource:        getEnv("RNV_RESOURCE", ""),
		SigningEnabled:  getBoolEnv("REQUEST_SIGNING_ENABLED", false),
		SigningKey:      getEnv("REQUEST_SIGNING_KEY", ""),
		RequestInterval: getDurationEnv("REQUEST_MIN_INTERVAL", 500*time.Millisecond),
		MaxResponseSize: int64(getIntEnv("MAX_RESPONSE_BYTES", 10_000_000)),

		TickInterval:   getDurationEnv("TICK_INTERVAL", time.Second),
		TripStaleAfter: getDurationEnv("TRIP_STALE_AFTER", 2*time.Hour),

		RedisEnabled:  getBoolEnv("REDIS_ENABLED", false),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),
		StoreTTL:      getDurationEnv("STORE_TTL", 24*time.Hour),

		NATSEnabled:   getBoolEnv("NATS_ENABLED", false),
		NATSURL:       getEnv("NATS_URL", "nats://localhost:4222"),
		SubjectPrefix: getEnv("NATS_SUBJECT_PREFIX", "rnvlive"),

		RateLimitPerWindow: getIntEnv("RATE_LIMIT_PER_WINDOW", 120),
		RateLimitWindow:    getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),
		RateLimitWhitelist: getCSVEnv("RATE_LIMIT_WHITELIST"),
	}, nil
}

// HasCredentials reports whether the client credentials grant can run. Without
// them the service still serves tracking for trips injected via the API, it
// just cannot authenticate against the trip planner.
func (c *Config) HasCredentials() bool {
	return c.TokenURL != "" && c.ClientID != "" && c.ClientSecret != "" && c.Resource != ""
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getDurationEnv(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func getIntEnv(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getBoolEnv(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func getLogLevelEnv(key string, defaultVal slog.Level) slog.Level {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}

	switch strings.ToLower(v) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return defaultVal
	}
}

func getCSVEnv(key string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}

	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			result = append(result, t)
		}
	}
	return result
}
