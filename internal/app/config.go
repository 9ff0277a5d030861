package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds process-wide configuration for the overlay dispatch
// service, loaded once at startup from the environment.
type Config struct {
	HTTPAddr           string
	MongoURI           string
	MongoDatabase      string
	RedisURL           string
	LogLevel           string
	LogFormat          string
	CORSAllowedOrigins []string // empty = allow all (dev mode)

	APIURL string // base URL embedded in overlay:play media URLs

	ShowTextDefault bool // default value of overlay:config's showTextDefault

	DefaultDurationSec   int64
	PairingCodeTTL       time.Duration
	PlaybackJobRetention time.Duration
	MediaCacheTTL        time.Duration
	PurgeInterval        time.Duration
	RateLimitRPS         float64
	RateLimitBurst       int

	// Scheduler-internal constants, exposed here so integration tests
	// can shrink them well below their production defaults.
	LockPadding            time.Duration
	StaleGrace             time.Duration
	MinBusyLock            time.Duration
	SnapshotMaxAge         time.Duration
	GuildRunMaxIterations  int
	MemeJobPriority        int
}

func LoadConfig() Config {
	return Config{
		HTTPAddr:                 getEnv("HTTP_ADDR", ":8080"),
		MongoURI:                 getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase:            getEnv("MONGO_DATABASE", "overlaydispatch"),
		RedisURL:                 getEnv("REDIS_URL", "redis://localhost:6379/0"),
		LogLevel:                 strings.ToLower(getEnv("LOG", "info")),
		LogFormat:                strings.ToLower(getEnv("LOG_FORMAT", "text")),
		CORSAllowedOrigins:       parseCSV(getEnv("CORS_ALLOWED_ORIGINS", "")),
		APIURL:                   getEnv("API_URL", "http://localhost:8080"),
		ShowTextDefault:          getEnvBool("SHOW_TEXT_DEFAULT", true),
		DefaultDurationSec:       getEnvInt64("DEFAULT_DURATION", 10),
		PairingCodeTTL:           time.Duration(getEnvInt64("PAIRING_CODE_TTL_MINUTES", 10)) * time.Minute,
		PlaybackJobRetention:     time.Duration(getEnvInt64("PLAYBACK_JOB_RETENTION_HOURS", 72)) * time.Hour,
		MediaCacheTTL:            time.Duration(getEnvInt64("MEDIA_CACHE_TTL_HOURS", 24)) * time.Hour,
		PurgeInterval:            time.Duration(getEnvInt64("PURGE_INTERVAL_SECONDS", 60)) * time.Second,
		RateLimitRPS:             getEnvFloat("RATE_LIMIT_RPS", 5),
		RateLimitBurst:           int(getEnvInt64("RATE_LIMIT_BURST", 10)),

		LockPadding:           time.Duration(getEnvInt64("SCHED_LOCK_PADDING_MS", 250)) * time.Millisecond,
		StaleGrace:            time.Duration(getEnvInt64("SCHED_STALE_GRACE_SECONDS", 10)) * time.Second,
		MinBusyLock:           time.Duration(getEnvInt64("SCHED_MIN_BUSY_LOCK_MS", 5000)) * time.Millisecond,
		SnapshotMaxAge:        time.Duration(getEnvInt64("SCHED_SNAPSHOT_MAX_AGE_SECONDS", 15)) * time.Second,
		GuildRunMaxIterations: int(getEnvInt64("SCHED_GUILD_RUN_MAX_ITERATIONS", 25)),
		MemeJobPriority:       int(getEnvInt64("SCHED_MEME_JOB_PRIORITY", 100)),
	}
}

func parseCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	if parsed < 0 {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}
