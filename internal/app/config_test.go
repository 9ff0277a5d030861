package app

import (
	"os"
	"testing"
	"time"
)

func setEnvs(t *testing.T, envs map[string]string) {
	t.Helper()
	for k, v := range envs {
		t.Setenv(k, v)
	}
}

func clearEnvs(t *testing.T, keys []string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

var allConfigEnvVars = []string{
	"HTTP_ADDR", "MONGO_URI", "MONGO_DATABASE", "REDIS_URL", "LOG", "LOG_FORMAT",
	"CORS_ALLOWED_ORIGINS", "API_URL", "DEFAULT_DURATION",
	"PAIRING_CODE_TTL_MINUTES", "PLAYBACK_JOB_RETENTION_HOURS",
	"MEDIA_CACHE_TTL_HOURS", "PURGE_INTERVAL_SECONDS", "RATE_LIMIT_RPS",
	"RATE_LIMIT_BURST",
	"SCHED_LOCK_PADDING_MS", "SCHED_STALE_GRACE_SECONDS", "SCHED_MIN_BUSY_LOCK_MS",
	"SCHED_SNAPSHOT_MAX_AGE_SECONDS", "SCHED_GUILD_RUN_MAX_ITERATIONS",
	"SCHED_MEME_JOB_PRIORITY",
}

func TestLoadConfigDefaults(t *testing.T) {
	clearEnvs(t, allConfigEnvVars)

	cfg := LoadConfig()

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"HTTPAddr", cfg.HTTPAddr, ":8080"},
		{"MongoURI", cfg.MongoURI, "mongodb://localhost:27017"},
		{"MongoDatabase", cfg.MongoDatabase, "overlaydispatch"},
		{"RedisURL", cfg.RedisURL, "redis://localhost:6379/0"},
		{"LogLevel", cfg.LogLevel, "info"},
		{"LogFormat", cfg.LogFormat, "text"},
		{"APIURL", cfg.APIURL, "http://localhost:8080"},
		{"DefaultDurationSec", cfg.DefaultDurationSec, int64(10)},
		{"PairingCodeTTL", cfg.PairingCodeTTL, 10 * time.Minute},
		{"PlaybackJobRetention", cfg.PlaybackJobRetention, 72 * time.Hour},
		{"MediaCacheTTL", cfg.MediaCacheTTL, 24 * time.Hour},
		{"PurgeInterval", cfg.PurgeInterval, 60 * time.Second},
		{"RateLimitRPS", cfg.RateLimitRPS, float64(5)},
		{"RateLimitBurst", cfg.RateLimitBurst, 10},
		{"LockPadding", cfg.LockPadding, 250 * time.Millisecond},
		{"StaleGrace", cfg.StaleGrace, 10 * time.Second},
		{"MinBusyLock", cfg.MinBusyLock, 5000 * time.Millisecond},
		{"SnapshotMaxAge", cfg.SnapshotMaxAge, 15 * time.Second},
		{"GuildRunMaxIterations", cfg.GuildRunMaxIterations, 25},
		{"MemeJobPriority", cfg.MemeJobPriority, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v (%T), want %v (%T)", tt.got, tt.got, tt.want, tt.want)
			}
		})
	}

	if len(cfg.CORSAllowedOrigins) != 0 {
		t.Errorf("CORSAllowedOrigins: got %v, want nil/empty", cfg.CORSAllowedOrigins)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	setEnvs(t, map[string]string{
		"HTTP_ADDR":                 ":9090",
		"MONGO_URI":                 "mongodb://remote:27017",
		"MONGO_DATABASE":            "mydb",
		"REDIS_URL":                 "redis://remote:6379/1",
		"LOG":                       "DEBUG",
		"LOG_FORMAT":                "JSON",
		"CORS_ALLOWED_ORIGINS":      "http://localhost:3000, https://example.com",
		"DEFAULT_DURATION":          "15",
		"PAIRING_CODE_TTL_MINUTES":  "5",
		"SCHED_MEME_JOB_PRIORITY":   "250",
		"SCHED_GUILD_RUN_MAX_ITERATIONS": "50",
	})

	cfg := LoadConfig()

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"HTTPAddr", cfg.HTTPAddr, ":9090"},
		{"MongoURI", cfg.MongoURI, "mongodb://remote:27017"},
		{"MongoDatabase", cfg.MongoDatabase, "mydb"},
		{"RedisURL", cfg.RedisURL, "redis://remote:6379/1"},
		{"LogLevel", cfg.LogLevel, "debug"},
		{"LogFormat", cfg.LogFormat, "json"},
		{"DefaultDurationSec", cfg.DefaultDurationSec, int64(15)},
		{"PairingCodeTTL", cfg.PairingCodeTTL, 5 * time.Minute},
		{"MemeJobPriority", cfg.MemeJobPriority, 250},
		{"GuildRunMaxIterations", cfg.GuildRunMaxIterations, 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v (%T), want %v (%T)", tt.got, tt.got, tt.want, tt.want)
			}
		})
	}

	wantOrigins := []string{"http://localhost:3000", "https://example.com"}
	if len(cfg.CORSAllowedOrigins) != len(wantOrigins) {
		t.Fatalf("CORSAllowedOrigins: got %d entries, want %d", len(cfg.CORSAllowedOrigins), len(wantOrigins))
	}
	for i, got := range cfg.CORSAllowedOrigins {
		if got != wantOrigins[i] {
			t.Errorf("CORSAllowedOrigins[%d]: got %q, want %q", i, got, wantOrigins[i])
		}
	}
}

func TestGetEnvInt64InvalidFallsBack(t *testing.T) {
	tests := []struct {
		name     string
		envVal   string
		fallback int64
		want     int64
	}{
		{"empty string", "", 42, 42},
		{"not a number", "abc", 42, 42},
		{"negative number", "-5", 42, 42},
		{"zero", "0", 42, 0},
		{"valid positive", "100", 42, 100},
		{"whitespace around number", "  50  ", 42, 50},
		{"float", "3.14", 42, 42},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_INT_VAR", tt.envVal)
			got := getEnvInt64("TEST_INT_VAR", tt.fallback)
			if got != tt.want {
				t.Errorf("getEnvInt64(%q, %d) = %d, want %d", tt.envVal, tt.fallback, got, tt.want)
			}
		})
	}
}

func TestParseCSV(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"empty string", "", nil},
		{"whitespace only", "   ", nil},
		{"single value", "http://localhost:3000", []string{"http://localhost:3000"}},
		{"multiple values", "a,b,c", []string{"a", "b", "c"}},
		{"values with spaces", " a , b , c ", []string{"a", "b", "c"}},
		{"trailing comma", "a,b,", []string{"a", "b"}},
		{"empty entries filtered", "a,,b,,c", []string{"a", "b", "c"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseCSV(tt.input)
			if tt.want == nil {
				if got != nil {
					t.Errorf("parseCSV(%q) = %v, want nil", tt.input, got)
				}
				return
			}
			if len(got) != len(tt.want) {
				t.Fatalf("parseCSV(%q) returned %d elements, want %d", tt.input, len(got), len(tt.want))
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("parseCSV(%q)[%d] = %q, want %q", tt.input, i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestGetEnvFallback(t *testing.T) {
	t.Setenv("TEST_EXISTING", "hello")

	if got := getEnv("TEST_EXISTING", "default"); got != "hello" {
		t.Errorf("getEnv(existing) = %q, want %q", got, "hello")
	}

	t.Setenv("TEST_MISSING_XYZ", "")
	os.Unsetenv("TEST_MISSING_XYZ")
	if got := getEnv("TEST_MISSING_XYZ", "default"); got != "default" {
		t.Errorf("getEnv(missing) = %q, want %q", got, "default")
	}
}

func TestLogLevelCaseInsensitive(t *testing.T) {
	t.Setenv("LOG", "DEBUG")
	cfg := LoadConfig()
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel: got %q, want %q", cfg.LogLevel, "debug")
	}

	t.Setenv("LOG", "Warn")
	cfg = LoadConfig()
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel: got %q, want %q", cfg.LogLevel, "warn")
	}
}
