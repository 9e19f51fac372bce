package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port     int
	LogLevel string

	// Records store: "sqlite" or "supabase"
	StoreBackend string
	SQLitePath   string

	// Supabase
	SupabaseURL        string
	SupabaseAnonKey    string
	SupabaseServiceKey string

	// Product catalog (Postgres) and image index (Qdrant)
	DatabaseURL      string
	QdrantHost       string
	QdrantPort       int
	QdrantAPIKey     string
	QdrantCollection string

	// Image embedding service (POST /embed)
	EmbeddingURL string

	// Language model
	GeminiDefaultModel string

	// Session lock: "local" or "redis"
	LockBackend string
	RedisAddr   string
	LockTTL     time.Duration

	// Matcher and search
	SearchPageSize     int
	MatcherMaxPages    int
	MatcherScoreCutoff float64
	ImageMinSimilarity float32

	// Handover sweeper
	HandoverTimeout time.Duration
	SweeperInterval time.Duration

	// History windows
	HistoryContextLimit  int
	HistoryResponseLimit int

	// Timeouts
	HTTPTimeout   time.Duration
	AICallTimeout time.Duration
	SearchTimeout time.Duration

	// Resilience
	MaxRetries     int
	InitialBackoff time.Duration
	MaxConcurrency int

	// Cache
	BotControlCacheTTL time.Duration

	// Observability
	OTLPEndpoint string

	// Staff endpoints (empty disables the bearer check)
	StaffJWTSecret string

	// CORS
	CORSAllowedOrigins []string

	// Optional YAML file overriding the built-in reply catalog
	RepliesFile string
}

// LoadDotEnv reads a .env file into the process environment.
// Variables already set in the environment win.
func LoadDotEnv(paths ...string) error {
	return godotenv.Load(paths...)
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		StoreBackend: strings.ToLower(getEnv("STORE_BACKEND", "sqlite")),
		SQLitePath:   getEnv("SQLITE_PATH", "shopbot.db"),

		SupabaseURL:        getEnv("SUPABASE_URL", ""),
		SupabaseAnonKey:    getEnv("SUPABASE_ANON_KEY", ""),
		SupabaseServiceKey: getEnv("SUPABASE_SERVICE_ROLE_KEY", ""),

		DatabaseURL:      getEnv("DATABASE_URL", ""),
		QdrantHost:       getEnv("QDRANT_HOST", ""),
		QdrantPort:       getEnvInt("QDRANT_PORT", 6334),
		QdrantAPIKey:     getEnv("QDRANT_API_KEY", ""),
		QdrantCollection: getEnv("QDRANT_COLLECTION", "product_images"),

		EmbeddingURL: getEnv("EMBEDDING_URL", "http://localhost:8091"),

		GeminiDefaultModel: getEnv("GEMINI_DEFAULT_MODEL", "gemini-1.5-flash"),

		LockBackend: strings.ToLower(getEnv("LOCK_BACKEND", "local")),
		RedisAddr:   getEnv("REDIS_ADDR", "localhost:6379"),
		LockTTL:     getEnvDuration("LOCK_TTL", 2*time.Minute),

		SearchPageSize:     getEnvInt("SEARCH_PAGE_SIZE", 5),
		MatcherMaxPages:    getEnvInt("MATCHER_MAX_PAGES", 5),
		MatcherScoreCutoff: getEnvFloat("MATCHER_SCORE_CUTOFF", 0.8),
		ImageMinSimilarity: float32(getEnvFloat("IMAGE_MIN_SIMILARITY", 0.97)),

		HandoverTimeout: getEnvDuration("HANDOVER_TIMEOUT", 900*time.Second),
		SweeperInterval: getEnvDuration("SWEEPER_INTERVAL", 300*time.Second),

		HistoryContextLimit:  getEnvInt("HISTORY_CONTEXT_LIMIT", 12),
		HistoryResponseLimit: getEnvInt("HISTORY_RESPONSE_LIMIT", 50),

		HTTPTimeout:   getEnvDuration("HTTP_TIMEOUT", 10*time.Second),
		AICallTimeout: getEnvDuration("AI_CALL_TIMEOUT", 30*time.Second),
		SearchTimeout: getEnvDuration("SEARCH_TIMEOUT", 5*time.Second),

		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		InitialBackoff: getEnvDuration("INITIAL_BACKOFF", 100*time.Millisecond),
		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 8),

		BotControlCacheTTL: getEnvDuration("BOT_CONTROL_CACHE_TTL", 10*time.Second),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),

		StaffJWTSecret: getEnv("STAFF_JWT_SECRET", ""),

		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),

		RepliesFile: getEnv("REPLIES_FILE", ""),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("15m") or bare seconds ("900").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return fallback
}

// getEnvList splits a comma-separated variable, dropping blank entries.
func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
