package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Server struct {
	Port            string
	ShutdownTimeout time.Duration
}

type Log struct {
	Level  string
	File   string
	Format string
}

type RateLimit struct {
	Disabled bool
	Max      int
	Window   time.Duration
}

type Availability struct {
	MaintenanceMode       bool
	MaxConcurrentRequests int64
}

type API struct {
	RequestLoggingDisabled bool
	DefaultDepth           int
	MaxDepth               int
	MaxLatencies           int
}

// Sinks configures where processed state goes. An empty value disables
// that sink.
type Sinks struct {
	SnapshotDB   string
	QueueSize    int
	JournalDir   string
	KafkaBrokers []string
	KafkaTopic   string
}

type Feed struct {
	URL string
}

type Config struct {
	Server       Server
	Log          Log
	Symbols      []string
	RateLimit    RateLimit
	Availability Availability
	API          API
	Sinks        Sinks
	Feed         Feed
}

func Default() Config {
	return Config{
		Server: Server{
			Port:            "8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Log: Log{
			Level: "info",
		},
		RateLimit: RateLimit{
			Max:    100,
			Window: time.Second,
		},
		API: API{
			DefaultDepth: 10,
			MaxDepth:     1000,
			MaxLatencies: 10000,
		},
		Sinks: Sinks{
			QueueSize:  1024,
			KafkaTopic: "trade-core.fills",
		},
	}
}

// Load reads envPath (or ./.env when empty) if present, then applies
// environment variables over the defaults. Unparseable values keep the
// default.
func Load(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg.Server.Port = getEnv("PORT", cfg.Server.Port)
	cfg.Server.ShutdownTimeout = getDuration("SHUTDOWN_TIMEOUT", cfg.Server.ShutdownTimeout)

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.File = getEnv("LOG_FILE", cfg.Log.File)
	cfg.Log.Format = getEnv("LOG_FORMAT", cfg.Log.Format)

	cfg.Symbols = getList("SYMBOLS")

	cfg.RateLimit.Disabled = os.Getenv("RATE_LIMIT_DISABLED") == "1"
	cfg.RateLimit.Max = getInt("RATE_LIMIT_MAX", cfg.RateLimit.Max)
	cfg.RateLimit.Window = getDuration("RATE_LIMIT_WINDOW", cfg.RateLimit.Window)

	cfg.Availability.MaintenanceMode = os.Getenv("MAINTENANCE_MODE") == "1"
	cfg.Availability.MaxConcurrentRequests = int64(getInt("MAX_CONCURRENT_REQUESTS", int(cfg.Availability.MaxConcurrentRequests)))

	cfg.API.RequestLoggingDisabled = os.Getenv("REQUEST_LOGGING_DISABLED") == "1"
	cfg.API.DefaultDepth = getInt("ORDERBOOK_DEFAULT_DEPTH", cfg.API.DefaultDepth)
	cfg.API.MaxDepth = getInt("ORDERBOOK_MAX_DEPTH", cfg.API.MaxDepth)
	cfg.API.MaxLatencies = getInt("METRICS_MAX_LATENCIES", cfg.API.MaxLatencies)

	cfg.Sinks.SnapshotDB = getEnv("SNAPSHOT_DB", cfg.Sinks.SnapshotDB)
	cfg.Sinks.QueueSize = getInt("SNAPSHOT_QUEUE_SIZE", cfg.Sinks.QueueSize)
	cfg.Sinks.JournalDir = getEnv("JOURNAL_DIR", cfg.Sinks.JournalDir)
	cfg.Sinks.KafkaBrokers = getList("KAFKA_BROKERS")
	cfg.Sinks.KafkaTopic = getEnv("KAFKA_TOPIC", cfg.Sinks.KafkaTopic)

	cfg.Feed.URL = getEnv("MARKET_DATA_URL", cfg.Feed.URL)

	// edge case: a default depth above the cap would never be honoured
	if cfg.API.DefaultDepth > cfg.API.MaxDepth {
		cfg.API.DefaultDepth = cfg.API.MaxDepth
	}

	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultValue
}

func getList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	out := make([]string, 0)
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
