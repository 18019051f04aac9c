package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App       App
	Logger    Logger
	Postgres  Postgres
	Redis     Redis
	Auth      Auth
	Queue     Queue
	RateLimit RateLimit
}

type App struct {
	Port string
}

type Logger struct {
	Level    string
	Encoding string
}

type Postgres struct {
	URL           string
	MigrationsDir string
}

type Redis struct {
	Addr     string
	Password string
	DB       int
}

type Auth struct {
	JWTSecret string
	Issuer    string
	TokenTTL  time.Duration
}

type Queue struct {
	TicketPrefix     string
	PollInterval     time.Duration
	BatchSize        int
	AnnounceInterval time.Duration
	AnnounceProvider string
	AnnounceToken    string
}

type RateLimit struct {
	IPPerMinute    int
	IPBurst        int
	TokenPerMinute int
	TokenBurst     int
}

// Load reads .env if present, then the environment. Every value has a
// usable default except the database URL.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		App: App{
			Port: readString("PORT", "8080"),
		},
		Logger: Logger{
			Level:    readString("LOG_LEVEL", "info"),
			Encoding: readString("LOG_ENCODING", "json"),
		},
		Postgres: Postgres{
			URL:           os.Getenv("DB_DSN"),
			MigrationsDir: readString("MIGRATIONS_DIR", "migrations"),
		},
		Redis: Redis{
			Addr:     readString("REDIS_ADDR", "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       readInt("REDIS_DB", 0),
		},
		Auth: Auth{
			JWTSecret: readString("JWT_SECRET", "dev-secret-change-me"),
			Issuer:    readString("JWT_ISSUER", "onequeue"),
			TokenTTL:  readDurationSeconds("TOKEN_TTL_SECONDS", 8*60*60),
		},
		Queue: Queue{
			TicketPrefix:     readString("TICKET_PREFIX", "A"),
			PollInterval:     readDurationSeconds("OUTBOX_POLL_INTERVAL_SECONDS", 1),
			BatchSize:        readInt("OUTBOX_BATCH_SIZE", 100),
			AnnounceInterval: readDurationSeconds("ANNOUNCE_INTERVAL_SECONDS", 2),
			AnnounceProvider: readString("ANNOUNCE_PROVIDER", "log"),
			AnnounceToken:    os.Getenv("ANNOUNCE_WEBHOOK_TOKEN"),
		},
		RateLimit: RateLimit{
			IPPerMinute:    readInt("RATE_LIMIT_PER_MIN", 120),
			IPBurst:        readInt("RATE_LIMIT_BURST", 30),
			TokenPerMinute: readInt("TOKEN_RATE_LIMIT_PER_MIN", 600),
			TokenBurst:     readInt("TOKEN_RATE_LIMIT_BURST", 120),
		},
	}
}

func readString(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		value = fallback
	}
	return time.Duration(value) * time.Second
}
