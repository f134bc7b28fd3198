package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendSQLite   = "sqlite"
	BackendLevelDB  = "leveldb"
)

// Config is the complete process configuration.
type Config struct {
	Server   Server
	Store    StoreConfig
	Redis    RedisConfig
	Ledger   LedgerConfig
	Kafka    KafkaConfig
	Archive  ArchiveConfig
	Scoring  ScoringConfig
	Auth     AuthConfig
	LogLevel string
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// StoreConfig selects the record store backend.
type StoreConfig struct {
	Backend     string
	DatabaseURL string
	SQLitePath  string
}

// RedisConfig holds connection settings for the redis record store.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// LedgerConfig selects the event ledger backend.
type LedgerConfig struct {
	Backend     string
	Path        string
	DatabaseURL string
}

// KafkaConfig enables the ledger relay when Brokers is non-empty.
type KafkaConfig struct {
	Brokers     []string
	Topic       string
	Partitions  int32
	Replication int16
	Interval    time.Duration
	BatchSize   int
}

func (k KafkaConfig) Enabled() bool { return len(k.Brokers) > 0 }

// ArchiveConfig enables the S3 ledger archive when Bucket is set.
type ArchiveConfig struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string
	PathStyle       bool
	AccessKeyID     string
	SecretAccessKey string
	Interval        time.Duration
}

func (a ArchiveConfig) Enabled() bool { return a.Bucket != "" }

type ScoringConfig struct {
	WeightsFile     string
	MaxMedicalNotes int
}

type AuthConfig struct {
	JWTSigningKey string
	JWTIssuer     string
}

// FromEnv builds the config from environment variables. Malformed values and
// settings missing for the selected backends are reported together.
func FromEnv() (Config, error) {
	e := &env{lookup: os.LookupEnv}
	cfg := Config{
		Server: Server{
			Addr:            e.str("ORGANMATCH_ADDR", ":8080"),
			ReadTimeout:     e.duration("READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    e.duration("WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     e.duration("IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: e.duration("SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Store: StoreConfig{
			Backend:     strings.ToLower(e.str("STORE_BACKEND", BackendMemory)),
			DatabaseURL: e.str("DATABASE_URL", ""),
			SQLitePath:  e.str("SQLITE_PATH", "organmatch.db"),
		},
		Redis: RedisConfig{
			URL:          e.str("REDIS_URL", ""),
			PoolSize:     e.integer("REDIS_POOL_SIZE", 10),
			MinIdleConns: e.integer("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  e.duration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  e.duration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: e.duration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Ledger: LedgerConfig{
			Backend:     strings.ToLower(e.str("LEDGER_BACKEND", BackendMemory)),
			Path:        e.str("LEDGER_PATH", "organmatch-ledger"),
			DatabaseURL: e.str("LEDGER_DATABASE_URL", ""),
		},
		Kafka: KafkaConfig{
			Brokers:     e.list("KAFKA_BROKERS"),
			Topic:       e.str("KAFKA_TOPIC", "organmatch.ledger"),
			Partitions:  int32(e.integer("KAFKA_PARTITIONS", 1)),
			Replication: int16(e.integer("KAFKA_REPLICATION", 1)),
			Interval:    e.duration("RELAY_INTERVAL", 2*time.Second),
			BatchSize:   e.integer("RELAY_BATCH", 100),
		},
		Archive: ArchiveConfig{
			Bucket:          e.str("ARCHIVE_BUCKET", ""),
			Prefix:          e.str("ARCHIVE_PREFIX", "ledger"),
			Region:          e.str("ARCHIVE_REGION", "us-east-1"),
			Endpoint:        e.str("ARCHIVE_ENDPOINT", ""),
			PathStyle:       e.boolean("ARCHIVE_PATH_STYLE", false),
			AccessKeyID:     e.str("ARCHIVE_ACCESS_KEY_ID", ""),
			SecretAccessKey: e.str("ARCHIVE_SECRET_ACCESS_KEY", ""),
			Interval:        e.duration("ARCHIVE_INTERVAL", time.Minute),
		},
		Scoring: ScoringConfig{
			WeightsFile:     e.str("SCORING_WEIGHTS_FILE", ""),
			MaxMedicalNotes: e.integer("MAX_MEDICAL_NOTES", 1000),
		},
		Auth: AuthConfig{
			JWTSigningKey: e.str("JWT_SIGNING_KEY", ""),
			JWTIssuer:     e.str("JWT_ISSUER", "organmatch"),
		},
		LogLevel: e.str("LOG_LEVEL", "info"),
	}

	cfg.validate(e)
	if err := errors.Join(e.errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate(e *env) {
	switch c.Store.Backend {
	case BackendMemory, BackendSQLite:
	case BackendPostgres:
		if c.Store.DatabaseURL == "" {
			e.fail("DATABASE_URL is required when STORE_BACKEND=postgres")
		}
	case BackendRedis:
		if c.Redis.URL == "" {
			e.fail("REDIS_URL is required when STORE_BACKEND=redis")
		}
	default:
		e.fail(fmt.Sprintf("unknown STORE_BACKEND %q", c.Store.Backend))
	}

	switch c.Ledger.Backend {
	case BackendMemory, BackendLevelDB:
	case BackendPostgres:
		if c.Ledger.DatabaseURL == "" {
			e.fail("LEDGER_DATABASE_URL is required when LEDGER_BACKEND=postgres")
		}
	default:
		e.fail(fmt.Sprintf("unknown LEDGER_BACKEND %q", c.Ledger.Backend))
	}

	if c.Auth.JWTSigningKey == "" {
		e.fail("JWT_SIGNING_KEY is required")
	}
	if (c.Archive.AccessKeyID == "") != (c.Archive.SecretAccessKey == "") {
		e.fail("ARCHIVE_ACCESS_KEY_ID and ARCHIVE_SECRET_ACCESS_KEY must be set together")
	}
}

// env reads typed values and collects parse failures.
type env struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *env) fail(msg string) {
	e.errs = append(e.errs, errors.New(msg))
}

func (e *env) str(key, def string) string {
	if v, ok := e.lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (e *env) integer(key string, def int) int {
	raw := e.str(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		e.fail(fmt.Sprintf("%s must be a non-negative integer", key))
		return def
	}
	return v
}

func (e *env) duration(key string, def time.Duration) time.Duration {
	raw := e.str(key, "")
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil || v <= 0 {
		e.fail(fmt.Sprintf("%s must be a positive duration", key))
		return def
	}
	return v
}

func (e *env) boolean(key string, def bool) bool {
	raw := e.str(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		e.fail(fmt.Sprintf("%s must be a boolean", key))
		return def
	}
	return v
}

func (e *env) list(key string) []string {
	var out []string
	for _, part := range strings.Split(e.str(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
