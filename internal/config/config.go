// Package config centralizes how SeedTrace reads environment variables and
// exposes them as strongly typed Go values. The API server, the worker and the
// CLI all load the same Config.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store drivers accepted by SEEDTRACE_STORE.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config represents runtime configuration for every SeedTrace binary.
type Config struct {
	Address        string
	MaxFileSize    int64
	SigningSecret  []byte
	CredentialTTL  time.Duration
	ProcessingPool int

	StoreDriver string
	SQLitePath  string
	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	S3Endpoint      string
	S3AccessKey     string
	S3SecretKey     string
	S3UseSSL        bool
	S3Region        string
	RawBucket       string
	ProcessedBucket string

	CollectionName   string
	CollectionSymbol string
	// AdminIdentity, when set, is used to initialize the tracker at startup.
	AdminIdentity string
	// WorkerIdentity is the caller the lab report worker acts as. It needs the
	// cultivator role.
	WorkerIdentity string
	// WorkerMetricsAddr is where the worker serves /metrics. Setting
	// SEEDTRACE_WORKER_METRICS_ADDR=off leaves it empty and disables it.
	WorkerMetricsAddr string
}

const (
	defaultAddress         = ":8080"
	defaultMaxFileSize     = 25 << 20 // 25 MiB
	defaultCredentialTTL   = 15 * time.Minute
	defaultWorkerCount     = 2
	defaultSQLitePath      = "seedtrace.db"
	defaultS3Region        = "us-east-1"
	defaultRawBucket       = "seedtrace-lab-reports"
	defaultProcessedBucket = "seedtrace-lab-text"
	defaultCollectionName  = "SeedTrace"
	defaultCollectionSym   = "SEED"
	defaultWorkerIdentity  = "lab-worker"
	defaultWorkerMetrics   = ":9091"
)

// Load reads configuration from environment variables falling back to defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Address:        readEnv("SEEDTRACE_ADDRESS", defaultAddress),
		MaxFileSize:    parseInt64("SEEDTRACE_MAX_FILE_BYTES", defaultMaxFileSize),
		SigningSecret:  parseSecret("SEEDTRACE_SIGNING_SECRET"),
		CredentialTTL:  parseDuration("SEEDTRACE_CREDENTIAL_TTL", defaultCredentialTTL),
		ProcessingPool: parseInt("SEEDTRACE_WORKERS", defaultWorkerCount),

		StoreDriver: strings.ToLower(readEnv("SEEDTRACE_STORE", DriverMemory)),
		SQLitePath:  readEnv("SEEDTRACE_SQLITE_PATH", defaultSQLitePath),
		DatabaseURL: readEnv("SEEDTRACE_DATABASE_URL", ""),

		RedisAddr:     readEnv("SEEDTRACE_REDIS_ADDR", ""),
		RedisPassword: readEnv("SEEDTRACE_REDIS_PASSWORD", ""),
		RedisDB:       parseInt("SEEDTRACE_REDIS_DB", 0),

		S3Endpoint:      readEnv("SEEDTRACE_S3_ENDPOINT", ""),
		S3AccessKey:     readEnv("SEEDTRACE_S3_ACCESS_KEY", ""),
		S3SecretKey:     readEnv("SEEDTRACE_S3_SECRET_KEY", ""),
		S3UseSSL:        parseBool("SEEDTRACE_S3_USE_SSL", false),
		S3Region:        readEnv("SEEDTRACE_S3_REGION", defaultS3Region),
		RawBucket:       readEnv("SEEDTRACE_RAW_BUCKET", defaultRawBucket),
		ProcessedBucket: readEnv("SEEDTRACE_PROCESSED_BUCKET", defaultProcessedBucket),

		CollectionName:   readEnv("SEEDTRACE_COLLECTION_NAME", defaultCollectionName),
		CollectionSymbol: readEnv("SEEDTRACE_COLLECTION_SYMBOL", defaultCollectionSym),
		AdminIdentity:    readEnv("SEEDTRACE_ADMIN", ""),
		WorkerIdentity:   readEnv("SEEDTRACE_WORKER_IDENTITY", defaultWorkerIdentity),

		WorkerMetricsAddr: readEnv("SEEDTRACE_WORKER_METRICS_ADDR", defaultWorkerMetrics),
	}
	if cfg.SigningSecret == nil {
		// Credentials then only verify within this process.
		cfg.SigningSecret = randomSecret()
	}
	if strings.EqualFold(cfg.WorkerMetricsAddr, "off") {
		cfg.WorkerMetricsAddr = ""
	}
	if cfg.ProcessingPool <= 0 {
		cfg.ProcessingPool = defaultWorkerCount
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = defaultMaxFileSize
	}
	if cfg.CredentialTTL <= 0 {
		cfg.CredentialTTL = defaultCredentialTTL
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case DriverMemory, DriverSQLite:
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("SEEDTRACE_DATABASE_URL is required for the %s store", DriverPostgres)
		}
	default:
		return fmt.Errorf("unknown store driver %q (want %s, %s or %s)", c.StoreDriver, DriverMemory, DriverSQLite, DriverPostgres)
	}
	return nil
}

// QueueEnabled reports whether a redis address was configured.
func (c *Config) QueueEnabled() bool { return c.RedisAddr != "" }

// ObjectStorageEnabled reports whether an S3 endpoint was configured.
func (c *Config) ObjectStorageEnabled() bool { return c.S3Endpoint != "" }

func readEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func parseInt64(key string, def int64) int64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			return parsed
		}
	}
	return def
}

func parseInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseDuration(key string, def time.Duration) time.Duration {
	// time.ParseDuration understands inputs like "5m" or "30s".
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseSecret(key string) []byte {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return []byte(v)
	}
	return nil
}

func randomSecret() []byte {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return []byte(hex.EncodeToString([]byte("fallbacksecret")))
	}
	return buf
}
