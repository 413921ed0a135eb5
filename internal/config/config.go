package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
	DBAutoMigrate     bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Cache   CacheConfig
	Worker  WorkerConfig
	Storage StorageConfig

	LayoutsFile   string
	StorageRoot   string
	PolicyPath    string
	SnowflakeNode int64
}

type CacheConfig struct {
	Driver     string
	MappingTTL time.Duration
	KeyPrefix  string
}

type WorkerConfig struct {
	Enabled     bool
	Interval    time.Duration
	Concurrency int
	BatchSize   int
	LockTTL     time.Duration
}

type StorageConfig struct {
	Driver string
	Bucket string
	Prefix string
	Region string
}

const (
	StorageDriverLocal = "local"
	StorageDriverS3    = "s3"
)

const (
	CacheDriverMemory = "memory"
	CacheDriverRedis  = "redis"
)

// A memory cache only sees invalidations from its own process, so mappings
// written by `seed` or another instance reach it only when the entry expires.
const (
	memoryMappingTTL = 30 * time.Second
	redisMappingTTL  = 10 * time.Minute
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cacheDriver := normalizeCacheDriver(getenv("CACHE_DRIVER", CacheDriverMemory))
	return Config{
		AppName:           getenv("APP_SERVICE", "commissions"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		OTLPEndpoint:      getenv("OTLP_ENDPOINT", "localhost:4317"),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "commissions"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBPath:            getenv("DATABASE_PATH", "commissions.db"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		DBAutoMigrate:     getenvBool("DATABASE_AUTO_MIGRATE", true),
		RedisAddr:         strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword:     getenv("REDIS_PASSWORD", ""),
		RedisDB:           getenvInt("REDIS_DB", 0),
		Cache: CacheConfig{
			Driver:     cacheDriver,
			MappingTTL: getenvDuration("CACHE_MAPPING_TTL", defaultMappingTTL(cacheDriver)),
			KeyPrefix:  getenv("CACHE_KEY_PREFIX", "commissions"),
		},
		Worker: WorkerConfig{
			Enabled:     getenvBool("WORKER_ENABLED", true),
			Interval:    getenvDuration("WORKER_INTERVAL", 15*time.Second),
			Concurrency: getenvInt("WORKER_CONCURRENCY", 4),
			BatchSize:   getenvInt("WORKER_BATCH_SIZE", 20),
			LockTTL:     getenvDuration("WORKER_LOCK_TTL", 10*time.Minute),
		},
		Storage: StorageConfig{
			Driver: strings.ToLower(strings.TrimSpace(getenv("STORAGE_DRIVER", StorageDriverLocal))),
			Bucket: getenv("STORAGE_S3_BUCKET", ""),
			Prefix: getenv("STORAGE_S3_PREFIX", "submissions"),
			Region: getenv("AWS_REGION", "us-east-1"),
		},
		LayoutsFile:   getenv("ADAPTER_LAYOUTS_FILE", "layouts.yml"),
		StorageRoot:   getenv("STORAGE_ROOT", "./uploads"),
		PolicyPath:    getenv("PIPELINE_POLICY_PATH", ""),
		SnowflakeNode: getenvInt64("SNOWFLAKE_NODE", 1),
	}
}

// RedisEnabled reports whether a Redis address was configured.
func (c Config) RedisEnabled() bool {
	return c.RedisAddr != ""
}

func defaultMappingTTL(driver string) time.Duration {
	if driver == CacheDriverRedis {
		return redisMappingTTL
	}
	return memoryMappingTTL
}

func normalizeCacheDriver(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case CacheDriverRedis:
		return CacheDriverRedis
	default:
		return CacheDriverMemory
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}
