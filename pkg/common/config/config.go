package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Server
	ServerPort     string
	ServerHost     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRequestBody int64
	RateLimitRPS   int
	RateLimitBurst int

	// Extracts
	IdentityPath  string
	SurgeryPath   string
	VisitPath     string
	ColumnMapPath string
	ExtractRoot   string

	// Cohort run
	OutputDir    string
	RunLogPath   string
	VisitKind    string
	WriteFiles   bool
	Persist      bool
	Cache        bool
	Publish      bool
	MaxWorkers   int
	CacheTTL     time.Duration
	EventTopic   string
	RequestTopic string

	// Database
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Kafka
	KafkaBrokers []string
	KafkaGroupID string
}

func Load() *Config {
	return &Config{
		ServerPort:     getEnv("SERVER_PORT", "8087"),
		ServerHost:     getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:    getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:   getDuration("WRITE_TIMEOUT", 30*time.Second),
		MaxRequestBody: int64(getIntEnv("MAX_REQUEST_BODY_BYTES", 4*1024*1024)),
		RateLimitRPS:   getIntEnv("RATE_LIMIT_RPS", 20),
		RateLimitBurst: getIntEnv("RATE_LIMIT_BURST", 40),

		IdentityPath:  getEnv("COHORT_IDENTITY_PATH", ""),
		SurgeryPath:   getEnv("COHORT_SURGERY_PATH", ""),
		VisitPath:     getEnv("COHORT_VISIT_PATH", ""),
		ColumnMapPath: getEnv("COHORT_COLUMN_MAP", ""),
		ExtractRoot:   getEnv("COHORT_EXTRACT_ROOT", ""),

		OutputDir:    getEnv("COHORT_OUTPUT_DIR", "per_operation"),
		RunLogPath:   getEnv("COHORT_LOG_FILE", "cohort.log"),
		VisitKind:    getEnv("COHORT_VISIT_KIND", "9201"),
		WriteFiles:   getBoolEnv("COHORT_WRITE_FILES", true),
		Persist:      getBoolEnv("COHORT_PERSIST", false),
		Cache:        getBoolEnv("COHORT_CACHE", false),
		Publish:      getBoolEnv("COHORT_PUBLISH", false),
		MaxWorkers:   getIntEnv("COHORT_MAX_WORKERS", 2),
		CacheTTL:     getDuration("COHORT_CACHE_TTL", 24*time.Hour),
		EventTopic:   getEnv("COHORT_EVENT_TOPIC", "cohort-events"),
		RequestTopic: getEnv("COHORT_REQUEST_TOPIC", ""),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "synaptica"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "synaptica123"),
		PostgresDB:       getEnv("POSTGRES_DB", "synaptica"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		KafkaBrokers: getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaGroupID: getEnv("KAFKA_GROUP_ID", "cohort-service"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var out []string
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
