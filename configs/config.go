package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Resource usage, in time units.
	MinUsageDuration int
	MaxUsageDuration int
	TimeUnit         time.Duration

	RequestAttempts int
	RetryBackoff    time.Duration
	NetworkLatency  time.Duration

	UsageLogPath string
	UsageSinks   []string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	RedisHost  string
	RedisPort  string

	EtcdEnabled       bool
	EtcdEndpoints     []string
	LeaderElectionTTL int

	APIPort   string
	JWTSecret string

	LogLevel       string
	LogEncoding    string
	TracingEnabled bool
	OTLPEndpoint   string

	ArchiveBucket   string
	ArchivePrefix   string
	ArchiveRegion   string
	ArchiveEndpoint string
	ArchiveDir      string

	InitialProcesses     int
	SpawnEvery           string
	RequestEvery         string
	KillCoordinatorEvery string
	KillProcessEvery     string
}

func LoadConfig() *Config {
	return &Config{
		MinUsageDuration: getEnvAsInt("MIN_USAGE_DURATION", 10000),
		MaxUsageDuration: getEnvAsInt("MAX_USAGE_DURATION", 20000),
		TimeUnit:         getEnvAsDuration("TIME_UNIT", time.Millisecond),

		RequestAttempts: getEnvAsInt("REQUEST_ATTEMPTS", 3),
		RetryBackoff:    getEnvAsDuration("RETRY_BACKOFF", 250*time.Millisecond),
		NetworkLatency:  getEnvAsDuration("NETWORK_LATENCY", 0),

		UsageLogPath: getEnv("USAGE_LOG_PATH", "usage.log"),
		UsageSinks:   getEnvAsList("USAGE_SINKS", []string{"file"}),

		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "coordmutex"),
		DBPassword: getEnv("DB_PASSWORD", "password"),
		DBName:     getEnv("DB_NAME", "coordmutex"),
		RedisHost:  getEnv("REDIS_HOST", "localhost"),
		RedisPort:  getEnv("REDIS_PORT", "6379"),

		EtcdEnabled:       getEnvAsBool("ETCD_ENABLED", false),
		EtcdEndpoints:     getEnvAsList("ETCD_ENDPOINTS", []string{"localhost:2379"}),
		LeaderElectionTTL: getEnvAsInt("LEADER_ELECTION_TTL", 15),

		APIPort:   getEnv("API_PORT", "8080"),
		JWTSecret: getEnv("JWT_SECRET", ""),

		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogEncoding:    getEnv("LOG_ENCODING", "json"),
		TracingEnabled: getEnvAsBool("TRACING_ENABLED", false),
		OTLPEndpoint:   getEnv("OTLP_ENDPOINT", "localhost:4318"),

		ArchiveBucket:   getEnv("ARCHIVE_BUCKET", ""),
		ArchivePrefix:   getEnv("ARCHIVE_PREFIX", "usage/"),
		ArchiveRegion:   getEnv("ARCHIVE_REGION", "us-east-1"),
		ArchiveEndpoint: getEnv("ARCHIVE_ENDPOINT", ""),
		ArchiveDir:      getEnv("ARCHIVE_DIR", ""),

		InitialProcesses:     getEnvAsInt("INITIAL_PROCESSES", 3),
		SpawnEvery:           getEnv("SPAWN_EVERY", "@every 40s"),
		RequestEvery:         getEnv("REQUEST_EVERY", "@every 15s"),
		KillCoordinatorEvery: getEnv("KILL_COORDINATOR_EVERY", "@every 1m"),
		KillProcessEvery:     getEnv("KILL_PROCESS_EVERY", "@every 80s"),
	}
}

// HasSink reports whether the named usage sink is enabled.
func (c *Config) HasSink(name string) bool {
	for _, s := range c.UsageSinks {
		if s == name {
			return true
		}
	}
	return false
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsList(key string, fallback []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
