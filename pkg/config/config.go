package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Sync     SyncConfig
	Daily    DailyConfig
	Risk     RiskConfig
	SMTP     SMTPConfig
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

func (d DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers       []string
	TopicSamples  string
	TopicAlerts   string
	NumPartitions int
}

type SyncConfig struct {
	Interval time.Duration
	Dedup    bool
	CacheTTL time.Duration
}

type DailyConfig struct {
	RunAt        string // wall-clock "HH:MM"
	RetryBackoff time.Duration
}

// RiskConfig carries the classifier thresholds so the rule set can be
// tuned per deployment without a code change.
type RiskConfig struct {
	MaxAvgHeartRate     float64
	MaxHighHeartRatePct float64
	MaxAvgSystolic      float64
	MaxSedentaryMin     float64
	BaseScore           float64
	FactorWeight        float64
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       string
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	config := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "vitals_user"),
			Password: getEnv("DB_PASSWORD", "vitals_pass"),
			DBName:   getEnv("DB_NAME", "vitals_db"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers:       strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
			TopicSamples:  getEnv("KAFKA_TOPIC_SAMPLES", "vitals.samples.raw"),
			TopicAlerts:   getEnv("KAFKA_TOPIC_ALERTS", "vitals.risk.alerts"),
			NumPartitions: getEnvAsInt("KAFKA_NUM_PARTITIONS", 10),
		},
		Sync: SyncConfig{
			Interval: getEnvAsDuration("SYNC_INTERVAL", 60*time.Second),
			Dedup:    getEnvAsBool("SYNC_DEDUP", false),
			CacheTTL: getEnvAsDuration("CACHE_TTL", time.Hour),
		},
		Daily: DailyConfig{
			RunAt:        getEnv("DAILY_RUN_AT", "02:00"),
			RetryBackoff: getEnvAsDuration("DAILY_RETRY_BACKOFF", time.Hour),
		},
		Risk: RiskConfig{
			MaxAvgHeartRate:     getEnvAsFloat("RISK_MAX_AVG_HEART_RATE", 100),
			MaxHighHeartRatePct: getEnvAsFloat("RISK_MAX_HIGH_HR_PCT", 10),
			MaxAvgSystolic:      getEnvAsFloat("RISK_MAX_AVG_SYSTOLIC", 130),
			MaxSedentaryMin:     getEnvAsFloat("RISK_MAX_SEDENTARY_MIN", 720),
			BaseScore:           getEnvAsFloat("RISK_BASE_SCORE", 0.2),
			FactorWeight:        getEnvAsFloat("RISK_FACTOR_WEIGHT", 0.2),
		},
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", "smtp.gmail.com"),
			Port:     getEnvAsInt("SMTP_PORT", 587),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("SMTP_FROM", "vitalwatch@example.com"),
			To:       getEnv("SMTP_TO", "care-team@example.com"),
		},
	}

	return config, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
