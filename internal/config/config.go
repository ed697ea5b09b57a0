package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config carries every tunable the engine reads from the environment.
// The payment window and reaper cadence are deliberately configuration,
// not constants.
type Config struct {
	ServiceName string
	Env         string
	HTTPAddr    string

	Currency      string
	PaymentWindow time.Duration

	ReaperInterval time.Duration
	ReaperBatch    int

	GatewayBaseURL string
	GatewayTimeout time.Duration
	GatewaySecret  string

	AdminToken string

	// Optional backends; empty values select the in-memory implementations.
	MySQLDSN     string
	RedisAddr    string
	KafkaBrokers []string
	KafkaTopic   string
}

func FromEnv() Config {
	return Config{
		ServiceName:    getenvDefault("SERVICE_NAME", "checkout"),
		Env:            getenvDefault("ENV", "dev"),
		HTTPAddr:       getenvDefault("HTTP_ADDR", ":8080"),
		Currency:       getenvDefault("CURRENCY", "USD"),
		PaymentWindow:  getenvDuration("PAYMENT_WINDOW", 15*time.Minute),
		ReaperInterval: getenvDuration("REAPER_INTERVAL", 30*time.Second),
		ReaperBatch:    getenvInt("REAPER_BATCH", 100),
		GatewayBaseURL: getenvDefault("GATEWAY_BASE_URL", "http://localhost:9090"),
		GatewayTimeout: getenvDuration("GATEWAY_TIMEOUT", 5*time.Second),
		GatewaySecret:  getenvDefault("GATEWAY_SECRET", "dev-secret"),
		AdminToken:     getenvDefault("ADMIN_TOKEN", "dev-admin"),
		MySQLDSN:       os.Getenv("MYSQL_DSN"),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		KafkaBrokers:   getenvList("KAFKA_BROKERS"),
		KafkaTopic:     getenvDefault("KAFKA_TOPIC", "checkout.order-events"),
	}
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func getenvList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
