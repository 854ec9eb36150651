package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// 参照ストアのバックエンド種別。
const (
	StoreBackendPostgres = "postgres"
	StoreBackendRedis    = "redis"
	StoreBackendMemory   = "memory"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Credential
	JWTSecret string

	// Identity service
	IdentityURL       string
	IdentityTimeout   time.Duration
	IdentityRateLimit int

	// Reference store
	RefStoreBackend     string
	StoreTimeout        time.Duration
	RedisURL            string
	RedisKeyPrefix      string
	ResolveSingleFlight bool

	// Rate Limit
	RateLimitGeneral int

	// Logging
	LogLevel string

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigins []string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合、または値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}

	cfg.IdentityURL = os.Getenv("IDENTITY_URL")
	if cfg.IdentityURL == "" {
		missing = append(missing, "IDENTITY_URL")
	}

	cfg.RefStoreBackend = strings.ToLower(getEnvString("REF_STORE_BACKEND", StoreBackendPostgres))
	cfg.RedisURL = os.Getenv("REDIS_URL")
	if cfg.RefStoreBackend == StoreBackendRedis && cfg.RedisURL == "" {
		missing = append(missing, "REDIS_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	switch cfg.RefStoreBackend {
	case StoreBackendPostgres, StoreBackendRedis, StoreBackendMemory:
	default:
		return nil, fmt.Errorf("unknown REF_STORE_BACKEND: %q", cfg.RefStoreBackend)
	}

	// Optional fields with defaults
	cfg.IdentityTimeout = getEnvDuration("IDENTITY_TIMEOUT", 5*time.Second)
	cfg.IdentityRateLimit = getEnvInt("IDENTITY_RATE_LIMIT", 20)
	cfg.StoreTimeout = getEnvDuration("STORE_TIMEOUT", 2*time.Second)
	cfg.RedisKeyPrefix = getEnvString("REDIS_KEY_PREFIX", "kizuna:userref:")
	cfg.ResolveSingleFlight = getEnvBool("RESOLVE_SINGLE_FLIGHT", true)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "4002")
	cfg.CORSAllowedOrigins = getEnvList("CORS_ALLOWED_ORIGINS", []string{
		"http://localhost:3000",
		"http://localhost:3001",
		"http://localhost:3002",
	})

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// getEnvList はカンマ区切りの環境変数を空要素を除いたスライスとして返す。
func getEnvList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
