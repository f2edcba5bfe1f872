// Package config は環境変数からのアプリケーション設定読み込みを提供する。
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// StorageBackend はイベントストアのバックエンド種別を表す。
type StorageBackend string

const (
	// BackendFile はデータディレクトリ上のJSONファイルに永続化する。
	BackendFile StorageBackend = "file"
	// BackendPostgres はPostgreSQLに永続化する。
	BackendPostgres StorageBackend = "postgres"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Storage
	StorageBackend StorageBackend
	DatabaseURL    string
	DataDir        string

	// Server
	ServerPort     string
	RequestTimeout time.Duration
	MaxBodyBytes   int64

	// CORS
	CORSAllowedOrigin string

	// Rate Limit（req/min単位）
	RateLimitGeneral int
	RateLimitIngest  int

	// Backup（fileバックエンドのみ。0で無効）
	BackupInterval time.Duration
}

// Load は環境変数からConfigを読み込む。
// STORAGE_BACKEND=postgres の場合はDATABASE_URLが必須。
func Load() (*Config, error) {
	cfg := &Config{}

	backend := StorageBackend(getEnvString("STORAGE_BACKEND", string(BackendFile)))
	switch backend {
	case BackendFile, BackendPostgres:
		cfg.StorageBackend = backend
	default:
		return nil, fmt.Errorf("invalid STORAGE_BACKEND: %q (must be %q or %q)",
			backend, BackendFile, BackendPostgres)
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.StorageBackend == BackendPostgres && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("required environment variables are not set: [DATABASE_URL]")
	}

	cfg.DataDir = getEnvString("DATA_DIR", "./data")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.RequestTimeout = getEnvDuration("REQUEST_TIMEOUT", 15*time.Second)
	cfg.MaxBodyBytes = getEnvInt64("MAX_BODY_BYTES", 1048576)
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 300)
	cfg.RateLimitIngest = getEnvInt("RATE_LIMIT_INGEST", 60)
	cfg.BackupInterval = getEnvDuration("BACKUP_INTERVAL", 0)

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

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
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
