// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// サーバー設定
	Port    string // APIサーバーのポート番号
	GinMode string // Ginの実行モード (debug, release, test)

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// ログ設定
	LogLevel string // debug, info, warn, error

	// データベース設定
	DatabaseDriver string // sqlite または postgres
	DatabaseDSN    string // 接続文字列

	// ジョブ/キュー設定
	QueueRedisURL     string // Asynq用Redis接続URL
	QueueDefault      string // ルート未指定時のキュー名
	WorkerConcurrency int    // ワーカーの同時実行数
	WorkerQueues      string // 処理対象キューと重み（例: "default:1,critical:3"）

	// 認証設定
	APITokenHash string // bcryptでハッシュ化されたAPIトークン
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	loadEnvFile()

	config := &Config{
		Port:    getEnv("PORT", "8080"),
		GinMode: getEnv("GIN_MODE", "debug"),

		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),

		LogLevel: getEnv("LOG_LEVEL", "info"),

		DatabaseDriver: getEnv("DATABASE_DRIVER", "sqlite"),
		DatabaseDSN:    getEnv("DATABASE_DSN", "file:jobs.db?_busy_timeout=5000"),

		QueueRedisURL:     getEnv("QUEUE_REDIS_URL", "redis://127.0.0.1:6379/0"),
		QueueDefault:      getEnv("QUEUE_DEFAULT", "default"),
		WorkerConcurrency: getEnvAsInt("WORKER_CONCURRENCY", 4),
		WorkerQueues:      getEnv("WORKER_QUEUES", "default:1"),

		APITokenHash: getEnv("API_TOKEN_HASH", ""),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	switch c.DatabaseDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("DATABASE_DRIVER must be sqlite or postgres, got %q", c.DatabaseDriver)
	}
	if c.DatabaseDSN == "" {
		return fmt.Errorf("DATABASE_DSN is required")
	}
	if c.QueueDefault == "" {
		return fmt.Errorf("QUEUE_DEFAULT must not be empty")
	}
	if _, err := ParseQueues(c.WorkerQueues); err != nil {
		return err
	}

	// 本番環境では厳格にチェックする
	if c.GinMode == "release" {
		if c.QueueRedisURL == "" {
			return fmt.Errorf("QUEUE_REDIS_URL is required in release mode")
		}
		if c.APITokenHash == "" {
			return fmt.Errorf("API_TOKEN_HASH is required in release mode")
		}
	}

	return nil
}

// Queues は WorkerQueues をキュー名と重みの対応に変換します。
// QueueDefault が含まれていない場合は重み1で追加します。
func (c *Config) Queues() map[string]int {
	queues, err := ParseQueues(c.WorkerQueues)
	if err != nil || len(queues) == 0 {
		queues = map[string]int{}
	}
	if _, ok := queues[c.QueueDefault]; !ok {
		queues[c.QueueDefault] = 1
	}
	return queues
}

// ParseQueues は "name:weight,name:weight" 形式を解析します。重みを省略した場合は1です。
func ParseQueues(raw string) (map[string]int, error) {
	queues := make(map[string]int)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, weightStr, found := strings.Cut(part, ":")
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("WORKER_QUEUES has an empty queue name: %q", raw)
		}
		weight := 1
		if found {
			w, err := strconv.Atoi(strings.TrimSpace(weightStr))
			if err != nil || w <= 0 {
				return nil, fmt.Errorf("WORKER_QUEUES has an invalid weight for %s: %q", name, weightStr)
			}
			weight = w
		}
		queues[name] = weight
	}
	return queues, nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
