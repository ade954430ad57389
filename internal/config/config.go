package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 起動時に1回読み込み、イミュータブルとして扱う。
//
// 読み込み順序: .env → CONFIG_FILE（YAML） → 環境変数。後のものが優先される。
type Config struct {
	// Database
	MongoURI string
	MongoDB  string

	// Token
	SecretKey  string
	TokenTTL   time.Duration
	BcryptCost int

	// Server
	ServerPort        string
	BaseURL           string
	AppURL            string
	AppAllowedOrigins []string // リクエストのappUrlとして追加で受け付けるオリジン

	// Mail
	SendGridAPIKey string
	MailFromEmail  string
	MailFromName   string
	MailTitle      string

	// Media
	MediaBackend      string
	MediaRoot         string
	UploadMaxSize     int64
	UploadMinSize     int64
	StagingTTL        time.Duration
	MediaFetchTimeout time.Duration

	// MinIO
	MinIOEndpoint  string
	MinIOAccessKey string
	MinIOSecretKey string
	MinIOBucket    string
	MinIOUseSSL    bool

	// Redis（空の場合はプロセス内ロックを使う）
	RedisURL string

	// Rate Limit（req/min）
	RateLimitGeneral int
	RateLimitAuth    int

	// Worker
	CleanupInterval time.Duration

	// Logging
	LogLevel string

	// CORS
	CORSAllowedOrigin string
}

// メディアバックエンドの種類
const (
	MediaBackendFS    = "fs"
	MediaBackendMinIO = "minio"
)

// Load は.env、設定ファイル、環境変数からConfigを読み込む。
// 必須項目が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	if err := loadDotEnv(getEnvString("DOTENV_FILE", ".env")); err != nil {
		return nil, err
	}

	file, err := loadFile(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.SecretKey = os.Getenv("SECRET_KEY")
	if cfg.SecretKey == "" {
		missing = append(missing, "SECRET_KEY")
	}

	cfg.BaseURL = getEnvString("APP_BASEURL", file.Server.BaseURL)
	if cfg.BaseURL == "" {
		missing = append(missing, "APP_BASEURL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.MongoURI = getEnvString("MONGO_URI", or(file.Database.URI, "mongodb://localhost:27017"))
	cfg.MongoDB = getEnvString("MONGO_DB", or(file.Database.Name, "storyapi"))
	cfg.TokenTTL = getEnvDuration("TOKEN_TTL", file.Token.TTL)
	cfg.BcryptCost = getEnvInt("BCRYPT_COST", orInt(file.Token.BcryptCost, 12))
	cfg.ServerPort = getEnvString("SERVER_PORT", or(file.Server.Port, "8080"))
	cfg.AppURL = getEnvString("APP_URL", or(file.Server.AppURL, cfg.BaseURL))
	cfg.AppAllowedOrigins = getEnvList("APP_ALLOWED_ORIGINS", file.Server.AllowedOrigins)
	cfg.SendGridAPIKey = os.Getenv("SENDGRID_API_KEY")
	cfg.MailFromEmail = getEnvString("MAIL_FROM_EMAIL", or(file.Mail.FromEmail, "no-reply@localhost"))
	cfg.MailFromName = getEnvString("MAIL_FROM_NAME", or(file.Mail.FromName, "storyapi"))
	cfg.MailTitle = getEnvString("MAIL_TITLE", or(file.Mail.Title, "Storyapi"))
	cfg.MediaBackend = strings.ToLower(getEnvString("MEDIA_BACKEND", or(file.Media.Backend, MediaBackendFS)))
	cfg.MediaRoot = getEnvString("MEDIA_ROOT", or(file.Media.Root, "./uploads"))
	cfg.UploadMaxSize = getEnvInt64("UPLOAD_MAX_SIZE", orInt64(file.Media.MaxSize, 15*1024*1024))
	cfg.UploadMinSize = getEnvInt64("UPLOAD_MIN_SIZE", orInt64(file.Media.MinSize, 1024))
	cfg.StagingTTL = getEnvDuration("STAGING_TTL", orDuration(file.Media.StagingTTL, 24*time.Hour))
	cfg.MediaFetchTimeout = getEnvDuration("MEDIA_FETCH_TIMEOUT", orDuration(file.Media.FetchTimeout, 10*time.Second))
	cfg.MinIOEndpoint = getEnvString("MINIO_ENDPOINT", file.MinIO.Endpoint)
	cfg.MinIOAccessKey = os.Getenv("MINIO_ACCESS_KEY")
	cfg.MinIOSecretKey = os.Getenv("MINIO_SECRET_KEY")
	cfg.MinIOBucket = getEnvString("MINIO_BUCKET", or(file.MinIO.Bucket, "storyapi"))
	cfg.MinIOUseSSL = getEnvBool("MINIO_USE_SSL", file.MinIO.UseSSL)
	cfg.RedisURL = getEnvString("REDIS_URL", file.Redis.URL)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", orInt(file.RateLimit.General, 120))
	cfg.RateLimitAuth = getEnvInt("RATE_LIMIT_AUTH", orInt(file.RateLimit.Auth, 10))
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", orDuration(file.Worker.CleanupInterval, time.Hour))
	cfg.LogLevel = getEnvString("LOG_LEVEL", or(file.Log.Level, "info"))
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", or(file.Server.CORSAllowedOrigin, "http://localhost:3000"))

	if cfg.CleanupInterval <= 0 {
		return nil, fmt.Errorf("CLEANUP_INTERVAL must be positive: %s", cfg.CleanupInterval)
	}
	if cfg.StagingTTL <= 0 {
		return nil, fmt.Errorf("STAGING_TTL must be positive: %s", cfg.StagingTTL)
	}

	if cfg.MediaBackend != MediaBackendFS && cfg.MediaBackend != MediaBackendMinIO {
		return nil, fmt.Errorf("unsupported MEDIA_BACKEND: %q", cfg.MediaBackend)
	}
	if cfg.MediaBackend == MediaBackendMinIO && cfg.MinIOEndpoint == "" {
		return nil, fmt.Errorf("MINIO_ENDPOINT is required when MEDIA_BACKEND=minio")
	}

	return cfg, nil
}

// loadDotEnv は.envファイルを読み込む。ファイルが無い場合は何もしない。
// 既に設定済みの環境変数は上書きしない。
func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
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

// getEnvList はカンマ区切りの環境変数を空要素を除いて返す。
func getEnvList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
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

func or(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

func orInt(v, fallback int) int {
	if v != 0 {
		return v
	}
	return fallback
}

func orInt64(v, fallback int64) int64 {
	if v != 0 {
		return v
	}
	return fallback
}

func orDuration(v, fallback time.Duration) time.Duration {
	if v != 0 {
		return v
	}
	return fallback
}
