package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig はCONFIG_FILEで指定するYAML設定の構造。
// 秘密情報（SECRET_KEY、APIキー、MinIOの認証情報）はここには置かず環境変数で渡す。
type fileConfig struct {
	Server struct {
		Port              string   `yaml:"port"`
		BaseURL           string   `yaml:"base_url"`
		AppURL            string   `yaml:"app_url"`
		CORSAllowedOrigin string   `yaml:"cors_allowed_origin"`
		AllowedOrigins    []string `yaml:"allowed_origins"`
	} `yaml:"server"`
	Database struct {
		URI  string `yaml:"uri"`
		Name string `yaml:"name"`
	} `yaml:"database"`
	Token struct {
		TTL        time.Duration `yaml:"ttl"`
		BcryptCost int           `yaml:"bcrypt_cost"`
	} `yaml:"token"`
	Mail struct {
		FromEmail string `yaml:"from_email"`
		FromName  string `yaml:"from_name"`
		Title     string `yaml:"title"`
	} `yaml:"mail"`
	Media struct {
		Backend      string        `yaml:"backend"`
		Root         string        `yaml:"root"`
		MaxSize      int64         `yaml:"max_size"`
		MinSize      int64         `yaml:"min_size"`
		StagingTTL   time.Duration `yaml:"staging_ttl"`
		FetchTimeout time.Duration `yaml:"fetch_timeout"`
	} `yaml:"media"`
	MinIO struct {
		Endpoint string `yaml:"endpoint"`
		Bucket   string `yaml:"bucket"`
		UseSSL   bool   `yaml:"use_ssl"`
	} `yaml:"minio"`
	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`
	RateLimit struct {
		General int `yaml:"general"`
		Auth    int `yaml:"auth"`
	} `yaml:"rate_limit"`
	Worker struct {
		CleanupInterval time.Duration `yaml:"cleanup_interval"`
	} `yaml:"worker"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// loadFile はYAML設定ファイルを読み込む。パスが空なら空の設定を返す。
// パスが指定されていて読めない場合はエラーにする。
func loadFile(path string) (*fileConfig, error) {
	cfg := &fileConfig{}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}
