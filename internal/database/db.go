package database

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/hitoshi/storyapi/internal/repository"
)

// MemoryURI はプロセス内ストアを選択する接続URI。
const MemoryURI = "memory://"

// Open は接続URIに応じたリポジトリストアを開く。
// memory:// の場合はプロセス内ストア、それ以外はMongoDBに接続してPingまで行う。
func Open(ctx context.Context, uri, dbName string) (repository.Store, error) {
	if IsMemoryURI(uri) {
		return repository.NewMemoryStore(), nil
	}

	store, err := repository.NewMongoStore(ctx, uri, dbName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return store, nil
}

// IsMemoryURI はプロセス内ストアを指すURIかを返す。
func IsMemoryURI(uri string) bool {
	return strings.HasPrefix(uri, MemoryURI)
}

// MigrationURL はMongoDB接続URIのパスにデータベース名を埋め込む。
// golang-migrateのmongodbドライバはパスからDB名を読むため。
func MigrationURL(uri, dbName string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("invalid mongodb uri: %w", err)
	}
	if u.Scheme != "mongodb" && u.Scheme != "mongodb+srv" {
		return "", fmt.Errorf("unsupported scheme for migrations: %q", u.Scheme)
	}
	if strings.Trim(u.Path, "/") == "" {
		u.Path = "/" + dbName
	}
	return u.String(), nil
}
