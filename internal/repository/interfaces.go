// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/storyapi/internal/model"
)

var (
	// ErrNotFound は更新・削除対象のドキュメントが存在しないことを示す。
	// 検索系のメソッドはこのエラーを返さず、nilを返す。
	ErrNotFound = errors.New("document not found")
	// ErrDuplicate は一意インデックスに違反したことを示す。
	ErrDuplicate = errors.New("duplicate key")
)

// Patch はワイヤー名をキーとする部分更新。値はそのまま$setされる。
type Patch map[string]any

// UserFilter はユーザー検索条件。空のフィールドは条件に含めない。
type UserFilter struct {
	ID       string
	Email    string
	Username string
}

// FigureFilter はフィギュア検索条件。
type FigureFilter struct {
	ID        string
	CreatedBy string
}

// StoryFilter はストーリー検索条件。
type StoryFilter struct {
	ID        string
	CreatedBy string
	FigureID  string
	ParentID  string
}

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Find は条件に一致するユーザーをcreatedAtの降順で返す。
	Find(ctx context.Context, filter UserFilter) ([]*model.User, error)

	// Create はユーザーを作成する。メールアドレスが重複する場合はErrDuplicateを返す。
	Create(ctx context.Context, user *model.User) error

	// Update は指定IDのユーザーを部分更新する。存在しない場合はErrNotFoundを返す。
	Update(ctx context.Context, id string, patch Patch) error

	// DeleteByID は指定IDのユーザーを削除する。存在しない場合はErrNotFoundを返す。
	DeleteByID(ctx context.Context, id string) error
}

// FigureRepository はフィギュアデータの永続化インターフェース。
type FigureRepository interface {
	// FindByID は指定IDのフィギュアを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Figure, error)
	// Find は条件に一致するフィギュアをcreatedAtの降順で返す。
	Find(ctx context.Context, filter FigureFilter) ([]*model.Figure, error)
	Create(ctx context.Context, figure *model.Figure) error
	Update(ctx context.Context, id string, patch Patch) error
	DeleteByID(ctx context.Context, id string) error
}

// StoryRepository はストーリーデータの永続化インターフェース。
type StoryRepository interface {
	// FindByID は指定IDのストーリーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Story, error)
	// Find は条件に一致するストーリーをcreatedAtの降順で返す。
	Find(ctx context.Context, filter StoryFilter) ([]*model.Story, error)
	Create(ctx context.Context, story *model.Story) error
	Update(ctx context.Context, id string, patch Patch) error
	DeleteByID(ctx context.Context, id string) error
}

// Store はリポジトリ一式と接続のライフサイクルをまとめたもの。
type Store interface {
	Users() UserRepository
	Figures() FigureRepository
	Stories() StoryRepository
	// Ping はストアへの疎通を確認する。ヘルスチェックで使う。
	Ping(ctx context.Context) error
	Close() error
}
