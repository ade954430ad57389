package repository

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/hitoshi/storyapi/internal/model"
)

// MongoUserRepo はMongoDBを使用したユーザーリポジトリ。
type MongoUserRepo struct {
	col *mongo.Collection
}

// NewMongoUserRepo はMongoUserRepoを生成する。
func NewMongoUserRepo(col *mongo.Collection) *MongoUserRepo {
	return &MongoUserRepo{col: col}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *MongoUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	u, err := findOne[model.User](ctx, r.col, eqFilter("_id", id))
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return u, nil
}

// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
func (r *MongoUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	if email == "" {
		return nil, nil
	}
	u, err := findOne[model.User](ctx, r.col, eqFilter("email", email))
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return u, nil
}

// Find は条件に一致するユーザーを返す。
func (r *MongoUserRepo) Find(ctx context.Context, filter UserFilter) ([]*model.User, error) {
	users, err := findNewestFirst[model.User](ctx, r.col,
		eqFilter("_id", filter.ID, "email", filter.Email, "username", filter.Username))
	if err != nil {
		return nil, fmt.Errorf("failed to find users: %w", err)
	}
	return users, nil
}

// Create はユーザーを作成する。
func (r *MongoUserRepo) Create(ctx context.Context, user *model.User) error {
	if err := insertOne(ctx, r.col, user); err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// Update は指定IDのユーザーを部分更新する。
func (r *MongoUserRepo) Update(ctx context.Context, id string, patch Patch) error {
	if err := updateFields(ctx, r.col, id, patch); err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	return nil
}

// DeleteByID は指定IDのユーザーを削除する。
func (r *MongoUserRepo) DeleteByID(ctx context.Context, id string) error {
	if err := deleteByID(ctx, r.col, id); err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return nil
}

var _ UserRepository = (*MongoUserRepo)(nil)
