package repository

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/hitoshi/storyapi/internal/model"
)

// MongoStoryRepo はMongoDBを使用したストーリーリポジトリ。
type MongoStoryRepo struct {
	col *mongo.Collection
}

// NewMongoStoryRepo はMongoStoryRepoを生成する。
func NewMongoStoryRepo(col *mongo.Collection) *MongoStoryRepo {
	return &MongoStoryRepo{col: col}
}

// FindByID は指定IDのストーリーを取得する。見つからない場合はnilを返す。
func (r *MongoStoryRepo) FindByID(ctx context.Context, id string) (*model.Story, error) {
	s, err := findOne[model.Story](ctx, r.col, eqFilter("_id", id))
	if err != nil {
		return nil, fmt.Errorf("failed to find story by ID: %w", err)
	}
	return s, nil
}

// Find は条件に一致するストーリーを返す。
func (r *MongoStoryRepo) Find(ctx context.Context, filter StoryFilter) ([]*model.Story, error) {
	stories, err := findNewestFirst[model.Story](ctx, r.col, eqFilter(
		"_id", filter.ID,
		"createdBy", filter.CreatedBy,
		"figureId", filter.FigureID,
		"parentId", filter.ParentID,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to find stories: %w", err)
	}
	return stories, nil
}

func (r *MongoStoryRepo) Create(ctx context.Context, story *model.Story) error {
	if err := insertOne(ctx, r.col, story); err != nil {
		return fmt.Errorf("failed to insert story: %w", err)
	}
	return nil
}

func (r *MongoStoryRepo) Update(ctx context.Context, id string, patch Patch) error {
	if err := updateFields(ctx, r.col, id, patch); err != nil {
		return fmt.Errorf("failed to update story: %w", err)
	}
	return nil
}

func (r *MongoStoryRepo) DeleteByID(ctx context.Context, id string) error {
	if err := deleteByID(ctx, r.col, id); err != nil {
		return fmt.Errorf("failed to delete story: %w", err)
	}
	return nil
}

var _ StoryRepository = (*MongoStoryRepo)(nil)
