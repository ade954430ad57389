package repository

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/hitoshi/storyapi/internal/model"
)

// MongoFigureRepo はMongoDBを使用したフィギュアリポジトリ。
type MongoFigureRepo struct {
	col *mongo.Collection
}

// NewMongoFigureRepo はMongoFigureRepoを生成する。
func NewMongoFigureRepo(col *mongo.Collection) *MongoFigureRepo {
	return &MongoFigureRepo{col: col}
}

// FindByID は指定IDのフィギュアを取得する。見つからない場合はnilを返す。
func (r *MongoFigureRepo) FindByID(ctx context.Context, id string) (*model.Figure, error) {
	f, err := findOne[model.Figure](ctx, r.col, eqFilter("_id", id))
	if err != nil {
		return nil, fmt.Errorf("failed to find figure by ID: %w", err)
	}
	return f, nil
}

// Find は条件に一致するフィギュアを返す。
func (r *MongoFigureRepo) Find(ctx context.Context, filter FigureFilter) ([]*model.Figure, error) {
	figures, err := findNewestFirst[model.Figure](ctx, r.col,
		eqFilter("_id", filter.ID, "createdBy", filter.CreatedBy))
	if err != nil {
		return nil, fmt.Errorf("failed to find figures: %w", err)
	}
	return figures, nil
}

func (r *MongoFigureRepo) Create(ctx context.Context, figure *model.Figure) error {
	if err := insertOne(ctx, r.col, figure); err != nil {
		return fmt.Errorf("failed to insert figure: %w", err)
	}
	return nil
}

func (r *MongoFigureRepo) Update(ctx context.Context, id string, patch Patch) error {
	if err := updateFields(ctx, r.col, id, patch); err != nil {
		return fmt.Errorf("failed to update figure: %w", err)
	}
	return nil
}

func (r *MongoFigureRepo) DeleteByID(ctx context.Context, id string) error {
	if err := deleteByID(ctx, r.col, id); err != nil {
		return fmt.Errorf("failed to delete figure: %w", err)
	}
	return nil
}

var _ FigureRepository = (*MongoFigureRepo)(nil)
