package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// コレクション名
const (
	ColUsers   = "users"
	ColFigures = "figures"
	ColStories = "stories"
)

// MongoStore はMongoDBを使用したStore実装。
// インデックスはマイグレーション（storyapi migrate）で作成する。
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database

	users   *MongoUserRepo
	figures *MongoFigureRepo
	stories *MongoStoryRepo
}

// NewMongoStore はMongoDBに接続し、疎通確認をしてからMongoStoreを返す。
func NewMongoStore(ctx context.Context, uri, dbName string) (*MongoStore, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	db := client.Database(dbName)
	return &MongoStore{
		client:  client,
		db:      db,
		users:   NewMongoUserRepo(db.Collection(ColUsers)),
		figures: NewMongoFigureRepo(db.Collection(ColFigures)),
		stories: NewMongoStoryRepo(db.Collection(ColStories)),
	}, nil
}

func (s *MongoStore) Users() UserRepository     { return s.users }
func (s *MongoStore) Figures() FigureRepository { return s.figures }
func (s *MongoStore) Stories() StoryRepository  { return s.stories }

// Ping はMongoDBへの疎通を確認する。
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close は接続を閉じる。
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// wrapError はドライバのエラーをリポジトリのエラーに変換する。
func wrapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicate
	}
	return err
}

// findOne は単一ドキュメントを取得する。存在しない場合は (nil, nil) を返す。
func findOne[T any](ctx context.Context, col *mongo.Collection, filter bson.D) (*T, error) {
	var result T
	err := col.FindOne(ctx, filter).Decode(&result)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, wrapError(err)
	}
	return &result, nil
}

// findNewestFirst は条件に一致するドキュメントをcreatedAtの降順で取得する。
func findNewestFirst[T any](ctx context.Context, col *mongo.Collection, filter bson.D) ([]*T, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	cursor, err := col.Find(ctx, filter, opts)
	if err != nil {
		return nil, wrapError(err)
	}
	defer cursor.Close(ctx)

	results := []*T{}
	for cursor.Next(ctx) {
		var item T
		if err := cursor.Decode(&item); err != nil {
			return nil, fmt.Errorf("failed to decode document: %w", err)
		}
		results = append(results, &item)
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func insertOne(ctx context.Context, col *mongo.Collection, doc any) error {
	_, err := col.InsertOne(ctx, doc)
	return wrapError(err)
}

func deleteByID(ctx context.Context, col *mongo.Collection, id string) error {
	res, err := col.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return wrapError(err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// updateFields は_idで指定したドキュメントに$setを適用する。
func updateFields(ctx context.Context, col *mongo.Collection, id string, patch Patch) error {
	res, err := col.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: id}},
		bson.D{{Key: "$set", Value: patchToBSON(patch)}},
	)
	if err != nil {
		return wrapError(err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// patchToBSON はキー順を固定したbson.Dを返す。
func patchToBSON(patch Patch) bson.D {
	keys := make([]string, 0, len(patch))
	for k := range patch {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	d := make(bson.D, 0, len(keys))
	for _, k := range keys {
		d = append(d, bson.E{Key: k, Value: patch[k]})
	}
	return d
}

// eqFilter は空でない値だけを等価条件として並べる。
func eqFilter(pairs ...string) bson.D {
	d := bson.D{}
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] != "" {
			d = append(d, bson.E{Key: pairs[i], Value: pairs[i+1]})
		}
	}
	return d
}

var _ Store = (*MongoStore)(nil)
