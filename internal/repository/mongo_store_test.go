package repository

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/hitoshi/storyapi/internal/model"
)

// setupMongoStore はMONGO_TEST_URIが設定されている場合だけ使い捨てDBに接続する。
func setupMongoStore(t *testing.T) *MongoStore {
	t.Helper()
	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		t.Skip("MONGO_TEST_URI not set, skipping MongoDB integration test")
	}

	ctx := context.Background()
	dbName := fmt.Sprintf("storyapi_test_%d", time.Now().UnixNano())
	store, err := NewMongoStore(ctx, uri, dbName)
	require.NoError(t, err)

	// マイグレーションと同じ一意インデックスを張る
	_, err = store.db.Collection(ColUsers).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = store.db.Drop(context.Background())
		_ = store.Close()
	})
	return store
}

func TestMongoUserRepo_CRUD(t *testing.T) {
	store := setupMongoStore(t)
	ctx := context.Background()
	repo := store.Users()

	id := uuid.NewString()
	now := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, repo.Create(ctx, &model.User{
		ID: id, Email: "a@b.com", Password: "digest", Role: model.RoleUser, CreatedAt: now, UpdatedAt: now,
	}))

	err := repo.Create(ctx, &model.User{ID: uuid.NewString(), Email: "a@b.com"})
	assert.ErrorIs(t, err, ErrDuplicate)

	require.NoError(t, repo.Update(ctx, id, Patch{"firstname": "F", "active": true, "token": nil}))

	got, err := repo.FindByEmail(ctx, "a@b.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "F", got.Firstname)
	assert.True(t, got.Active)
	assert.Nil(t, got.Token)
	assert.True(t, now.Equal(got.CreatedAt))

	require.NoError(t, repo.DeleteByID(ctx, id))
	assert.ErrorIs(t, repo.DeleteByID(ctx, id), ErrNotFound)

	missing, err := repo.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMongoStoryRepo_FindFilters(t *testing.T) {
	store := setupMongoStore(t)
	ctx := context.Background()
	repo := store.Stories()

	base := time.Now().UTC().Truncate(time.Millisecond)
	parent := "root"
	require.NoError(t, repo.Create(ctx, &model.Story{ID: "root", FigureID: "f1", CreatedBy: "u1", CreatedAt: base}))
	require.NoError(t, repo.Create(ctx, &model.Story{ID: "child", FigureID: "f1", ParentID: &parent, CreatedBy: "u2", CreatedAt: base.Add(time.Second)}))

	all, err := repo.Find(ctx, StoryFilter{FigureID: "f1"})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "child", all[0].ID)

	children, err := repo.Find(ctx, StoryFilter{ParentID: "root"})
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, "u2", children[0].CreatedBy)
}

func TestPatchToBSON_SortedKeys(t *testing.T) {
	d := patchToBSON(Patch{"b": 2, "a": 1, "c": 3})
	require.Len(t, d, 3)
	assert.Equal(t, "a", d[0].Key)
	assert.Equal(t, "b", d[1].Key)
	assert.Equal(t, "c", d[2].Key)
}

func TestEqFilter_SkipsEmpty(t *testing.T) {
	d := eqFilter("_id", "", "createdBy", "u1")
	assert.Equal(t, bson.D{{Key: "createdBy", Value: "u1"}}, d)
}
