package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/storyapi/internal/model"
)

func TestMemoryUserRepo_CreateAndFind(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryStore().Users()

	u := &model.User{ID: "u1", Email: "a@b.com", Role: model.RoleUser, CreatedAt: time.Now()}
	require.NoError(t, repo.Create(ctx, u))

	got, err := repo.FindByEmail(ctx, "a@b.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "u1", got.ID)

	missing, err := repo.FindByID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

// TestMemoryUserRepo_DuplicateEmail はメールアドレスの一意制約を検証する。
func TestMemoryUserRepo_DuplicateEmail(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryStore().Users()

	require.NoError(t, repo.Create(ctx, &model.User{ID: "u1", Email: "a@b.com"}))
	err := repo.Create(ctx, &model.User{ID: "u2", Email: "a@b.com"})
	assert.True(t, errors.Is(err, ErrDuplicate))
}

// TestMemoryStore_ReturnsCopies は取得した値を書き換えてもストアに影響しないことを検証する。
func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryStore().Figures()
	require.NoError(t, repo.Create(ctx, &model.Figure{ID: "f1", Name: "orig"}))

	got, err := repo.FindByID(ctx, "f1")
	require.NoError(t, err)
	got.Name = "mutated"

	again, err := repo.FindByID(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, "orig", again.Name)
}

func TestMemoryFigureRepo_FindNewestFirst(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryStore().Figures()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Create(ctx, &model.Figure{ID: "old", CreatedBy: "u1", CreatedAt: base}))
	require.NoError(t, repo.Create(ctx, &model.Figure{ID: "new", CreatedBy: "u1", CreatedAt: base.Add(time.Hour)}))
	require.NoError(t, repo.Create(ctx, &model.Figure{ID: "other", CreatedBy: "u2", CreatedAt: base.Add(2 * time.Hour)}))

	got, err := repo.Find(ctx, FigureFilter{CreatedBy: "u1"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "new", got[0].ID)
	assert.Equal(t, "old", got[1].ID)

	none, err := repo.Find(ctx, FigureFilter{ID: "missing"})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestMemoryStoryRepo_UpdatePatch(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryStore().Stories()
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Create(ctx, &model.Story{
		ID: "s1", Description: "d", FigureID: "f1", CreatedBy: "u1", CreatedAt: created,
	}))

	now := created.Add(time.Hour)
	parent := "s0"
	require.NoError(t, repo.Update(ctx, "s1", Patch{
		"description": "changed",
		"parentId":    &parent,
		"enabled":     true,
		"updatedAt":   now,
		"updatedBy":   "u2",
	}))

	got, err := repo.FindByID(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "changed", got.Description)
	require.NotNil(t, got.ParentID)
	assert.Equal(t, "s0", *got.ParentID)
	assert.True(t, got.Enabled)
	assert.True(t, now.Equal(got.UpdatedAt))
	assert.True(t, created.Equal(got.CreatedAt))
	assert.Equal(t, "u1", got.CreatedBy)

	byParent, err := repo.Find(ctx, StoryFilter{ParentID: "s0"})
	require.NoError(t, err)
	assert.Len(t, byParent, 1)
}

func TestMemoryRepo_UpdateAndDeleteMissing(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	assert.ErrorIs(t, store.Users().Update(ctx, "nope", Patch{"firstname": "x"}), ErrNotFound)
	assert.ErrorIs(t, store.Stories().DeleteByID(ctx, "nope"), ErrNotFound)
}

func TestMemoryUserRepo_NullToken(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryStore().Users()
	tok := "abc"
	require.NoError(t, repo.Create(ctx, &model.User{ID: "u1", Email: "a@b.com", Token: &tok}))

	require.NoError(t, repo.Update(ctx, "u1", Patch{"token": nil, "active": true}))

	got, err := repo.FindByID(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, got.Token)
	assert.True(t, got.Active)
}
