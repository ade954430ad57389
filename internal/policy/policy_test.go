package policy

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/storyapi/internal/model"
)

func TestCan(t *testing.T) {
	tests := []struct {
		role model.Role
		cap  Capability
		want bool
	}{
		{model.RoleMaster, CapManageAny, true},
		{model.RoleMaster, CapModerate, true},
		{model.RoleMaster, CapAssignRole, true},
		{model.RoleAdmin, CapManageAny, true},
		{model.RoleAdmin, CapModerate, true},
		{model.RoleAdmin, CapAssignRole, false},
		{model.RoleUser, CapManageAny, false},
		{model.RoleUser, CapModerate, false},
		{model.Role(0), CapManageAny, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Can(tt.role, tt.cap), "%s/%s", tt.role, tt.cap)
	}
}

// TestCanManage は所有者または特権ロールのときだけ管理できることを検証する。
func TestCanManage(t *testing.T) {
	roles := []model.Role{model.RoleMaster, model.RoleAdmin, model.RoleUser}
	owners := []string{"u1", "u2"}

	for _, role := range roles {
		for _, owner := range owners {
			requester := model.Identity{ID: "u1", Role: role}
			want := role == model.RoleMaster || role == model.RoleAdmin || owner == "u1"
			assert.Equal(t, want, CanManage(requester, owner), "role=%s owner=%s", role, owner)
		}
	}

	// 空IDは空の作成者と一致させない
	assert.False(t, CanManage(model.Identity{Role: model.RoleUser}, ""))
}

func TestResource_View(t *testing.T) {
	rec := sampleUserRecord()

	owner := UserResource.View(model.Identity{ID: "u1", Role: model.RoleUser}, "u1", rec)
	assert.Contains(t, owner, "password")
	assert.Contains(t, owner, "role")

	admin := UserResource.View(model.Identity{ID: "u9", Role: model.RoleAdmin}, "u1", rec)
	assert.Contains(t, admin, "token")

	other := UserResource.View(model.Identity{ID: "u9", Role: model.RoleUser}, "u1", rec)
	for _, f := range []string{"password", "token", "active", "role"} {
		assert.NotContains(t, other, f)
	}
	assert.Equal(t, "A", other["firstname"])
}

func TestResource_FilterUpdate_DropsUnknownAndImmutable(t *testing.T) {
	body := map[string]any{
		"name":        "new",
		"createdAt":   "2000-01-01",
		"createdBy":   "attacker",
		"_id":         "other",
		"unknownProp": 1,
		"mediaRef":    "",
		"mediaType":   "text/html",
	}

	patch, err := FigureResource.FilterUpdate(model.Identity{ID: "u1", Role: model.RoleUser}, body)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "new"}, patch)

	patch, err = StoryResource.FilterUpdate(model.Identity{ID: "u1", Role: model.RoleMaster}, map[string]any{
		"description": "d",
		"mediaRef":    "story/s1/x.png",
		"mediaType":   "image/png",
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"description": "d"}, patch)
}

func TestResource_FilterUpdate_UserImmutableFields(t *testing.T) {
	body := map[string]any{
		"email":     "x@y.z",
		"token":     "t",
		"active":    true,
		"firstname": "F",
	}
	patch, err := UserResource.FilterUpdate(model.Identity{ID: "u1", Role: model.RoleMaster}, body)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"firstname": "F"}, patch)
}

// TestResource_FilterUpdate_Gated は権限付きフィールドがロールにより可否が分かれることを検証する。
func TestResource_FilterUpdate_Gated(t *testing.T) {
	body := map[string]any{"enabled": true}

	_, err := StoryResource.FilterUpdate(model.Identity{ID: "u1", Role: model.RoleUser}, body)
	var apiErr *model.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, model.StatusPermissionDenied, apiErr.Status)

	patch, err := StoryResource.FilterUpdate(model.Identity{ID: "u1", Role: model.RoleAdmin}, body)
	require.NoError(t, err)
	assert.Equal(t, true, patch["enabled"])

	_, err = UserResource.FilterUpdate(model.Identity{ID: "u1", Role: model.RoleAdmin}, map[string]any{"role": 1})
	require.Error(t, err)

	patch, err = UserResource.FilterUpdate(model.Identity{ID: "u1", Role: model.RoleMaster}, map[string]any{"role": 1})
	require.NoError(t, err)
	assert.Equal(t, 1, patch["role"])
}

func TestStoryResource_FigureIDIsFixed(t *testing.T) {
	patch, err := StoryResource.FilterUpdate(model.Identity{ID: "u1", Role: model.RoleMaster}, map[string]any{"figureId": "f2"})
	require.NoError(t, err)
	assert.Empty(t, patch)
}
