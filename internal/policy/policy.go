package policy

import (
	"github.com/hitoshi/storyapi/internal/model"
)

// Capability はロールに付与される操作権限。
type Capability string

const (
	// CapManageAny は他者が作成したレコードの更新・削除を許可する。
	CapManageAny Capability = "manage_any"
	// CapModerate は公開フラグ（enabled）の変更を許可する。
	CapModerate Capability = "moderate"
	// CapAssignRole はユーザーのロール変更を許可する。
	CapAssignRole Capability = "assign_role"
)

// capabilities はロールごとの権限表。
var capabilities = map[model.Role]map[Capability]bool{
	model.RoleMaster: {CapManageAny: true, CapModerate: true, CapAssignRole: true},
	model.RoleAdmin:  {CapManageAny: true, CapModerate: true},
	model.RoleUser:   {},
}

// Can はロールが権限を持つかを返す。
func Can(role model.Role, c Capability) bool {
	return capabilities[role][c]
}

// IsPrivileged はロールが他者のレコードを管理できるかを返す。
func IsPrivileged(role model.Role) bool {
	return Can(role, CapManageAny)
}

// CanManage は作成者本人または特権ロールであればtrueを返す。
func CanManage(requester model.Identity, ownerID string) bool {
	if requester.ID != "" && requester.ID == ownerID {
		return true
	}
	return IsPrivileged(requester.Role)
}

// Resource はリソース種別ごとのフィールド表。
type Resource struct {
	// Name はNO_<Name>_FOUND等のメッセージに使う大文字名。
	Name string
	// Canonical はレコードが持ちうる全フィールド。
	Canonical []string
	// Private は所有者・特権ロール以外には見せないフィールド。
	Private []string
	// Mutable は更新リクエストで受け付けるフィールド。
	Mutable []string
	// Gated は追加の権限が必要な更新可能フィールド。
	Gated map[string]Capability
}

// UserResource はユーザーのフィールド表。
var UserResource = Resource{
	Name: "USER",
	Canonical: []string{
		"_id", "createdAt", "updatedAt", "email", "username", "password",
		"token", "active", "firstname", "lastname", "role",
	},
	Private: []string{"password", "token", "active", "role"},
	Mutable: []string{"firstname", "lastname", "username", "password"},
	Gated:   map[string]Capability{"role": CapAssignRole},
}

// FigureResource はフィギュアのフィールド表。
var FigureResource = Resource{
	Name: "FIGURE",
	Canonical: []string{
		"_id", "name", "description", "mediaType", "mediaRef", "enabled",
		"createdBy", "updatedBy", "createdAt", "updatedAt",
	},
	Mutable: []string{"name", "description"},
	Gated:   map[string]Capability{"enabled": CapModerate},
}

// StoryResource はストーリーのフィールド表。
// figureIdは作成時に固定する。mediaType・mediaRefはAttachMediaでのみ設定する。
var StoryResource = Resource{
	Name: "STORY",
	Canonical: []string{
		"_id", "description", "figureId", "parentId", "mediaType", "mediaRef",
		"enabled", "createdBy", "updatedBy", "createdAt", "updatedAt",
	},
	Mutable: []string{"description", "parentId"},
	Gated:   map[string]Capability{"enabled": CapModerate},
}

// View は閲覧者に応じてレコードを射影する。
// 所有者または特権ロールには正準フィールドすべて、それ以外には非公開フィールドを除いたものを返す。
func (r Resource) View(requester model.Identity, ownerID string, record Record) Record {
	if CanManage(requester, ownerID) {
		return Project(record, r.Canonical, ModeOnly, r.Canonical)
	}
	return Project(record, r.Private, ModeExcept, r.Canonical)
}

// FilterUpdate は更新ボディから受け付けるフィールドだけを取り出す。
// 許可リスト外のキーは黙って捨てる。権限付きフィールドを権限なしで指定した場合は
// PERMISSION_DENIEDを返す。
func (r Resource) FilterUpdate(requester model.Identity, body map[string]any) (map[string]any, error) {
	patch := make(map[string]any, len(body))
	for _, f := range r.Mutable {
		if v, ok := body[f]; ok {
			patch[f] = v
		}
	}
	for f, c := range r.Gated {
		v, ok := body[f]
		if !ok {
			continue
		}
		if !Can(requester.Role, c) {
			return nil, model.NewPermissionDeniedError(f)
		}
		patch[f] = v
	}
	return patch, nil
}
