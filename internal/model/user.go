// Package model はドメインモデルを定義する。
package model

import (
	"crypto/subtle"
	"time"
)

// Role はユーザーの権限階層を表す。値はトークンのpermissionsクレームにそのまま載る。
type Role int

const (
	// RoleMaster は全権限を持つ。
	RoleMaster Role = 1
	// RoleAdmin は他ユーザーのリソースを管理できる。
	RoleAdmin Role = 2
	// RoleUser は自身のリソースのみ操作できる。新規登録時のデフォルト。
	RoleUser Role = 3
)

// ParseRole は数値からRoleを復元する。
// 未知の値は最小権限のRoleUserとして扱う。
func ParseRole(n int) Role {
	switch Role(n) {
	case RoleMaster, RoleAdmin, RoleUser:
		return Role(n)
	default:
		return RoleUser
	}
}

// Valid は既知のロールかどうかを返す。
func (r Role) Valid() bool {
	return r == RoleMaster || r == RoleAdmin || r == RoleUser
}

// String はログ用のロール名を返す。
func (r Role) String() string {
	switch r {
	case RoleMaster:
		return "master"
	case RoleAdmin:
		return "admin"
	case RoleUser:
		return "user"
	default:
		return "unknown"
	}
}

// Identity は検証済みトークンから得られるリクエスト主体。
type Identity struct {
	ID   string
	Role Role
}

// User はサービス利用ユーザーを表す。
// JSONとBSONのフィールド名はAPIのワイヤー名と一致させる。
type User struct {
	ID        string    `json:"_id" bson:"_id"`
	Email     string    `json:"email" bson:"email"`
	Username  string    `json:"username,omitempty" bson:"username,omitempty"`
	Password  string    `json:"password" bson:"password"`
	Firstname string    `json:"firstname" bson:"firstname"`
	Lastname  string    `json:"lastname" bson:"lastname"`
	Role      Role      `json:"role" bson:"role"`
	Active    bool      `json:"active" bson:"active"`
	Token     *string   `json:"token" bson:"token"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`
}

// Fields はワイヤー名をキーとするマップに変換する。射影の入力に使う。
// usernameは未設定の場合キー自体を含めない。
func (u *User) Fields() map[string]any {
	m := map[string]any{
		"_id":       u.ID,
		"email":     u.Email,
		"password":  u.Password,
		"firstname": u.Firstname,
		"lastname":  u.Lastname,
		"role":      int(u.Role),
		"active":    u.Active,
		"token":     u.Token,
		"createdAt": u.CreatedAt,
		"updatedAt": u.UpdatedAt,
	}
	if u.Username != "" {
		m["username"] = u.Username
	}
	return m
}

// TokenMatches は単回トークンが一致するかを返す。トークン未発行なら常にfalse。
func (u *User) TokenMatches(token string) bool {
	if u.Token == nil || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(*u.Token), []byte(token)) == 1
}
