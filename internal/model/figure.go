package model

import "time"

// Figure はキャラクター（フィギュア）を表す。
type Figure struct {
	ID          string    `json:"_id" bson:"_id"`
	Name        string    `json:"name" bson:"name"`
	Description string    `json:"description" bson:"description"`
	MediaType   string    `json:"mediaType,omitempty" bson:"mediaType,omitempty"`
	MediaRef    string    `json:"mediaRef,omitempty" bson:"mediaRef,omitempty"`
	Enabled     bool      `json:"enabled" bson:"enabled"`
	CreatedBy   string    `json:"createdBy" bson:"createdBy"`
	UpdatedBy   string    `json:"updatedBy,omitempty" bson:"updatedBy,omitempty"`
	CreatedAt   time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt" bson:"updatedAt"`
}

// Fields はワイヤー名をキーとするマップに変換する。空の任意項目は含めない。
func (f *Figure) Fields() map[string]any {
	m := map[string]any{
		"_id":         f.ID,
		"name":        f.Name,
		"description": f.Description,
		"enabled":     f.Enabled,
		"createdBy":   f.CreatedBy,
		"createdAt":   f.CreatedAt,
		"updatedAt":   f.UpdatedAt,
	}
	putIfSet(m, "mediaType", f.MediaType)
	putIfSet(m, "mediaRef", f.MediaRef)
	putIfSet(m, "updatedBy", f.UpdatedBy)
	return m
}

// Media はプロモート済みのメディア参照。
type Media struct {
	Type string // MIMEタイプ
	Ref  string // ストア内のキー（例: figure/<id>/image.png）
	Size int64
}

func putIfSet(m map[string]any, key, value string) {
	if value != "" {
		m[key] = value
	}
}
