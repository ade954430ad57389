package model

import "time"

// Story はフィギュアに紐づく物語の1ノード。ParentIDで木構造を成す。
type Story struct {
	ID          string    `json:"_id" bson:"_id"`
	Description string    `json:"description" bson:"description"`
	FigureID    string    `json:"figureId" bson:"figureId"`
	ParentID    *string   `json:"parentId" bson:"parentId"`
	MediaType   string    `json:"mediaType,omitempty" bson:"mediaType,omitempty"`
	MediaRef    string    `json:"mediaRef,omitempty" bson:"mediaRef,omitempty"`
	Enabled     bool      `json:"enabled" bson:"enabled"`
	CreatedBy   string    `json:"createdBy" bson:"createdBy"`
	UpdatedBy   string    `json:"updatedBy,omitempty" bson:"updatedBy,omitempty"`
	CreatedAt   time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt" bson:"updatedAt"`
}

// Fields はワイヤー名をキーとするマップに変換する。
func (s *Story) Fields() map[string]any {
	m := map[string]any{
		"_id":         s.ID,
		"description": s.Description,
		"figureId":    s.FigureID,
		"parentId":    s.ParentID,
		"enabled":     s.Enabled,
		"createdBy":   s.CreatedBy,
		"createdAt":   s.CreatedAt,
		"updatedAt":   s.UpdatedAt,
	}
	putIfSet(m, "mediaType", s.MediaType)
	putIfSet(m, "mediaRef", s.MediaRef)
	putIfSet(m, "updatedBy", s.UpdatedBy)
	return m
}
