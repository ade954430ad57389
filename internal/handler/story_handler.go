package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/storyapi/internal/middleware"
	"github.com/hitoshi/storyapi/internal/model"
	"github.com/hitoshi/storyapi/internal/policy"
	"github.com/hitoshi/storyapi/internal/story"
)

// StoryServiceInterface はストーリーハンドラーが必要とするサービスインターフェース。
type StoryServiceInterface interface {
	Create(ctx context.Context, requester model.Identity, in story.CreateInput) (policy.Record, error)
	Get(ctx context.Context, requester model.Identity, q story.Query) ([]policy.Record, error)
	Update(ctx context.Context, requester model.Identity, id string, body map[string]any) (policy.Record, error)
	Delete(ctx context.Context, requester model.Identity, id, createdBy string) error
	AttachMedia(ctx context.Context, requester model.Identity, id string) (policy.Record, error)
}

// StoryHandler はストーリーのHTTPハンドラー。
type StoryHandler struct {
	service StoryServiceInterface
}

// NewStoryHandler はStoryHandlerを生成する。
func NewStoryHandler(service StoryServiceInterface) *StoryHandler {
	return &StoryHandler{service: service}
}

// Create はストーリーを作成する。
// POST /story
func (h *StoryHandler) Create(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	body, err := parseBody(w, r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	created, err := h.service.Create(r.Context(), identity, story.CreateInput{
		Description: bodyString(body, "description"),
		FigureID:    bodyString(body, "figureId"),
		ParentID:    bodyString(body, "parentId"),
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	middleware.WriteSuccess(w, r, "STORY_CREATE_SUCCESS", created)
}

// Get はストーリーを検索する。
// GET /story?storyId=&createdBy=&figureId=&parentId=
func (h *StoryHandler) Get(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	stories, err := h.service.Get(r.Context(), identity, story.Query{
		ID:        q.Get("storyId"),
		CreatedBy: q.Get("createdBy"),
		FigureID:  q.Get("figureId"),
		ParentID:  q.Get("parentId"),
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	middleware.WriteSuccess(w, r, "STORY_READ_SUCCESS", stories)
}

// Update はストーリーを部分更新する。
// PUT /story?storyId=
func (h *StoryHandler) Update(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	body, err := parseBody(w, r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	updated, err := h.service.Update(r.Context(), identity, r.URL.Query().Get("storyId"), body)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	middleware.WriteSuccess(w, r, "STORY_UPDATE_SUCCESS", updated)
}

// Delete はストーリーを削除する。
// DELETE /story?storyId=&createdBy=
func (h *StoryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	if err := h.service.Delete(r.Context(), identity, q.Get("storyId"), q.Get("createdBy")); err != nil {
		handleServiceError(w, r, err)
		return
	}

	middleware.WriteSuccess(w, r, "STORY_DELETE_SUCCESS", nil)
}

// AttachMedia はステージング済みの画像を既存のストーリーに紐づける。
// PUT /story/media?storyId=
func (h *StoryHandler) AttachMedia(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	updated, err := h.service.AttachMedia(r.Context(), identity, r.URL.Query().Get("storyId"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	middleware.WriteSuccess(w, r, "STORY_UPDATE_SUCCESS", updated)
}
