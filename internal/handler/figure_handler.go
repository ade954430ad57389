package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/storyapi/internal/figure"
	"github.com/hitoshi/storyapi/internal/middleware"
	"github.com/hitoshi/storyapi/internal/model"
	"github.com/hitoshi/storyapi/internal/policy"
)

// FigureServiceInterface はフィギュアハンドラーが必要とするサービスインターフェース。
type FigureServiceInterface interface {
	Create(ctx context.Context, requester model.Identity, in figure.CreateInput) (policy.Record, error)
	Get(ctx context.Context, requester model.Identity, q figure.Query) ([]policy.Record, error)
	Update(ctx context.Context, requester model.Identity, id string, body map[string]any) (policy.Record, error)
	Delete(ctx context.Context, requester model.Identity, id, createdBy string) error
	AttachMedia(ctx context.Context, requester model.Identity, id string) (policy.Record, error)
}

// FigureHandler はフィギュアのHTTPハンドラー。
type FigureHandler struct {
	service FigureServiceInterface
}

// NewFigureHandler はFigureHandlerを生成する。
func NewFigureHandler(service FigureServiceInterface) *FigureHandler {
	return &FigureHandler{service: service}
}

// Create はフィギュアを作成する。
// POST /figure
func (h *FigureHandler) Create(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	body, err := parseBody(w, r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	created, err := h.service.Create(r.Context(), identity, figure.CreateInput{
		Name:        bodyString(body, "name"),
		Description: bodyString(body, "description"),
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	middleware.WriteSuccess(w, r, "FIGURE_CREATE_SUCCESS", created)
}

// Get はフィギュアを検索する。
// GET /figure?figureId=&createdBy=
func (h *FigureHandler) Get(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	figures, err := h.service.Get(r.Context(), identity, figure.Query{
		ID:        q.Get("figureId"),
		CreatedBy: q.Get("createdBy"),
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	middleware.WriteSuccess(w, r, "FIGURE_READ_SUCCESS", figures)
}

// Update はフィギュアを部分更新する。
// PUT /figure?figureId=
func (h *FigureHandler) Update(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	body, err := parseBody(w, r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	updated, err := h.service.Update(r.Context(), identity, r.URL.Query().Get("figureId"), body)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	middleware.WriteSuccess(w, r, "FIGURE_UPDATE_SUCCESS", updated)
}

// Delete はフィギュアを削除する。
// DELETE /figure?figureId=&createdBy=
func (h *FigureHandler) Delete(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	if err := h.service.Delete(r.Context(), identity, q.Get("figureId"), q.Get("createdBy")); err != nil {
		handleServiceError(w, r, err)
		return
	}

	middleware.WriteSuccess(w, r, "FIGURE_DELETE_SUCCESS", nil)
}

// AttachMedia はステージング済みの画像を既存のフィギュアに紐づける。
// PUT /figure/media?figureId=
func (h *FigureHandler) AttachMedia(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	updated, err := h.service.AttachMedia(r.Context(), identity, r.URL.Query().Get("figureId"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	middleware.WriteSuccess(w, r, "FIGURE_UPDATE_SUCCESS", updated)
}
