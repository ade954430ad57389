package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/hitoshi/storyapi/internal/media"
	"github.com/hitoshi/storyapi/internal/middleware"
	"github.com/hitoshi/storyapi/internal/model"
)

// MediaStager はアップロード画像のステージングインターフェース。
type MediaStager interface {
	Stage(ctx context.Context, ownerID string, kind media.Kind, r io.Reader) (*media.Object, error)
	StageFromURL(ctx context.Context, ownerID string, kind media.Kind, rawURL string) (*media.Object, error)
}

// UploadHandler はフィギュア・ストーリー用画像のアップロードを受け付ける。
// 画像はレコード作成前に依頼者ごとにステージングされ、作成時に確定される。
type UploadHandler struct {
	stager MediaStager
}

// NewUploadHandler はUploadHandlerを生成する。
func NewUploadHandler(stager MediaStager) *UploadHandler {
	return &UploadHandler{stager: stager}
}

// uploadResponse はステージング結果のレスポンス。
type uploadResponse struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

// uploadURLRequest はリモート画像取得のリクエストボディ。
type uploadURLRequest struct {
	URL string `json:"url"`
}

// Upload はkind用のアップロードハンドラーを返す。
// multipartの "file" パート、またはJSONの {"url": "..."} を受け付ける。
// POST /figure/upload, POST /story/upload
func (h *UploadHandler) Upload(kind media.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := requireIdentity(w, r)
		if !ok {
			return
		}

		mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

		var (
			obj *media.Object
			err error
		)
		switch {
		case mediaType == "multipart/form-data":
			obj, err = h.stageMultipart(r, identity.ID, kind)
		case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"):
			obj, err = h.stageURL(w, r, identity.ID, kind)
		default:
			err = model.NewDataNotCompleteError("file")
		}
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		middleware.WriteSuccess(w, r, "FILE_UPLOAD_SUCCESS", uploadResponse{
			Name:        obj.Name,
			ContentType: obj.ContentType,
			Size:        obj.Size,
		})
	}
}

// stageMultipart は "file" パートをメモリに全展開せずにステージングへ流す。
// サイズ上限はステージング側で判定する。
func (h *UploadHandler) stageMultipart(r *http.Request, ownerID string, kind media.Kind) (*media.Object, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, model.NewFileError(model.StatusFileUnreadable)
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, model.NewDataNotCompleteError("file")
		}
		if err != nil {
			return nil, model.NewFileError(model.StatusFileUnreadable)
		}
		if part.FormName() != "file" {
			part.Close()
			continue
		}
		defer part.Close()
		return h.stager.Stage(r.Context(), ownerID, kind, part)
	}
}

func (h *UploadHandler) stageURL(w http.ResponseWriter, r *http.Request, ownerID string, kind media.Kind) (*media.Object, error) {
	var req uploadURLRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		return nil, model.NewInvalidDataError("malformed JSON body: " + err.Error())
	}
	if strings.TrimSpace(req.URL) == "" {
		return nil, model.NewDataNotCompleteError("url")
	}
	return h.stager.StageFromURL(r.Context(), ownerID, kind, strings.TrimSpace(req.URL))
}
