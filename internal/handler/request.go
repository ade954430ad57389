// Package handler はHTTPハンドラーとルーティングを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/hitoshi/storyapi/internal/middleware"
	"github.com/hitoshi/storyapi/internal/model"
)

// maxBodySize はJSON・フォームボディの上限。アップロードには適用しない。
const maxBodySize = 1 << 20

// parseBody はJSONまたはフォーム形式のボディをワイヤー名のマップに変換する。
// フォームの値は文字列として入る。空ボディは空マップを返す。
func parseBody(w http.ResponseWriter, r *http.Request) (map[string]any, error) {
	body := map[string]any{}
	if r.Body == nil || r.Body == http.NoBody {
		return body, nil
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		if err := r.ParseMultipartForm(maxBodySize); err != nil && !errors.Is(err, http.ErrNotMultipart) {
			return nil, model.NewInvalidDataError("malformed form body: " + err.Error())
		}
		for key, values := range r.PostForm {
			if len(values) > 0 {
				body[key] = values[0]
			}
		}
		return body, nil
	default:
		dec := json.NewDecoder(r.Body)
		if err := dec.Decode(&body); err != nil {
			if errors.Is(err, io.EOF) {
				return map[string]any{}, nil
			}
			return nil, model.NewInvalidDataError("malformed JSON body: " + err.Error())
		}
		return body, nil
	}
}

// bodyString はボディの文字列値を返す。文字列以外は空として扱う。
func bodyString(body map[string]any, key string) string {
	s, _ := body[key].(string)
	return strings.TrimSpace(s)
}

// handleServiceError はサービスのエラーをエンベロープに変換する。
// *model.APIErrorはHTTP 200で返し、それ以外は内部エラーとして記録する。
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Detail != "" {
			slog.Debug("request rejected",
				slog.String("path", r.URL.Path),
				slog.String("kind", string(apiErr.Kind)),
				slog.String("detail", apiErr.Detail),
			)
		}
		middleware.WriteError(w, r, apiErr)
		return
	}

	slog.Error("internal server error",
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	middleware.WriteInternalServerError(w, r)
}

// requireIdentity は認証ミドルウェアが注入した主体を取り出す。
// 取り出せない場合はNOT_AUTHORIZEDを書き込んでfalseを返す。
func requireIdentity(w http.ResponseWriter, r *http.Request) (model.Identity, bool) {
	identity, err := middleware.IdentityFromContext(r.Context())
	if err != nil {
		middleware.WriteError(w, r, model.NewNotAuthorizedError(err.Error()))
		return model.Identity{}, false
	}
	return identity, true
}
