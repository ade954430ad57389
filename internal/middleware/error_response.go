package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hitoshi/storyapi/internal/model"
)

// Envelope は全レスポンス共通のJSONフォーマット。
// statusはHTTPステータスではなくアプリケーション独自のコード。
type Envelope struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Content any    `json:"content,omitempty"`
}

// WriteEnvelope はエンベロープをJSONで書き込み、statusをリクエスト情報に記録する。
func WriteEnvelope(w http.ResponseWriter, r *http.Request, httpStatus int, env Envelope) {
	if info := requestInfoFrom(r.Context()); info != nil {
		info.envelopeStatus = env.Status
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		slog.Error("failed to encode response",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
}

// WriteSuccess はstatus 200のエンベロープを返す。
func WriteSuccess(w http.ResponseWriter, r *http.Request, message string, content any) {
	WriteEnvelope(w, r, http.StatusOK, Envelope{
		Status:  model.StatusOK,
		Message: message,
		Content: content,
	})
}

// WriteError はドメインエラーをエンベロープで返す。
// 既存クライアントとの互換性のため、論理エラーもHTTP 200で返す。
func WriteError(w http.ResponseWriter, r *http.Request, apiErr *model.APIError) {
	WriteEnvelope(w, r, http.StatusOK, Envelope{
		Status:  apiErr.Status,
		Message: apiErr.Message,
	})
}

// WriteInternalServerError は内部エラーを500で返す。
// 詳細はログのみに記録し、レスポンスには含めない。
func WriteInternalServerError(w http.ResponseWriter, r *http.Request) {
	apiErr := model.NewInternalError()
	WriteEnvelope(w, r, http.StatusInternalServerError, Envelope{
		Status:  apiErr.Status,
		Message: apiErr.Message,
	})
}
