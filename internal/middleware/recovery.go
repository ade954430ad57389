package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"
)

// NewRecoveryMiddleware はハンドラー内のpanicを捕捉し、
// status 500のエンベロープに変換するミドルウェアを生成する。
// http.ErrAbortHandlerはnet/httpに処理を任せるため再送出する。
func NewRecoveryMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				attrs := []any{
					slog.Any("panic", rec),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
				}
				if info := requestInfoFrom(r.Context()); info != nil && info.userID != "" {
					attrs = append(attrs, slog.String("user_id", info.userID))
				}
				attrs = append(attrs, slog.String("stack", string(debug.Stack())))
				slog.Error("ハンドラーでpanicが発生しました", attrs...)

				WriteInternalServerError(w, r)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
