package middleware

import (
	"context"
	"net/http"
)

// requestInfo は内側のハンドラーが記録し、外側のロギング・メトリクスが読む値。
// 認証ミドルウェアはcontextを差し替えるため、外側からは見えない値をここに集める。
type requestInfo struct {
	userID         string
	envelopeStatus int
}

// requestInfoContextKey はリクエスト情報を格納するキー。
var requestInfoContextKey = contextKey("request_info")

// ensureRequestInfo はリクエスト情報を取得し、無ければ作成してcontextに載せる。
func ensureRequestInfo(r *http.Request) (*http.Request, *requestInfo) {
	if info := requestInfoFrom(r.Context()); info != nil {
		return r, info
	}
	info := &requestInfo{}
	return r.WithContext(context.WithValue(r.Context(), requestInfoContextKey, info)), info
}

func requestInfoFrom(ctx context.Context) *requestInfo {
	info, _ := ctx.Value(requestInfoContextKey).(*requestInfo)
	return info
}
