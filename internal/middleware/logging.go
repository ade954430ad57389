package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// statusRecorder はhttp.ResponseWriterをラップし、ステータスコードを記録する。
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

// WriteHeader はステータスコードを記録してから委譲する。
func (sr *statusRecorder) WriteHeader(code int) {
	if !sr.written {
		sr.statusCode = code
		sr.written = true
	}
	sr.ResponseWriter.WriteHeader(code)
}

// Write はデータを書き込む。WriteHeaderが未呼び出しの場合は200を記録する。
func (sr *statusRecorder) Write(b []byte) (int, error) {
	if !sr.written {
		sr.statusCode = http.StatusOK
		sr.written = true
	}
	return sr.ResponseWriter.Write(b)
}

// NewLoggingMiddleware はリクエストのJSON構造化ログを出力するミドルウェアを返す。
// ログにはmethod、path、status、envelope_status、duration_ms、user_id（認証済みの場合）を含む。
// 論理エラーはHTTP 200で返るため、ログレベルはエンベロープのstatusも見て決める。
func NewLoggingMiddleware(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			r, info := ensureRequestInfo(r)

			rec := &statusRecorder{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rec, r)

			duration := time.Since(start)
			durationMs := float64(duration.Nanoseconds()) / float64(time.Millisecond)

			args := []any{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.statusCode),
				slog.Float64("duration_ms", durationMs),
			}
			if info.envelopeStatus != 0 {
				args = append(args, slog.Int("envelope_status", info.envelopeStatus))
			}
			if info.userID != "" {
				args = append(args, slog.String("user_id", info.userID))
			}

			level := slog.LevelInfo
			switch {
			case rec.statusCode >= 500 || info.envelopeStatus >= 500:
				level = slog.LevelError
			case rec.statusCode >= 400 || (info.envelopeStatus != 0 && info.envelopeStatus != 200):
				level = slog.LevelWarn
			}

			logger.Log(r.Context(), level, "http_request", args...)
		})
	}
}

// RequestRecorder はリクエスト単位のメトリクスを記録する。metrics.Collectorが実装する。
type RequestRecorder interface {
	RecordRequest(route, method string, httpStatus int, duration time.Duration)
	RecordEnvelopeStatus(status int)
}

// NewMetricsMiddleware はルートパターン単位でリクエスト数とエンベロープstatusを記録するミドルウェアを返す。
// chiのルーターの内側で使う。
func NewMetricsMiddleware(recorder RequestRecorder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			r, info := ensureRequestInfo(r)
			rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rec, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if p := rctx.RoutePattern(); p != "" {
					route = p
				}
			}
			recorder.RecordRequest(route, r.Method, rec.statusCode, time.Since(start))
			if info.envelopeStatus != 0 {
				recorder.RecordEnvelopeStatus(info.envelopeStatus)
			}
		})
	}
}
