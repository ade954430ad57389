// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ミドルウェアとメディアサービスから利用する。
type MetricsCollector interface {
	RecordRequest(route, method string, httpStatus int, duration time.Duration)
	RecordEnvelopeStatus(status int)
	RecordAuthFailure(reason string)
	ObserveUpload(kind, result string, size int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	requests       *prometheus.CounterVec
	requestLatency prometheus.Histogram
	envelopeStatus *prometheus.CounterVec
	authFailures   *prometheus.CounterVec
	uploads        *prometheus.CounterVec
	uploadBytes    prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storyapi_http_requests_total",
			Help: "ルート・メソッド・HTTPステータス別のリクエスト数",
		}, []string{"route", "method", "status"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "storyapi_http_request_duration_seconds",
			Help:    "リクエスト処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		envelopeStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storyapi_envelope_status_total",
			Help: "レスポンスエンベロープのstatus別件数",
		}, []string{"status"}),
		authFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storyapi_auth_failures_total",
			Help: "認証失敗の理由別件数",
		}, []string{"reason"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storyapi_uploads_total",
			Help: "種類・結果別のアップロード数",
		}, []string{"kind", "result"}),
		uploadBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "storyapi_upload_bytes",
			Help:    "アップロードされたファイルのサイズ（バイト）",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
		}),
	}

	reg.MustRegister(
		c.requests,
		c.requestLatency,
		c.envelopeStatus,
		c.authFailures,
		c.uploads,
		c.uploadBytes,
	)

	return c
}

// RecordRequest はリクエスト数と処理時間を記録する。
// routeはchiのルートパターンで、未マッチの場合は呼び出し側で"unmatched"を渡す。
func (c *Collector) RecordRequest(route, method string, httpStatus int, duration time.Duration) {
	c.requests.WithLabelValues(route, method, strconv.Itoa(httpStatus)).Inc()
	c.requestLatency.Observe(duration.Seconds())
}

// RecordEnvelopeStatus はエンベロープのstatusを記録する。
func (c *Collector) RecordEnvelopeStatus(status int) {
	c.envelopeStatus.WithLabelValues(strconv.Itoa(status)).Inc()
}

// RecordAuthFailure は認証失敗を記録する。
func (c *Collector) RecordAuthFailure(reason string) {
	c.authFailures.WithLabelValues(reason).Inc()
}

// ObserveUpload はアップロード結果を記録する。サイズは0より大きい場合のみ観測する。
func (c *Collector) ObserveUpload(kind, result string, size int64) {
	c.uploads.WithLabelValues(kind, result).Inc()
	if size > 0 {
		c.uploadBytes.Observe(float64(size))
	}
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var _ MetricsCollector = (*Collector)(nil)
