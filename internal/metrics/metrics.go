// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector はPrometheusメトリクスを収集する実装。
// セッション検証、OAuthハンドシェイク、Installationトークンキャッシュの
// 動作を記録する。
type Collector struct {
	sessionValidation *prometheus.CounterVec
	handshake         *prometheus.CounterVec
	tokenCacheHit     prometheus.Counter
	tokenRefresh      prometheus.Counter
	tokenRefreshFail  prometheus.Counter
	httpStatus        *prometheus.CounterVec
	requestDuration   prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		sessionValidation: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "appman_session_validation_total",
			Help: "セッション検証の結果別合計数",
		}, []string{"result"}),
		handshake: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "appman_oauth_handshake_total",
			Help: "OAuthハンドシェイクの結果別合計数",
		}, []string{"outcome"}),
		tokenCacheHit: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "appman_installation_token_cache_hit_total",
			Help: "Installationトークンのキャッシュヒット合計数",
		}),
		tokenRefresh: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "appman_installation_token_refresh_total",
			Help: "Installationトークンのリフレッシュ成功合計数",
		}),
		tokenRefreshFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "appman_installation_token_refresh_fail_total",
			Help: "Installationトークンのリフレッシュ失敗合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "appman_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "appman_request_duration_seconds",
			Help:    "HTTPリクエスト処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.sessionValidation,
		c.handshake,
		c.tokenCacheHit,
		c.tokenRefresh,
		c.tokenRefreshFail,
		c.httpStatus,
		c.requestDuration,
	)

	return c
}

// RecordSessionValidation はセッション検証の結果を記録する。
func (c *Collector) RecordSessionValidation(valid bool) {
	result := "invalid"
	if valid {
		result = "valid"
	}
	c.sessionValidation.WithLabelValues(result).Inc()
}

// RecordHandshake はOAuthハンドシェイクの結果を記録する。
// outcomeには success, state_mismatch, upstream_error 等を渡す。
func (c *Collector) RecordHandshake(outcome string) {
	c.handshake.WithLabelValues(outcome).Inc()
}

// RecordTokenCacheHit はInstallationトークンのキャッシュヒットを記録する。
func (c *Collector) RecordTokenCacheHit() {
	c.tokenCacheHit.Inc()
}

// RecordTokenRefresh はInstallationトークンのリフレッシュ成功を記録する。
func (c *Collector) RecordTokenRefresh() {
	c.tokenRefresh.Inc()
}

// RecordTokenRefreshError はInstallationトークンのリフレッシュ失敗を記録する。
func (c *Collector) RecordTokenRefreshError() {
	c.tokenRefreshFail.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestDuration はリクエスト処理時間を記録する。
func (c *Collector) RecordRequestDuration(duration time.Duration) {
	c.requestDuration.Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
