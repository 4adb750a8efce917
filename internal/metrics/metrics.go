// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 購読・確認・ログインの結果ラベル
const (
	ResultSuccess    = "success"
	ResultInvalid    = "invalid"
	ResultStorage    = "storage_error"
	ResultDispatch   = "dispatch_error"
	ResultDuplicate  = "already_confirmed"
	ResultNotFound   = "not_found"
	ResultRejected   = "rejected"
	ResultUnexpected = "unexpected"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層、ミドルウェア、ワーカーから利用する。
type MetricsCollector interface {
	RecordSubscription(result string)
	RecordConfirmation(result string)
	RecordLogin(result string)
	RecordEmailLatency(duration time.Duration)
	RecordHTTPStatus(statusCode int)
	RecordCleanup(deleted int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	subscriptions *prometheus.CounterVec
	confirmations *prometheus.CounterVec
	logins        *prometheus.CounterVec
	emailLatency  prometheus.Histogram
	httpStatus    *prometheus.CounterVec
	cleanedUp     prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		subscriptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "letterbox_subscriptions_total",
			Help: "購読申込の結果別件数",
		}, []string{"result"}),
		confirmations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "letterbox_confirmations_total",
			Help: "購読確認の結果別件数",
		}, []string{"result"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "letterbox_logins_total",
			Help: "管理画面ログインの結果別件数",
		}, []string{"result"}),
		emailLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "letterbox_email_send_seconds",
			Help:    "確認メール送信のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "letterbox_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		cleanedUp: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "letterbox_expired_subscribers_deleted_total",
			Help: "期限切れで削除された未確認購読者の合計数",
		}),
	}

	reg.MustRegister(
		c.subscriptions,
		c.confirmations,
		c.logins,
		c.emailLatency,
		c.httpStatus,
		c.cleanedUp,
	)

	return c
}

// RecordSubscription は購読申込の結果を記録する。
func (c *Collector) RecordSubscription(result string) {
	c.subscriptions.WithLabelValues(result).Inc()
}

// RecordConfirmation は購読確認の結果を記録する。
func (c *Collector) RecordConfirmation(result string) {
	c.confirmations.WithLabelValues(result).Inc()
}

// RecordLogin はログイン試行の結果を記録する。
func (c *Collector) RecordLogin(result string) {
	c.logins.WithLabelValues(result).Inc()
}

// RecordEmailLatency はメール送信のレイテンシを記録する。
func (c *Collector) RecordEmailLatency(duration time.Duration) {
	c.emailLatency.Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordCleanup は削除された未確認購読者数を記録する。
func (c *Collector) RecordCleanup(deleted int64) {
	c.cleanedUp.Add(float64(deleted))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使用する。
type Nop struct{}

func (Nop) RecordSubscription(string)        {}
func (Nop) RecordConfirmation(string)        {}
func (Nop) RecordLogin(string)               {}
func (Nop) RecordEmailLatency(time.Duration) {}
func (Nop) RecordHTTPStatus(int)             {}
func (Nop) RecordCleanup(int64)              {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
