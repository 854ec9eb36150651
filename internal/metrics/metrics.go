// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 参照解決器やIDサービスクライアントから利用する。
type MetricsCollector interface {
	RecordResolution(source string)
	RecordLookupFailure(kind string)
	RecordLookupLatency(duration time.Duration)
	RecordRepair(field string)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	resolutions    *prometheus.CounterVec
	lookupFailures *prometheus.CounterVec
	lookupLatency  prometheus.Histogram
	repairs        *prometheus.CounterVec
}

var _ MetricsCollector = (*Collector)(nil)

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kizuna_reference_resolutions_total",
			Help: "取得元別のユーザー参照解決数",
		}, []string{"source"}),
		lookupFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kizuna_identity_lookup_failures_total",
			Help: "失敗種別ごとのIDサービス問い合わせ失敗数",
		}, []string{"kind"}),
		lookupLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kizuna_identity_lookup_latency_seconds",
			Help:    "IDサービス問い合わせのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		repairs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kizuna_reference_repairs_total",
			Help: "読み出し時に補修された参照の数",
		}, []string{"field"}),
	}

	reg.MustRegister(
		c.resolutions,
		c.lookupFailures,
		c.lookupLatency,
		c.repairs,
	)

	return c
}

// RecordResolution は参照解決の取得元（cache/remote/synthesized）を記録する。
func (c *Collector) RecordResolution(source string) {
	c.resolutions.WithLabelValues(source).Inc()
}

// RecordLookupFailure はIDサービス問い合わせの失敗を記録する。
func (c *Collector) RecordLookupFailure(kind string) {
	c.lookupFailures.WithLabelValues(kind).Inc()
}

// RecordLookupLatency はIDサービス問い合わせのレイテンシを記録する。
func (c *Collector) RecordLookupLatency(duration time.Duration) {
	c.lookupLatency.Observe(duration.Seconds())
}

// RecordRepair は補修したフィールド（author/volunteer）を記録する。
func (c *Collector) RecordRepair(field string) {
	c.repairs.WithLabelValues(field).Inc()
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type Nop struct{}

func (Nop) RecordResolution(string)           {}
func (Nop) RecordLookupFailure(string)        {}
func (Nop) RecordLookupLatency(time.Duration) {}
func (Nop) RecordRepair(string)               {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
