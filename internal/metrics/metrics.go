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
// 各サービスは必要なメソッドだけを持つ小さなインターフェースで受け取る。
type MetricsCollector interface {
	RecordSessionCommitted(seconds int64)
	RecordAggregateClamped(op string, drift int64)
	RecordManualAdjust()
	RecordTimerConflict(op string)
	RecordTasksFannedOut(count int)
	RecordReconcile(corrected int, duration time.Duration)
	RecordHTTPRequest(statusCode int, duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	sessionsCommitted  prometheus.Counter
	studySeconds       prometheus.Counter
	aggregateClamped   *prometheus.CounterVec
	aggregateDrift     prometheus.Counter
	manualAdjust       prometheus.Counter
	timerConflicts     *prometheus.CounterVec
	tasksFannedOut     prometheus.Counter
	reconcileCorrected prometheus.Counter
	reconcileLatency   prometheus.Histogram
	httpStatus         *prometheus.CounterVec
	httpLatency        prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		sessionsCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "studytrack_sessions_committed_total",
			Help: "記録された学習セッションの合計数",
		}),
		studySeconds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "studytrack_study_seconds_total",
			Help: "記録された学習時間の合計（秒）",
		}),
		aggregateClamped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "studytrack_aggregate_clamped_total",
			Help: "学習時間集計値が0で切り詰められた回数",
		}, []string{"op"}),
		aggregateDrift: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "studytrack_aggregate_clamped_seconds_total",
			Help: "切り詰めにより集計値に反映されなかった秒数の合計",
		}),
		manualAdjust: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "studytrack_manual_adjust_total",
			Help: "教師による集計値の手動上書き回数",
		}),
		timerConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "studytrack_timer_conflicts_total",
			Help: "タイマー状態の競合により拒否された操作数",
		}, []string{"op"}),
		tasksFannedOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "studytrack_tasks_fanned_out_total",
			Help: "教師課題から展開された生徒課題の合計数",
		}),
		reconcileCorrected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "studytrack_reconcile_corrected_total",
			Help: "再計算で修正された受講登録の合計数",
		}),
		reconcileLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "studytrack_reconcile_duration_seconds",
			Help:    "集計値再計算の所要時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "studytrack_http_requests_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		httpLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "studytrack_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.sessionsCommitted,
		c.studySeconds,
		c.aggregateClamped,
		c.aggregateDrift,
		c.manualAdjust,
		c.timerConflicts,
		c.tasksFannedOut,
		c.reconcileCorrected,
		c.reconcileLatency,
		c.httpStatus,
		c.httpLatency,
	)

	return c
}

// RecordSessionCommitted は学習セッションの記録を計上する。
func (c *Collector) RecordSessionCommitted(seconds int64) {
	c.sessionsCommitted.Inc()
	c.studySeconds.Add(float64(seconds))
}

// RecordAggregateClamped は集計値の切り詰めを計上する。
// driftは切り詰めで失われた秒数（正の値）。
func (c *Collector) RecordAggregateClamped(op string, drift int64) {
	c.aggregateClamped.WithLabelValues(op).Inc()
	if drift > 0 {
		c.aggregateDrift.Add(float64(drift))
	}
}

// RecordManualAdjust は手動上書きを計上する。
func (c *Collector) RecordManualAdjust() {
	c.manualAdjust.Inc()
}

// RecordTimerConflict はタイマーの競合を計上する。
func (c *Collector) RecordTimerConflict(op string) {
	c.timerConflicts.WithLabelValues(op).Inc()
}

// RecordTasksFannedOut は展開された生徒課題数を記録する。
func (c *Collector) RecordTasksFannedOut(count int) {
	c.tasksFannedOut.Add(float64(count))
}

// RecordReconcile は再計算の結果を記録する。
func (c *Collector) RecordReconcile(corrected int, duration time.Duration) {
	c.reconcileCorrected.Add(float64(corrected))
	c.reconcileLatency.Observe(duration.Seconds())
}

// RecordHTTPRequest はHTTPステータスコードと処理時間を記録する。
func (c *Collector) RecordHTTPRequest(statusCode int, duration time.Duration) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
	c.httpLatency.Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var _ MetricsCollector = (*Collector)(nil)
