// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "storefront"

// ログイン結果ラベル
const (
	LoginSuccess = "success"
	LoginFailure = "failure"
)

// フロートークンの状態ラベル
const (
	FlowIssued   = "issued"
	FlowConsumed = "consumed"
	FlowRejected = "rejected"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 認証サービス・ミドルウェア・ワーカーから利用する。
type MetricsCollector interface {
	RecordSignup()
	RecordLogin(result string)
	RecordTokenRejected(reason string)
	RecordFlowToken(purpose, state string)
	RecordMailFailure(purpose string)
	RecordHTTPStatus(statusCode int)
	RecordCleanup(cleared int64)
	ObserveHashLatency(op string, d time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	signups        prometheus.Counter
	logins         *prometheus.CounterVec
	tokenRejected  *prometheus.CounterVec
	flowTokens     *prometheus.CounterVec
	mailFailures   *prometheus.CounterVec
	httpStatus     *prometheus.CounterVec
	cleanupCleared prometheus.Counter
	hashLatency    *prometheus.HistogramVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		signups: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signups_total",
			Help:      "新規登録されたユーザーの合計数",
		}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "結果別のログイン試行数",
		}, []string{"result"}),
		tokenRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_token_rejected_total",
			Help:      "理由別のセッショントークン拒否数",
		}, []string{"reason"}),
		flowTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flow_tokens_total",
			Help:      "用途・状態別の使い捨てトークン数",
		}, []string{"purpose", "state"}),
		mailFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mail_delivery_failures_total",
			Help:      "用途別のメール送信失敗数",
		}, []string{"purpose"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_responses_total",
			Help:      "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		cleanupCleared: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_cleared_rows_total",
			Help:      "クリーンアップで期限切れトークンを消去した行数",
		}),
		hashLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "password_hash_seconds",
			Help:      "bcrypt処理のレイテンシ（秒）",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"op"}),
	}

	reg.MustRegister(
		c.signups,
		c.logins,
		c.tokenRejected,
		c.flowTokens,
		c.mailFailures,
		c.httpStatus,
		c.cleanupCleared,
		c.hashLatency,
	)

	return c
}

// RecordSignup は新規登録を記録する。
func (c *Collector) RecordSignup() {
	c.signups.Inc()
}

// RecordLogin はログイン試行の結果を記録する。
func (c *Collector) RecordLogin(result string) {
	c.logins.WithLabelValues(result).Inc()
}

// RecordTokenRejected はセッショントークンの拒否を記録する。
func (c *Collector) RecordTokenRejected(reason string) {
	c.tokenRejected.WithLabelValues(reason).Inc()
}

// RecordFlowToken は使い捨てトークンの発行・消費・拒否を記録する。
func (c *Collector) RecordFlowToken(purpose, state string) {
	c.flowTokens.WithLabelValues(purpose, state).Inc()
}

// RecordMailFailure はメール送信失敗を記録する。
func (c *Collector) RecordMailFailure(purpose string) {
	c.mailFailures.WithLabelValues(purpose).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordCleanup はクリーンアップで消去した行数を記録する。
func (c *Collector) RecordCleanup(cleared int64) {
	c.cleanupCleared.Add(float64(cleared))
}

// ObserveHashLatency はbcrypt処理のレイテンシを記録する。
func (c *Collector) ObserveHashLatency(op string, d time.Duration) {
	c.hashLatency.WithLabelValues(op).Observe(d.Seconds())
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type Nop struct{}

func (Nop) RecordSignup() {}
func (Nop) RecordLogin(string) {}
func (Nop) RecordTokenRejected(string) {}
func (Nop) RecordFlowToken(string, string) {}
func (Nop) RecordMailFailure(string) {}
func (Nop) RecordHTTPStatus(int) {}
func (Nop) RecordCleanup(int64) {}
func (Nop) ObserveHashLatency(string, time.Duration) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
