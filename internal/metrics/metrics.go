// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// スケジューラやコマンドポーラーから利用する。
type MetricsCollector interface {
	RecordCycleSuccess(sourceName string)
	RecordCycleError(sourceName string)
	RecordIngestResult(ingested, duplicates, qualityRejected, mappingMissing int)
	RecordCommandProcessed(result string)
	RecordFetchLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	cycleSuccess      prometheus.Counter
	cycleError        prometheus.Counter
	itemsIngested     prometheus.Counter
	itemsDuplicate    prometheus.Counter
	itemsQualityRej   prometheus.Counter
	itemsMappingMiss  prometheus.Counter
	commandsProcessed *prometheus.CounterVec
	fetchLatency      prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		cycleSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "newsdesk_cycle_success_total",
			Help: "フェッチサイクル成功の合計数",
		}),
		cycleError: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "newsdesk_cycle_error_total",
			Help: "フェッチサイクル失敗の合計数",
		}),
		itemsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "newsdesk_items_ingested_total",
			Help: "取り込まれた記事の合計数",
		}),
		itemsDuplicate: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "newsdesk_items_duplicate_total",
			Help: "重複としてスキップされた記事の合計数",
		}),
		itemsQualityRej: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "newsdesk_items_quality_rejected_total",
			Help: "品質フィルタで拒否された記事の合計数",
		}),
		itemsMappingMiss: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "newsdesk_items_mapping_missing_total",
			Help: "マッピング未解決で拒否された記事の合計数",
		}),
		commandsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsdesk_commands_processed_total",
			Help: "処理されたコマンドの結果別合計数",
		}, []string{"result"}),
		fetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "newsdesk_fetch_latency_seconds",
			Help:    "フィードフェッチのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.cycleSuccess,
		c.cycleError,
		c.itemsIngested,
		c.itemsDuplicate,
		c.itemsQualityRej,
		c.itemsMappingMiss,
		c.commandsProcessed,
		c.fetchLatency,
	)

	return c
}

// RecordCycleSuccess はフェッチサイクルの成功を記録する。
func (c *Collector) RecordCycleSuccess(sourceName string) {
	c.cycleSuccess.Inc()
}

// RecordCycleError はフェッチサイクルの失敗を記録する。
func (c *Collector) RecordCycleError(sourceName string) {
	c.cycleError.Inc()
}

// RecordIngestResult は1回の取り込み結果の内訳を記録する。
func (c *Collector) RecordIngestResult(ingested, duplicates, qualityRejected, mappingMissing int) {
	c.itemsIngested.Add(float64(ingested))
	c.itemsDuplicate.Add(float64(duplicates))
	c.itemsQualityRej.Add(float64(qualityRejected))
	c.itemsMappingMiss.Add(float64(mappingMissing))
}

// RecordCommandProcessed はコマンド処理の結果（completed/failed）を記録する。
func (c *Collector) RecordCommandProcessed(result string) {
	c.commandsProcessed.WithLabelValues(result).Inc()
}

// RecordFetchLatency はフェッチのレイテンシを記録する。
func (c *Collector) RecordFetchLatency(duration time.Duration) {
	c.fetchLatency.Observe(duration.Seconds())
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
