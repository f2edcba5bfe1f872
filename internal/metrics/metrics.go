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
// 取り込みサービスおよびハンドラー層から利用する。
type MetricsCollector interface {
	RecordBatchIngested(size int)
	RecordStorageError(operation string)
	RecordHTTPStatus(statusCode int)
	RecordIngestLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	eventsIngested prometheus.Counter
	batchesTotal   prometheus.Counter
	batchSize      prometheus.Histogram
	storageErrors  *prometheus.CounterVec
	httpStatus     *prometheus.CounterVec
	ingestLatency  prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		eventsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kiroku_events_ingested_total",
			Help: "取り込んだイベントの合計数",
		}),
		batchesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kiroku_ingest_batches_total",
			Help: "取り込んだバッチの合計数",
		}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kiroku_ingest_batch_size",
			Help:    "1バッチあたりのイベント数",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),
		storageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kiroku_storage_errors_total",
			Help: "操作別のストレージエラー数",
		}, []string{"operation"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kiroku_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		ingestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kiroku_ingest_latency_seconds",
			Help:    "バッチ取り込みのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.eventsIngested,
		c.batchesTotal,
		c.batchSize,
		c.storageErrors,
		c.httpStatus,
		c.ingestLatency,
	)

	return c
}

// RecordBatchIngested はバッチの取り込み成功を記録する。
func (c *Collector) RecordBatchIngested(size int) {
	c.batchesTotal.Inc()
	c.eventsIngested.Add(float64(size))
	c.batchSize.Observe(float64(size))
}

// RecordStorageError はストレージエラーを操作名ラベル付きで記録する。
func (c *Collector) RecordStorageError(operation string) {
	c.storageErrors.WithLabelValues(operation).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordIngestLatency はバッチ取り込みのレイテンシを記録する。
func (c *Collector) RecordIngestLatency(duration time.Duration) {
	c.ingestLatency.Observe(duration.Seconds())
}

// NopCollector は何も記録しないMetricsCollector実装。テスト用。
type NopCollector struct{}

func (NopCollector) RecordBatchIngested(size int)        {}
func (NopCollector) RecordStorageError(operation string) {}

func (NopCollector) RecordHTTPStatus(statusCode int) {}

func (NopCollector) RecordIngestLatency(duration time.Duration) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface checks
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = NopCollector{}
)
