package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// バッチ取り込みメトリクスの記録を検証
func TestCollector_RecordBatchIngested(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordBatchIngested(5)
	c.RecordBatchIngested(3)

	if got := testutil.ToFloat64(c.eventsIngested); got != 8 {
		t.Errorf("kiroku_events_ingested_total = %v, want 8", got)
	}
	if got := testutil.ToFloat64(c.batchesTotal); got != 2 {
		t.Errorf("kiroku_ingest_batches_total = %v, want 2", got)
	}
}

// ストレージエラーが操作名ラベル付きで記録されることを検証
func TestCollector_RecordStorageError(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordStorageError("append_batch")
	c.RecordStorageError("append_batch")
	c.RecordStorageError("recompute_user")

	if got := testutil.ToFloat64(c.storageErrors.WithLabelValues("append_batch")); got != 2 {
		t.Errorf("storage errors for append_batch = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.storageErrors.WithLabelValues("recompute_user")); got != 1 {
		t.Errorf("storage errors for recompute_user = %v, want 1", got)
	}
}

// HTTPステータスコードのラベル付き記録を検証
func TestCollector_RecordHTTPStatus(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(404)

	if got := testutil.ToFloat64(c.httpStatus.WithLabelValues("200")); got != 2 {
		t.Errorf("http status 200 = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.httpStatus.WithLabelValues("404")); got != 1 {
		t.Errorf("http status 404 = %v, want 1", got)
	}
}

// スクレイプエンドポイントにメトリクスが露出することを検証
func TestHandler_ExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordBatchIngested(1)
	c.RecordIngestLatency(10 * time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()

	Handler(reg).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	for _, metric := range []string{
		"kiroku_events_ingested_total",
		"kiroku_ingest_batches_total",
		"kiroku_ingest_batch_size",
		"kiroku_ingest_latency_seconds",
	} {
		if !strings.Contains(body, metric) {
			t.Errorf("scrape output should contain %s", metric)
		}
	}
}
