package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/kiroku/internal/metrics"
	"github.com/hitoshi/kiroku/internal/model"
)

type mockEventRepo struct {
	appendBatchFn func(ctx context.Context, events []*model.Event) (int, []string, error)
}

func (m *mockEventRepo) AppendBatch(ctx context.Context, events []*model.Event) (int, []string, error) {
	return m.appendBatchFn(ctx, events)
}

func (m *mockEventRepo) Query(ctx context.Context, filter model.EventFilter) ([]*model.Event, int64, error) {
	return nil, 0, nil
}

func (m *mockEventRepo) ListByUser(ctx context.Context, userID string) ([]*model.Event, error) {
	return nil, nil
}

func (m *mockEventRepo) EraseAll(ctx context.Context) error {
	return nil
}

type mockAggregateRepo struct {
	recomputeUserFn func(ctx context.Context, userID string) (*model.UserAggregate, error)
}

func (m *mockAggregateRepo) RecomputeUser(ctx context.Context, userID string) (*model.UserAggregate, error) {
	return m.recomputeUserFn(ctx, userID)
}

func (m *mockAggregateRepo) ListUsers(ctx context.Context) ([]*model.UserAggregate, error) {
	return nil, nil
}

func (m *mockAggregateRepo) GlobalStats(ctx context.Context) (*model.GlobalStats, error) {
	return nil, nil
}

func (m *mockAggregateRepo) DailyStats(ctx context.Context) (map[string]model.DailyBucket, error) {
	return nil, nil
}

// 記録されたメトリクスを検証するためのコレクター。
type recordingCollector struct {
	mu            sync.Mutex
	batchSizes    []int
	storageErrors []string
	latencies     int
}

func (c *recordingCollector) RecordBatchIngested(size int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batchSizes = append(c.batchSizes, size)
}

func (c *recordingCollector) RecordStorageError(operation string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.storageErrors = append(c.storageErrors, operation)
}

func (c *recordingCollector) RecordHTTPStatus(statusCode int) {}

func (c *recordingCollector) RecordIngestLatency(duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latencies++
}

var _ metrics.MetricsCollector = (*recordingCollector)(nil)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// バッチ取り込み成功時に影響ユーザーごとの集計再計算が走ることを検証
func TestIngestBatch_RecomputesAffectedUsers(t *testing.T) {
	var recomputed []string

	events := &mockEventRepo{
		appendBatchFn: func(ctx context.Context, evs []*model.Event) (int, []string, error) {
			return len(evs), []string{"u1", "u2"}, nil
		},
	}
	aggregates := &mockAggregateRepo{
		recomputeUserFn: func(ctx context.Context, userID string) (*model.UserAggregate, error) {
			recomputed = append(recomputed, userID)
			return &model.UserAggregate{UserID: userID}, nil
		},
	}
	collector := &recordingCollector{}

	service := NewService(events, aggregates, collector, testLogger())
	stored, err := service.IngestBatch(context.Background(), []*model.Event{
		{UserID: "u1"}, {UserID: "u2"}, {UserID: "u1"},
	})

	if err != nil {
		t.Fatalf("IngestBatch failed: %v", err)
	}
	if stored != 3 {
		t.Errorf("stored = %d, want 3", stored)
	}
	if len(recomputed) != 2 || recomputed[0] != "u1" || recomputed[1] != "u2" {
		t.Errorf("recomputed users = %v, want [u1 u2]", recomputed)
	}
	if len(collector.batchSizes) != 1 || collector.batchSizes[0] != 3 {
		t.Errorf("batch sizes = %v, want [3]", collector.batchSizes)
	}
	if collector.latencies != 1 {
		t.Errorf("latency observations = %d, want 1", collector.latencies)
	}
}

// 永続化失敗時にエラーとストレージメトリクスが記録されることを検証
func TestIngestBatch_AppendFailure(t *testing.T) {
	events := &mockEventRepo{
		appendBatchFn: func(ctx context.Context, evs []*model.Event) (int, []string, error) {
			return 0, nil, model.NewStorageError("disk full", errors.New("write error"))
		},
	}
	aggregates := &mockAggregateRepo{
		recomputeUserFn: func(ctx context.Context, userID string) (*model.UserAggregate, error) {
			t.Fatal("recompute should not run when append fails")
			return nil, nil
		},
	}
	collector := &recordingCollector{}

	service := NewService(events, aggregates, collector, testLogger())
	_, err := service.IngestBatch(context.Background(), []*model.Event{{UserID: "u1"}})

	if err == nil {
		t.Fatal("expected an error")
	}
	if model.KindOf(err) != model.KindStorage {
		t.Errorf("error kind = %v, want KindStorage", model.KindOf(err))
	}
	if len(collector.storageErrors) != 1 || collector.storageErrors[0] != "append_batch" {
		t.Errorf("storage errors = %v, want [append_batch]", collector.storageErrors)
	}
}

// 集計再計算の失敗がエラーとして伝播することを検証
func TestIngestBatch_RecomputeFailure(t *testing.T) {
	events := &mockEventRepo{
		appendBatchFn: func(ctx context.Context, evs []*model.Event) (int, []string, error) {
			return len(evs), []string{"u1"}, nil
		},
	}
	aggregates := &mockAggregateRepo{
		recomputeUserFn: func(ctx context.Context, userID string) (*model.UserAggregate, error) {
			return nil, model.NewStorageError("aggregate write failed", errors.New("io error"))
		},
	}
	collector := &recordingCollector{}

	service := NewService(events, aggregates, collector, testLogger())
	stored, err := service.IngestBatch(context.Background(), []*model.Event{{UserID: "u1"}})

	if err == nil {
		t.Fatal("expected an error")
	}
	// イベント自体は既に保存済み
	if stored != 1 {
		t.Errorf("stored = %d, want 1", stored)
	}
	if len(collector.storageErrors) != 1 || collector.storageErrors[0] != "recompute_user" {
		t.Errorf("storage errors = %v, want [recompute_user]", collector.storageErrors)
	}
}

// 空のバッチが成功として扱われることを検証
func TestIngestBatch_EmptyBatch(t *testing.T) {
	events := &mockEventRepo{
		appendBatchFn: func(ctx context.Context, evs []*model.Event) (int, []string, error) {
			return 0, nil, nil
		},
	}
	aggregates := &mockAggregateRepo{
		recomputeUserFn: func(ctx context.Context, userID string) (*model.UserAggregate, error) {
			t.Fatal("recompute should not run for an empty batch")
			return nil, nil
		},
	}

	service := NewService(events, aggregates, metrics.NopCollector{}, testLogger())
	stored, err := service.IngestBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("IngestBatch failed: %v", err)
	}
	if stored != 0 {
		t.Errorf("stored = %d, want 0", stored)
	}
}
