// Package ingest はイベントバッチの取り込みサービスを提供する。
package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/kiroku/internal/metrics"
	"github.com/hitoshi/kiroku/internal/model"
	"github.com/hitoshi/kiroku/internal/repository"
)

// Service はイベントバッチの永続化と集計更新を調停する。
// フィールドの欠けたイベントも受け付け、そのまま保存する（スキーマは強制しない）。
type Service struct {
	events     repository.EventRepository
	aggregates repository.AggregateRepository
	collector  metrics.MetricsCollector
	logger     *slog.Logger
}

// NewService はServiceを生成する。
func NewService(
	events repository.EventRepository,
	aggregates repository.AggregateRepository,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Service {
	return &Service{
		events:     events,
		aggregates: aggregates,
		collector:  collector,
		logger:     logger,
	}
}

// IngestBatch はイベントのバッチを永続化し、影響を受けたユーザーの集計を再計算する。
// ID・serverTimestampの付与はストアが行う。保存件数を返す。
//
// 集計の再計算は常にイベント全体からの純粋な導出であり、
// 失敗しても部分更新された集計が残ることはない。
func (s *Service) IngestBatch(ctx context.Context, events []*model.Event) (int, error) {
	start := time.Now()
	defer func() {
		s.collector.RecordIngestLatency(time.Since(start))
	}()

	stored, userIDs, err := s.events.AppendBatch(ctx, events)
	if err != nil {
		s.collector.RecordStorageError("append_batch")
		return 0, err
	}

	s.collector.RecordBatchIngested(stored)

	for _, userID := range userIDs {
		if _, err := s.aggregates.RecomputeUser(ctx, userID); err != nil {
			s.collector.RecordStorageError("recompute_user")
			s.logger.Error("ユーザー集計の再計算に失敗しました",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
			return stored, err
		}
	}

	s.logger.Info("batch ingested",
		slog.Int("stored", stored),
		slog.Int("affected_users", len(userIDs)),
	)

	return stored, nil
}
