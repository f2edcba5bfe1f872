// Package backup はデータファイルの定期スナップショットジョブを提供する。
// ファイルバックエンドのserveモード内でバックグラウンド実行される。
package backup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Snapshotter はスナップショット作成のインターフェース。
// FileStoreがそのまま実装を満たす。
type Snapshotter interface {
	CreateBackup(ctx context.Context) (string, error)
}

// Scheduler は一定間隔でバックアップスナップショットを作成するジョブ。
// 冪等: 各実行は独立したタイムスタンプ付きディレクトリを作成する。
type Scheduler struct {
	snapshotter Snapshotter
	logger      *slog.Logger
	interval    time.Duration
}

// NewScheduler は新しいSchedulerを生成する。
func NewScheduler(snapshotter Snapshotter, logger *slog.Logger, interval time.Duration) *Scheduler {
	return &Scheduler{
		snapshotter: snapshotter,
		logger:      logger,
		interval:    interval,
	}
}

// Run はスナップショットを1回作成する。
func (s *Scheduler) Run(ctx context.Context) error {
	start := time.Now()

	name, err := s.snapshotter.CreateBackup(ctx)
	if err != nil {
		s.logger.Error("バックアップの作成に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("backup failed: %w", err)
	}

	s.logger.Info("バックアップを作成しました",
		slog.String("backup", name),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return nil
}

// Start は定期バックアップループを開始する。コンテキストのキャンセルで停止する。
// 起動直後には実行せず、最初のintervalの経過後から実行する。
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("backup scheduler started",
		slog.Duration("interval", s.interval),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("backup scheduler stopped")
			return
		case <-ticker.C:
			if err := s.Run(ctx); err != nil {
				// 失敗しても次回の実行は継続する
				continue
			}
		}
	}
}
