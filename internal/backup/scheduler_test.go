package backup

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

type mockSnapshotter struct {
	createBackupFn func(ctx context.Context) (string, error)
}

func (m *mockSnapshotter) CreateBackup(ctx context.Context) (string, error) {
	return m.createBackupFn(ctx)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// 単発実行がスナップショットを1回作成することを検証
func TestRun(t *testing.T) {
	calls := 0
	snapshotter := &mockSnapshotter{
		createBackupFn: func(ctx context.Context) (string, error) {
			calls++
			return "backup_2025-06-01T12-00-00Z", nil
		},
	}

	s := NewScheduler(snapshotter, testLogger(), time.Hour)
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if calls != 1 {
		t.Errorf("snapshot calls = %d, want 1", calls)
	}
}

// スナップショット失敗がエラーとして返ることを検証
func TestRun_Failure(t *testing.T) {
	snapshotter := &mockSnapshotter{
		createBackupFn: func(ctx context.Context) (string, error) {
			return "", errors.New("disk full")
		},
	}

	s := NewScheduler(snapshotter, testLogger(), time.Hour)
	if err := s.Run(context.Background()); err == nil {
		t.Error("expected an error")
	}
}

// 定期ループがintervalごとに実行され、キャンセルで停止することを検証
func TestStart_RunsPeriodicallyAndStopsOnCancel(t *testing.T) {
	var calls atomic.Int32
	snapshotter := &mockSnapshotter{
		createBackupFn: func(ctx context.Context) (string, error) {
			calls.Add(1)
			return "backup_test", nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := NewScheduler(snapshotter, testLogger(), 10*time.Millisecond)

	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	// 数回の実行を待ってからキャンセル
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop after context cancellation")
	}

	if calls.Load() == 0 {
		t.Error("scheduler should have run at least once")
	}
}

// 実行失敗後もループが継続することを検証
func TestStart_ContinuesAfterFailure(t *testing.T) {
	var calls atomic.Int32
	snapshotter := &mockSnapshotter{
		createBackupFn: func(ctx context.Context) (string, error) {
			if calls.Add(1) == 1 {
				return "", errors.New("transient failure")
			}
			return "backup_test", nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := NewScheduler(snapshotter, testLogger(), 10*time.Millisecond)
	go s.Start(ctx)

	deadline := time.After(time.Second)
	for calls.Load() < 2 {
		select {
		case <-deadline:
			t.Fatal("scheduler did not continue after a failed run")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
