package repository

import (
	"context"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/hitoshi/kiroku/internal/model"
)

// RecomputeUser は指定ユーザーのイベントファイルを読み込み、集計を再計算する。
// ファイルバックエンドでは集計を永続化せず、常にイベントから導出する。
// 冪等: 同じイベント集合に対しては常に同じ結果を返す。
func (s *FileStore) RecomputeUser(ctx context.Context, userID string) (*model.UserAggregate, error) {
	s.global.RLock()
	defer s.global.RUnlock()

	events, err := s.readLocked(s.userPath(userID))
	if err != nil {
		return nil, err
	}

	agg := computeUserAggregate(userID, events)
	agg.UpdatedAt = s.now()
	return agg, nil
}

// ListUsers はユーザー別ファイルを全走査し、各ユーザーの集計を
// 最終アクティビティ降順で返す。
func (s *FileStore) ListUsers(ctx context.Context) ([]*model.UserAggregate, error) {
	s.global.RLock()
	defer s.global.RUnlock()

	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		return nil, model.NewStorageError("failed to read data directory", err)
	}

	users := []*model.UserAggregate{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "user_") || !strings.HasSuffix(name, ".json") {
			continue
		}

		events, err := s.readLocked(s.dataDir + string(os.PathSeparator) + name)
		if err != nil {
			return nil, err
		}
		if len(events) == 0 {
			continue
		}

		// ファイル名はサニタイズ済みのため、元のuserIdはイベント本体から取る。
		agg := computeUserAggregate(events[0].UserID, events)
		users = append(users, agg)
	}

	sort.SliceStable(users, func(i, j int) bool {
		return users[i].LastEvent > users[j].LastEvent
	})

	return users, nil
}

// GlobalStats は全イベントを走査してグローバル統計を計算する。
func (s *FileStore) GlobalStats(ctx context.Context) (*model.GlobalStats, error) {
	s.global.RLock()
	defer s.global.RUnlock()

	events, err := s.readLocked(s.eventsPath())
	if err != nil {
		return nil, err
	}

	stats := &model.GlobalStats{EventTypeBreakdown: []model.EventTypeCount{}}
	stats.TotalEvents = int64(len(events))

	users := make(map[string]struct{})
	sessions := make(map[string]struct{})
	typeCounts := make(map[string]int64)

	for _, ev := range events {
		users[ev.UserID] = struct{}{}
		sessions[ev.SessionID] = struct{}{}
		typeCounts[ev.Type]++

		if stats.FirstEventTimestamp == 0 || ev.Timestamp < stats.FirstEventTimestamp {
			stats.FirstEventTimestamp = ev.Timestamp
		}
		if ev.Timestamp > stats.LastEventTimestamp {
			stats.LastEventTimestamp = ev.Timestamp
		}
	}

	stats.TotalUsers = int64(len(users))
	stats.TotalSessions = int64(len(sessions))
	stats.EventTypesCount = int64(len(typeCounts))

	for eventType, count := range typeCounts {
		stats.EventTypeBreakdown = append(stats.EventTypeBreakdown, model.EventTypeCount{
			Type:  eventType,
			Count: count,
		})
	}
	// 件数降順、同数は種別名昇順（決定的な順序）。
	sort.SliceStable(stats.EventTypeBreakdown, func(i, j int) bool {
		a, b := stats.EventTypeBreakdown[i], stats.EventTypeBreakdown[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Type < b.Type
	})

	return stats, nil
}

// DailyStats はclient timestampのUTC日付ごとのイベント数とdistinctユーザー数を返す。
// client timestampを持たないイベントはバケットに含めない。
func (s *FileStore) DailyStats(ctx context.Context) (map[string]model.DailyBucket, error) {
	s.global.RLock()
	defer s.global.RUnlock()

	events, err := s.readLocked(s.eventsPath())
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64)
	dailyUsers := make(map[string]map[string]struct{})

	for _, ev := range events {
		if ev.Timestamp <= 0 {
			continue
		}
		day := time.UnixMilli(ev.Timestamp).UTC().Format("2006-01-02")
		counts[day]++
		if dailyUsers[day] == nil {
			dailyUsers[day] = make(map[string]struct{})
		}
		dailyUsers[day][ev.UserID] = struct{}{}
	}

	daily := map[string]model.DailyBucket{}
	for day, count := range counts {
		daily[day] = model.DailyBucket{
			Events:        count,
			DistinctUsers: int64(len(dailyUsers[day])),
		}
	}

	return daily, nil
}

// computeUserAggregate はイベント集合からユーザー集計を純粋関数として計算する。
func computeUserAggregate(userID string, events []*model.Event) *model.UserAggregate {
	agg := &model.UserAggregate{UserID: userID}
	agg.EventCount = int64(len(events))

	sessions := make(map[string]struct{})
	for _, ev := range events {
		sessions[ev.SessionID] = struct{}{}
		if agg.FirstEvent == 0 || ev.Timestamp < agg.FirstEvent {
			agg.FirstEvent = ev.Timestamp
		}
		if ev.Timestamp > agg.LastEvent {
			agg.LastEvent = ev.Timestamp
		}
	}
	agg.SessionCount = int64(len(sessions))

	return agg
}

// compile-time interface check
var _ AggregateRepository = (*FileStore)(nil)
