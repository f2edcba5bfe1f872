// Package stats は集計統計の読み出しサービスを提供する。
package stats

import (
	"context"

	"github.com/hitoshi/kiroku/internal/model"
	"github.com/hitoshi/kiroku/internal/repository"
)

// UserDetail はユーザーの生イベントと集計をまとめた読み出し結果。
type UserDetail struct {
	UserID string               `json:"userId"`
	Events []*model.Event       `json:"events"`
	Stats  *model.UserAggregate `json:"stats"`
}

// Service は派生統計の読み出しを提供する。
// 出力はすべて生イベント集合から導出され、バックエンドを意識しない。
type Service struct {
	events     repository.EventRepository
	aggregates repository.AggregateRepository
}

// NewService はServiceを生成する。
func NewService(events repository.EventRepository, aggregates repository.AggregateRepository) *Service {
	return &Service{events: events, aggregates: aggregates}
}

// Users は全ユーザーの集計を最終アクティビティ降順で返す。
func (s *Service) Users(ctx context.Context) ([]*model.UserAggregate, error) {
	return s.aggregates.ListUsers(ctx)
}

// User は指定ユーザーの全イベントと集計を返す。
// イベントが存在しない場合はKindNotFoundのエラーを返す。
func (s *Service) User(ctx context.Context, userID string) (*UserDetail, error) {
	events, err := s.events.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	agg, err := s.aggregates.RecomputeUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &UserDetail{
		UserID: userID,
		Events: events,
		Stats:  agg,
	}, nil
}

// Global はグローバル統計を返す。
func (s *Service) Global(ctx context.Context) (*model.GlobalStats, error) {
	return s.aggregates.GlobalStats(ctx)
}

// Daily はUTC日付ごとの統計を返す。
func (s *Service) Daily(ctx context.Context) (map[string]model.DailyBucket, error) {
	return s.aggregates.DailyStats(ctx)
}
