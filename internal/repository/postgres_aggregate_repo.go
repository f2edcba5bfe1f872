package repository

import (
	"context"
	"database/sql"

	"github.com/hitoshi/kiroku/internal/model"
)

// PostgresAggregateRepo はPostgreSQLを使用した派生統計リポジトリ。
// ユーザー集計はuser_aggregatesテーブルにキャッシュし、
// グローバル統計・日次統計はイベントテーブルのSQL集計で都度計算する。
type PostgresAggregateRepo struct {
	db *sql.DB
}

// NewPostgresAggregateRepo はPostgresAggregateRepoを生成する。
func NewPostgresAggregateRepo(db *sql.DB) *PostgresAggregateRepo {
	return &PostgresAggregateRepo{db: db}
}

// RecomputeUser は指定ユーザーの集計を全イベントから再計算しUPSERTする。
// INSERT ... SELECT ... ON CONFLICT の単一文で実行するため、
// 部分的に更新された集計が観測されることはない。
func (r *PostgresAggregateRepo) RecomputeUser(ctx context.Context, userID string) (*model.UserAggregate, error) {
	agg := &model.UserAggregate{}
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO user_aggregates (user_id, event_count, first_event, last_event, session_count, updated_at)
		 SELECT $1::text,
		        COUNT(*),
		        COALESCE(MIN(client_ts), 0),
		        COALESCE(MAX(client_ts), 0),
		        COUNT(DISTINCT session_id),
		        now()
		 FROM events WHERE user_id = $1
		 ON CONFLICT (user_id) DO UPDATE SET
		   event_count = EXCLUDED.event_count,
		   first_event = EXCLUDED.first_event,
		   last_event = EXCLUDED.last_event,
		   session_count = EXCLUDED.session_count,
		   updated_at = EXCLUDED.updated_at
		 RETURNING user_id, event_count, first_event, last_event, session_count, updated_at`,
		userID,
	).Scan(&agg.UserID, &agg.EventCount, &agg.FirstEvent, &agg.LastEvent, &agg.SessionCount, &agg.UpdatedAt)
	if err != nil {
		return nil, model.NewStorageError("failed to recompute user aggregate", err)
	}

	return agg, nil
}

// ListUsers は全ユーザーの集計を最終アクティビティ降順で返す。
func (r *PostgresAggregateRepo) ListUsers(ctx context.Context) ([]*model.UserAggregate, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id, event_count, first_event, last_event, session_count, updated_at
		 FROM user_aggregates ORDER BY last_event DESC`,
	)
	if err != nil {
		return nil, model.NewStorageError("failed to list user aggregates", err)
	}
	defer rows.Close()

	users := []*model.UserAggregate{}
	for rows.Next() {
		agg := &model.UserAggregate{}
		if err := rows.Scan(
			&agg.UserID, &agg.EventCount, &agg.FirstEvent, &agg.LastEvent, &agg.SessionCount, &agg.UpdatedAt,
		); err != nil {
			return nil, model.NewStorageError("failed to scan user aggregate row", err)
		}
		users = append(users, agg)
	}
	if err := rows.Err(); err != nil {
		return nil, model.NewStorageError("failed to iterate user aggregate rows", err)
	}

	return users, nil
}

// GlobalStats は全イベントに対するグローバル統計をSQL集計で計算する。
func (r *PostgresAggregateRepo) GlobalStats(ctx context.Context) (*model.GlobalStats, error) {
	stats := &model.GlobalStats{}
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COUNT(DISTINCT user_id),
		        COUNT(DISTINCT session_id),
		        COUNT(DISTINCT event_type),
		        COALESCE(MIN(client_ts), 0),
		        COALESCE(MAX(client_ts), 0)
		 FROM events`,
	).Scan(
		&stats.TotalEvents, &stats.TotalUsers, &stats.TotalSessions,
		&stats.EventTypesCount, &stats.FirstEventTimestamp, &stats.LastEventTimestamp,
	)
	if err != nil {
		return nil, model.NewStorageError("failed to compute global stats", err)
	}

	// 種別内訳: 件数降順、同数は種別名昇順（決定的な順序）。
	rows, err := r.db.QueryContext(ctx,
		`SELECT event_type, COUNT(*) FROM events
		 GROUP BY event_type ORDER BY COUNT(*) DESC, event_type ASC`,
	)
	if err != nil {
		return nil, model.NewStorageError("failed to compute event type breakdown", err)
	}
	defer rows.Close()

	stats.EventTypeBreakdown = []model.EventTypeCount{}
	for rows.Next() {
		var tc model.EventTypeCount
		if err := rows.Scan(&tc.Type, &tc.Count); err != nil {
			return nil, model.NewStorageError("failed to scan event type row", err)
		}
		stats.EventTypeBreakdown = append(stats.EventTypeBreakdown, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, model.NewStorageError("failed to iterate event type rows", err)
	}

	return stats, nil
}

// DailyStats はclient timestampのUTC日付ごとのイベント数とdistinctユーザー数を返す。
// client timestampを持たないイベント（client_ts = 0）は除外する。
func (r *PostgresAggregateRepo) DailyStats(ctx context.Context) (map[string]model.DailyBucket, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT to_char(to_timestamp(client_ts / 1000.0) AT TIME ZONE 'UTC', 'YYYY-MM-DD') AS day,
		        COUNT(*),
		        COUNT(DISTINCT user_id)
		 FROM events WHERE client_ts > 0
		 GROUP BY day ORDER BY day`,
	)
	if err != nil {
		return nil, model.NewStorageError("failed to compute daily stats", err)
	}
	defer rows.Close()

	daily := map[string]model.DailyBucket{}
	for rows.Next() {
		var day string
		var bucket model.DailyBucket
		if err := rows.Scan(&day, &bucket.Events, &bucket.DistinctUsers); err != nil {
			return nil, model.NewStorageError("failed to scan daily stats row", err)
		}
		daily[day] = bucket
	}
	if err := rows.Err(); err != nil {
		return nil, model.NewStorageError("failed to iterate daily stats rows", err)
	}

	return daily, nil
}

// compile-time interface check
var _ AggregateRepository = (*PostgresAggregateRepo)(nil)
