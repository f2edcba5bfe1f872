// Package repository はイベントデータ永続化のインターフェースと実装を提供する。
// PostgreSQLバックエンドとファイルバックエンドが同一インターフェースを実装し、
// 上位層（集計サービス・HTTPゲートウェイ）はバックエンドを意識しない。
package repository

import (
	"context"

	"github.com/hitoshi/kiroku/internal/model"
)

// EventRepository はイベント本体の永続化インターフェース。
type EventRepository interface {
	// AppendBatch はイベントのバッチを永続化する。
	// 各イベントにはサーバー側でID（UUID）とserverTimestampを付与し、
	// クライアントが送ってきた値は上書きする。
	// 保存件数と、バッチに含まれていたdistinctなuserIdの一覧を返す。
	AppendBatch(ctx context.Context, events []*model.Event) (int, []string, error)

	// Query はフィルタ条件に合致するイベントをclient timestamp降順で返す。
	// 2番目の戻り値はページネーションに依存しない総マッチ件数。
	// filter.Limitが0以下の場合は空のスライスを返す（総件数は返す）。
	Query(ctx context.Context, filter model.EventFilter) ([]*model.Event, int64, error)

	// ListByUser は指定ユーザーの全イベントをclient timestamp降順で返す。
	// イベントが1件も存在しない場合はKindNotFoundのエラーを返す。
	ListByUser(ctx context.Context, userID string) ([]*model.Event, error)

	// EraseAll は全イベントと派生集計を削除する。バックアップ以外に復元手段はない。
	EraseAll(ctx context.Context) error
}

// AggregateRepository は派生統計の計算・取得インターフェース。
// すべての出力は生イベント集合の純粋関数であり、過去の集計値に依存しない。
type AggregateRepository interface {
	// RecomputeUser は指定ユーザーの集計を全イベントから再計算する。
	// 冪等: 同じイベント集合に対しては常に同じ結果を返す。
	RecomputeUser(ctx context.Context, userID string) (*model.UserAggregate, error)

	// ListUsers は全ユーザーの集計を最終アクティビティ降順で返す。
	ListUsers(ctx context.Context) ([]*model.UserAggregate, error)

	// GlobalStats は全イベントに対するグローバル統計を返す。
	// EventTypeBreakdownは件数降順、同数の場合は種別名昇順で並べる。
	GlobalStats(ctx context.Context) (*model.GlobalStats, error)

	// DailyStats はclient timestampのUTC日付（YYYY-MM-DD）ごとの統計を返す。
	// client timestampを持たないイベントはバケットに含めない。
	DailyStats(ctx context.Context) (map[string]model.DailyBucket, error)
}

// BackupManager はバックアップスナップショットの作成・列挙インターフェース。
// ファイルバックエンドのみが実装する。
type BackupManager interface {
	// CreateBackup は全データファイルのスナップショットを作成し、バックアップ名を返す。
	CreateBackup(ctx context.Context) (string, error)

	// ListBackups は既存バックアップの名前一覧を新しい順で返す。
	ListBackups(ctx context.Context) ([]string, error)
}

// HealthChecker はストレージ接続性の確認インターフェース。
// *sql.DB がそのまま実装を満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}
