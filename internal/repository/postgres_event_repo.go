package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/hitoshi/kiroku/internal/model"
)

// PostgresEventRepo はPostgreSQLを使用したイベントリポジトリ。
type PostgresEventRepo struct {
	db *sql.DB

	// now はserverTimestamp付与に使用する時刻源。テストで差し替える。
	now func() time.Time
}

// NewPostgresEventRepo はPostgresEventRepoを生成する。
func NewPostgresEventRepo(db *sql.DB) *PostgresEventRepo {
	return &PostgresEventRepo{db: db, now: time.Now}
}

// AppendBatch はイベントのバッチを単一トランザクションで永続化する。
// 1件でもINSERTに失敗した場合はバッチ全体をロールバックする（all-or-nothing）。
func (r *PostgresEventRepo) AppendBatch(ctx context.Context, events []*model.Event) (int, []string, error) {
	if len(events) == 0 {
		return 0, nil, nil
	}

	serverTS := r.now().UnixMilli()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, nil, model.NewStorageError("failed to begin transaction", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO events (id, user_id, session_id, event_type, payload, client_ts, server_ts)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
	)
	if err != nil {
		return 0, nil, model.NewStorageError("failed to prepare insert", err)
	}
	defer stmt.Close()

	seen := make(map[string]struct{})
	var userIDs []string

	for _, ev := range events {
		// サーバー側で採番・付与する。クライアント値は信頼しない。
		ev.ID = uuid.NewString()
		ev.ServerTimestamp = serverTS

		var payload any
		if ev.Data != nil {
			b, err := json.Marshal(ev.Data)
			if err != nil {
				return 0, nil, model.NewStorageError("failed to marshal event payload", err)
			}
			payload = b
		}

		if _, err := stmt.ExecContext(ctx,
			ev.ID, ev.UserID, ev.SessionID, ev.Type, payload, ev.Timestamp, ev.ServerTimestamp,
		); err != nil {
			return 0, nil, model.NewStorageError("failed to insert event", err)
		}

		if _, ok := seen[ev.UserID]; !ok {
			seen[ev.UserID] = struct{}{}
			userIDs = append(userIDs, ev.UserID)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, nil, model.NewStorageError("failed to commit transaction", err)
	}

	return len(events), userIDs, nil
}

// Query はフィルタ条件に合致するイベントをclient timestamp降順で返す。
// 2番目の戻り値はページネーションに依存しない総マッチ件数。
func (r *PostgresEventRepo) Query(ctx context.Context, filter model.EventFilter) ([]*model.Event, int64, error) {
	where, args := buildEventConditions(filter)

	var total int64
	countQuery := `SELECT COUNT(*) FROM events` + where
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, model.NewStorageError("failed to count events", err)
	}

	if filter.Limit <= 0 {
		return []*model.Event{}, total, nil
	}

	query := `SELECT id, user_id, session_id, event_type, payload, client_ts, server_ts FROM events` +
		where +
		` ORDER BY client_ts DESC LIMIT $` + strconv.Itoa(len(args)+1) +
		` OFFSET $` + strconv.Itoa(len(args)+2)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, model.NewStorageError("failed to query events", err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, 0, err
	}

	return events, total, nil
}

// ListByUser は指定ユーザーの全イベントをclient timestamp降順で返す。
// イベントが存在しない場合はKindNotFoundのエラーを返す。
func (r *PostgresEventRepo) ListByUser(ctx context.Context, userID string) ([]*model.Event, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, session_id, event_type, payload, client_ts, server_ts
		 FROM events WHERE user_id = $1 ORDER BY client_ts DESC`,
		userID,
	)
	if err != nil {
		return nil, model.NewStorageError("failed to query user events", err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, model.NewNotFoundError(fmt.Sprintf("no events found for user: %s", userID))
	}

	return events, nil
}

// EraseAll は全イベントと派生集計を単一トランザクションで削除する。
func (r *PostgresEventRepo) EraseAll(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.NewStorageError("failed to begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM events`); err != nil {
		return model.NewStorageError("failed to delete events", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM user_aggregates`); err != nil {
		return model.NewStorageError("failed to delete user aggregates", err)
	}

	if err := tx.Commit(); err != nil {
		return model.NewStorageError("failed to commit transaction", err)
	}

	return nil
}

// buildEventConditions はEventFilterからWHERE句とプレースホルダ引数を構築する。
// ゼロ値のフィールドは条件に含めない。
func buildEventConditions(filter model.EventFilter) (string, []any) {
	var conditions []string
	var args []any

	if filter.UserID != "" {
		args = append(args, filter.UserID)
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		conditions = append(conditions, fmt.Sprintf("event_type = $%d", len(args)))
	}
	if filter.SessionID != "" {
		args = append(args, filter.SessionID)
		conditions = append(conditions, fmt.Sprintf("session_id = $%d", len(args)))
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

// scanEvents はクエリ結果の行をEventスライスに変換する。
func scanEvents(rows *sql.Rows) ([]*model.Event, error) {
	events := []*model.Event{}
	for rows.Next() {
		ev := &model.Event{}
		var payload []byte
		if err := rows.Scan(
			&ev.ID, &ev.UserID, &ev.SessionID, &ev.Type, &payload, &ev.Timestamp, &ev.ServerTimestamp,
		); err != nil {
			return nil, model.NewStorageError("failed to scan event row", err)
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &ev.Data); err != nil {
				return nil, model.NewStorageError("failed to unmarshal event payload", err)
			}
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, model.NewStorageError("failed to iterate event rows", err)
	}
	return events, nil
}

// compile-time interface check
var _ EventRepository = (*PostgresEventRepo)(nil)
