package handler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/hitoshi/kiroku/internal/model"
	"github.com/hitoshi/kiroku/internal/stats"
)

// defaultEventsPerPage はイベント一覧の1回の取得件数（デフォルト）。
const defaultEventsPerPage = 100

// IngestServiceInterface は取り込みハンドラーが必要とするサービスインターフェース。
type IngestServiceInterface interface {
	// IngestBatch はイベントのバッチを永続化し、保存件数を返す。
	IngestBatch(ctx context.Context, events []*model.Event) (int, error)
}

// StatsServiceInterface は統計ハンドラーが必要とするサービスインターフェース。
type StatsServiceInterface interface {
	Users(ctx context.Context) ([]*model.UserAggregate, error)
	User(ctx context.Context, userID string) (*stats.UserDetail, error)
	Global(ctx context.Context) (*model.GlobalStats, error)
	Daily(ctx context.Context) (map[string]model.DailyBucket, error)
}

// EventQueryService はイベント検索と全消去のインターフェース。
// EventRepositoryがそのまま実装を満たす。
type EventQueryService interface {
	Query(ctx context.Context, filter model.EventFilter) ([]*model.Event, int64, error)
	EraseAll(ctx context.Context) error
}

// AnalyticsHandler は分析APIのHTTPハンドラー。
type AnalyticsHandler struct {
	ingest IngestServiceInterface
	stats  StatsServiceInterface
	events EventQueryService
}

// NewAnalyticsHandler はAnalyticsHandlerを生成する。
func NewAnalyticsHandler(ingest IngestServiceInterface, statsService StatsServiceInterface, events EventQueryService) *AnalyticsHandler {
	return &AnalyticsHandler{
		ingest: ingest,
		stats:  statsService,
		events: events,
	}
}

// BulkIngest はイベントのバッチを受け付ける。
// POST /api/analytics/events/bulk
// ボディはイベントオブジェクトのJSON配列でなければならない（400）。
func (h *AnalyticsHandler) BulkIngest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	// JSONのnullはスライスへのUnmarshalが成功してしまうため、
	// 配列リテラルであることを先頭バイトで確認する。
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	if len(trimmed) == 0 || trimmed[0] != '[' {
		writeError(w, http.StatusBadRequest, "events payload must be a JSON array")
		return
	}

	var events []*model.Event
	if err := json.Unmarshal(trimmed, &events); err != nil {
		writeError(w, http.StatusBadRequest, "events payload must be a JSON array")
		return
	}

	stored, err := h.ingest.IngestBatch(r.Context(), events)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeSuccess(w, map[string]any{
		"message": fmt.Sprintf("stored %d events", stored),
	})
}

// ListUsers は全ユーザーの集計を最終アクティビティ降順で返す。
// GET /api/analytics/users
func (h *AnalyticsHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.stats.Users(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeSuccess(w, map[string]any{"users": users})
}

// GetUser は指定ユーザーの全イベントと集計を返す。
// GET /api/analytics/users/{userId}
func (h *AnalyticsHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")

	detail, err := h.stats.User(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeSuccess(w, map[string]any{"user": detail})
}

// ListEvents はフィルタ・ページネーション付きのイベント一覧を返す。
// GET /api/analytics/events?userId=&eventType=&sessionId=&limit=&offset=
// totalはページサイズではなく総マッチ件数を返す。
func (h *AnalyticsHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := model.EventFilter{
		UserID:    q.Get("userId"),
		Type:      q.Get("eventType"),
		SessionID: q.Get("sessionId"),
		Limit:     parseIntParam(q.Get("limit"), defaultEventsPerPage),
		Offset:    parseIntParam(q.Get("offset"), 0),
	}

	events, total, err := h.events.Query(r.Context(), filter)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeSuccess(w, map[string]any{
		"events": events,
		"total":  total,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// GlobalStats はグローバル統計を返す。
// GET /api/analytics/stats
func (h *AnalyticsHandler) GlobalStats(w http.ResponseWriter, r *http.Request) {
	global, err := h.stats.Global(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeSuccess(w, map[string]any{"stats": global})
}

// DailyStats はUTC日付ごとの統計を返す。
// GET /api/analytics/stats/daily
func (h *AnalyticsHandler) DailyStats(w http.ResponseWriter, r *http.Request) {
	daily, err := h.stats.Daily(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeSuccess(w, map[string]any{"daily": daily})
}

// Reset は全イベントと派生集計を削除する。バックアップ以外に復元手段はない。
// POST /api/analytics/reset
func (h *AnalyticsHandler) Reset(w http.ResponseWriter, r *http.Request) {
	if err := h.events.EraseAll(r.Context()); err != nil {
		handleServiceError(w, err)
		return
	}

	writeSuccess(w, map[string]any{
		"message": "all analytics data erased",
	})
}

// parseIntParam はクエリパラメータを非負整数として解釈する。
// 未指定・解釈不能・負値の場合はデフォルト値を返す。
// "0"は明示的な指定として0を返す（limit=0は空の結果を意味する）。
func parseIntParam(value string, defaultVal int) int {
	if value == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return defaultVal
	}
	return n
}
