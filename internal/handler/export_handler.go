package handler

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/kiroku/internal/export"
	"github.com/hitoshi/kiroku/internal/model"
)

// ExportSourceInterface はエクスポートハンドラーが必要とするイベント取得インターフェース。
// EventRepositoryがそのまま実装を満たす。
type ExportSourceInterface interface {
	Query(ctx context.Context, filter model.EventFilter) ([]*model.Event, int64, error)
	ListByUser(ctx context.Context, userID string) ([]*model.Event, error)
}

// ExportHandler はエクスポートAPIのHTTPハンドラー。
type ExportHandler struct {
	source ExportSourceInterface
}

// NewExportHandler はExportHandlerを生成する。
func NewExportHandler(source ExportSourceInterface) *ExportHandler {
	return &ExportHandler{source: source}
}

// ExportJSON は全イベントのJSONエクスポートをダウンロードとして返す。
// GET /api/export/json
func (h *ExportHandler) ExportJSON(w http.ResponseWriter, r *http.Request) {
	events, err := h.listAll(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	doc, err := export.ToJSON(events)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeAttachment(w, doc, exportFileName("analytics_export", "json"), "application/json")
}

// ExportCSV は全イベントのCSVエクスポートをダウンロードとして返す。
// GET /api/export/csv
func (h *ExportHandler) ExportCSV(w http.ResponseWriter, r *http.Request) {
	events, err := h.listAll(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	csv := export.ToCSV(events)
	writeAttachment(w, []byte(csv), exportFileName("analytics_export", "csv"), "text/csv; charset=utf-8")
}

// ExportUserJSON は指定ユーザーのイベントのJSONエクスポートを返す。
// GET /api/export/user/{userId}/json
func (h *ExportHandler) ExportUserJSON(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")

	events, err := h.source.ListByUser(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	doc, err := export.ToJSON(events)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeAttachment(w, doc, exportFileName("analytics_export_user_"+userID, "json"), "application/json")
}

// ExportUserCSV は指定ユーザーのイベントのCSVエクスポートを返す。
// GET /api/export/user/{userId}/csv
func (h *ExportHandler) ExportUserCSV(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")

	events, err := h.source.ListByUser(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	csv := export.ToCSV(events)
	writeAttachment(w, []byte(csv), exportFileName("analytics_export_user_"+userID, "csv"), "text/csv; charset=utf-8")
}

// listAll はエクスポート対象の全イベントを取得する。
// ストアの検索インターフェースを上限なし相当のページサイズで呼び出す。
func (h *ExportHandler) listAll(ctx context.Context) ([]*model.Event, error) {
	events, _, err := h.source.Query(ctx, model.EventFilter{Limit: math.MaxInt32})
	return events, err
}

// exportFileName は日付入りのエクスポートファイル名を生成する。
func exportFileName(prefix, ext string) string {
	return fmt.Sprintf("%s_%s.%s", prefix, time.Now().UTC().Format("2006-01-02"), ext)
}

// writeAttachment はContent-Disposition付きのダウンロードレスポンスを書き込む。
func writeAttachment(w http.ResponseWriter, data []byte, filename, contentType string) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
