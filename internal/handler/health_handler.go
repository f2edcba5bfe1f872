package handler

import (
	"log/slog"
	"net/http"

	"github.com/hitoshi/kiroku/internal/repository"
)

// HealthHandler はヘルスチェックのHTTPハンドラー。
// ストレージ接続性を確認し、liveness/readinessプローブとして機能する。
type HealthHandler struct {
	checker repository.HealthChecker
	backend string
}

// NewHealthHandler はHealthHandlerを生成する。
// backendにはレスポンスに含めるストレージバックエンド名を指定する。
func NewHealthHandler(checker repository.HealthChecker, backend string) *HealthHandler {
	return &HealthHandler{checker: checker, backend: backend}
}

// Check はストレージ接続性を確認して結果を返す。
// GET /health
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	if err := h.checker.PingContext(r.Context()); err != nil {
		slog.Error("health check failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"success": false,
			"error":   "storage is not reachable",
		})
		return
	}

	writeSuccess(w, map[string]any{
		"status":  "ok",
		"storage": h.backend,
	})
}
