package handler

import (
	"context"
	"net/http"
)

// BackupServiceInterface はバックアップハンドラーが必要とするインターフェース。
// ファイルバックエンドのBackupManagerがそのまま実装を満たす。
type BackupServiceInterface interface {
	CreateBackup(ctx context.Context) (string, error)
	ListBackups(ctx context.Context) ([]string, error)
}

// BackupHandler はバックアップAPIのHTTPハンドラー。
// ファイルバックエンドの場合のみルーティングに登録される。
type BackupHandler struct {
	service BackupServiceInterface
}

// NewBackupHandler はBackupHandlerを生成する。
func NewBackupHandler(service BackupServiceInterface) *BackupHandler {
	return &BackupHandler{service: service}
}

// CreateBackup は全データファイルのスナップショットを作成する。
// POST /api/backup
func (h *BackupHandler) CreateBackup(w http.ResponseWriter, r *http.Request) {
	name, err := h.service.CreateBackup(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeSuccess(w, map[string]any{"backup": name})
}

// ListBackups は既存バックアップの名前一覧を新しい順で返す。
// GET /api/backups
func (h *BackupHandler) ListBackups(w http.ResponseWriter, r *http.Request) {
	backups, err := h.service.ListBackups(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeSuccess(w, map[string]any{"backups": backups})
}
