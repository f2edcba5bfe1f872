// Package handler はHTTP APIのハンドラーとルーティングを提供する。
package handler

import (
	"log/slog"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/hitoshi/kiroku/internal/model"
)

// writeJSON は任意のペイロードをJSONとして書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(payload)
}

// writeSuccess は成功エンベロープ（success:true + ペイロード固有キー）を書き込む。
func writeSuccess(w http.ResponseWriter, fields map[string]any) {
	body := map[string]any{"success": true}
	for key, value := range fields {
		body[key] = value
	}
	writeJSON(w, http.StatusOK, body)
}

// writeError はエラーエンベロープ（success:false + error文字列）を書き込む。
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]any{
		"success": false,
		"error":   message,
	})
}

// handleServiceError はサービス層のエラーをHTTPステータスとエンベロープに変換する。
// ストレージエラーの詳細はログのみに記録し、クライアントには漏らさない。
func handleServiceError(w http.ResponseWriter, err error) {
	switch model.KindOf(err) {
	case model.KindInvalidInput:
		writeError(w, http.StatusBadRequest, err.Error())
	case model.KindNotFound:
		writeError(w, http.StatusNotFound, err.Error())
	default:
		slog.Error("storage operation failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "storage operation failed")
	}
}
