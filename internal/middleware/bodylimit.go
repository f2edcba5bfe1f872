package middleware

import (
	"net/http"

	"github.com/goccy/go-json"
)

// NewBodyLimitMiddleware はリクエストボディのサイズを制限するミドルウェアを返す。
// Content-Lengthが上限を超える場合は413を即座に返し、
// それ以外はMaxBytesReaderでストリーム読み込み時にも上限を強制する。
func NewBodyLimitMiddleware(maxBytes int64) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusRequestEntityTooLarge)
				json.NewEncoder(w).Encode(map[string]any{
					"success": false,
					"error":   "request body too large",
				})
				return
			}

			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
