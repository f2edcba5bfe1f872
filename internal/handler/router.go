package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/kiroku/internal/metrics"
	"github.com/hitoshi/kiroku/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger    *slog.Logger
	Collector metrics.MetricsCollector
	Gatherer  prometheus.Gatherer

	// ミドルウェア設定
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	MaxBodyBytes      int64
	RequestTimeout    time.Duration

	// サービス
	IngestService IngestServiceInterface
	StatsService  StatsServiceInterface
	EventService  EventQueryService
	ExportSource  ExportSourceInterface

	// BackupService はファイルバックエンドの場合のみ設定する。
	// nilの場合、バックアップルートは登録されない（404）。
	BackupService BackupServiceInterface

	HealthHandler *HealthHandler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	CORS → SecurityHeaders → Logging → Recovery → Timeout → BodyLimit
//
// レート制限はルートグループごとに適用する（取り込みは専用バケット）。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	// CORS ミドルウェアを最上位に適用（全ルートに効く）
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger, deps.Collector))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewTimeoutMiddleware(deps.RequestTimeout))
	r.Use(middleware.NewBodyLimitMiddleware(deps.MaxBodyBytes))

	analyticsHandler := NewAnalyticsHandler(deps.IngestService, deps.StatsService, deps.EventService)
	exportHandler := NewExportHandler(deps.ExportSource)

	// ヘルスチェックとメトリクスはレート制限の外に置く
	r.Get("/health", deps.HealthHandler.Check)
	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	// 取り込みは専用レート制限バケットを使用する
	r.With(deps.RateLimiter.IngestMiddleware()).
		Post("/api/analytics/events/bulk", analyticsHandler.BulkIngest)

	// 読み出し・管理系はAPI全般のレート制限を使用する
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/api/analytics", func(r chi.Router) {
			r.Get("/users", analyticsHandler.ListUsers)
			r.Get("/users/{userId}", analyticsHandler.GetUser)
			r.Get("/events", analyticsHandler.ListEvents)
			r.Get("/stats", analyticsHandler.GlobalStats)
			r.Get("/stats/daily", analyticsHandler.DailyStats)
			r.Post("/reset", analyticsHandler.Reset)
		})

		r.Route("/api/export", func(r chi.Router) {
			r.Get("/json", exportHandler.ExportJSON)
			r.Get("/csv", exportHandler.ExportCSV)
			r.Get("/user/{userId}/json", exportHandler.ExportUserJSON)
			r.Get("/user/{userId}/csv", exportHandler.ExportUserCSV)
		})

		// バックアップはファイルバックエンドのみ
		if deps.BackupService != nil {
			backupHandler := NewBackupHandler(deps.BackupService)
			r.Post("/api/backup", backupHandler.CreateBackup)
			r.Get("/api/backups", backupHandler.ListBackups)
		}
	})

	return r
}
