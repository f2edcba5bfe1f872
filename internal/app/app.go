// Package app はアプリケーションの初期化と起動モードの制御を提供する。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/kiroku/internal/backup"
	"github.com/hitoshi/kiroku/internal/config"
	"github.com/hitoshi/kiroku/internal/database"
	"github.com/hitoshi/kiroku/internal/handler"
	"github.com/hitoshi/kiroku/internal/ingest"
	"github.com/hitoshi/kiroku/internal/logger"
	"github.com/hitoshi/kiroku/internal/metrics"
	"github.com/hitoshi/kiroku/internal/middleware"
	"github.com/hitoshi/kiroku/internal/repository"
	"github.com/hitoshi/kiroku/internal/stats"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("storage_backend", string(cfg.StorageBackend)),
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandBackup:
		return runBackup(cfg)
	default:
		return runServe(cfg)
	}
}

// storageDeps はバックエンドごとに組み立てたストレージ依存関係を保持する。
type storageDeps struct {
	events     repository.EventRepository
	aggregates repository.AggregateRepository
	health     repository.HealthChecker
	// backups はファイルバックエンドのみ設定される。
	backups repository.BackupManager
	close   func() error
}

// buildStorage は設定に応じたストレージバックエンドを組み立てる。
// 起動時に接続性プローブを1回実行する。
func buildStorage(ctx context.Context, cfg *config.Config) (*storageDeps, error) {
	switch cfg.StorageBackend {
	case config.BackendPostgres:
		db, err := database.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		slog.Info("database connection established")

		return &storageDeps{
			events:     repository.NewPostgresEventRepo(db),
			aggregates: repository.NewPostgresAggregateRepo(db),
			health:     db,
			close:      db.Close,
		}, nil

	default:
		store, err := repository.NewFileStore(cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("failed to open file store: %w", err)
		}
		if err := store.PingContext(ctx); err != nil {
			return nil, fmt.Errorf("data directory is not usable: %w", err)
		}
		slog.Info("file store opened", slog.String("data_dir", cfg.DataDir))

		return &storageDeps{
			events:     store,
			aggregates: store,
			health:     store,
			backups:    store,
			close:      func() error { return nil },
		}, nil
	}
}

// runServe はAPIサーバーモードで起動する。
// ストレージを開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. ストレージの初期化
	storage, err := buildStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer storage.close()

	// 2. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 3. ドメインサービスの初期化
	ingestService := ingest.NewService(storage.events, storage.aggregates, collector, slog.Default())
	statsService := stats.NewService(storage.events, storage.aggregates)

	// 4. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitIngest),
	)
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		Logger:    slog.Default(),
		Collector: collector,
		Gatherer:  registry,

		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		MaxBodyBytes:      cfg.MaxBodyBytes,
		RequestTimeout:    cfg.RequestTimeout,

		IngestService: ingestService,
		StatsService:  statsService,
		EventService:  storage.events,
		ExportSource:  storage.events,

		HealthHandler: handler.NewHealthHandler(storage.health, string(cfg.StorageBackend)),
	}
	if storage.backups != nil {
		deps.BackupService = storage.backups
	}

	router := handler.NewRouter(deps)

	// 5. 定期バックアップの起動（fileバックエンドかつ間隔指定時のみ）
	if storage.backups != nil && cfg.BackupInterval > 0 {
		scheduler := backup.NewScheduler(storage.backups, slog.Default(), cfg.BackupInterval)
		go scheduler.Start(ctx)
	}

	// 6. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// postgresバックエンドでのみ意味を持つ。
func runMigrate(cfg *config.Config) error {
	if cfg.StorageBackend != config.BackendPostgres {
		return fmt.Errorf("migrate command requires STORAGE_BACKEND=postgres")
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runBackup はバックアップスナップショットを1回作成する。
// fileバックエンドでのみ意味を持つ。
func runBackup(cfg *config.Config) error {
	if cfg.StorageBackend != config.BackendFile {
		return fmt.Errorf("backup command requires STORAGE_BACKEND=file")
	}

	store, err := repository.NewFileStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open file store: %w", err)
	}

	job := backup.NewScheduler(store, slog.Default(), 0)
	return job.Run(context.Background())
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
