// Package app はアプリケーションの起動とワイヤリングを提供する。
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
	"golang.org/x/time/rate"

	"github.com/hitoshi/newsdesk/internal/category"
	"github.com/hitoshi/newsdesk/internal/command"
	"github.com/hitoshi/newsdesk/internal/config"
	"github.com/hitoshi/newsdesk/internal/curation"
	"github.com/hitoshi/newsdesk/internal/database"
	"github.com/hitoshi/newsdesk/internal/handler"
	"github.com/hitoshi/newsdesk/internal/ingest"
	"github.com/hitoshi/newsdesk/internal/logger"
	"github.com/hitoshi/newsdesk/internal/metrics"
	"github.com/hitoshi/newsdesk/internal/middleware"
	"github.com/hitoshi/newsdesk/internal/repository"
	"github.com/hitoshi/newsdesk/internal/security"
	"github.com/hitoshi/newsdesk/internal/worker/fetch"
	"github.com/hitoshi/newsdesk/internal/worker/sweep"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 設定読み込み前にログを使えるようにする
	logger.SetupDefault(w)

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
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// リポジトリの初期化
	mappingRepo := repository.NewPostgresMappingRepo(db)
	settingRepo := repository.NewPostgresSettingRepo(db)
	newsRepo := repository.NewPostgresNewsRepo(db)
	headlineRepo := repository.NewPostgresHeadlineRepo(db)
	commandRepo := repository.NewPostgresCommandRepo(db)

	// ドメインサービスの初期化
	curationEngine := curation.NewEngine(newsRepo, headlineRepo, settingRepo)
	commandSvc := command.NewService(commandRepo, cfg.StuckCommandTimeout)
	sweeper := sweep.NewSweeper(newsRepo, headlineRepo, settingRepo, slog.Default())

	// レート制限の初期化
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	if cfg.RateLimitPerSecond > 0 {
		rateLimiterCfg.Rate = rate.Limit(cfg.RateLimitPerSecond)
	}
	if cfg.RateLimitBurst > 0 {
		rateLimiterCfg.Burst = cfg.RateLimitBurst
	}
	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:          slog.Default(),
		RateLimiter:     rateLimiter,
		HealthChecker:   db,
		MetricsGatherer: prometheus.NewRegistry(),

		MappingService:   mappingRepo,
		FeedURLValidator: security.NewSSRFGuard(),
		SettingService:   settingRepo,
		CommandService:   commandSvc,
		SweepService:     sweeper,

		NewsService:     newsRepo,
		CurationService: curationEngine,
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
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

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はフェッチワーカーモードで起動する。
// DB接続を開き、フェッチスケジューラと修復スイープを起動する。
// メトリクスとヘルスチェックは同一ポートのHTTPサーバーで提供する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// リポジトリの初期化
	mappingRepo := repository.NewPostgresMappingRepo(db)
	settingRepo := repository.NewPostgresSettingRepo(db)
	newsRepo := repository.NewPostgresNewsRepo(db)
	headlineRepo := repository.NewPostgresHeadlineRepo(db)
	commandRepo := repository.NewPostgresCommandRepo(db)

	// セキュリティサービスの初期化
	ssrfGuard := security.NewSSRFGuard()
	sanitizer := security.NewContentSanitizer()

	// 取り込みパイプラインの初期化
	resolver := category.NewResolver(mappingRepo)
	quality := ingest.NewQualityFilter(settingRepo)
	curationEngine := curation.NewEngine(newsRepo, headlineRepo, settingRepo)
	ingestSvc := ingest.NewService(newsRepo, resolver, quality, curationEngine, sanitizer)

	commandSvc := command.NewService(commandRepo, cfg.StuckCommandTimeout)
	sweeper := sweep.NewSweeper(newsRepo, headlineRepo, settingRepo, slog.Default())

	// メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// フェッチャーとスケジューラの初期化
	fetcher := fetch.NewFetcher(ssrfGuard, slog.Default(), cfg.FetchTimeout, cfg.FetchMaxSize)
	scheduler := fetch.NewScheduler(
		mappingRepo, fetcher, ingestSvc, commandSvc, sweeper, collector,
		slog.Default(), cfg.FetchMaxConcurrent,
		cfg.MappingRefreshInterval, cfg.CommandPollInterval,
	)

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Int("max_concurrent", cfg.FetchMaxConcurrent),
		slog.Duration("refresh_interval", cfg.MappingRefreshInterval),
		slog.Duration("poll_interval", cfg.CommandPollInterval),
	)

	// メトリクスとヘルスチェック用のHTTPサーバーをバックグラウンドで起動
	metricsServer := newWorkerMetricsServer(cfg.ServerPort, registry, db)
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server listen error", slog.String("error", err.Error()))
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		metricsServer.Shutdown(shutdownCtx)
	}()

	// 日次の修復スイープをバックグラウンドで起動
	go sweeper.Start(ctx, cfg.SweepInterval)

	// フェッチスケジューラをメインgoroutineで実行（ブロッキング）
	scheduler.Start(ctx)

	slog.Info("worker stopped gracefully")
	return nil
}

// newWorkerMetricsServer はワーカー用の/metricsと/healthを提供するHTTPサーバーを返す。
func newWorkerMetricsServer(port string, gatherer prometheus.Gatherer, db handler.HealthChecker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(gatherer))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	return &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
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
