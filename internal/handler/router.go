package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/newsdesk/internal/metrics"
	"github.com/hitoshi/newsdesk/internal/middleware"
)

// HealthChecker はヘルスチェックに必要なDB疎通確認のインターフェース。
// *sql.DBがそのまま満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger      *slog.Logger
	RateLimiter *middleware.RateLimiter

	// 監視
	HealthChecker   HealthChecker
	MetricsGatherer prometheus.Gatherer

	// オペレータ管理面
	MappingService   MappingServiceInterface
	FeedURLValidator FeedURLValidatorInterface
	SettingService   SettingServiceInterface
	CommandService   CommandServiceInterface
	SweepService     SweepServiceInterface

	// 記事・キュレーション
	NewsService     NewsServiceInterface
	CurationService CurationServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	LoggingMiddleware → RecoveryMiddleware → RateLimitMiddleware
//
// /health と /metrics はレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewRecoveryMiddleware())

	mappingHandler := NewMappingHandler(deps.MappingService, deps.FeedURLValidator)
	settingHandler := NewSettingHandler(deps.SettingService)
	commandHandler := NewCommandHandler(deps.CommandService)
	newsHandler := NewNewsHandler(deps.NewsService, deps.CurationService)
	headlineHandler := NewHeadlineHandler(deps.CurationService)
	adminHandler := NewAdminHandler(deps.SweepService, deps.CurationService)

	// --- 監視ルート（レート制限の対象外） ---

	r.Get("/health", newHealthHandler(deps.HealthChecker))

	if deps.MetricsGatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.MetricsGatherer))
	}

	// --- APIルート ---
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.Middleware())

		// ソースマッピング管理
		r.Route("/api/mappings", func(r chi.Router) {
			r.Get("/", mappingHandler.ListMappings)
			r.Post("/", mappingHandler.CreateMapping)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", mappingHandler.GetMapping)
				r.Put("/", mappingHandler.UpdateMapping)
				r.Delete("/", mappingHandler.DeleteMapping)
			})
		})

		// ソース設定管理
		r.Route("/api/settings", func(r chi.Router) {
			r.Get("/", settingHandler.ListSettings)

			r.Route("/{source}", func(r chi.Router) {
				r.Get("/", settingHandler.GetSetting)
				r.Put("/", settingHandler.UpsertSetting)
			})
		})

		// コマンドキュー
		r.Route("/api/commands", func(r chi.Router) {
			r.Get("/", commandHandler.ListCommands)
			r.Post("/", commandHandler.SubmitCommand)
			r.Get("/stuck", commandHandler.ListStuckCommands)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", commandHandler.GetCommand)
				r.Post("/resolve", commandHandler.ResolveCommand)
			})
		})

		// 記事の読み出しとキュレーション
		r.Route("/api/news", func(r chi.Router) {
			r.Get("/", newsHandler.ListNews)
			r.Get("/slider", newsHandler.ListSliderNews)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", newsHandler.GetNews)
				r.Delete("/", newsHandler.DeleteNews)
				r.Put("/publish", newsHandler.PublishNews)
				r.Put("/unpublish", newsHandler.UnpublishNews)
				r.Put("/image", newsHandler.SetNewsImage)
				r.Put("/slider", newsHandler.MarkNewsSlider)
				r.Delete("/slider", newsHandler.UnmarkNewsSlider)
			})
		})

		// 見出し枠
		r.Route("/api/headlines", func(r chi.Router) {
			r.Get("/", headlineHandler.ListHeadlines)
			r.Post("/", headlineHandler.AssignHeadline)
			r.Delete("/{id}", headlineHandler.RemoveHeadline)
		})

		// 診断面。マッピングのテレメトリと滞留コマンドの読み出し専用ビュー
		r.Route("/api/diagnostics", func(r chi.Router) {
			r.Get("/mappings", mappingHandler.ListMappings)
			r.Get("/commands/stuck", commandHandler.ListStuckCommands)
		})

		// 修復スイープと一括操作
		r.Route("/api/admin", func(r chi.Router) {
			r.Post("/sweeps/slider-repair", adminHandler.RunSliderRepair)
			r.Post("/sweeps/headline-repair", adminHandler.RunHeadlineRepair)
			r.Post("/sweeps/boilerplate-purge", adminHandler.RunBoilerplatePurge)
			r.Post("/news/slider-bulk", adminHandler.RunSliderBulk)
			r.Post("/settings/reset-auto-publish", adminHandler.ResetAutoPublish)
		})
	})

	return r
}

// newHealthHandler はDB疎通を含むヘルスチェックハンドラーを返す。
func newHealthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		if checker != nil {
			if err := checker.PingContext(ctx); err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				json.NewEncoder(w).Encode(map[string]string{"status": "unhealthy"})
				return
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}
