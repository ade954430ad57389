package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/storyapi/internal/media"
	"github.com/hitoshi/storyapi/internal/middleware"
)

// APIPrefix は旧クライアント向けのパスプレフィックス。同じルートをルート直下にも公開する。
const APIPrefix = "/api/v1"

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	TokenVerifier     middleware.TokenVerifier
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// メトリクス（nilなら計測しない）
	Metrics        MetricsRecorder
	MetricsHandler http.Handler

	// ヘルスチェック
	HealthChecker HealthChecker

	// リソース
	UserService   UserServiceInterface
	FigureService FigureServiceInterface
	StoryService  StoryServiceInterface
	MediaStager   MediaStager
}

// MetricsRecorder はルーターが使うメトリクス記録インターフェース。
type MetricsRecorder interface {
	middleware.RequestRecorder
	middleware.AuthFailureRecorder
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RealIP → CORS → SecurityHeaders → Logging → Metrics → Recovery → (Auth → RateLimit(General))
//
// 認証不要のユーザールート（登録・認証・有効化・パスワード再設定）には認証系のレート制限をかける。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(chimiddleware.RealIP)
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	var authRecorder middleware.AuthFailureRecorder
	if deps.Metrics != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.Metrics))
		authRecorder = deps.Metrics
	}
	r.Use(middleware.NewRecoveryMiddleware())

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteEnvelope(w, r, http.StatusNotFound, middleware.Envelope{
			Status:  http.StatusNotFound,
			Message: "NOT_FOUND",
		})
	})

	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// 認証 → レート制限(ユーザー単位)
	authenticate := middleware.NewAuthMiddleware(deps.TokenVerifier, authRecorder)
	protected := authenticate
	var publicLimit func(http.Handler) http.Handler
	if deps.RateLimiter != nil {
		general := deps.RateLimiter.GeneralMiddleware()
		protected = func(next http.Handler) http.Handler {
			return authenticate(general(next))
		}
		publicLimit = deps.RateLimiter.AuthMiddleware()
	}

	userHandler := NewUserHandler(deps.UserService)
	figureHandler := NewFigureHandler(deps.FigureService)
	storyHandler := NewStoryHandler(deps.StoryService)
	uploadHandler := NewUploadHandler(deps.MediaStager)

	mount := func(r chi.Router) {
		mountUserRoutes(r, userHandler, protected, publicLimit)

		r.Route("/figure", func(r chi.Router) {
			r.Use(protected)
			r.Post("/", figureHandler.Create)
			r.Get("/", figureHandler.Get)
			r.Put("/", figureHandler.Update)
			r.Delete("/", figureHandler.Delete)
			r.Post("/upload", uploadHandler.Upload(media.KindFigure))
			r.Put("/media", figureHandler.AttachMedia)
		})

		r.Route("/story", func(r chi.Router) {
			r.Use(protected)
			r.Post("/", storyHandler.Create)
			r.Get("/", storyHandler.Get)
			r.Put("/", storyHandler.Update)
			r.Delete("/", storyHandler.Delete)
			r.Post("/upload", uploadHandler.Upload(media.KindStory))
			r.Put("/media", storyHandler.AttachMedia)
		})
	}

	mount(r)
	r.Route(APIPrefix, mount)

	return r
}
