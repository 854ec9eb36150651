package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/kizuna/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger             *slog.Logger
	CORSAllowedOrigins []string
	CredentialSecret   []byte
	RateLimiter        *middleware.RateLimiter

	// 運用エンドポイント
	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	// ドメイン
	UserService        UserServiceInterface
	PostService        PostServiceInterface
	HelpRequestService HelpRequestServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → Credential → RateLimit
//
// /health と /metrics は認証の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigins))

	healthHandler := NewHealthHandler(deps.HealthChecker)
	userHandler := NewUserHandler(deps.UserService)
	postHandler := NewPostHandler(deps.PostService)
	helpHandler := NewHelpRequestHandler(deps.HelpRequestService)

	// --- 認証不要のルート ---
	r.Get("/health", healthHandler.Check)
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// --- 認証が必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewCredentialMiddleware(deps.CredentialSecret))
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.Middleware())
		}

		r.Get("/api/users", userHandler.ListUsers)

		r.Route("/api/posts", func(r chi.Router) {
			r.Get("/", postHandler.ListPosts)
			r.Post("/", postHandler.CreatePost)
			r.Patch("/{id}", postHandler.UpdatePost)
			r.Delete("/{id}", postHandler.DeletePost)
		})

		r.Route("/api/help-requests", func(r chi.Router) {
			r.Get("/", helpHandler.ListHelpRequests)
			r.Post("/", helpHandler.CreateHelpRequest)

			r.Route("/{id}", func(r chi.Router) {
				r.Patch("/", helpHandler.UpdateHelpRequest)
				r.Delete("/", helpHandler.DeleteHelpRequest)
				r.Post("/resolve", helpHandler.ResolveHelpRequest)
			})
		})
	})

	return r
}
