package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hitoshi/letterbox/internal/metrics"
	"github.com/hitoshi/letterbox/internal/middleware"
	"github.com/hitoshi/letterbox/internal/security"
	"github.com/prometheus/client_golang/prometheus"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger        *slog.Logger
	SessionFinder middleware.SessionFinder
	RateLimiter   *middleware.RateLimiter
	Cookie        middleware.CookieConfig

	// 監視
	Metrics         metrics.MetricsCollector
	MetricsGatherer prometheus.Gatherer
	HealthChecks    map[string]HealthCheck

	// 認証
	AuthService AuthServiceInterface
	Signer      RedirectSigner
	Sanitizer   security.MessageSanitizer

	// 購読
	SubscriptionService SubscriptionServiceInterface
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Recovery → Logging → SecurityHeaders
//
// /admin/* にはさらに Session → CSRF を適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger, deps.Metrics))
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.Cookie.Secure))

	flash := &flashMessenger{
		service:   deps.AuthService,
		signer:    deps.Signer,
		sanitizer: deps.Sanitizer,
		cookie:    deps.Cookie,
	}
	authHandler := NewAuthHandler(deps.AuthService, flash, deps.Metrics, deps.Cookie)
	adminHandler := NewAdminHandler(deps.AuthService, flash)
	subHandler := NewSubscriptionHandler(deps.SubscriptionService)

	// --- 監視 ---
	r.Method(http.MethodGet, "/health", NewHealthHandler(deps.HealthChecks))
	if deps.MetricsGatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.MetricsGatherer))
	}

	// --- 認証不要のルート ---
	r.Route("/subscriptions", func(r chi.Router) {
		r.With(deps.RateLimiter.SubscribeMiddleware()).Post("/", subHandler.Subscribe)
		r.Get("/confirm", subHandler.Confirm)
	})

	r.Route("/login", func(r chi.Router) {
		r.Use(deps.RateLimiter.LoginMiddleware())
		r.Get("/", authHandler.LoginForm)
		r.Post("/", authHandler.Login)
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session → CSRF
	r.Route("/admin", func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))
		r.Use(middleware.NewCSRFMiddleware(middleware.CSRFConfig{
			CookieSecure: deps.Cookie.Secure,
			CookieDomain: deps.Cookie.Domain,
		}))

		r.Get("/dashboard", adminHandler.Dashboard)
		r.Get("/password", adminHandler.PasswordForm)
		r.Post("/password", adminHandler.ChangePassword)
		r.Post("/logout", authHandler.Logout)
	})

	return r
}
