package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/storefront/internal/middleware"
	"github.com/hitoshi/storefront/internal/model"
)

// SessionGate はセッション検証・ロール認可・メール確認チェックをまとめたインターフェース。
// auth.Service が実装する。
type SessionGate interface {
	middleware.Authenticator
	middleware.RoleAuthorizer
	middleware.VerificationChecker
}

// HealthChecker はDB接続の疎通確認を行うインターフェース。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Gate                 SessionGate
	CORSAllowedOrigin    string
	CSRFConfig           middleware.CSRFConfig
	RateLimiter          *middleware.RateLimiter
	RequireEmailVerified bool
	HSTS                 bool
	Logger               *slog.Logger
	StatusRecorder       middleware.StatusRecorder

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// ユーザー
	UserService UserServiceInterface

	// 運用
	HealthChecker  HealthChecker
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RealIP → Logging → Recovery → SecurityHeaders → CORS
//
// 認証が必要なルートでは、さらに Session → CSRF → RateLimit(General) を適用する。
// 資格情報を扱うルートにはクライアントIP単位の RateLimit(Auth) を適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.NewLoggingMiddleware(logger, deps.StatusRecorder))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.HSTS))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	userHandler := NewUserHandler(deps.UserService)

	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Method(http.MethodGet, "/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))

		r.Route("/users", func(r chi.Router) {
			// --- 認証不要のルート ---
			r.Group(func(r chi.Router) {
				r.Use(deps.RateLimiter.AuthMiddleware())

				r.Post("/signup", authHandler.SignUp)
				r.Post("/login", authHandler.Login)
				r.Post("/forgotPassword", authHandler.ForgotPassword)
				r.Patch("/resetPassword/{token}", authHandler.ResetPassword)
				r.Patch("/verifyEmail/{token}", authHandler.VerifyEmail)
			})
			r.Post("/logout", authHandler.Logout)

			// --- 認証が必要なルート ---
			r.Group(func(r chi.Router) {
				r.Use(middleware.NewSessionMiddleware(deps.Gate))
				r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))
				r.Use(deps.RateLimiter.GeneralMiddleware())

				r.Patch("/regenerateEmailToken", authHandler.RegenerateEmailToken)
				r.Patch("/updatePassword", authHandler.UpdatePassword)
				r.Get("/me", userHandler.Me)
				r.Delete("/deleteUser", userHandler.DeleteUser)

				r.With(middleware.NewRequireVerifiedEmailMiddleware(deps.Gate, deps.RequireEmailVerified)).
					Patch("/updateUser", userHandler.UpdateUser)

				// 管理者のみ
				r.Group(func(r chi.Router) {
					r.Use(middleware.NewRestrictToMiddleware(deps.Gate, model.RoleAdmin))

					r.Get("/", userHandler.ListUsers)
					r.Get("/{id}", userHandler.GetUser)
				})
			})
		})
	})

	return r
}

// healthHandler はDB疎通を確認して稼働状況を返す。
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			if err := checker.PingContext(r.Context()); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
