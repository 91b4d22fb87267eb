package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/appman/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// セッション（SessionManagerはミドルウェアのSessionValidatorを包含する）
	Sessions SessionManager

	// プラットフォームAPI（OAuthClientとOrgPlatformは同一クライアントが実装する）
	OAuth    OAuthClient
	Platform OrgPlatform

	// インメモリ状態
	Users  UserRegistry
	Tokens TokenCache

	// 計測（nilの場合は記録しない）
	Handshakes  HandshakeRecorder
	Validations middleware.ValidationRecorder
	Requests    middleware.RequestRecorder

	// /metrics に公開するハンドラー（nilの場合はルートを生やさない）
	MetricsHandler http.Handler

	// 設定
	BaseURL           string
	CORSAllowedOrigin string

	Logger *slog.Logger
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成した
// chi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Logging → Recovery → CORS → SecurityHeaders
//
// OAuthフロー（/login, /auth/github, /logout）とトップ（/）はセッション
// ミドルウェアの外に配置する。/orgs以下はセッション必須。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger, deps.Requests))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewSecurityHeadersMiddleware())

	authHandler := NewAuthHandler(deps.Sessions, deps.OAuth, deps.Users, deps.Handshakes, AuthHandlerConfig{
		BaseURL: deps.BaseURL,
	})
	orgHandler := NewOrgHandler(deps.Platform, deps.Tokens, deps.Users)

	// --- 認証不要のルート ---

	r.Get("/", authHandler.Home)
	r.Get("/login", authHandler.Login)
	r.Get("/auth/github", authHandler.Callback)
	r.Get("/logout", authHandler.Logout)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- 認証が必要なルート ---

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.Sessions, deps.Validations))

		r.Route("/orgs", func(r chi.Router) {
			r.Get("/", orgHandler.ListOrgs)
			r.Get("/install", orgHandler.Install)

			r.Route("/{orgID}", func(r chi.Router) {
				r.Get("/repos", orgHandler.ListRepos)
				r.Post("/repos", orgHandler.CreateRepo)
			})
		})
	})

	return r
}
