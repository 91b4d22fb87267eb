// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/appman/internal/middleware"
	"github.com/hitoshi/appman/internal/model"
	"github.com/hitoshi/appman/internal/session"
)

// SessionManager は認証ハンドラーが必要とするセッション操作のインターフェース。
// session.Storeの部分集合として定義する。
type SessionManager interface {
	Generate() (string, error)
	Bind(id string, userID int64) error
	Unbind(id string)
	LookupUser(id string) (int64, bool)
	Mark(id string) string
	Validate(r *http.Request) (string, bool)
	SetIDCookie(w http.ResponseWriter, id string)
	SetMarkCookie(w http.ResponseWriter, mark string)
	ClearCookies(w http.ResponseWriter)
}

// OAuthClient はOAuthハンドシェイクに必要なプラットフォーム操作のインターフェース。
type OAuthClient interface {
	// LoginURL は認可URLを生成する。stateにはセッション識別子を渡す。
	LoginURL(state string) string
	// ExchangeCode は認可コードを委任アクセストークンに交換する。
	ExchangeCode(ctx context.Context, code, state string) (string, error)
	// FetchUser は委任トークンでユーザーのログイン名と数値IDを取得する。
	FetchUser(ctx context.Context, accessToken string) (string, int64, error)
}

// UserRegistry は認証済みユーザーの登録・参照インターフェース。
type UserRegistry interface {
	Upsert(id int64, login, accessToken string)
	Get(id int64) (model.User, bool)
}

// HandshakeRecorder はOAuthハンドシェイクの結果を記録するインターフェース。
type HandshakeRecorder interface {
	RecordHandshake(outcome string)
}

// noopHandshakeRecorder は何も記録しないHandshakeRecorder実装。
type noopHandshakeRecorder struct{}

func (noopHandshakeRecorder) RecordHandshake(outcome string) {}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	// BaseURL はハンドシェイク完了後のリダイレクト先。
	BaseURL string
}

// AuthHandler はOAuth認証関連のHTTPハンドラー。
type AuthHandler struct {
	sessions SessionManager
	platform OAuthClient
	users    UserRegistry
	recorder HandshakeRecorder
	config   AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。recorderがnilの場合は記録しない。
func NewAuthHandler(sessions SessionManager, platform OAuthClient, users UserRegistry, recorder HandshakeRecorder, config AuthHandlerConfig) *AuthHandler {
	if recorder == nil {
		recorder = noopHandshakeRecorder{}
	}
	return &AuthHandler{
		sessions: sessions,
		platform: platform,
		users:    users,
		recorder: recorder,
		config:   config,
	}
}

// Login はOAuthフローを開始する。
// GET /login
//
// 新しいセッション識別子を発行して識別子Cookieに設定し、その識別子を
// stateパラメータとして認可URLへリダイレクトする。stateとCookieが
// 同一値であることが、コールバック時のCSRF照合の根拠になる。
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	id, err := h.sessions.Generate()
	if err != nil {
		slog.Error("failed to generate session identifier", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	h.sessions.SetIDCookie(w, id)
	http.Redirect(w, r, h.platform.LoginURL(id), http.StatusTemporaryRedirect)
}

// Callback はOAuthコールバックを処理する。
// GET /auth/github?code=xxx&state=yyy
//
// stateパラメータと識別子Cookieの一致を検証し、認可コードを委任トークンに
// 交換してユーザーを特定し、セッションにユーザーを紐付けてマークCookieを
// 発行する。state不一致はリトライせず必ず拒否する。
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	// 1. stateと識別子Cookieの照合（CSRF/リプレイ対策）
	state := r.URL.Query().Get("state")
	idCookie, err := r.Cookie(session.IDCookieName)
	if err != nil || idCookie.Value == "" || state == "" || idCookie.Value != state {
		slog.Warn("oauth state mismatch")
		h.recorder.RecordHandshake("state_mismatch")
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewStateMismatchError())
		return
	}
	id := idCookie.Value

	// 2. 認可コードの取得
	code := r.URL.Query().Get("code")
	if code == "" {
		h.recorder.RecordHandshake("invalid_request")
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("missing authorization code"))
		return
	}

	// 3. 委任トークンへの交換
	accessToken, err := h.platform.ExchangeCode(r.Context(), code, state)
	if err != nil {
		slog.Error("token exchange failed", slog.String("error", err.Error()))
		h.recorder.RecordHandshake("exchange_failed")
		middleware.WriteErrorResponse(w, http.StatusBadGateway, model.NewUpstreamError("token exchange"))
		return
	}

	// 4. ユーザー特定
	login, userID, err := h.platform.FetchUser(r.Context(), accessToken)
	if err != nil {
		slog.Error("user fetch failed", slog.String("error", err.Error()))
		h.recorder.RecordHandshake("user_fetch_failed")
		middleware.WriteErrorResponse(w, http.StatusBadGateway, model.NewUpstreamError("user fetch"))
		return
	}

	// 5. セッションへのユーザー紐付け
	// Generateで発行されていない識別子はここで拒否される
	if err := h.sessions.Bind(id, userID); err != nil {
		if errors.Is(err, session.ErrUnknownSession) {
			h.recorder.RecordHandshake("unknown_session")
			middleware.WriteInvalidSession(w)
			return
		}
		slog.Error("session bind failed", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}
	h.users.Upsert(userID, login, accessToken)

	// 6. マークCookieの発行でハンドシェイク完了
	h.sessions.SetMarkCookie(w, h.sessions.Mark(id))
	h.recorder.RecordHandshake("success")

	slog.Info("oauth handshake completed",
		slog.Int64("user_id", userID),
		slog.String("login", login),
	)
	http.Redirect(w, r, h.config.BaseURL, http.StatusTemporaryRedirect)
}

// Logout はセッションを破棄してCookieペアを失効させる。
// GET /logout
//
// 識別子Cookieが無い・無効な場合でもCookieのクリアは必ず行う（冪等）。
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if idCookie, err := r.Cookie(session.IDCookieName); err == nil && idCookie.Value != "" {
		h.sessions.Unbind(idCookie.Value)
	}
	h.sessions.ClearCookies(w)
	http.Redirect(w, r, h.config.BaseURL, http.StatusTemporaryRedirect)
}

// homeResponse はトップエンドポイントのレスポンス。
type homeResponse struct {
	Authenticated bool   `json:"authenticated"`
	UserID        int64  `json:"user_id,omitempty"`
	Login         string `json:"login,omitempty"`
}

// Home は現在のセッション状態を返す。
// GET /
//
// 認証は必須ではない。Cookieペアが無効な場合は401ではなく、
// Cookieをクリアした上で未認証としてのレスポンスを返す。
func (h *AuthHandler) Home(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessions.Validate(r)
	if !ok {
		h.sessions.ClearCookies(w)
		writeJSON(w, http.StatusOK, homeResponse{Authenticated: false})
		return
	}

	userID, bound := h.sessions.LookupUser(id)
	if !bound {
		writeJSON(w, http.StatusOK, homeResponse{Authenticated: false})
		return
	}

	u, found := h.users.Get(userID)
	if !found {
		// セッションは生きているがユーザー情報が無い（通常は起こらない）
		h.sessions.ClearCookies(w)
		writeJSON(w, http.StatusOK, homeResponse{Authenticated: false})
		return
	}

	writeJSON(w, http.StatusOK, homeResponse{
		Authenticated: true,
		UserID:        u.ID,
		Login:         u.Login,
	})
}

// writeJSON はJSONレスポンスを書き込む共通ヘルパー。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}
