// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"net/http"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// userIDContextKey はリクエストコンテキストにユーザーIDを格納するためのキー。
var userIDContextKey = contextKey("user_id")

// sessionIDContextKey はリクエストコンテキストにセッション識別子を格納するためのキー。
var sessionIDContextKey = contextKey("session_id")

// SessionValidator はセッション検証に必要なインターフェース。
// session.Storeの部分集合として定義する。
type SessionValidator interface {
	// Validate はCookieペアを検証し、成功時に生のセッション識別子を返す。
	Validate(r *http.Request) (string, bool)
	// LookupUser は識別子に紐付いたユーザーIDを返す。pendingならfalse。
	LookupUser(id string) (int64, bool)
}

// ValidationRecorder はセッション検証の結果を記録するインターフェース。
type ValidationRecorder interface {
	RecordSessionValidation(valid bool)
}

// NewSessionMiddleware はCookieペア（識別子とマーク）からセッションを検証する
// ミドルウェアを返す。マークの再計算照合と生存セッション集合の照合を両方
// 通過し、かつユーザーが紐付け済みの場合のみ通す。
// 認証済みユーザーIDとセッション識別子をリクエストコンテキストに注入する。
// 未認証リクエストには401 Unauthorizedを返す（自動リトライはしない）。
func NewSessionMiddleware(validator SessionValidator, recorder ValidationRecorder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. Cookieペアの検証（マーク照合＋生存集合照合）
			sessionID, ok := validator.Validate(r)
			if recorder != nil {
				recorder.RecordSessionValidation(ok)
			}
			if !ok {
				WriteInvalidSession(w)
				return
			}

			// 2. pendingセッション（ユーザー未紐付け）は未認証として扱う
			userID, bound := validator.LookupUser(sessionID)
			if !bound {
				WriteInvalidSession(w)
				return
			}

			// 3. 認証済みユーザーIDとセッション識別子をコンテキストに注入
			ctx := context.WithValue(r.Context(), userIDContextKey, userID)
			ctx = context.WithValue(ctx, sessionIDContextKey, sessionID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (int64, error) {
	userID, ok := ctx.Value(userIDContextKey).(int64)
	if !ok || userID == 0 {
		return 0, fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// SessionIDFromContext はリクエストコンテキストからセッション識別子を取得する。
func SessionIDFromContext(ctx context.Context) (string, error) {
	sessionID, ok := ctx.Value(sessionIDContextKey).(string)
	if !ok || sessionID == "" {
		return "", fmt.Errorf("session ID not found in context")
	}
	return sessionID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}
