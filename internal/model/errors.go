package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, state, upstream, validation, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidSession    = "INVALID_SESSION"
	ErrCodeStateMismatch     = "STATE_MISMATCH"
	ErrCodeUpstreamFailed    = "UPSTREAM_FAILED"
	ErrCodeOrgNotRegistered  = "ORG_NOT_REGISTERED"
	ErrCodeInvalidRequest    = "INVALID_REQUEST"
)

// NewInvalidSessionError はセッション無効エラーを生成する。
// Cookieの欠落・改ざん・未発行の識別子はすべてこのエラーに集約される。
func NewInvalidSessionError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidSession,
		Message:  "セッションが無効です。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewStateMismatchError はOAuthコールバックのstate不一致エラーを生成する。
// CSRF/リプレイの可能性があるため、自動リトライせず必ず拒否する。
func NewStateMismatchError() *APIError {
	return &APIError{
		Code:     ErrCodeStateMismatch,
		Message:  "認証フローのstateパラメータが一致しません。",
		Category: "state",
		Action:   "最初からログインをやり直してください。",
	}
}

// NewUpstreamError はGitHub API呼び出し失敗エラーを生成する。
// リトライはこの層では行わない。リトライ方針は呼び出し側の責務。
func NewUpstreamError(op string) *APIError {
	return &APIError{
		Code:     ErrCodeUpstreamFailed,
		Message:  fmt.Sprintf("GitHub APIの呼び出しに失敗しました: %s", op),
		Category: "upstream",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewOrgNotRegisteredError はInstallation未登録のOrganizationに対する
// トークン要求エラーを生成する。
func NewOrgNotRegisteredError(orgID int64) *APIError {
	return &APIError{
		Code:     ErrCodeOrgNotRegistered,
		Message:  fmt.Sprintf("OrganizationにAppがインストールされていません: %d", orgID),
		Category: "state",
		Action:   "先にOrganizationへAppをインストールしてください。",
	}
}

// NewInvalidRequestError はリクエスト形式不正エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "リクエスト内容を確認してください。",
	}
}
