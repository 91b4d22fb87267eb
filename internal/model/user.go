// Package model はドメインモデルを定義する。
package model

import "time"

// User はGitHub OAuthで認証されたユーザーを表す。
// IDはGitHubが発行する数値ID。AccessTokenはユーザー委任のBearerトークン。
type User struct {
	ID          int64
	Login       string
	AccessToken string
	UpdatedAt   time.Time
}

