// Package appauth はGitHub Appとしての身元を証明する署名付きアサーションを提供する。
//
// アサーションはユーザーの委任トークンとは別物で、App自身の秘密鍵による
// RS256署名付きJWT。有効期限を意図的に短く（10分）して漏洩時の
// リプレイ価値を抑える。
package appauth

import (
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// clockSkew は発行時刻に与えるクロックずれの許容量。
	clockSkew = 60 * time.Second
	// assertionTTL はアサーションの有効期間。GitHubの上限は10分。
	assertionTTL = 10 * time.Minute
)

// Signer はApp秘密鍵によるアサーション生成器。
// 共有可変状態を持たず、並行呼び出しに安全。
type Signer struct {
	appID string
	key   *rsa.PrivateKey

	now func() time.Time
}

// NewSigner はPEMエンコードされたRSA秘密鍵からSignerを生成する。
func NewSigner(appID string, privateKeyPEM []byte) (*Signer, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse app private key: %w", err)
	}
	return &Signer{
		appID: appID,
		key:   key,
		now:   time.Now,
	}, nil
}

// Assertion は新しい署名付きアサーションを生成して返す。
// iatは現在時刻からクロックずれ分を引いた値、expは現在時刻+10分、
// issはApp ID。毎回新しいアサーションを生成する（キャッシュしない）。
func (s *Signer) Assertion() (string, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now.Add(-clockSkew)),
		ExpiresAt: jwt.NewNumericDate(now.Add(assertionTTL)),
		Issuer:    s.appID,
	})

	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign app assertion: %w", err)
	}
	return signed, nil
}
