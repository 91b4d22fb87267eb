// Package installation はOrganizationごとのInstallationアクセストークンを
// 遅延リフレッシュ付きでキャッシュする。
package installation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrNotRegistered はInstallation未登録のOrganizationに対する
// トークン要求で返される。呼び出し側は先にRegisterを完了していなければ
// ならない（状態を捏造せず、明示的に失敗させる）。
var ErrNotRegistered = errors.New("installation: organization not registered")

// TokenIssuer はInstallationアクセストークンの発行元。
// 実体はGitHub APIクライアント。
type TokenIssuer interface {
	CreateInstallationToken(ctx context.Context, installationID int64) (string, time.Time, error)
}

// Metrics はキャッシュの動作を記録するインターフェース。
type Metrics interface {
	RecordTokenCacheHit()
	RecordTokenRefresh()
	RecordTokenRefreshError()
}

// noopMetrics は何も記録しないMetrics実装。
type noopMetrics struct{}

func (noopMetrics) RecordTokenCacheHit()     {}
func (noopMetrics) RecordTokenRefresh()      {}
func (noopMetrics) RecordTokenRefreshError() {}

// entry はOrganizationごとのキャッシュ状態。
type entry struct {
	installationID int64
	token          string
	expiresAt      time.Time
}

// Cache はOrganization IDからInstallationトークンへの対応を所有する。
// トークンの鮮度管理はこのキャッシュだけが行う。有効期限内のトークンは
// ネットワーク呼び出しなしで返し、期限切れは同期的にリフレッシュする。
// 同一Organizationへの並行リフレッシュはsingleflightで1回に抑える。
type Cache struct {
	mu      sync.RWMutex
	entries map[int64]entry

	issuer  TokenIssuer
	group   singleflight.Group
	metrics Metrics

	now func() time.Time
}

// NewCache はCacheを生成する。metricsがnilの場合は記録しない。
func NewCache(issuer TokenIssuer, metrics Metrics) *Cache {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Cache{
		entries: make(map[int64]entry),
		issuer:  issuer,
		metrics: metrics,
		now:     time.Now,
	}
}

// Register はOrganizationに対するInstallationを登録する。
// トークンは空の状態で登録され、最初のToken呼び出しで発行される。
// 既存エントリは上書きされる（再インストールで状態がリセットされる）。
func (c *Cache) Register(orgID, installationID int64) {
	c.mu.Lock()
	c.entries[orgID] = entry{installationID: installationID}
	c.mu.Unlock()

	slog.Info("installation registered",
		slog.Int64("org_id", orgID),
		slog.Int64("installation_id", installationID),
	)
}

// tokenResult はsingleflight経由で返すリフレッシュ結果。
type tokenResult struct {
	token          string
	installationID int64
}

// Token はOrganizationの有効なInstallationトークンを返す。
// キャッシュが有効期限内ならそれを即座に返し、未取得・期限切れの場合は
// 新しいアサーションでトークンを発行してから返す。期限切れトークンを
// 返すことはない。リフレッシュ失敗時はキャッシュを変更せずエラーを返す
// ため、次回呼び出しで再試行できる。
func (c *Cache) Token(ctx context.Context, orgID int64) (string, int64, error) {
	c.mu.RLock()
	e, ok := c.entries[orgID]
	c.mu.RUnlock()
	if !ok {
		return "", 0, fmt.Errorf("%w: org %d", ErrNotRegistered, orgID)
	}

	if c.fresh(e) {
		c.metrics.RecordTokenCacheHit()
		return e.token, e.installationID, nil
	}

	// Organizationごとに同時リフレッシュを1回に抑える
	v, err, _ := c.group.Do(strconv.FormatInt(orgID, 10), func() (interface{}, error) {
		// flight獲得後にキャッシュを再確認する
		c.mu.RLock()
		e, ok := c.entries[orgID]
		c.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("%w: org %d", ErrNotRegistered, orgID)
		}
		if c.fresh(e) {
			return tokenResult{token: e.token, installationID: e.installationID}, nil
		}

		token, expiresAt, err := c.issuer.CreateInstallationToken(ctx, e.installationID)
		if err != nil {
			c.metrics.RecordTokenRefreshError()
			return nil, fmt.Errorf("failed to refresh installation token: %w", err)
		}

		c.mu.Lock()
		// Registerによる上書きと競合した場合は新しい登録を優先する
		if cur, ok := c.entries[orgID]; ok && cur.installationID == e.installationID {
			cur.token = token
			cur.expiresAt = expiresAt
			c.entries[orgID] = cur
		}
		c.mu.Unlock()

		c.metrics.RecordTokenRefresh()
		slog.Info("installation token refreshed",
			slog.Int64("org_id", orgID),
			slog.Int64("installation_id", e.installationID),
			slog.Time("expires_at", expiresAt),
		)
		return tokenResult{token: token, installationID: e.installationID}, nil
	})
	if err != nil {
		return "", 0, err
	}

	res := v.(tokenResult)
	return res.token, res.installationID, nil
}

// fresh はエントリのトークンがまだ使用可能かどうかを返す。
// now >= expiresAt のトークンは期限切れとして扱う。
func (c *Cache) fresh(e entry) bool {
	return e.token != "" && c.now().Before(e.expiresAt)
}
