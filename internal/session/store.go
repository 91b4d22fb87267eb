// Package session は署名付きCookieペアによるセッション管理を提供する。
//
// セッション識別子は160bitの乱数で、ストアにはSHA-256ハッシュのみを保存する
// （生の識別子はサーバー側に永続化しない）。識別子に対するHMAC-SHA256の
// 「マーク」をもう1つのCookieとして発行し、サーバー側の照合なしに
// 発行元を検証できるようにする。識別子Cookieとマークcookieの両方が
// 揃って初めてセッションとして信頼される。
package session

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const (
	// IDCookieName はセッション識別子Cookieの名前。
	IDCookieName = "sid"
	// MarkCookieName はセッションマークCookieの名前。
	MarkCookieName = "sid.mark"

	// identifierBytes は識別子のエントロピー（160bit）。
	identifierBytes = 20
)

// ErrUnknownSession は未発行の識別子に対するBindで返される。
// 識別子はGenerateで発行されたものでなければならない。
var ErrUnknownSession = errors.New("session: unknown identifier")

// Config はStoreの設定。
type Config struct {
	// SecretはマークHMACの鍵。プロセス全体で1つの値を使う。
	Secret []byte
	// TTLが0より大きい場合、発行からTTLを超えたセッションは無効になる。
	// 0の場合は明示的なUnbindまで生存する。
	TTL time.Duration
	// Cookie属性
	CookieSecure bool
	CookieDomain string
}

// entry はハッシュ化された識別子に紐づくサーバー側の状態。
type entry struct {
	userID    int64
	bound     bool
	createdAt time.Time
}

// Store は生存中セッションの集合とマーク計算を所有する。
// 全メソッドは複数goroutineから安全に呼び出せる。
type Store struct {
	mu     sync.RWMutex
	alive  map[string]entry // key: hex(sha256(識別子))
	secret []byte
	ttl    time.Duration

	cookieSecure bool
	cookieDomain string

	now func() time.Time
}

// NewStore はStoreを生成する。
func NewStore(cfg Config) *Store {
	return &Store{
		alive:        make(map[string]entry),
		secret:       cfg.Secret,
		ttl:          cfg.TTL,
		cookieSecure: cfg.CookieSecure,
		cookieDomain: cfg.CookieDomain,
		now:          time.Now,
	}
}

// Generate は新しいセッション識別子を発行し、pending状態（ユーザー未紐付け）で
// ストアに登録する。発行時点で生存中セッションと衝突しないことを保証する。
// 戻り値の生の識別子はCookieに載せる用途でのみ使い、サーバー側には保存しない。
func (s *Store) Generate() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		b := make([]byte, identifierBytes)
		if _, err := rand.Read(b); err != nil {
			return "", err
		}
		id := hex.EncodeToString(b)
		hashed := hashIdentifier(id)
		if _, exists := s.alive[hashed]; exists {
			continue
		}
		s.alive[hashed] = entry{createdAt: s.now()}
		return id, nil
	}
}

// Bind は識別子にユーザーIDを紐付ける。OAuthハンドシェイク完了時に呼ばれる。
// 識別子がGenerateで発行されていない場合はErrUnknownSessionを返す。
func (s *Store) Bind(id string, userID int64) error {
	hashed := hashIdentifier(id)

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.alive[hashed]
	if !ok {
		return ErrUnknownSession
	}
	e.userID = userID
	e.bound = true
	s.alive[hashed] = e

	slog.Info("session bound",
		slog.String("session_hash", hashed),
		slog.Int64("user_id", userID),
	)
	return nil
}

// Unbind はセッションをストアから完全に削除する（ログアウト）。
// 存在しない識別子に対しては何もしない。
func (s *Store) Unbind(id string) {
	hashed := hashIdentifier(id)

	s.mu.Lock()
	_, existed := s.alive[hashed]
	delete(s.alive, hashed)
	s.mu.Unlock()

	if existed {
		slog.Info("session removed", slog.String("session_hash", hashed))
	}
}

// LookupUser は識別子に紐付いたユーザーIDを返す。
// セッションが存在しない、またはpending状態の場合は (0, false) を返す。
func (s *Store) LookupUser(id string) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.alive[hashIdentifier(id)]
	if !ok || !e.bound {
		return 0, false
	}
	return e.userID, true
}

// Mark は識別子に対する決定的なマーク（HMAC-SHA256）を計算する。
// 同一の識別子には常に同一のマークが返る。マークは生の識別子から
// 計算し、ストア内のハッシュは使わない。
func (s *Store) Mark(id string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(id))
	return hex.EncodeToString(mac.Sum(nil))
}

// Validate はリクエストのCookieペアからセッションを検証する。
// 識別子からマークを再計算して提示されたマークと定数時間比較し、
// さらにハッシュ化識別子が生存中セッションに含まれることを要求する。
// すべての失敗は ("", false) に縮退し、panicやerrorにはならない。
func (s *Store) Validate(r *http.Request) (string, bool) {
	idCookie, err := r.Cookie(IDCookieName)
	if err != nil || idCookie.Value == "" {
		return "", false
	}
	markCookie, err := r.Cookie(MarkCookieName)
	if err != nil || markCookie.Value == "" {
		return "", false
	}

	id := idCookie.Value
	expected := s.Mark(id)
	if !hmac.Equal([]byte(expected), []byte(markCookie.Value)) {
		return "", false
	}

	s.mu.RLock()
	e, ok := s.alive[hashIdentifier(id)]
	s.mu.RUnlock()
	if !ok {
		return "", false
	}
	if s.ttl > 0 && s.now().Sub(e.createdAt) > s.ttl {
		return "", false
	}
	return id, true
}

// SetIDCookie はセッション識別子Cookieをレスポンスに設定する。
func (s *Store) SetIDCookie(w http.ResponseWriter, id string) {
	http.SetCookie(w, s.cookie(IDCookieName, id, 0))
}

// SetMarkCookie はセッションマークCookieをレスポンスに設定する。
func (s *Store) SetMarkCookie(w http.ResponseWriter, mark string) {
	http.SetCookie(w, s.cookie(MarkCookieName, mark, 0))
}

// ClearCookies は識別子Cookieとマークcookieの両方を失効させる。
// 両方をクリアすることがログアウト/無効化の契約。
func (s *Store) ClearCookies(w http.ResponseWriter) {
	http.SetCookie(w, s.cookie(IDCookieName, "", -1))
	http.SetCookie(w, s.cookie(MarkCookieName, "", -1))
}

// cookie は共通属性を持つCookieを生成する。maxAgeが負の場合は失効Cookie。
func (s *Store) cookie(name, value string, maxAge int) *http.Cookie {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   s.cookieDomain,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
	if maxAge < 0 {
		c.MaxAge = -1
		c.Expires = time.Unix(0, 0)
	}
	return c
}

// hashIdentifier は識別子のSHA-256ハッシュ（hex）を返す。
// ストアのキーには常にこのハッシュを使い、生の識別子は保持しない。
func hashIdentifier(id string) string {
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:])
}
