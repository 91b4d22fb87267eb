package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// GitHub OAuth App
	GitHubClientID     string
	GitHubClientSecret string

	// GitHub App
	GitHubAppID             string
	GitHubAppName           string
	GitHubAppPrivateKeyFile string

	// GitHub endpoints（テスト用にオーバーライド可能）
	GitHubAuthURL     string
	GitHubTokenURL    string
	GitHubAPIBaseURL  string
	GitHubHTTPTimeout time.Duration

	// Session
	// SessionSecretはセッションマークのHMAC鍵。ローテーションは
	// 新しい鍵でプロセスを再起動することで行う（全マークが無効化される）。
	SessionSecret string
	// SessionTTLが0の場合、セッションは明示的なログアウトまで生存する。
	SessionTTL time.Duration

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.GitHubClientID = os.Getenv("GITHUB_CLIENT_ID")
	if cfg.GitHubClientID == "" {
		missing = append(missing, "GITHUB_CLIENT_ID")
	}

	cfg.GitHubClientSecret = os.Getenv("GITHUB_CLIENT_SECRET")
	if cfg.GitHubClientSecret == "" {
		missing = append(missing, "GITHUB_CLIENT_SECRET")
	}

	cfg.GitHubAppID = os.Getenv("GITHUB_APP_ID")
	if cfg.GitHubAppID == "" {
		missing = append(missing, "GITHUB_APP_ID")
	}

	cfg.GitHubAppPrivateKeyFile = os.Getenv("GITHUB_APP_PRIVATE_KEY_FILE")
	if cfg.GitHubAppPrivateKeyFile == "" {
		missing = append(missing, "GITHUB_APP_PRIVATE_KEY_FILE")
	}

	cfg.SessionSecret = os.Getenv("SESSION_SECRET")
	if cfg.SessionSecret == "" {
		missing = append(missing, "SESSION_SECRET")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.GitHubAppName = getEnvString("GITHUB_APP_NAME", "appman")
	cfg.GitHubAuthURL = getEnvString("GITHUB_AUTH_URL", "https://github.com/login/oauth/authorize")
	cfg.GitHubTokenURL = getEnvString("GITHUB_TOKEN_URL", "https://github.com/login/oauth/access_token")
	cfg.GitHubAPIBaseURL = getEnvString("GITHUB_API_BASE_URL", "https://api.github.com")
	cfg.GitHubHTTPTimeout = getEnvDuration("GITHUB_HTTP_TIMEOUT", 10*time.Second)
	cfg.SessionTTL = getEnvDuration("SESSION_TTL", 0)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

// RedirectURL はOAuthコールバックの絶対URLを返す。
func (c *Config) RedirectURL() string {
	return strings.TrimSuffix(c.BaseURL, "/") + "/auth/github"
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
