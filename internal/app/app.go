// Package app はアプリケーションの起動と依存関係のワイヤリングを行う。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/appman/internal/appauth"
	"github.com/hitoshi/appman/internal/config"
	"github.com/hitoshi/appman/internal/github"
	"github.com/hitoshi/appman/internal/handler"
	"github.com/hitoshi/appman/internal/installation"
	"github.com/hitoshi/appman/internal/logger"
	"github.com/hitoshi/appman/internal/metrics"
	"github.com/hitoshi/appman/internal/session"
	"github.com/hitoshi/appman/internal/user"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	return runServe(cfg)
}

// runServe はAPIサーバーモードで起動する。
// App秘密鍵を読み込み、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. App秘密鍵の読み込みと署名器の初期化
	privateKeyPEM, err := os.ReadFile(cfg.GitHubAppPrivateKeyFile)
	if err != nil {
		return fmt.Errorf("failed to read app private key: %w", err)
	}
	signer, err := appauth.NewSigner(cfg.GitHubAppID, privateKeyPEM)
	if err != nil {
		return fmt.Errorf("failed to initialize app signer: %w", err)
	}

	slog.Info("app signer initialized", slog.String("app_id", cfg.GitHubAppID))

	// 2. プラットフォームAPIクライアントの初期化
	client := github.NewClient(github.Config{
		ClientID:     cfg.GitHubClientID,
		ClientSecret: cfg.GitHubClientSecret,
		AppName:      cfg.GitHubAppName,
		RedirectURL:  cfg.RedirectURL(),
		AuthURL:      cfg.GitHubAuthURL,
		TokenURL:     cfg.GitHubTokenURL,
		APIBaseURL:   cfg.GitHubAPIBaseURL,
	}, signer, &http.Client{Timeout: cfg.GitHubHTTPTimeout})

	// 3. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 4. インメモリ状態の初期化
	sessions := session.NewStore(session.Config{
		Secret:       []byte(cfg.SessionSecret),
		TTL:          cfg.SessionTTL,
		CookieSecure: cfg.CookieSecure,
		CookieDomain: cfg.CookieDomain,
	})
	users := user.NewDirectory()
	tokens := installation.NewCache(client, collector)

	// 5. ルーターの構築
	deps := &handler.RouterDeps{
		Sessions: sessions,
		OAuth:    client,
		Platform: client,
		Users:    users,
		Tokens:   tokens,

		Handshakes:  collector,
		Validations: collector,
		Requests:    collector,

		MetricsHandler: metrics.Handler(registry),

		BaseURL:           cfg.BaseURL,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
	}

	router := handler.NewRouter(deps)

	// 6. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}
