package app

import (
	"io"
	"testing"
)

// setRequiredEnv は必須環境変数を一通り設定する。
func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("GITHUB_CLIENT_ID", "client-id")
	t.Setenv("GITHUB_CLIENT_SECRET", "client-secret")
	t.Setenv("GITHUB_APP_ID", "12345")
	t.Setenv("GITHUB_APP_PRIVATE_KEY_FILE", "/tmp/app-key.pem")
	t.Setenv("SESSION_SECRET", "test-session-secret")
	t.Setenv("BASE_URL", "http://localhost:8080")
}

func TestInit_LoadsConfig(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Init(io.Discard)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.GitHubClientID != "client-id" {
		t.Errorf("unexpected client ID: %q", cfg.GitHubClientID)
	}
	if cfg.ServerPort != "8080" {
		t.Errorf("expected default port 8080, got %q", cfg.ServerPort)
	}
}

func TestInit_MissingRequiredEnv_ReturnsError(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("GITHUB_CLIENT_ID", "")

	if _, err := Init(io.Discard); err == nil {
		t.Error("expected error for missing GITHUB_CLIENT_ID")
	}
}

func TestRun_MissingConfig_ReturnsError(t *testing.T) {
	t.Setenv("GITHUB_CLIENT_ID", "")
	t.Setenv("GITHUB_CLIENT_SECRET", "")
	t.Setenv("GITHUB_APP_ID", "")
	t.Setenv("GITHUB_APP_PRIVATE_KEY_FILE", "")
	t.Setenv("SESSION_SECRET", "")
	t.Setenv("BASE_URL", "")

	if err := Run(io.Discard, []string{"serve"}); err == nil {
		t.Error("expected error when required config is missing")
	}
}

func TestRun_ServeWithMissingKeyFile_ReturnsError(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("GITHUB_APP_PRIVATE_KEY_FILE", "/nonexistent/key.pem")

	if err := Run(io.Discard, []string{"serve"}); err == nil {
		t.Error("expected error when private key file does not exist")
	}
}

func TestRunHealthcheck_NoServer_ReturnsError(t *testing.T) {
	// 存在しないポートへのヘルスチェックは失敗する
	if err := runHealthcheck("1"); err == nil {
		t.Error("expected error when no server is listening")
	}
}
