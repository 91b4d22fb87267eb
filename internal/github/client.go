// Package github はGitHubプラットフォームAPIのクライアントを提供する。
//
// ユーザー委任トークンによる呼び出し（ユーザー情報・Organization一覧）と、
// App署名付きアサーションによる呼び出し（Installation照会・Installation
// アクセストークン発行）の両方を扱う。リトライはこの層では行わない。
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultAuthURL    = "https://github.com/login/oauth/authorize"
	defaultTokenURL   = "https://github.com/login/oauth/access_token"
	defaultAPIBaseURL = "https://api.github.com"

	acceptJSON   = "application/json"
	acceptGitHub = "application/vnd.github.v3+json"
)

// AssertionSigner はApp身元証明アサーションの供給元。
type AssertionSigner interface {
	Assertion() (string, error)
}

// Config はGitHubクライアントの設定。
type Config struct {
	ClientID     string
	ClientSecret string
	AppName      string // User-Agentとして送信される
	RedirectURL  string

	// テスト用にオーバーライド可能なURL
	AuthURL    string
	TokenURL   string
	APIBaseURL string
}

// Client はGitHub APIクライアント。
type Client struct {
	config     Config
	signer     AssertionSigner
	httpClient *http.Client
}

// NewClient はClientを生成する。httpClientがnilの場合はデフォルトを使う。
func NewClient(config Config, signer AssertionSigner, httpClient *http.Client) *Client {
	if config.AuthURL == "" {
		config.AuthURL = defaultAuthURL
	}
	if config.TokenURL == "" {
		config.TokenURL = defaultTokenURL
	}
	if config.APIBaseURL == "" {
		config.APIBaseURL = defaultAPIBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		config:     config,
		signer:     signer,
		httpClient: httpClient,
	}
}

// LoginURL はGitHub OAuthの認可URLを生成する。
// stateにはセッション識別子を渡し、コールバックで照合する。
func (c *Client) LoginURL(state string) string {
	params := url.Values{
		"client_id":     {c.config.ClientID},
		"state":         {state},
		"response_type": {"code"},
		"redirect_uri":  {c.config.RedirectURL},
	}
	return c.config.AuthURL + "?" + params.Encode()
}

// tokenResponse はトークンエンドポイントのレスポンス。
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Scope       string `json:"scope"`
}

// ExchangeCode は認可コードを委任アクセストークンに交換する。
func (c *Client) ExchangeCode(ctx context.Context, code, state string) (string, error) {
	data := url.Values{
		"code":          {code},
		"client_id":     {c.config.ClientID},
		"client_secret": {c.config.ClientSecret},
		"redirect_uri":  {c.config.RedirectURL},
		"state":         {state},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", acceptJSON)
	req.Header.Set("User-Agent", c.config.AppName)

	body, err := c.do(req)
	if err != nil {
		return "", fmt.Errorf("token exchange failed: %w", err)
	}

	var tokenResp tokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return "", fmt.Errorf("failed to parse token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return "", fmt.Errorf("empty access token in response")
	}
	return tokenResp.AccessToken, nil
}

// userResponse はユーザー情報エンドポイントのレスポンス。
type userResponse struct {
	Login string `json:"login"`
	ID    int64  `json:"id"`
}

// FetchUser は委任トークンでユーザーのログイン名と数値IDを取得する。
func (c *Client) FetchUser(ctx context.Context, accessToken string) (string, int64, error) {
	body, err := c.get(ctx, c.config.APIBaseURL+"/user", "token "+accessToken, acceptJSON)
	if err != nil {
		return "", 0, fmt.Errorf("user fetch failed: %w", err)
	}

	var u userResponse
	if err := json.Unmarshal(body, &u); err != nil {
		return "", 0, fmt.Errorf("failed to parse user response: %w", err)
	}
	if u.Login == "" {
		return "", 0, fmt.Errorf("empty login in user response")
	}
	return u.Login, u.ID, nil
}

// orgResponse はOrganization一覧エンドポイントの1要素。
type orgResponse struct {
	Login string `json:"login"`
	ID    int64  `json:"id"`
}

// Organization はListOrganizationsの戻り値の1要素。
type Organization struct {
	ID   int64
	Name string
}

// ListOrganizations は委任トークンでユーザーの所属Organization一覧を取得する。
func (c *Client) ListOrganizations(ctx context.Context, accessToken string) ([]Organization, error) {
	body, err := c.get(ctx, c.config.APIBaseURL+"/user/orgs", "token "+accessToken, acceptJSON)
	if err != nil {
		return nil, fmt.Errorf("organization list failed: %w", err)
	}

	var raw []orgResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse organization response: %w", err)
	}

	orgs := make([]Organization, 0, len(raw))
	for _, o := range raw {
		orgs = append(orgs, Organization{ID: o.ID, Name: o.Login})
	}
	return orgs, nil
}

// Repository はListInstallationRepositoriesの戻り値の1要素。
type Repository struct {
	ID   int64
	Name string
}

// installationRepositoriesResponse はInstallationリポジトリ一覧のレスポンス。
type installationRepositoriesResponse struct {
	Repositories []struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	} `json:"repositories"`
}

// ListInstallationRepositories はInstallationトークンで参照可能な
// リポジトリ一覧を取得する。
func (c *Client) ListInstallationRepositories(ctx context.Context, installationToken string) ([]Repository, error) {
	body, err := c.get(ctx, c.config.APIBaseURL+"/installation/repositories", "token "+installationToken, acceptJSON)
	if err != nil {
		return nil, fmt.Errorf("installation repositories failed: %w", err)
	}

	var raw installationRepositoriesResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse repositories response: %w", err)
	}

	repos := make([]Repository, 0, len(raw.Repositories))
	for _, r := range raw.Repositories {
		repos = append(repos, Repository{ID: r.ID, Name: r.Name})
	}
	return repos, nil
}

// installationResponse はInstallation照会エンドポイントのレスポンス。
type installationResponse struct {
	Account struct {
		ID    int64  `json:"id"`
		Login string `json:"login"`
	} `json:"account"`
}

// InstallationOrg はInstallation IDからそのInstallationを所有する
// OrganizationのIDと名前を取得する。Bearerには署名付きアサーションを使う。
func (c *Client) InstallationOrg(ctx context.Context, installationID int64) (int64, string, error) {
	assertion, err := c.signer.Assertion()
	if err != nil {
		return 0, "", fmt.Errorf("failed to mint app assertion: %w", err)
	}

	u := fmt.Sprintf("%s/app/installations/%d", c.config.APIBaseURL, installationID)
	body, err := c.get(ctx, u, "Bearer "+assertion, acceptGitHub)
	if err != nil {
		return 0, "", fmt.Errorf("installation lookup failed: %w", err)
	}

	var inst installationResponse
	if err := json.Unmarshal(body, &inst); err != nil {
		return 0, "", fmt.Errorf("failed to parse installation response: %w", err)
	}
	return inst.Account.ID, inst.Account.Login, nil
}

// installationTokenResponse はInstallationトークン発行のレスポンス。
type installationTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CreateInstallationToken はInstallationアクセストークンを新規発行する。
// Bearerには署名付きアサーションを使う。戻り値はトークンとその失効時刻。
func (c *Client) CreateInstallationToken(ctx context.Context, installationID int64) (string, time.Time, error) {
	assertion, err := c.signer.Assertion()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to mint app assertion: %w", err)
	}

	u := fmt.Sprintf("%s/app/installations/%d/access_tokens", c.config.APIBaseURL, installationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+assertion)
	req.Header.Set("Accept", acceptGitHub)
	req.Header.Set("User-Agent", c.config.AppName)

	body, err := c.do(req)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("installation token issuance failed: %w", err)
	}

	var tok installationTokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return "", time.Time{}, fmt.Errorf("failed to parse installation token response: %w", err)
	}
	if tok.Token == "" {
		return "", time.Time{}, fmt.Errorf("empty installation token in response")
	}
	return tok.Token, tok.ExpiresAt, nil
}

// CreateRepository はInstallationトークンでOrganizationにリポジトリを作成する。
func (c *Client) CreateRepository(ctx context.Context, installationToken, orgName, repoName string) error {
	payload, err := json.Marshal(map[string]string{"name": repoName})
	if err != nil {
		return fmt.Errorf("failed to encode repository payload: %w", err)
	}

	u := fmt.Sprintf("%s/orgs/%s/repos", c.config.APIBaseURL, url.PathEscape(orgName))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader(string(payload)))
	if err != nil {
		return fmt.Errorf("failed to create repository request: %w", err)
	}
	req.Header.Set("Authorization", "token "+installationToken)
	req.Header.Set("Accept", acceptJSON)
	req.Header.Set("Content-Type", acceptJSON)
	req.Header.Set("User-Agent", c.config.AppName)

	if _, err := c.do(req); err != nil {
		return fmt.Errorf("repository creation failed: %w", err)
	}
	return nil
}

// get はGETリクエストを組み立てて実行する共通ヘルパー。
func (c *Client) get(ctx context.Context, url, authorization, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", authorization)
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", c.config.AppName)
	return c.do(req)
}

// do はリクエストを実行し、2xx以外をエラーとしてボディを返す。
func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
