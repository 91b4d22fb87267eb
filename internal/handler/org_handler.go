package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/appman/internal/github"
	"github.com/hitoshi/appman/internal/installation"
	"github.com/hitoshi/appman/internal/middleware"
	"github.com/hitoshi/appman/internal/model"
)

// defaultRepositoryName はリポジトリ名が指定されなかった場合の名前。
const defaultRepositoryName = "repo-created-by-bot"

// OrgPlatform はOrganization操作に必要なプラットフォームAPIのインターフェース。
type OrgPlatform interface {
	// ListOrganizations は委任トークンでユーザーの所属Organization一覧を取得する。
	ListOrganizations(ctx context.Context, accessToken string) ([]github.Organization, error)
	// InstallationOrg はInstallation IDから所有OrganizationのIDと名前を取得する。
	InstallationOrg(ctx context.Context, installationID int64) (int64, string, error)
	// ListInstallationRepositories はInstallationトークンで参照可能なリポジトリ一覧を取得する。
	ListInstallationRepositories(ctx context.Context, installationToken string) ([]github.Repository, error)
	// CreateRepository はInstallationトークンでOrganizationにリポジトリを作成する。
	CreateRepository(ctx context.Context, installationToken, orgName, repoName string) error
}

// TokenCache はOrganizationごとのInstallationトークン取得のインターフェース。
type TokenCache interface {
	Register(orgID, installationID int64)
	Token(ctx context.Context, orgID int64) (string, int64, error)
}

// OrgHandler はOrganizationとリポジトリ管理のHTTPハンドラー。
type OrgHandler struct {
	platform OrgPlatform
	tokens   TokenCache
	users    UserRegistry
}

// NewOrgHandler はOrgHandlerを生成する。
func NewOrgHandler(platform OrgPlatform, tokens TokenCache, users UserRegistry) *OrgHandler {
	return &OrgHandler{
		platform: platform,
		tokens:   tokens,
		users:    users,
	}
}

// orgResponse はOrganization情報のAPIレスポンス。
type orgResponse struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// ListOrgs はログインユーザーの所属Organization一覧を取得する。
// GET /orgs
func (h *OrgHandler) ListOrgs(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteInvalidSession(w)
		return
	}

	u, ok := h.users.Get(userID)
	if !ok {
		middleware.WriteInvalidSession(w)
		return
	}

	orgs, err := h.platform.ListOrganizations(r.Context(), u.AccessToken)
	if err != nil {
		slog.Error("organization list failed",
			slog.Int64("user_id", userID),
			slog.String("error", err.Error()),
		)
		middleware.WriteErrorResponse(w, http.StatusBadGateway, model.NewUpstreamError("organization list"))
		return
	}

	resp := make([]orgResponse, 0, len(orgs))
	for _, o := range orgs {
		resp = append(resp, orgResponse{ID: o.ID, Name: o.Name})
	}
	writeJSON(w, http.StatusOK, resp)
}

// Install はAppインストール完了後のコールバックを処理する。
// GET /orgs/install?installation_id=N
//
// Installation IDからインストール先Organizationを照会して登録する。
// Installation IDとOrganizationの対応はプラットフォームへの照会結果のみを
// 信頼し、クエリパラメータから推測しない。
func (h *OrgHandler) Install(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("installation_id")
	installationID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || installationID <= 0 {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("installation_id must be a positive integer"))
		return
	}

	orgID, orgName, err := h.platform.InstallationOrg(r.Context(), installationID)
	if err != nil {
		slog.Error("installation lookup failed",
			slog.Int64("installation_id", installationID),
			slog.String("error", err.Error()),
		)
		middleware.WriteErrorResponse(w, http.StatusBadGateway, model.NewUpstreamError("installation lookup"))
		return
	}

	h.tokens.Register(orgID, installationID)

	slog.Info("app installation completed",
		slog.Int64("org_id", orgID),
		slog.String("org_name", orgName),
		slog.Int64("installation_id", installationID),
	)
	http.Redirect(w, r, "/orgs", http.StatusSeeOther)
}

// repoResponse はリポジトリ情報のAPIレスポンス。
type repoResponse struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// ListRepos はOrganizationのInstallationから参照可能なリポジトリ一覧を取得する。
// GET /orgs/{orgID}/repos
func (h *OrgHandler) ListRepos(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.orgIDFromPath(w, r)
	if !ok {
		return
	}

	token, _, err := h.tokens.Token(r.Context(), orgID)
	if err != nil {
		h.writeTokenError(w, orgID, err)
		return
	}

	repos, err := h.platform.ListInstallationRepositories(r.Context(), token)
	if err != nil {
		slog.Error("repository list failed",
			slog.Int64("org_id", orgID),
			slog.String("error", err.Error()),
		)
		middleware.WriteErrorResponse(w, http.StatusBadGateway, model.NewUpstreamError("repository list"))
		return
	}

	resp := make([]repoResponse, 0, len(repos))
	for _, repo := range repos {
		resp = append(resp, repoResponse{ID: repo.ID, Name: repo.Name})
	}
	writeJSON(w, http.StatusOK, resp)
}

// createRepoRequest はリポジトリ作成リクエストのボディ。
type createRepoRequest struct {
	Name string `json:"name"`
}

// createRepoResponse はリポジトリ作成のAPIレスポンス。
type createRepoResponse struct {
	Org  string `json:"org"`
	Name string `json:"name"`
}

// CreateRepo はOrganizationにInstallationトークンでリポジトリを作成する。
// POST /orgs/{orgID}/repos
//
// ボディの name が空の場合はデフォルト名を使う。
func (h *OrgHandler) CreateRepo(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.orgIDFromPath(w, r)
	if !ok {
		return
	}

	// 空ボディは許容し、不正なJSONのみ拒否する
	var req createRepoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("malformed JSON body"))
		return
	}
	repoName := defaultRepositoryName
	if req.Name != "" {
		repoName = req.Name
	}

	token, installationID, err := h.tokens.Token(r.Context(), orgID)
	if err != nil {
		h.writeTokenError(w, orgID, err)
		return
	}

	// 作成先のOrganization名はInstallation照会で取得する
	_, orgName, err := h.platform.InstallationOrg(r.Context(), installationID)
	if err != nil {
		slog.Error("installation lookup failed",
			slog.Int64("org_id", orgID),
			slog.String("error", err.Error()),
		)
		middleware.WriteErrorResponse(w, http.StatusBadGateway, model.NewUpstreamError("installation lookup"))
		return
	}

	if err := h.platform.CreateRepository(r.Context(), token, orgName, repoName); err != nil {
		slog.Error("repository creation failed",
			slog.Int64("org_id", orgID),
			slog.String("repo_name", repoName),
			slog.String("error", err.Error()),
		)
		middleware.WriteErrorResponse(w, http.StatusBadGateway, model.NewUpstreamError("repository creation"))
		return
	}

	slog.Info("repository created",
		slog.Int64("org_id", orgID),
		slog.String("org_name", orgName),
		slog.String("repo_name", repoName),
	)
	writeJSON(w, http.StatusCreated, createRepoResponse{Org: orgName, Name: repoName})
}

// orgIDFromPath はパスパラメータからOrganization IDを取り出す。
// 不正な場合は400を書き込んでfalseを返す。
func (h *OrgHandler) orgIDFromPath(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "orgID")
	orgID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || orgID <= 0 {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("orgID must be a positive integer"))
		return 0, false
	}
	return orgID, true
}

// writeTokenError はTokenCache.Tokenのエラーを適切なHTTPエラーに変換する。
func (h *OrgHandler) writeTokenError(w http.ResponseWriter, orgID int64, err error) {
	if errors.Is(err, installation.ErrNotRegistered) {
		middleware.WriteErrorResponse(w, http.StatusConflict, model.NewOrgNotRegisteredError(orgID))
		return
	}
	slog.Error("installation token unavailable",
		slog.Int64("org_id", orgID),
		slog.String("error", err.Error()),
	)
	middleware.WriteErrorResponse(w, http.StatusBadGateway, model.NewUpstreamError("installation token"))
}
