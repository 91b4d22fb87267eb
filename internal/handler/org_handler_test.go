package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/appman/internal/github"
	"github.com/hitoshi/appman/internal/installation"
	"github.com/hitoshi/appman/internal/middleware"
	"github.com/hitoshi/appman/internal/model"
)

// --- モック定義 ---

type mockOrgPlatform struct {
	listOrganizationsFn            func(ctx context.Context, accessToken string) ([]github.Organization, error)
	installationOrgFn              func(ctx context.Context, installationID int64) (int64, string, error)
	listInstallationRepositoriesFn func(ctx context.Context, installationToken string) ([]github.Repository, error)
	createRepositoryFn             func(ctx context.Context, installationToken, orgName, repoName string) error
}

func (m *mockOrgPlatform) ListOrganizations(ctx context.Context, accessToken string) ([]github.Organization, error) {
	if m.listOrganizationsFn != nil {
		return m.listOrganizationsFn(ctx, accessToken)
	}
	return nil, nil
}

func (m *mockOrgPlatform) InstallationOrg(ctx context.Context, installationID int64) (int64, string, error) {
	if m.installationOrgFn != nil {
		return m.installationOrgFn(ctx, installationID)
	}
	return 0, "", nil
}

func (m *mockOrgPlatform) ListInstallationRepositories(ctx context.Context, installationToken string) ([]github.Repository, error) {
	if m.listInstallationRepositoriesFn != nil {
		return m.listInstallationRepositoriesFn(ctx, installationToken)
	}
	return nil, nil
}

func (m *mockOrgPlatform) CreateRepository(ctx context.Context, installationToken, orgName, repoName string) error {
	if m.createRepositoryFn != nil {
		return m.createRepositoryFn(ctx, installationToken, orgName, repoName)
	}
	return nil
}

type mockTokenCache struct {
	registerFn func(orgID, installationID int64)
	tokenFn    func(ctx context.Context, orgID int64) (string, int64, error)
}

func (m *mockTokenCache) Register(orgID, installationID int64) {
	if m.registerFn != nil {
		m.registerFn(orgID, installationID)
	}
}

func (m *mockTokenCache) Token(ctx context.Context, orgID int64) (string, int64, error) {
	if m.tokenFn != nil {
		return m.tokenFn(ctx, orgID)
	}
	return "", 0, installation.ErrNotRegistered
}

// authedRequest はセッションミドルウェア通過相当のコンテキストを持つ
// リクエストを生成する。
func authedRequest(method, target string, body string, userID int64) *http.Request {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	return req.WithContext(middleware.ContextWithUserID(req.Context(), userID))
}

// withOrgIDParam はchiのパスパラメータをリクエストコンテキストに設定する。
func withOrgIDParam(req *http.Request, orgID string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("orgID", orgID)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

// --- テスト ---

func TestOrgHandler_ListOrgs_ReturnsOrganizations(t *testing.T) {
	users := &mockUserRegistry{
		getFn: func(id int64) (model.User, bool) {
			return model.User{ID: id, Login: "octocat", AccessToken: "delegated-token"}, true
		},
	}
	platform := &mockOrgPlatform{
		listOrganizationsFn: func(ctx context.Context, accessToken string) ([]github.Organization, error) {
			if accessToken != "delegated-token" {
				t.Errorf("expected delegated-token, got %q", accessToken)
			}
			return []github.Organization{
				{ID: 100, Name: "acme"},
				{ID: 200, Name: "globex"},
			}, nil
		},
	}

	h := NewOrgHandler(platform, &mockTokenCache{}, users)

	req := authedRequest(http.MethodGet, "/orgs", "", 42)
	w := httptest.NewRecorder()

	h.ListOrgs(w, req)

	resp := w.Result()
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}
	var body []orgResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if len(body) != 2 || body[0].Name != "acme" || body[1].ID != 200 {
		t.Errorf("unexpected body: %+v", body)
	}
}

func TestOrgHandler_ListOrgs_UpstreamFailure_Returns502(t *testing.T) {
	users := &mockUserRegistry{
		getFn: func(id int64) (model.User, bool) {
			return model.User{ID: id, AccessToken: "delegated-token"}, true
		},
	}
	platform := &mockOrgPlatform{
		listOrganizationsFn: func(ctx context.Context, accessToken string) ([]github.Organization, error) {
			return nil, context.DeadlineExceeded
		},
	}

	h := NewOrgHandler(platform, &mockTokenCache{}, users)

	req := authedRequest(http.MethodGet, "/orgs", "", 42)
	w := httptest.NewRecorder()

	h.ListOrgs(w, req)

	resp := w.Result()
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("expected status 502, got %d", resp.StatusCode)
	}
}

func TestOrgHandler_Install_RegistersInstallation(t *testing.T) {
	platform := &mockOrgPlatform{
		installationOrgFn: func(ctx context.Context, installationID int64) (int64, string, error) {
			if installationID != 555 {
				t.Errorf("expected installation 555, got %d", installationID)
			}
			return 100, "acme", nil
		},
	}
	var registeredOrg, registeredInstallation int64
	tokens := &mockTokenCache{
		registerFn: func(orgID, installationID int64) {
			registeredOrg = orgID
			registeredInstallation = installationID
		},
	}

	h := NewOrgHandler(platform, tokens, &mockUserRegistry{})

	req := authedRequest(http.MethodGet, "/orgs/install?installation_id=555", "", 42)
	w := httptest.NewRecorder()

	h.Install(w, req)

	resp := w.Result()
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusSeeOther {
		t.Errorf("expected status 303, got %d", resp.StatusCode)
	}
	if registeredOrg != 100 || registeredInstallation != 555 {
		t.Errorf("expected registration of org 100 / installation 555, got %d / %d", registeredOrg, registeredInstallation)
	}
}

func TestOrgHandler_Install_InvalidInstallationID_Returns400(t *testing.T) {
	h := NewOrgHandler(&mockOrgPlatform{}, &mockTokenCache{}, &mockUserRegistry{})

	for _, target := range []string{
		"/orgs/install",
		"/orgs/install?installation_id=abc",
		"/orgs/install?installation_id=-5",
	} {
		req := authedRequest(http.MethodGet, target, "", 42)
		w := httptest.NewRecorder()

		h.Install(w, req)

		resp := w.Result()
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: expected status 400, got %d", target, resp.StatusCode)
		}
	}
}

func TestOrgHandler_ListRepos_ReturnsRepositories(t *testing.T) {
	tokens := &mockTokenCache{
		tokenFn: func(ctx context.Context, orgID int64) (string, int64, error) {
			if orgID != 100 {
				t.Errorf("expected org 100, got %d", orgID)
			}
			return "installation-token", 555, nil
		},
	}
	platform := &mockOrgPlatform{
		listInstallationRepositoriesFn: func(ctx context.Context, installationToken string) ([]github.Repository, error) {
			if installationToken != "installation-token" {
				t.Errorf("expected installation-token, got %q", installationToken)
			}
			return []github.Repository{{ID: 1, Name: "widgets"}}, nil
		},
	}

	h := NewOrgHandler(platform, tokens, &mockUserRegistry{})

	req := withOrgIDParam(authedRequest(http.MethodGet, "/orgs/100/repos", "", 42), "100")
	w := httptest.NewRecorder()

	h.ListRepos(w, req)

	resp := w.Result()
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}
	var body []repoResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if len(body) != 1 || body[0].Name != "widgets" {
		t.Errorf("unexpected body: %+v", body)
	}
}

func TestOrgHandler_ListRepos_NotRegistered_Returns409(t *testing.T) {
	h := NewOrgHandler(&mockOrgPlatform{}, &mockTokenCache{}, &mockUserRegistry{})

	req := withOrgIDParam(authedRequest(http.MethodGet, "/orgs/999/repos", "", 42), "999")
	w := httptest.NewRecorder()

	h.ListRepos(w, req)

	resp := w.Result()
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected status 409, got %d", resp.StatusCode)
	}
	var body struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Code != model.ErrCodeOrgNotRegistered {
		t.Errorf("expected code %s, got %q", model.ErrCodeOrgNotRegistered, body.Code)
	}
}

func TestOrgHandler_ListRepos_InvalidOrgID_Returns400(t *testing.T) {
	h := NewOrgHandler(&mockOrgPlatform{}, &mockTokenCache{}, &mockUserRegistry{})

	req := withOrgIDParam(authedRequest(http.MethodGet, "/orgs/abc/repos", "", 42), "abc")
	w := httptest.NewRecorder()

	h.ListRepos(w, req)

	resp := w.Result()
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", resp.StatusCode)
	}
}

func TestOrgHandler_CreateRepo_UsesRequestedName(t *testing.T) {
	tokens := &mockTokenCache{
		tokenFn: func(ctx context.Context, orgID int64) (string, int64, error) {
			return "installation-token", 555, nil
		},
	}
	var createdOrg, createdName string
	platform := &mockOrgPlatform{
		installationOrgFn: func(ctx context.Context, installationID int64) (int64, string, error) {
			return 100, "acme", nil
		},
		createRepositoryFn: func(ctx context.Context, installationToken, orgName, repoName string) error {
			createdOrg = orgName
			createdName = repoName
			return nil
		},
	}

	h := NewOrgHandler(platform, tokens, &mockUserRegistry{})

	req := withOrgIDParam(authedRequest(http.MethodPost, "/orgs/100/repos", `{"name":"my-repo"}`, 42), "100")
	w := httptest.NewRecorder()

	h.CreateRepo(w, req)

	resp := w.Result()
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Errorf("expected status 201, got %d", resp.StatusCode)
	}
	if createdOrg != "acme" || createdName != "my-repo" {
		t.Errorf("expected acme/my-repo, got %s/%s", createdOrg, createdName)
	}
	var body createRepoResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Org != "acme" || body.Name != "my-repo" {
		t.Errorf("unexpected body: %+v", body)
	}
}

func TestOrgHandler_CreateRepo_EmptyBody_UsesDefaultName(t *testing.T) {
	tokens := &mockTokenCache{
		tokenFn: func(ctx context.Context, orgID int64) (string, int64, error) {
			return "installation-token", 555, nil
		},
	}
	var createdName string
	platform := &mockOrgPlatform{
		installationOrgFn: func(ctx context.Context, installationID int64) (int64, string, error) {
			return 100, "acme", nil
		},
		createRepositoryFn: func(ctx context.Context, installationToken, orgName, repoName string) error {
			createdName = repoName
			return nil
		},
	}

	h := NewOrgHandler(platform, tokens, &mockUserRegistry{})

	req := withOrgIDParam(authedRequest(http.MethodPost, "/orgs/100/repos", "", 42), "100")
	w := httptest.NewRecorder()

	h.CreateRepo(w, req)

	resp := w.Result()
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Errorf("expected status 201, got %d", resp.StatusCode)
	}
	if createdName != defaultRepositoryName {
		t.Errorf("expected default repository name, got %q", createdName)
	}
}

func TestOrgHandler_CreateRepo_MalformedBody_Returns400(t *testing.T) {
	h := NewOrgHandler(&mockOrgPlatform{}, &mockTokenCache{}, &mockUserRegistry{})

	req := withOrgIDParam(authedRequest(http.MethodPost, "/orgs/100/repos", `{"name":`, 42), "100")
	w := httptest.NewRecorder()

	h.CreateRepo(w, req)

	resp := w.Result()
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", resp.StatusCode)
	}
}

func TestOrgHandler_CreateRepo_NotRegistered_Returns409(t *testing.T) {
	h := NewOrgHandler(&mockOrgPlatform{}, &mockTokenCache{}, &mockUserRegistry{})

	req := withOrgIDParam(authedRequest(http.MethodPost, "/orgs/999/repos", "", 42), "999")
	w := httptest.NewRecorder()

	h.CreateRepo(w, req)

	resp := w.Result()
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected status 409, got %d", resp.StatusCode)
	}
}

func TestOrgHandler_CreateRepo_CreationFailure_Returns502(t *testing.T) {
	tokens := &mockTokenCache{
		tokenFn: func(ctx context.Context, orgID int64) (string, int64, error) {
			return "installation-token", 555, nil
		},
	}
	platform := &mockOrgPlatform{
		installationOrgFn: func(ctx context.Context, installationID int64) (int64, string, error) {
			return 100, "acme", nil
		},
		createRepositoryFn: func(ctx context.Context, installationToken, orgName, repoName string) error {
			return context.DeadlineExceeded
		},
	}

	h := NewOrgHandler(platform, tokens, &mockUserRegistry{})

	req := withOrgIDParam(authedRequest(http.MethodPost, "/orgs/100/repos", "", 42), "100")
	w := httptest.NewRecorder()

	h.CreateRepo(w, req)

	resp := w.Result()
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("expected status 502, got %d", resp.StatusCode)
	}
}
