package routes

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/ledgermatch-backend/internal/uploads"
	"github.com/angelmondragon/ledgermatch-backend/internal/users"
	pkgAuth "github.com/angelmondragon/ledgermatch-backend/pkg/auth"
	"github.com/angelmondragon/ledgermatch-backend/pkg/auth/session"
	"github.com/angelmondragon/ledgermatch-backend/pkg/config"
	"github.com/angelmondragon/ledgermatch-backend/pkg/db/models"
	"github.com/angelmondragon/ledgermatch-backend/pkg/enums"
	"github.com/angelmondragon/ledgermatch-backend/pkg/logger"
)

type stubPinger struct {
	err error
}

func (s stubPinger) Ping(context.Context) error {
	return s.err
}

type stubSessionManager struct{}

func (stubSessionManager) HasSession(ctx context.Context, accessID string) (bool, error) {
	return true, nil
}

func (stubSessionManager) Revoke(ctx context.Context, accessID string) error {
	return nil
}

// stubUserLoader resolves users from a fixed table so tests can diverge token and stored roles.
type stubUserLoader map[uuid.UUID]*models.User

func (s stubUserLoader) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	if u, ok := s[id]; ok {
		return u, nil
	}
	return nil, errors.New("record not found")
}

type stubUploadsService struct {
	uploads.Service
}

func (stubUploadsService) List(ctx context.Context, filter uploads.ListFilter) ([]uploads.JobView, error) {
	return []uploads.JobView{}, nil
}

type stubUsersService struct {
	users.Service
}

func (stubUsersService) List(ctx context.Context) ([]users.UserDTO, error) {
	return []users.UserDTO{}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "test"},
		JWT: config.JWTConfig{
			Secret:            "secret",
			Issuer:            "ledgermatch",
			ExpirationMinutes: 60,
		},
		Ingest: config.IngestConfig{MaxUploadMB: 1},
	}
}

type routerFixture struct {
	cfg    *config.Config
	users  stubUserLoader
	router http.Handler
}

func newFixture(t *testing.T, dbPinger stubPinger) *routerFixture {
	t.Helper()
	cfg := testConfig()
	loader := stubUserLoader{}
	logg := logger.New(logger.Options{ServiceName: "test-routing", Level: logger.ParseLevel("debug"), Output: io.Discard})
	router := NewRouter(Deps{
		Config:     cfg,
		Logger:     logg,
		DB:         dbPinger,
		Storage:    stubPinger{},
		Sessions:   stubSessionManager{},
		UserLoader: loader,
		Uploads:    stubUploadsService{},
		Users:      stubUsersService{},
	})
	return &routerFixture{cfg: cfg, users: loader, router: router}
}

// token registers a user with the stored role and mints a token claiming tokenRole.
func (f *routerFixture) token(t *testing.T, tokenRole, storedRole enums.UserRole) string {
	t.Helper()
	id := uuid.New()
	f.users[id] = &models.User{ID: id, Role: storedRole, IsActive: true}
	token, err := pkgAuth.MintAccessToken(f.cfg.JWT, time.Now(), pkgAuth.AccessTokenPayload{
		UserID: id,
		Role:   tokenRole,
		JTI:    session.NewAccessID(),
	})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}

func (f *routerFixture) do(method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp := httptest.NewRecorder()
	f.router.ServeHTTP(resp, req)
	return resp
}

func TestHealthEndpoints(t *testing.T) {
	f := newFixture(t, stubPinger{})

	resp := f.do(http.MethodGet, "/health/live", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 live got %d", resp.Code)
	}
	if got := resp.Header().Get("X-LedgerMatch-Env"); got != "test" {
		t.Fatalf("unexpected env header %q", got)
	}

	resp = f.do(http.MethodGet, "/health/ready", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 ready got %d", resp.Code)
	}
}

func TestReadyReportsFailingDependency(t *testing.T) {
	f := newFixture(t, stubPinger{err: errors.New("connection refused")})

	resp := f.do(http.MethodGet, "/health/ready", "")
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", resp.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, stubPinger{})

	resp := f.do(http.MethodGet, "/metrics", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
}

func TestProtectedRoutesRejectMissingJWT(t *testing.T) {
	f := newFixture(t, stubPinger{})

	for _, path := range []string{"/api/v1/uploads", "/api/v1/records", "/api/v1/users", "/api/v1/auth/me"} {
		resp := f.do(http.MethodGet, path, "")
		if resp.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401 got %d", path, resp.Code)
		}
	}
}

func TestViewerCanReadButNotWrite(t *testing.T) {
	f := newFixture(t, stubPinger{})
	token := f.token(t, enums.UserRoleViewer, enums.UserRoleViewer)

	if resp := f.do(http.MethodGet, "/api/v1/uploads", token); resp.Code != http.StatusOK {
		t.Fatalf("expected 200 listing uploads got %d", resp.Code)
	}
	writes := []struct{ method, path string }{
		{http.MethodPost, "/api/v1/uploads"},
		{http.MethodPost, "/api/v1/records"},
		{http.MethodDelete, "/api/v1/records/" + uuid.NewString()},
		{http.MethodPatch, "/api/v1/reconciliation/records/" + uuid.NewString() + "/manual-correction"},
		{http.MethodGet, "/api/v1/audit/logs"},
	}
	for _, w := range writes {
		if resp := f.do(w.method, w.path, token); resp.Code != http.StatusForbidden {
			t.Fatalf("%s %s: expected 403 got %d", w.method, w.path, resp.Code)
		}
	}
}

func TestUserManagementRequiresAdmin(t *testing.T) {
	f := newFixture(t, stubPinger{})

	analyst := f.token(t, enums.UserRoleAnalyst, enums.UserRoleAnalyst)
	if resp := f.do(http.MethodGet, "/api/v1/users", analyst); resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for analyst got %d", resp.Code)
	}
	if resp := f.do(http.MethodPost, "/api/v1/audit/backfill", analyst); resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 backfill for analyst got %d", resp.Code)
	}

	admin := f.token(t, enums.UserRoleAdmin, enums.UserRoleAdmin)
	if resp := f.do(http.MethodGet, "/api/v1/users", admin); resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin got %d", resp.Code)
	}
}

func TestDemotedAdminLosesAccessImmediately(t *testing.T) {
	f := newFixture(t, stubPinger{})
	token := f.token(t, enums.UserRoleAdmin, enums.UserRoleViewer)

	if resp := f.do(http.MethodGet, "/api/v1/users", token); resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 after demotion got %d", resp.Code)
	}
}

func TestDisabledUserIsRejected(t *testing.T) {
	f := newFixture(t, stubPinger{})
	token := f.token(t, enums.UserRoleAnalyst, enums.UserRoleAnalyst)
	for _, u := range f.users {
		u.IsActive = false
	}

	if resp := f.do(http.MethodGet, "/api/v1/uploads", token); resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for disabled user got %d", resp.Code)
	}
}
