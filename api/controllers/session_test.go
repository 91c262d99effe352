package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/ledgermatch-backend/internal/auth"
	"github.com/angelmondragon/ledgermatch-backend/internal/users"
	pkgAuth "github.com/angelmondragon/ledgermatch-backend/pkg/auth"
	"github.com/angelmondragon/ledgermatch-backend/pkg/auth/session"
	"github.com/angelmondragon/ledgermatch-backend/pkg/config"
	"github.com/angelmondragon/ledgermatch-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/ledgermatch-backend/pkg/errors"
)

type stubRevoker struct {
	lastRevoked string
	err         error
}

func (s *stubRevoker) Revoke(ctx context.Context, accessID string) error {
	s.lastRevoked = accessID
	return s.err
}

type stubAuthService struct {
	registerFn func(ctx context.Context, req auth.RegisterRequest) (*auth.LoginResponse, error)
	loginFn    func(ctx context.Context, req auth.LoginRequest) (*auth.LoginResponse, error)
	refreshFn  func(ctx context.Context, claims *pkgAuth.AccessTokenClaims, token string) (*auth.LoginResponse, error)
}

func (s *stubAuthService) Register(ctx context.Context, req auth.RegisterRequest) (*auth.LoginResponse, error) {
	return s.registerFn(ctx, req)
}

func (s *stubAuthService) Login(ctx context.Context, req auth.LoginRequest) (*auth.LoginResponse, error) {
	return s.loginFn(ctx, req)
}

func (s *stubAuthService) Refresh(ctx context.Context, claims *pkgAuth.AccessTokenClaims, token string) (*auth.LoginResponse, error) {
	return s.refreshFn(ctx, claims, token)
}

func mintTestToken(t *testing.T, cfg config.JWTConfig, role enums.UserRole) (string, string) {
	t.Helper()
	accessID := session.NewAccessID()
	token, err := pkgAuth.MintAccessToken(cfg, time.Now(), pkgAuth.AccessTokenPayload{
		UserID: uuid.New(),
		Role:   role,
		JTI:    accessID,
	})
	if err != nil {
		t.Fatalf("mint access token: %v", err)
	}
	return token, accessID
}

func TestAuthLogout(t *testing.T) {
	cfg := config.JWTConfig{Secret: "secret", Issuer: "issuer", ExpirationMinutes: 10}
	manager := &stubRevoker{}
	handler := AuthLogout(manager, cfg, nil)

	token, jti := mintTestToken(t, cfg, enums.UserRoleAnalyst)
	req := httptest.NewRequest(http.MethodPost, "/logout", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if manager.lastRevoked != jti {
		t.Fatalf("expected revoked %s got %s", jti, manager.lastRevoked)
	}
}

func TestAuthLogoutRequiresToken(t *testing.T) {
	cfg := config.JWTConfig{Secret: "secret", Issuer: "issuer", ExpirationMinutes: 10}
	handler := AuthLogout(&stubRevoker{}, cfg, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/logout", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rec.Code)
	}
}

func TestAuthRefresh(t *testing.T) {
	cfg := config.JWTConfig{Secret: "secret", Issuer: "issuer", ExpirationMinutes: 10}
	token, jti := mintTestToken(t, cfg, enums.UserRoleViewer)

	svc := &stubAuthService{
		refreshFn: func(ctx context.Context, claims *pkgAuth.AccessTokenClaims, provided string) (*auth.LoginResponse, error) {
			if claims.ID != jti {
				t.Fatalf("expected claims for %s got %s", jti, claims.ID)
			}
			if provided != "old-refresh" {
				t.Fatalf("unexpected refresh token %q", provided)
			}
			return &auth.LoginResponse{AccessToken: "new-access", RefreshToken: "new-refresh", User: &users.UserDTO{}}, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/refresh", bytes.NewBufferString(`{"refreshToken":"old-refresh"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	AuthRefresh(svc, cfg, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	var envelope struct {
		Data auth.LoginResponse `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.RefreshToken != "new-refresh" {
		t.Fatalf("expected refresh token new-refresh got %s", envelope.Data.RefreshToken)
	}
	if rec.Header().Get(refreshTokenHeader) != "new-refresh" {
		t.Fatalf("expected refresh header to match body")
	}
	if rec.Header().Get(accessTokenHeader) != "Bearer new-access" {
		t.Fatalf("unexpected access header %q", rec.Header().Get(accessTokenHeader))
	}
}

func TestAuthRefreshInvalidToken(t *testing.T) {
	cfg := config.JWTConfig{Secret: "secret", Issuer: "issuer", ExpirationMinutes: 10}
	svc := &stubAuthService{
		refreshFn: func(ctx context.Context, claims *pkgAuth.AccessTokenClaims, provided string) (*auth.LoginResponse, error) {
			return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid refresh token")
		},
	}

	token, _ := mintTestToken(t, cfg, enums.UserRoleViewer)
	req := httptest.NewRequest(http.MethodPost, "/refresh", bytes.NewBufferString(`{"refreshToken":"old-refresh"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	AuthRefresh(svc, cfg, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rec.Code)
	}
}

func TestAuthRegisterReturnsCreated(t *testing.T) {
	svc := &stubAuthService{
		registerFn: func(ctx context.Context, req auth.RegisterRequest) (*auth.LoginResponse, error) {
			if req.Email != "ana@example.com" {
				t.Fatalf("unexpected email %q", req.Email)
			}
			return &auth.LoginResponse{AccessToken: "a", RefreshToken: "r", User: &users.UserDTO{Role: enums.UserRoleAdmin}}, nil
		},
	}

	body := `{"name":"Ana","email":"ana@example.com","password":"longenough"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	AuthRegister(svc, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d", rec.Code)
	}
}

func TestAuthRegisterValidatesBody(t *testing.T) {
	svc := &stubAuthService{
		registerFn: func(ctx context.Context, req auth.RegisterRequest) (*auth.LoginResponse, error) {
			t.Fatal("service should not be called")
			return nil, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", bytes.NewBufferString(`{"email":"nope","password":"x"}`))
	rec := httptest.NewRecorder()
	AuthRegister(svc, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
}

func TestAuthLoginPropagatesForbidden(t *testing.T) {
	svc := &stubAuthService{
		loginFn: func(ctx context.Context, req auth.LoginRequest) (*auth.LoginResponse, error) {
			return nil, pkgerrors.New(pkgerrors.CodeForbidden, "user account is disabled")
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewBufferString(`{"email":"a@b.co","password":"secret"}`))
	rec := httptest.NewRecorder()
	AuthLogin(svc, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", rec.Code)
	}
}
