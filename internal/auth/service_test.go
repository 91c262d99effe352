package auth

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/ledgermatch-backend/internal/users"
	pkgAuth "github.com/angelmondragon/ledgermatch-backend/pkg/auth"
	"github.com/angelmondragon/ledgermatch-backend/pkg/auth/session"
	"github.com/angelmondragon/ledgermatch-backend/pkg/config"
	"github.com/angelmondragon/ledgermatch-backend/pkg/db/dbtest"
	"github.com/angelmondragon/ledgermatch-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/ledgermatch-backend/pkg/errors"
	"github.com/angelmondragon/ledgermatch-backend/pkg/security"
)

var testJWT = config.JWTConfig{
	Secret:            "secret",
	Issuer:            "ledgermatch",
	ExpirationMinutes: 30,
}

type stubSessionManager struct {
	sessions map[string]string
}

func newStubSessionManager() *stubSessionManager {
	return &stubSessionManager{sessions: map[string]string{}}
}

func (s *stubSessionManager) Generate(_ context.Context, _ uuid.UUID, accessID string) (string, error) {
	token := "refresh-" + accessID
	s.sessions[accessID] = token
	return token, nil
}

func (s *stubSessionManager) Rotate(ctx context.Context, userID uuid.UUID, oldAccessID, provided string) (string, string, error) {
	stored, ok := s.sessions[oldAccessID]
	if !ok || stored != provided {
		return "", "", session.ErrInvalidRefreshToken
	}
	delete(s.sessions, oldAccessID)
	newID := session.NewAccessID()
	token, _ := s.Generate(ctx, userID, newID)
	return newID, token, nil
}

func buildTestService(t *testing.T) (Service, users.Repository, *stubSessionManager) {
	t.Helper()
	client, conn := dbtest.Client(t)
	repo := users.NewRepository(conn)
	sessions := newStubSessionManager()
	svc, err := NewService(ServiceParams{
		UserRepo:       repo,
		Tx:             client,
		SessionManager: sessions,
		JWTConfig:      testJWT,
	})
	require.NoError(t, err)
	return svc, repo, sessions
}

func requireCode(t *testing.T, err error, code pkgerrors.Code) {
	t.Helper()
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed, "expected typed error, got %v", err)
	require.Equal(t, code, typed.Code(), "unexpected error %v", err)
}

func TestRegisterFirstUserIsAdmin(t *testing.T) {
	svc, _, _ := buildTestService(t)
	ctx := context.Background()

	first, err := svc.Register(ctx, RegisterRequest{Name: "Ada", Email: "Ada@Example.com", Password: "correct horse"})
	require.NoError(t, err)
	assert.Equal(t, enums.UserRoleAdmin, first.User.Role)
	assert.Equal(t, "ada@example.com", first.User.Email)
	assert.NotEmpty(t, first.RefreshToken)

	claims, err := pkgAuth.ParseAccessToken(testJWT, first.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, first.User.ID, claims.UserID)
	assert.Equal(t, enums.UserRoleAdmin, claims.Role)

	second, err := svc.Register(ctx, RegisterRequest{Name: "Bob", Email: "bob@example.com", Password: "correct horse"})
	require.NoError(t, err)
	assert.Equal(t, enums.UserRoleViewer, second.User.Role)
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	svc, _, _ := buildTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterRequest{Name: "Ada", Email: "ada@example.com", Password: "correct horse"})
	require.NoError(t, err)
	_, err = svc.Register(ctx, RegisterRequest{Name: "Ada 2", Email: " ADA@example.com", Password: "another one"})
	requireCode(t, err, pkgerrors.CodeConflict)
}

func TestRegisterRequiresFields(t *testing.T) {
	svc, _, _ := buildTestService(t)
	_, err := svc.Register(context.Background(), RegisterRequest{Email: "x@example.com", Password: "pw"})
	requireCode(t, err, pkgerrors.CodeValidation)
}

func TestLogin(t *testing.T) {
	svc, repo, _ := buildTestService(t)
	ctx := context.Background()
	reg, err := svc.Register(ctx, RegisterRequest{Name: "Ada", Email: "ada@example.com", Password: "correct horse"})
	require.NoError(t, err)

	resp, err := svc.Login(ctx, LoginRequest{Email: "ADA@example.com", Password: "correct horse"})
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, resp.User.ID)
	require.NotNil(t, resp.User.LastLoginAt)

	stored, err := repo.FindByID(ctx, reg.User.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastLoginAt)
	assert.WithinDuration(t, time.Now(), *stored.LastLoginAt, time.Minute)

	_, err = svc.Login(ctx, LoginRequest{Email: "ada@example.com", Password: "wrong"})
	requireCode(t, err, pkgerrors.CodeUnauthorized)

	_, err = svc.Login(ctx, LoginRequest{Email: "nobody@example.com", Password: "correct horse"})
	requireCode(t, err, pkgerrors.CodeUnauthorized)
}

func TestLoginUpgradesStaleHash(t *testing.T) {
	svc, repo, _ := buildTestService(t)
	ctx := context.Background()

	legacy, err := security.HashPassword("correct horse", config.PasswordConfig{ArgonMemoryKB: 1024, ArgonTime: 2, ArgonParallelism: 1, ArgonSaltLen: 16, ArgonKeyLen: 32})
	require.NoError(t, err)
	user, err := repo.Create(ctx, users.CreateUserDTO{
		Name:         "Legacy",
		Email:        "legacy@example.com",
		PasswordHash: legacy,
		Role:         enums.UserRoleAnalyst,
	})
	require.NoError(t, err)

	_, err = svc.Login(ctx, LoginRequest{Email: "legacy@example.com", Password: "correct horse"})
	require.NoError(t, err)

	stored, err := repo.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.NotEqual(t, legacy, stored.PasswordHash)
	assert.False(t, security.NeedsRehash(stored.PasswordHash, config.PasswordConfig{}))

	_, err = svc.Login(ctx, LoginRequest{Email: "legacy@example.com", Password: "correct horse"})
	require.NoError(t, err, "upgraded hash must still verify")
}

func TestLoginRejectsDisabledUser(t *testing.T) {
	svc, repo, _ := buildTestService(t)
	ctx := context.Background()
	_, err := svc.Register(ctx, RegisterRequest{Name: "Ada", Email: "ada@example.com", Password: "correct horse"})
	require.NoError(t, err)
	viewer, err := svc.Register(ctx, RegisterRequest{Name: "Bob", Email: "bob@example.com", Password: "correct horse"})
	require.NoError(t, err)
	require.NoError(t, repo.UpdateActive(ctx, viewer.User.ID, false))

	_, err = svc.Login(ctx, LoginRequest{Email: "bob@example.com", Password: "correct horse"})
	requireCode(t, err, pkgerrors.CodeForbidden)
}

func TestRefreshRotatesAndPicksUpRoleChanges(t *testing.T) {
	svc, repo, sessions := buildTestService(t)
	ctx := context.Background()
	_, err := svc.Register(ctx, RegisterRequest{Name: "Ada", Email: "ada@example.com", Password: "correct horse"})
	require.NoError(t, err)
	login, err := svc.Register(ctx, RegisterRequest{Name: "Bob", Email: "bob@example.com", Password: "correct horse"})
	require.NoError(t, err)

	require.NoError(t, repo.UpdateRole(ctx, login.User.ID, enums.UserRoleAnalyst))

	claims, err := pkgAuth.ParseAccessTokenAllowExpired(testJWT, login.AccessToken)
	require.NoError(t, err)

	refreshed, err := svc.Refresh(ctx, claims, login.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, login.RefreshToken, refreshed.RefreshToken)

	newClaims, err := pkgAuth.ParseAccessToken(testJWT, refreshed.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, enums.UserRoleAnalyst, newClaims.Role)
	assert.NotEqual(t, claims.ID, newClaims.ID)
	_, stillThere := sessions.sessions[claims.ID]
	assert.False(t, stillThere)

	_, err = svc.Refresh(ctx, claims, login.RefreshToken)
	requireCode(t, err, pkgerrors.CodeUnauthorized)
}

func TestRefreshRejectsUnknownUser(t *testing.T) {
	svc, _, _ := buildTestService(t)
	claims := &pkgAuth.AccessTokenClaims{UserID: uuid.New()}
	claims.ID = "jti"
	_, err := svc.Refresh(context.Background(), claims, "refresh")
	requireCode(t, err, pkgerrors.CodeUnauthorized)

	_, err = svc.Refresh(context.Background(), nil, "refresh")
	requireCode(t, err, pkgerrors.CodeUnauthorized)
}

func TestNewServiceValidatesDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{})
	require.Error(t, err)
}
