package controllers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/libraryhq/library-backend/internal/auth"
	"github.com/libraryhq/library-backend/internal/users"
	pkgAuth "github.com/libraryhq/library-backend/pkg/auth"
	"github.com/libraryhq/library-backend/pkg/auth/session"
	"github.com/libraryhq/library-backend/pkg/config"
	"github.com/libraryhq/library-backend/pkg/enums"
	pkgerrors "github.com/libraryhq/library-backend/pkg/errors"
	"github.com/stretchr/testify/require"
)

type stubAuthService struct {
	loggedOut   string
	loginErr    error
	lastLogin   auth.LoginRequest
	lastRefresh auth.RefreshRequest
}

func (s *stubAuthService) Register(ctx context.Context, req auth.RegisterRequest) (*auth.TokenResponse, error) {
	return &auth.TokenResponse{AccessToken: "access", RefreshToken: "refresh", User: &users.UserDTO{Email: req.Email}}, nil
}

func (s *stubAuthService) Login(ctx context.Context, req auth.LoginRequest) (*auth.TokenResponse, error) {
	s.lastLogin = req
	if s.loginErr != nil {
		return nil, s.loginErr
	}
	return &auth.TokenResponse{AccessToken: "access", RefreshToken: "refresh"}, nil
}

func (s *stubAuthService) Refresh(ctx context.Context, req auth.RefreshRequest) (*auth.TokenResponse, error) {
	s.lastRefresh = req
	return &auth.TokenResponse{AccessToken: "next-access", RefreshToken: "next-refresh"}, nil
}

func (s *stubAuthService) Logout(ctx context.Context, accessID string) error {
	s.loggedOut = accessID
	return nil
}

func mintTestToken(t *testing.T, cfg config.JWTConfig, issuedAt time.Time) (string, string) {
	t.Helper()
	accessID := session.NewAccessID()
	token, err := pkgAuth.MintAccessToken(cfg, issuedAt, pkgAuth.AccessTokenPayload{
		UserID: uuid.New(),
		Role:   enums.UserRoleMember,
		JTI:    accessID,
	})
	if err != nil {
		t.Fatalf("mint access token: %v", err)
	}
	return token, accessID
}

func TestAuthLoginSetsTokenHeader(t *testing.T) {
	svc := &stubAuthService{}
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"email":"reader@example.com","password":"hunter22"}`))
	rec := httptest.NewRecorder()

	AuthLogin(svc, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "access", rec.Header().Get(tokenHeader))
	require.Equal(t, "reader@example.com", svc.lastLogin.Email)
}

func TestAuthLoginRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"email":"reader@example.com","password":"x","admin":true}`))
	rec := httptest.NewRecorder()

	AuthLogin(&stubAuthService{}, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthLoginInvalidCredentials(t *testing.T) {
	svc := &stubAuthService{loginErr: pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid credentials")}
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"email":"reader@example.com","password":"wrong"}`))
	rec := httptest.NewRecorder()

	AuthLogin(svc, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthRegisterCreated(t *testing.T) {
	body := `{"email":"new@example.com","password":"correct horse","first_name":"Ada","last_name":"Lovelace"}`
	req := httptest.NewRequest(http.MethodPost, "/api/auth/register", strings.NewReader(body))
	rec := httptest.NewRecorder()

	AuthRegister(&stubAuthService{}, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
}

func TestAuthRefreshPassesTokens(t *testing.T) {
	svc := &stubAuthService{}
	req := httptest.NewRequest(http.MethodPost, "/api/auth/refresh", strings.NewReader(`{"access_token":"old","refresh_token":"r1"}`))
	rec := httptest.NewRecorder()

	AuthRefresh(svc, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "old", svc.lastRefresh.AccessToken)
	require.Equal(t, "r1", svc.lastRefresh.RefreshToken)
	require.Equal(t, "next-access", rec.Header().Get(tokenHeader))
}

func TestAuthLogout(t *testing.T) {
	cfg := config.JWTConfig{Secret: "secret", Issuer: "issuer", ExpirationMinutes: 10}
	svc := &stubAuthService{}

	token, jti := mintTestToken(t, cfg, time.Now().Add(-time.Hour))
	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	AuthLogout(svc, cfg, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if svc.loggedOut != jti {
		t.Fatalf("expected revoked %s got %s", jti, svc.loggedOut)
	}
}

func TestAuthLogoutMissingToken(t *testing.T) {
	cfg := config.JWTConfig{Secret: "secret", Issuer: "issuer", ExpirationMinutes: 10}
	rec := httptest.NewRecorder()

	AuthLogout(&stubAuthService{}, cfg, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil))

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
