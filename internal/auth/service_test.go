package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/libraryhq/library-backend/internal/users"
	pkgAuth "github.com/libraryhq/library-backend/pkg/auth"
	"github.com/libraryhq/library-backend/pkg/auth/session"
	"github.com/libraryhq/library-backend/pkg/clock"
	"github.com/libraryhq/library-backend/pkg/config"
	"github.com/libraryhq/library-backend/pkg/db/models"
	"github.com/libraryhq/library-backend/pkg/enums"
	pkgerrors "github.com/libraryhq/library-backend/pkg/errors"
	"github.com/libraryhq/library-backend/pkg/security"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var testJWT = config.JWTConfig{
	Secret:            "secret",
	Issuer:            "library",
	ExpirationMinutes: 30,
}

var testPasswords = config.PasswordConfig{ArgonMemoryKB: 8 * 1024, ArgonTime: 1, ArgonParallelism: 1}

func TestServiceRegisterIssuesTokens(t *testing.T) {
	svc, repo, sessions := buildTestService(t)

	resp, err := svc.Register(context.Background(), RegisterRequest{
		Email:     " New@Example.com ",
		Password:  "long-enough",
		FirstName: "Grace",
		LastName:  "Hopper",
	})
	require.NoError(t, err)
	require.Equal(t, "new@example.com", resp.User.Email)
	require.Equal(t, enums.UserRoleMember, resp.User.Role)
	require.NotEmpty(t, resp.RefreshToken)

	claims, err := pkgAuth.ParseAccessToken(testJWT, resp.AccessToken)
	require.NoError(t, err)
	require.Equal(t, resp.User.ID, claims.UserID)
	require.Equal(t, enums.UserRoleMember, claims.Role)
	require.Contains(t, sessions.byAccess, claims.ID)

	stored := repo.byEmail["new@example.com"]
	ok, err := security.VerifyPassword("long-enough", stored.PasswordHash)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestServiceRegisterRejectsShortPasswordAndDuplicates(t *testing.T) {
	svc, _, _ := buildTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterRequest{Email: "a@example.com", Password: "short", FirstName: "A", LastName: "B"})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = svc.Register(ctx, RegisterRequest{Email: "a@example.com", Password: "long-enough", FirstName: "A", LastName: "B"})
	require.NoError(t, err)
	_, err = svc.Register(ctx, RegisterRequest{Email: "A@example.com", Password: "long-enough", FirstName: "A", LastName: "B"})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
}

func TestServiceLogin(t *testing.T) {
	svc, repo, _ := buildTestService(t)
	ctx := context.Background()
	admin := repo.seed(t, "admin@example.com", "admin-secret", enums.UserRoleAdmin, true)

	resp, err := svc.Login(ctx, LoginRequest{Email: "ADMIN@example.com", Password: "admin-secret"})
	require.NoError(t, err)
	claims, err := pkgAuth.ParseAccessToken(testJWT, resp.AccessToken)
	require.NoError(t, err)
	if claims.Role != enums.UserRoleAdmin {
		t.Fatalf("expected admin role claim, got %s", claims.Role)
	}
	require.NotNil(t, admin.LastLoginAt)

	_, err = svc.Login(ctx, LoginRequest{Email: "admin@example.com", Password: "wrong-secret"})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized))

	_, err = svc.Login(ctx, LoginRequest{Email: "ghost@example.com", Password: "whatever"})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized))

	repo.seed(t, "off@example.com", "off-secret", enums.UserRoleMember, false)
	_, err = svc.Login(ctx, LoginRequest{Email: "off@example.com", Password: "off-secret"})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))
}

func TestServiceLoginUpgradesWeakHash(t *testing.T) {
	svc, repo, _ := buildTestService(t)
	weak, err := security.HashPassword("reader-secret", config.PasswordConfig{ArgonMemoryKB: 64, ArgonTime: 1, ArgonParallelism: 1})
	require.NoError(t, err)
	user := repo.seed(t, "weak@example.com", "reader-secret", enums.UserRoleMember, true)
	user.PasswordHash = weak

	_, err = svc.Login(context.Background(), LoginRequest{Email: "weak@example.com", Password: "reader-secret"})
	require.NoError(t, err)
	require.True(t, security.NeedsRehash(weak, testPasswords))
	require.NotEqual(t, weak, user.PasswordHash)
	require.False(t, security.NeedsRehash(user.PasswordHash, testPasswords))
}

func TestServiceRefreshRotatesSession(t *testing.T) {
	svc, repo, sessions := buildTestService(t)
	ctx := context.Background()
	repo.seed(t, "reader@example.com", "reader-secret", enums.UserRoleMember, true)

	first, err := svc.Login(ctx, LoginRequest{Email: "reader@example.com", Password: "reader-secret"})
	require.NoError(t, err)
	firstClaims, err := pkgAuth.ParseAccessToken(testJWT, first.AccessToken)
	require.NoError(t, err)

	_, err = svc.Refresh(ctx, RefreshRequest{AccessToken: first.AccessToken, RefreshToken: "forged"})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized))

	second, err := svc.Refresh(ctx, RefreshRequest{AccessToken: first.AccessToken, RefreshToken: first.RefreshToken})
	require.NoError(t, err)
	require.NotEqual(t, first.RefreshToken, second.RefreshToken)

	secondClaims, err := pkgAuth.ParseAccessToken(testJWT, second.AccessToken)
	require.NoError(t, err)
	require.NotEqual(t, firstClaims.ID, secondClaims.ID)
	require.NotContains(t, sessions.byAccess, firstClaims.ID)

	_, err = svc.Refresh(ctx, RefreshRequest{AccessToken: first.AccessToken, RefreshToken: first.RefreshToken})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized))

	_, err = svc.Refresh(ctx, RefreshRequest{AccessToken: "not-a-jwt", RefreshToken: second.RefreshToken})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized))
}

func TestServiceRefreshAcceptsExpiredAccessToken(t *testing.T) {
	svc, repo, _ := buildTestService(t)
	ctx := context.Background()
	repo.seed(t, "late@example.com", "reader-secret", enums.UserRoleMember, true)

	first, err := svc.Login(ctx, LoginRequest{Email: "late@example.com", Password: "reader-secret"})
	require.NoError(t, err)

	svc.(*service).clock.(*clock.Manual).Advance(2 * time.Hour)
	_, err = svc.Refresh(ctx, RefreshRequest{AccessToken: first.AccessToken, RefreshToken: first.RefreshToken})
	require.NoError(t, err)
}

func TestServiceLogoutRevokes(t *testing.T) {
	svc, repo, sessions := buildTestService(t)
	ctx := context.Background()
	repo.seed(t, "bye@example.com", "reader-secret", enums.UserRoleMember, true)

	resp, err := svc.Login(ctx, LoginRequest{Email: "bye@example.com", Password: "reader-secret"})
	require.NoError(t, err)
	claims, err := pkgAuth.ParseAccessToken(testJWT, resp.AccessToken)
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, claims.ID))
	require.NotContains(t, sessions.byAccess, claims.ID)
	require.True(t, pkgerrors.IsCode(svc.Logout(ctx, ""), pkgerrors.CodeUnauthorized))
}

func buildTestService(t *testing.T) (Service, *stubUserRepo, *stubSessionManager) {
	t.Helper()
	repo := &stubUserRepo{byEmail: map[string]*models.User{}}
	sessions := &stubSessionManager{byAccess: map[string]session.Session{}}
	svc, err := NewService(ServiceParams{
		UserRepo:       repo,
		SessionManager: sessions,
		JWTConfig:      testJWT,
		PasswordConfig: testPasswords,
		// tokens are parsed against wall time, so the manual clock starts there
		Clock: clock.NewManual(time.Now()),
	})
	if err != nil {
		t.Fatalf("build service: %v", err)
	}
	return svc, repo, sessions
}

type stubUserRepo struct {
	byEmail map[string]*models.User
}

func (s *stubUserRepo) seed(t *testing.T, email, password string, role enums.UserRole, active bool) *models.User {
	t.Helper()
	hash, err := security.HashPassword(password, testPasswords)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	user := &models.User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: hash,
		FirstName:    "Test",
		LastName:     "User",
		Role:         role,
		IsActive:     active,
	}
	s.byEmail[email] = user
	return user
}

func (s *stubUserRepo) Create(ctx context.Context, dto users.CreateUserDTO) (*models.User, error) {
	key := strings.ToLower(dto.Email)
	if _, ok := s.byEmail[key]; ok {
		return nil, errors.New("UNIQUE constraint failed: users.email")
	}
	user := dto.ToModel()
	user.ID = uuid.New()
	s.byEmail[key] = user
	return user, nil
}

func (s *stubUserRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	if user, ok := s.byEmail[strings.ToLower(strings.TrimSpace(email))]; ok {
		return user, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *stubUserRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	for _, user := range s.byEmail {
		if user.ID == id {
			return user, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *stubUserRepo) UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	user, err := s.FindByID(ctx, id)
	if err != nil {
		return err
	}
	user.LastLoginAt = &at
	return nil
}

func (s *stubUserRepo) UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error {
	user, err := s.FindByID(ctx, id)
	if err != nil {
		return err
	}
	user.PasswordHash = hash
	return nil
}

type stubSessionManager struct {
	byAccess map[string]session.Session
	counter  int
}

func (s *stubSessionManager) Generate(ctx context.Context, accessID string, userID uuid.UUID) (session.Session, error) {
	s.counter++
	sess := session.Session{
		AccessID:     accessID,
		UserID:       userID,
		RefreshToken: fmt.Sprintf("refresh-%d", s.counter),
	}
	s.byAccess[accessID] = sess
	return sess, nil
}

func (s *stubSessionManager) Rotate(ctx context.Context, oldAccessID, provided string) (session.Session, error) {
	current, ok := s.byAccess[oldAccessID]
	if !ok || current.RefreshToken != provided {
		return session.Session{}, session.ErrInvalidRefreshToken
	}
	delete(s.byAccess, oldAccessID)
	return s.Generate(ctx, session.NewAccessID(), current.UserID)
}

func (s *stubSessionManager) Revoke(ctx context.Context, accessID string) error {
	delete(s.byAccess, accessID)
	return nil
}
