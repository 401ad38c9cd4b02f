package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Dias221467/when2meet/internal/repository"
	jwtutil "github.com/Dias221467/when2meet/pkg/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

type fakeMailer struct {
	to, subject, body string
	err               error
}

func (m *fakeMailer) SendEmail(to, subject, body string) error {
	m.to, m.subject, m.body = to, subject, body
	return m.err
}

func newUserService(t *testing.T) (*UserService, *repository.MemoryUserRepository, *fakeMailer) {
	t.Helper()
	repo := repository.NewMemoryUserRepository()
	mailer := &fakeMailer{}
	svc := NewUserService(repo, mailer, TokenSettings{
		Secret:           testSecret,
		Expiry:           time.Hour,
		RememberMeExpiry: 30 * 24 * time.Hour,
	}, "http://app.example/")
	return svc, repo, mailer
}

func TestRegisterUser(t *testing.T) {
	svc, repo, _ := newUserService(t)
	ctx := context.Background()

	res, err := svc.RegisterUser(ctx, " alice ", " Alice@Example.COM ", "Str0ng!pass")
	require.NoError(t, err)
	assert.Equal(t, "alice", res.Username)
	assert.Equal(t, "alice@example.com", res.Email)

	claims, err := jwtutil.ValidateToken(res.Token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, res.ID.Hex(), claims.UserID)
	assert.Equal(t, "user", claims.Role)

	stored, err := repo.GetUserByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.NotEqual(t, "Str0ng!pass", stored.HashedPassword)
	assert.NotNil(t, stored.Friends)

	_, err = svc.RegisterUser(ctx, "other", "alice@example.com", "Str0ng!pass")
	assert.ErrorIs(t, err, ErrEmailInUse)
}

func TestRegisterUserValidation(t *testing.T) {
	svc, _, _ := newUserService(t)
	ctx := context.Background()

	_, err := svc.RegisterUser(ctx, "", "a@example.com", "Str0ng!pass")
	assert.ErrorIs(t, err, ErrMissingFields)

	_, err = svc.RegisterUser(ctx, "a", "nope", "Str0ng!pass")
	assert.ErrorIs(t, err, ErrInvalidEmail)

	_, err = svc.RegisterUser(ctx, "a", "a@example.com", "weak")
	var policy *PasswordPolicyError
	require.True(t, errors.As(err, &policy))
	assert.Len(t, policy.Errors, 4)
}

func TestValidatePassword(t *testing.T) {
	assert.Empty(t, ValidatePassword("Abcdef1!"))
	assert.Equal(t, []string{"Password must contain at least one special character"}, ValidatePassword("Abcdefg1"))
	assert.Len(t, ValidatePassword(""), 5)
}

func TestAuthenticateUser(t *testing.T) {
	svc, _, _ := newUserService(t)
	ctx := context.Background()
	_, err := svc.RegisterUser(ctx, "alice", "alice@example.com", "Str0ng!pass")
	require.NoError(t, err)

	_, err = svc.AuthenticateUser(ctx, "alice@example.com", "wrong", false)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.AuthenticateUser(ctx, "nobody@example.com", "Str0ng!pass", false)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	short, err := svc.AuthenticateUser(ctx, "ALICE@example.com", "Str0ng!pass", false)
	require.NoError(t, err)
	long, err := svc.AuthenticateUser(ctx, "alice@example.com", "Str0ng!pass", true)
	require.NoError(t, err)

	shortClaims, err := jwtutil.ValidateToken(short.Token, testSecret)
	require.NoError(t, err)
	longClaims, err := jwtutil.ValidateToken(long.Token, testSecret)
	require.NoError(t, err)
	assert.True(t, longClaims.ExpiresAt.Time.After(shortClaims.ExpiresAt.Time.Add(24*time.Hour)))
}

func TestGetUserAndExists(t *testing.T) {
	svc, _, _ := newUserService(t)
	ctx := context.Background()
	res, err := svc.RegisterUser(ctx, "alice", "alice@example.com", "Str0ng!pass")
	require.NoError(t, err)

	user, err := svc.GetUser(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)

	ok, err := svc.Exists(ctx, res.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPasswordResetFlow(t *testing.T) {
	svc, repo, mailer := newUserService(t)
	ctx := context.Background()
	_, err := svc.RegisterUser(ctx, "alice", "alice@example.com", "Str0ng!pass")
	require.NoError(t, err)

	assert.ErrorIs(t, svc.RequestPasswordReset(ctx, "nobody@example.com"), ErrAccountNotFound)

	require.NoError(t, svc.RequestPasswordReset(ctx, "alice@example.com"))
	assert.Equal(t, "alice@example.com", mailer.to)
	idx := strings.Index(mailer.body, "http://app.example/reset-password/")
	require.GreaterOrEqual(t, idx, 0)
	token := strings.Fields(mailer.body[idx+len("http://app.example/reset-password/"):])[0]
	assert.Len(t, token, 64)

	// Only the hash is stored.
	stored, err := repo.GetUserByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, hashToken(token), stored.ResetToken)

	_, err = svc.ResetPassword(ctx, token, "weak")
	var policy *PasswordPolicyError
	assert.True(t, errors.As(err, &policy))

	_, err = svc.ResetPassword(ctx, "not-the-token", "N3w!password")
	assert.ErrorIs(t, err, ErrInvalidResetToken)

	res, err := svc.ResetPassword(ctx, token, "N3w!password")
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)

	_, err = svc.AuthenticateUser(ctx, "alice@example.com", "N3w!password", false)
	assert.NoError(t, err)

	// Tokens are single use.
	_, err = svc.ResetPassword(ctx, token, "An0ther!password")
	assert.ErrorIs(t, err, ErrInvalidResetToken)
}

func TestPasswordResetEmailFailureClearsToken(t *testing.T) {
	svc, repo, mailer := newUserService(t)
	ctx := context.Background()
	_, err := svc.RegisterUser(ctx, "alice", "alice@example.com", "Str0ng!pass")
	require.NoError(t, err)

	mailer.err = errors.New("smtp down")
	assert.ErrorIs(t, svc.RequestPasswordReset(ctx, "alice@example.com"), ErrEmailNotSent)

	stored, err := repo.GetUserByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Empty(t, stored.ResetToken)
}
