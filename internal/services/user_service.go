package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/Dias221467/when2meet/internal/models"
	"github.com/Dias221467/when2meet/internal/repository"
	jwtutil "github.com/Dias221467/when2meet/pkg/jwt"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const resetTokenTTL = 10 * time.Minute

// AccountStore is the persistence the account service needs.
type AccountStore interface {
	CreateUser(ctx context.Context, user *models.User) (*models.User, error)
	GetUserByID(ctx context.Context, id primitive.ObjectID) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByResetToken(ctx context.Context, tokenHash string) (*models.User, error)
	UpdateUserFields(ctx context.Context, id primitive.ObjectID, fields map[string]interface{}) error
	UpdateLastActive(ctx context.Context, id primitive.ObjectID) error
}

// Mailer delivers outgoing email.
type Mailer interface {
	SendEmail(to, subject, body string) error
}

// TokenSettings configures issued bearer tokens.
type TokenSettings struct {
	Secret           string
	Expiry           time.Duration
	RememberMeExpiry time.Duration
}

// AuthResult is returned by register, login and password reset.
type AuthResult struct {
	ID       primitive.ObjectID `json:"id"`
	Username string             `json:"username"`
	Email    string             `json:"email"`
	Token    string             `json:"token"`
}

// UserService encapsulates the business logic for user accounts.
type UserService struct {
	repo    AccountStore
	mailer  Mailer
	tokens  TokenSettings
	baseURL string
}

// NewUserService creates a new instance of UserService. baseURL is used to
// build the password reset link.
func NewUserService(repo AccountStore, mailer Mailer, tokens TokenSettings, baseURL string) *UserService {
	return &UserService{
		repo:    repo,
		mailer:  mailer,
		tokens:  tokens,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// RegisterUser creates an account and returns it with a fresh token.
func (s *UserService) RegisterUser(ctx context.Context, username, email, password string) (*AuthResult, error) {
	logrus.Info("Registering new user")

	username = strings.TrimSpace(username)
	email = NormalizeEmail(email)
	if username == "" || email == "" || password == "" {
		return nil, ErrMissingFields
	}
	if !validEmail(email) {
		logrus.WithField("email", email).Warn("Invalid email format during registration")
		return nil, ErrInvalidEmail
	}
	if errs := ValidatePassword(password); len(errs) > 0 {
		return nil, &PasswordPolicyError{Errors: errs}
	}

	if _, err := s.repo.GetUserByEmail(ctx, email); err == nil {
		logrus.WithField("email", email).Warn("Email already in use")
		return nil, ErrEmailInUse
	} else if !errors.Is(err, repository.ErrUserNotFound) {
		return nil, fmt.Errorf("failed to check email: %w", err)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		logrus.WithError(err).Error("Password hashing failed")
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user, err := s.repo.CreateUser(ctx, &models.User{
		Username:       username,
		Email:          email,
		HashedPassword: string(hashed),
		Role:           "user",
	})
	if errors.Is(err, repository.ErrEmailTaken) {
		return nil, ErrEmailInUse
	}
	if err != nil {
		logrus.WithError(err).Error("User registration failed")
		return nil, fmt.Errorf("failed to register user: %w", err)
	}

	logrus.WithField("userID", user.ID.Hex()).Info("User registered successfully")
	return s.issue(user, false)
}

// AuthenticateUser verifies credentials and returns the user with a token.
func (s *UserService) AuthenticateUser(ctx context.Context, email, password string, rememberMe bool) (*AuthResult, error) {
	email = NormalizeEmail(email)
	logrus.WithField("email", email).Info("Authenticating user")

	user, err := s.repo.GetUserByEmail(ctx, email)
	if errors.Is(err, repository.ErrUserNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.HashedPassword), []byte(password)); err != nil {
		logrus.WithField("email", email).Warn("Invalid credentials")
		return nil, ErrInvalidCredentials
	}

	logrus.WithField("userID", user.ID.Hex()).Info("User authenticated successfully")
	return s.issue(user, rememberMe)
}

// GetUser returns the public identity of a user.
func (s *UserService) GetUser(ctx context.Context, id primitive.ObjectID) (*models.PublicUser, error) {
	user, err := s.repo.GetUserByID(ctx, id)
	if errors.Is(err, repository.ErrUserNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	pub := user.Public()
	return &pub, nil
}

// Exists reports whether a user with the given id is still present.
func (s *UserService) Exists(ctx context.Context, id primitive.ObjectID) (bool, error) {
	_, err := s.repo.GetUserByID(ctx, id)
	if errors.Is(err, repository.ErrUserNotFound) {
		return false, nil
	}
	return err == nil, err
}

// UpdateLastActive records activity for a user.
func (s *UserService) UpdateLastActive(ctx context.Context, id primitive.ObjectID) error {
	return s.repo.UpdateLastActive(ctx, id)
}

// RequestPasswordReset stores a hashed reset token and emails the raw token.
func (s *UserService) RequestPasswordReset(ctx context.Context, email string) error {
	user, err := s.repo.GetUserByEmail(ctx, NormalizeEmail(email))
	if errors.Is(err, repository.ErrUserNotFound) {
		return ErrAccountNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load user: %w", err)
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return fmt.Errorf("failed to generate reset token: %w", err)
	}
	token := hex.EncodeToString(raw)

	err = s.repo.UpdateUserFields(ctx, user.ID, map[string]interface{}{
		"reset_token":     hashToken(token),
		"reset_token_exp": time.Now().Add(resetTokenTTL),
	})
	if err != nil {
		return fmt.Errorf("failed to save reset token: %w", err)
	}

	link := fmt.Sprintf("%s/reset-password/%s", s.baseURL, token)
	body := fmt.Sprintf("You requested a password reset.\n\nOpen the link below within 10 minutes to choose a new password:\n\n%s\n\nIf you did not request this, ignore this email.", link)
	if err := s.mailer.SendEmail(user.Email, "Password Reset Request", body); err != nil {
		logrus.WithError(err).WithField("userID", user.ID.Hex()).Error("Failed to send password reset email")
		if clearErr := s.repo.UpdateUserFields(ctx, user.ID, map[string]interface{}{
			"reset_token":     "",
			"reset_token_exp": time.Time{},
		}); clearErr != nil {
			logrus.WithError(clearErr).Warn("Failed to clear reset token")
		}
		return ErrEmailNotSent
	}

	logrus.WithField("userID", user.ID.Hex()).Info("Password reset email sent")
	return nil
}

// ResetPassword sets a new password for the holder of a valid reset token.
func (s *UserService) ResetPassword(ctx context.Context, token, newPassword string) (*AuthResult, error) {
	if errs := ValidatePassword(newPassword); len(errs) > 0 {
		return nil, &PasswordPolicyError{Errors: errs}
	}

	user, err := s.repo.GetUserByResetToken(ctx, hashToken(token))
	if errors.Is(err, repository.ErrUserNotFound) {
		return nil, ErrInvalidResetToken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	err = s.repo.UpdateUserFields(ctx, user.ID, map[string]interface{}{
		"hashed_password": string(hashed),
		"reset_token":     "",
		"reset_token_exp": time.Time{},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update password: %w", err)
	}

	logrus.WithField("userID", user.ID.Hex()).Info("Password reset")
	return s.issue(user, false)
}

func (s *UserService) issue(user *models.User, rememberMe bool) (*AuthResult, error) {
	expiry := s.tokens.Expiry
	if rememberMe {
		expiry = s.tokens.RememberMeExpiry
	}
	token, err := jwtutil.GenerateToken(user.ID.Hex(), user.Email, user.Role, s.tokens.Secret, expiry)
	if err != nil {
		return nil, err
	}
	return &AuthResult{
		ID:       user.ID,
		Username: user.Username,
		Email:    user.Email,
		Token:    token,
	}, nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
