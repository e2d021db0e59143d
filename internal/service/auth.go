// Package service holds the business rules. Handlers call services with a
// verified identity; services talk to storage only through the repository
// interfaces, so tests run them against in-memory fakes.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sakif/forms-app/internal/apperror"
	"github.com/sakif/forms-app/internal/auth"
	"github.com/sakif/forms-app/internal/model"
	"github.com/sakif/forms-app/internal/repository"
)

// AuthService registers users, checks credentials and issues tokens.
type AuthService struct {
	users     repository.UserRepository
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	logger    *slog.Logger
}

func NewAuthService(
	users repository.UserRepository,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:     users,
		tokens:    tokens,
		passwords: passwords,
		logger:    logger,
	}
}

// AuthResult is what a successful register or login hands back to the
// handler.
type AuthResult struct {
	Email string
	Token string
}

// Register creates a user and returns a token for it.
func (s *AuthService) Register(ctx context.Context, email, password string) (*AuthResult, error) {
	email = normalizeEmail(email)
	if !isEmail(email) {
		return nil, apperror.ValidationFailed("email", "A valid email is required")
	}
	if password == "" {
		return nil, apperror.ValidationFailed("password", "Password is required")
	}
	if len(password) > auth.MaxPasswordBytes {
		return nil, apperror.ValidationFailed("password",
			fmt.Sprintf("Password must be at most %d bytes", auth.MaxPasswordBytes))
	}

	if _, err := s.users.GetUserByEmail(ctx, email); err == nil {
		return nil, apperror.Conflict(apperror.ReasonDuplicate, "User already registered")
	} else if !errors.Is(err, apperror.ErrNotFound) {
		return nil, fmt.Errorf("service/auth: looking up %s: %w", email, err)
	}

	hash, err := s.passwords.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("service/auth: %w", err)
	}

	// The store's primary key catches a concurrent registration of the same
	// email and reports it as the same Conflict.
	if err := s.users.CreateUser(ctx, &model.User{Email: email, PasswordHash: hash}); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("service/auth: creating user: %w", err)
	}

	s.logger.Info("user registered", slog.String("email", email))

	return s.issue(email)
}

// Login checks the password and returns a fresh token. An unknown email and
// a wrong password produce the same InvalidCredentials error.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	email = normalizeEmail(email)

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.InvalidCredentials()
		}
		return nil, fmt.Errorf("service/auth: looking up %s: %w", email, err)
	}

	if err := s.passwords.Verify(user.PasswordHash, password); err != nil {
		if !errors.Is(err, auth.ErrPasswordMismatch) {
			// Passwordless (GitHub) accounts land here with an empty hash.
			s.logger.Debug("password verification failed",
				slog.String("email", email),
				slog.String("error", err.Error()),
			)
		}
		return nil, apperror.InvalidCredentials()
	}

	if s.passwords.NeedsRehash(user.PasswordHash) {
		s.rehash(ctx, email, password)
	}

	return s.issue(email)
}

// rehash moves a stored hash to the current bcrypt cost. The login has
// already succeeded, so failures are only logged.
func (s *AuthService) rehash(ctx context.Context, email, password string) {
	hash, err := s.passwords.Hash(password)
	if err == nil {
		err = s.users.UpdatePasswordHash(ctx, email, hash)
	}
	if err != nil {
		s.logger.Warn("password rehash failed",
			slog.String("email", email),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.Info("password rehashed",
		slog.String("email", email),
		slog.Int("cost", s.passwords.Cost()),
	)
}

// Verify validates a token and returns the email it was issued for.
func (s *AuthService) Verify(token string) (string, error) {
	email, err := s.tokens.Verify(token)
	if err != nil {
		return "", apperror.Unauthenticated("Authentication failed")
	}
	return email, nil
}

// LoginWithGitHub binds a GitHub identity to a local account by email,
// creating a passwordless user on first sight.
func (s *AuthService) LoginWithGitHub(ctx context.Context, ghUser *auth.GitHubUser) (*AuthResult, error) {
	if ghUser == nil {
		return nil, fmt.Errorf("service/auth: GitHub user must not be nil")
	}

	email := normalizeEmail(ghUser.Email)
	if !isEmail(email) {
		return nil, apperror.ValidationFailed("email", "GitHub account has no usable email")
	}

	_, err := s.users.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
	case errors.Is(err, apperror.ErrNotFound):
		err := s.users.CreateUser(ctx, &model.User{Email: email})
		if err != nil && !errors.Is(err, apperror.ErrConflict) {
			return nil, fmt.Errorf("service/auth: creating GitHub user %s: %w", email, err)
		}
		s.logger.Info("user registered via GitHub",
			slog.String("email", email),
			slog.String("login", ghUser.Login),
		)
	default:
		return nil, fmt.Errorf("service/auth: looking up %s: %w", email, err)
	}

	return s.issue(email)
}

func (s *AuthService) issue(email string) (*AuthResult, error) {
	token, err := s.tokens.Issue(email)
	if err != nil {
		return nil, fmt.Errorf("service/auth: issuing token for %s: %w", email, err)
	}
	return &AuthResult{Email: email, Token: token}, nil
}
