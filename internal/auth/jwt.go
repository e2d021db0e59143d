// Package auth provides identity tokens, password hashing and the HTTP
// middleware that turns a bearer token into a verified email.
//
// TOKENS:
// A token is an HS256-signed JWT whose payload carries the account email
// (both as the "email" claim and as the standard "sub" claim) and an expiry:
//
//	HEADER.PAYLOAD.SIGNATURE
//	- Header:  {"alg":"HS256","typ":"JWT"}
//	- Payload: {"email":"alice@x.com","sub":"alice@x.com","iss":"forms-app","exp":...}
//
// Verification needs only the secret, never a database lookup.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	issuer = "forms-app"

	// DefaultTokenTTL is used when NewTokenService is given a zero TTL.
	DefaultTokenTTL = time.Hour
)

// ErrInvalidToken is returned (wrapped) for every token that fails
// verification: malformed, expired, wrong signature or missing claims.
var ErrInvalidToken = errors.New("auth: invalid token")

// TokenService issues and verifies signed identity tokens.
type TokenService struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenService creates a TokenService with the given secret and token
// lifetime. The secret should be at least 32 bytes of random data in
// production, e.g. JWT_SECRET=$(openssl rand -hex 32).
func NewTokenService(secret string, ttl time.Duration) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenService{secret: []byte(secret), ttl: ttl}, nil
}

// claims is the JWT payload. Email is the identity every other component
// works with; Subject mirrors it so generic JWT tooling can read it too.
type claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Issue creates and signs a token bound to email with the service's TTL.
func (s *TokenService) Issue(email string) (string, error) {
	return s.IssueWithDuration(email, s.ttl)
}

// IssueWithDuration creates a token with a custom lifetime. Tests use a
// negative duration to produce an already-expired token.
func (s *TokenService) IssueWithDuration(email string, d time.Duration) (string, error) {
	if email == "" {
		return "", errors.New("auth: cannot issue a token without an email")
	}
	now := time.Now()

	c := claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(d)),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}

	return signed, nil
}

// Verify checks signature, expiry, issuer and algorithm (HS256 only) and
// returns the email the token carries.
func (s *TokenService) Verify(tokenStr string) (string, error) {
	if tokenStr == "" {
		return "", fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	token, err := jwt.ParseWithClaims(
		tokenStr,
		&claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", fmt.Errorf("%w: token expired", ErrInvalidToken)
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("%w: bad claims", ErrInvalidToken)
	}

	if c.Email == "" {
		return "", fmt.Errorf("%w: token has no email claim", ErrInvalidToken)
	}

	return c.Email, nil
}

// TTL returns the lifetime of tokens issued by Issue.
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}
