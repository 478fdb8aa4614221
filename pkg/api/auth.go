package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/parceltrace/parceltrace/pkg/models"
	"github.com/parceltrace/parceltrace/pkg/services"
)

// Principal is the authenticated caller.
type Principal struct {
	UserID string
	Role   models.Role
}

// ErrUnauthenticated is returned by authenticators on any credential
// failure.
var ErrUnauthenticated = errors.New("unauthenticated")

// Authenticator turns an incoming request into a Principal. The HTTP
// front-end is parameterized by exactly one strategy per deployment;
// JWT bearer is the default, HTTP Basic the alternative binding.
type Authenticator interface {
	Authenticate(r *http.Request) (*Principal, error)
}

// --- JWT strategy ---

// sessionClaims are the JWT claims of a session token.
type sessionClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// JWTAuthenticator issues and verifies HMAC-signed session tokens.
type JWTAuthenticator struct {
	secret    []byte
	expiresIn time.Duration
}

// NewJWTAuthenticator creates the JWT strategy.
func NewJWTAuthenticator(secret string, expiresIn time.Duration) *JWTAuthenticator {
	return &JWTAuthenticator{secret: []byte(secret), expiresIn: expiresIn}
}

// Issue mints a session token for the user.
func (a *JWTAuthenticator) Issue(user *models.User) (string, error) {
	now := time.Now()
	claims := &sessionClaims{
		Role: string(user.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.expiresIn)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

// Authenticate verifies the bearer token.
func (a *JWTAuthenticator) Authenticate(r *http.Request) (*Principal, error) {
	raw, err := a.TokenFromRequest(r)
	if err != nil {
		return nil, err
	}
	return a.Verify(raw)
}

// TokenFromRequest extracts the bearer token.
func (a *JWTAuthenticator) TokenFromRequest(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", fmt.Errorf("%w: missing bearer token", ErrUnauthenticated)
	}
	return strings.TrimPrefix(header, prefix), nil
}

// Verify parses and validates a raw token.
func (a *JWTAuthenticator) Verify(raw string) (*Principal, error) {
	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: invalid token", ErrUnauthenticated)
	}

	role := models.Role(claims.Role)
	if claims.Subject == "" || !role.IsValid() {
		return nil, fmt.Errorf("%w: malformed claims", ErrUnauthenticated)
	}
	return &Principal{UserID: claims.Subject, Role: role}, nil
}

// --- HTTP Basic strategy ---

// PasswordVerifier is the slice of the user service the basic strategy
// needs.
type PasswordVerifier interface {
	Authenticate(ctx context.Context, username, password string) (*models.User, error)
}

// BasicAuthenticator verifies HTTP Basic credentials against the user
// store on every request.
type BasicAuthenticator struct {
	users PasswordVerifier
}

// NewBasicAuthenticator creates the HTTP Basic strategy.
func NewBasicAuthenticator(users PasswordVerifier) *BasicAuthenticator {
	return &BasicAuthenticator{users: users}
}

// Authenticate verifies the request's basic-auth credentials.
func (a *BasicAuthenticator) Authenticate(r *http.Request) (*Principal, error) {
	username, password, ok := r.BasicAuth()
	if !ok {
		return nil, fmt.Errorf("%w: missing basic credentials", ErrUnauthenticated)
	}
	user, err := a.users.Authenticate(r.Context(), username, password)
	if err != nil {
		if errors.Is(err, services.ErrBadCredentials) {
			return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
		}
		return nil, err
	}
	return &Principal{UserID: user.ID, Role: user.Role}, nil
}
