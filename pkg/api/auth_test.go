package api

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parceltrace/parceltrace/pkg/models"
	"github.com/parceltrace/parceltrace/pkg/services"
)

func TestJWTRoundTrip(t *testing.T) {
	auth := NewJWTAuthenticator("test-secret", time.Hour)

	token, err := auth.Issue(&models.User{ID: "u1", Role: models.RoleSeller})
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/api/v1/deliveries/my", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	p, err := auth.Authenticate(req)
	require.NoError(t, err)
	assert.Equal(t, "u1", p.UserID)
	assert.Equal(t, models.RoleSeller, p.Role)
}

func TestJWTRejectsBadTokens(t *testing.T) {
	auth := NewJWTAuthenticator("test-secret", time.Hour)
	other := NewJWTAuthenticator("other-secret", time.Hour)

	token, err := other.Issue(&models.User{ID: "u1", Role: models.RoleSeller})
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"not bearer", "Basic dXNlcjpwYXNz"},
		{"garbage token", "Bearer not-a-jwt"},
		{"wrong signing key", "Bearer " + token},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			_, err := auth.Authenticate(req)
			assert.ErrorIs(t, err, ErrUnauthenticated)
		})
	}
}

func TestJWTRejectsExpired(t *testing.T) {
	auth := NewJWTAuthenticator("test-secret", -time.Minute)
	token, err := auth.Issue(&models.User{ID: "u1", Role: models.RoleSeller})
	require.NoError(t, err)

	_, err = auth.Verify(token)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

type fakeVerifier struct{ user *models.User }

func (f *fakeVerifier) Authenticate(_ context.Context, username, password string) (*models.User, error) {
	if f.user != nil && username == f.user.Username && password == "correct" {
		return f.user, nil
	}
	return nil, services.ErrBadCredentials
}

func TestBasicAuthenticator(t *testing.T) {
	auth := NewBasicAuthenticator(&fakeVerifier{
		user: &models.User{ID: "u1", Username: "alice", Role: models.RoleCustomer},
	})

	req := httptest.NewRequest("GET", "/", nil)
	req.SetBasicAuth("alice", "correct")
	p, err := auth.Authenticate(req)
	require.NoError(t, err)
	assert.Equal(t, "u1", p.UserID)

	req = httptest.NewRequest("GET", "/", nil)
	req.SetBasicAuth("alice", "wrong")
	_, err = auth.Authenticate(req)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	req = httptest.NewRequest("GET", "/", nil)
	_, err = auth.Authenticate(req)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}
