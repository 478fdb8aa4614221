package ca

import (
	"context"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fakeCertPEM = "-----BEGIN CERTIFICATE-----\nMIIB-fake\n-----END CERTIFICATE-----\n"

func TestRegister(t *testing.T) {
	var gotReq RegistrationRequest
	var gotUser, gotPass string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/register", r.URL.Path)
		gotUser, gotPass, _ = r.BasicAuth()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"result":  map[string]string{"secret": "generated-secret"},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "ca-sellers")
	secret, err := c.Register(context.Background(), "admin", "adminpw", &RegistrationRequest{
		ID:             "u1",
		Type:           "client",
		MaxEnrollments: -1,
		Affiliation:    "sellersorg",
		Attributes: []Attribute{
			{Name: "role", Value: "SELLER", ECert: true},
			{Name: "userId", Value: "u1", ECert: true},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "generated-secret", secret)
	assert.Equal(t, "admin", gotUser)
	assert.Equal(t, "adminpw", gotPass)
	assert.Equal(t, "ca-sellers", gotReq.CAName, "client fills in its CA name")
	assert.Equal(t, "client", gotReq.Type)
}

func TestRegisterConflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"success": false,
			"errors":  []map[string]interface{}{{"code": 74, "message": "Identity 'u1' is already registered"}},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	_, err := c.Register(context.Background(), "admin", "adminpw", &RegistrationRequest{ID: "u1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAlreadyExists)
	assert.Contains(t, err.Error(), "already registered")
}

func TestRegisterBadCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"success": false,
			"errors":  []map[string]interface{}{{"code": 20, "message": "Authentication failure"}},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	_, err := c.Register(context.Background(), "admin", "wrong", &RegistrationRequest{ID: "u1"})
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestEnroll(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/enroll", r.URL.Path)

		var req enrollmentRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		// The CSR must be a parseable PEM request with CN = enrollment id.
		block, _ := pem.Decode([]byte(req.CertificateRequest))
		require.NotNil(t, block)
		csr, err := x509.ParseCertificateRequest(block.Bytes)
		require.NoError(t, err)
		assert.Equal(t, "u1", csr.Subject.CommonName)
		require.NoError(t, csr.CheckSignature())

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"result": map[string]interface{}{
				"Cert": base64.StdEncoding.EncodeToString([]byte(fakeCertPEM)),
				"ServerInfo": map[string]string{
					"CAName":  "ca-sellers",
					"CAChain": base64.StdEncoding.EncodeToString([]byte(fakeCertPEM)),
				},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "ca-sellers")
	enrollment, err := c.Enroll(context.Background(), "u1", "secret")
	require.NoError(t, err)

	assert.Equal(t, []byte(fakeCertPEM), enrollment.Certificate)
	assert.Equal(t, []byte(fakeCertPEM), enrollment.CAChain)

	// The private key is generated locally and PEM-encoded.
	block, _ := pem.Decode(enrollment.PrivateKey)
	require.NotNil(t, block)
	assert.Equal(t, "PRIVATE KEY", block.Type)
	_, err = x509.ParsePKCS8PrivateKey(block.Bytes)
	assert.NoError(t, err)
}

func TestEnrollServerDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // immediately unreachable

	c := NewClient(srv.URL, "")
	_, err := c.Enroll(context.Background(), "u1", "secret")
	assert.ErrorIs(t, err, ErrUnavailable)
}
