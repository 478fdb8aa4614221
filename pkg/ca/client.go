package ca

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"
)

// Client talks to one organization's Fabric CA over its REST API.
// Safe for concurrent use.
type Client struct {
	baseURL    string
	caName     string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client (tests).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTLSCert trusts the given PEM file for the CA's TLS endpoint.
func WithTLSCert(certPath string) Option {
	return func(c *Client) {
		pemBytes, err := os.ReadFile(certPath)
		if err != nil {
			return
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemBytes) {
			return
		}
		c.httpClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{RootCAs: pool},
		}
	}
}

// NewClient creates a client for the CA at baseURL.
func NewClient(baseURL, caName string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		caName:  caName,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register registers a new identity using the registrar's credentials
// and returns the enrollment secret (the requested one, or the
// CA-generated secret if none was supplied).
func (c *Client) Register(ctx context.Context, registrarID, registrarSecret string, req *RegistrationRequest) (string, error) {
	if req.CAName == "" {
		req.CAName = c.caName
	}

	var result registrationResult
	if err := c.post(ctx, "/api/v1/register", registrarID, registrarSecret, req, &result); err != nil {
		return "", err
	}

	secret := result.Secret
	if secret == "" {
		secret = req.Secret
	}
	if secret == "" {
		return "", fmt.Errorf("ca: register returned no enrollment secret")
	}
	return secret, nil
}

// Enroll generates a key pair locally, submits a CSR under the
// enrollment credentials and returns the signed certificate with the
// private key.
func (c *Client) Enroll(ctx context.Context, enrollmentID, secret string) (*Enrollment, error) {
	keyPEM, csrPEM, err := newKeyAndCSR(enrollmentID)
	if err != nil {
		return nil, err
	}

	req := &enrollmentRequest{
		CertificateRequest: string(csrPEM),
		CAName:             c.caName,
	}

	var result enrollmentResult
	if err := c.post(ctx, "/api/v1/enroll", enrollmentID, secret, req, &result); err != nil {
		return nil, err
	}

	certPEM, err := base64.StdEncoding.DecodeString(result.Cert)
	if err != nil {
		return nil, fmt.Errorf("ca: enroll returned malformed certificate: %w", err)
	}

	enrollment := &Enrollment{
		Certificate: certPEM,
		PrivateKey:  keyPEM,
	}
	if result.ServerInfo.CAChain != "" {
		chain, err := base64.StdEncoding.DecodeString(result.ServerInfo.CAChain)
		if err != nil {
			return nil, fmt.Errorf("ca: enroll returned malformed CA chain: %w", err)
		}
		enrollment.CAChain = chain
	}
	return enrollment, nil
}

// post sends an authenticated JSON request and decodes the enveloped
// result into out.
func (c *Client) post(ctx context.Context, path, user, pass string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("ca: failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("ca: failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.SetBasicAuth(user, pass)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	var envelope struct {
		apiResponse
		Result json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		if resp.StatusCode >= 400 {
			return &APIError{StatusCode: resp.StatusCode}
		}
		return fmt.Errorf("ca: failed to decode response: %w", err)
	}

	if resp.StatusCode >= 400 || !envelope.Success {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if len(envelope.Errors) > 0 {
			apiErr.Code = envelope.Errors[0].Code
			apiErr.Message = envelope.Errors[0].Message
		}
		return apiErr
	}

	if out != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("ca: failed to decode result: %w", err)
		}
	}
	return nil
}
