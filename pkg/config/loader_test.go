package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const minimalYAML = `
orgName: SellersOrg
auth:
  jwtSecret: ${TEST_JWT_SECRET}
wallet:
  encryptionKey: 0123456789abcdef0123456789abcdef
ca:
  adminId: admin
  adminSecret: adminpw
orgs:
  PlatformOrg:
    mspId: PlatformOrgMSP
    peerEndpoint: peer0.platform.example.com:7051
    caUrl: https://ca.platform.example.com:7054
  SellersOrg:
    mspId: SellersOrgMSP
    peerEndpoint: peer0.sellers.example.com:7051
    caUrl: https://ca.sellers.example.com:7054
  LogisticsOrg:
    mspId: LogisticsOrgMSP
    peerEndpoint: peer0.logistics.example.com:7051
    caUrl: https://ca.logistics.example.com:7054
deadlines:
  evaluate: 10s
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "parceltrace.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadAppliesDefaultsAndEnv(t *testing.T) {
	t.Setenv("TEST_JWT_SECRET", "super-secret-token-key")

	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	// Env expansion.
	assert.Equal(t, "super-secret-token-key", cfg.Auth.JWTSecret)

	// Explicit values survive the defaults merge.
	assert.Equal(t, "SellersOrg", cfg.OrgName)
	assert.True(t, cfg.SingleOrg())
	assert.Equal(t, 10*time.Second, cfg.Deadlines.Evaluate.Std())

	// Everything else falls back to the defaults.
	assert.Equal(t, "delivery-channel", cfg.ChannelName)
	assert.Equal(t, "deliverycc", cfg.ChaincodeName)
	assert.Equal(t, 8443, cfg.HTTP.Port)
	assert.Equal(t, AuthModeJWT, cfg.Auth.Mode)
	assert.Equal(t, 24*time.Hour, cfg.Auth.JWTExpiresIn.Std())
	assert.Equal(t, 60*time.Second, cfg.Deadlines.Endorse.Std())
	assert.Equal(t, 120*time.Second, cfg.Deadlines.CommitStatus.Std())
	assert.Equal(t, 128, cfg.Ledger.MaxHandles)
	assert.Equal(t, 32, cfg.Events.MaxSubscriptionsPerUser)
}

const orgsOnlyYAML = `
wallet:
  encryptionKey: 0123456789abcdef0123456789abcdef
ca:
  adminId: admin
  adminSecret: adminpw
orgs:
  PlatformOrg:
    mspId: PlatformOrgMSP
    peerEndpoint: peer0.platform.example.com:7051
    caUrl: https://ca.platform.example.com:7054
`

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing jwt secret",
			yaml:    orgsOnlyYAML,
			wantErr: "jwtSecret",
		},
		{
			name:    "unknown single org",
			yaml:    "orgName: UnknownOrg\nauth: {mode: jwt, jwtSecret: x}\n" + orgsOnlyYAML,
			wantErr: "orgName",
		},
		{
			name:    "bad auth mode",
			yaml:    "auth: {mode: oauth, jwtSecret: x}\n" + orgsOnlyYAML,
			wantErr: "auth.mode",
		},
		{
			name:    "missing wallet key",
			yaml:    "auth: {mode: jwt, jwtSecret: x}\nca: {adminId: a, adminSecret: b}\norgs: {PlatformOrg: {mspId: m, peerEndpoint: p, caUrl: c}}\n",
			wantErr: "encryptionKey",
		},
		{
			name:    "no orgs",
			yaml:    "auth: {mode: jwt, jwtSecret: x}\nwallet: {encryptionKey: 0123456789abcdef}\nca: {adminId: a, adminSecret: b}\n",
			wantErr: "organization",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestDurationUnmarshal(t *testing.T) {
	var d Duration
	require.Error(t, yaml.Unmarshal([]byte("not-a-duration"), &d))
	require.NoError(t, yaml.Unmarshal([]byte("90s"), &d))
	assert.Equal(t, 90*time.Second, d.Std())
}
