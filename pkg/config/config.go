// Package config loads and validates the gateway configuration from a
// YAML file with environment expansion, layered over built-in defaults.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "30s" or "10m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// AuthMode selects the request authentication strategy.
type AuthMode string

const (
	AuthModeJWT   AuthMode = "jwt"
	AuthModeBasic AuthMode = "basic"
)

// IsValid checks if the auth mode is valid (empty means the default, jwt).
func (m AuthMode) IsValid() bool {
	return m == "" || m == AuthModeJWT || m == AuthModeBasic
}

// Config is the umbrella configuration object returned by Load.
type Config struct {
	// OrgName restricts the instance to a single organization when set
	// ("single-org" mode). Empty means multi-org: the instance serves
	// all three organizations.
	OrgName string `yaml:"orgName"`

	ChannelName   string `yaml:"channelName"`
	ChaincodeName string `yaml:"chaincodeName"`

	HTTP      HTTPConfig           `yaml:"http"`
	Auth      AuthConfig           `yaml:"auth"`
	Wallet    WalletConfig         `yaml:"wallet"`
	Orgs      map[string]OrgConfig `yaml:"orgs"`
	CA        CAAdminConfig        `yaml:"ca"`
	Deadlines DeadlineConfig       `yaml:"deadlines"`
	Ledger    LedgerConfig         `yaml:"ledger"`
	Events    EventsConfig         `yaml:"events"`
}

// HTTPConfig configures the public listener. TLS is enabled when both
// cert and key paths are set.
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	TLSCert string `yaml:"tlsCert"`
	TLSKey  string `yaml:"tlsKey"`
}

// AuthConfig configures session-token issuing and verification.
type AuthConfig struct {
	Mode         AuthMode `yaml:"mode"`
	JWTSecret    string   `yaml:"jwtSecret"`
	JWTExpiresIn Duration `yaml:"jwtExpiresIn"`
}

// WalletConfig configures the identity wallet.
type WalletConfig struct {
	// EncryptionKey is the KDF input for the wallet's sealing key.
	// SHOULD be at least 16 bytes of entropy.
	EncryptionKey string `yaml:"encryptionKey"`
}

// OrgConfig is the per-organization transport and CA binding.
type OrgConfig struct {
	MSPID        string `yaml:"mspId"`
	PeerEndpoint string `yaml:"peerEndpoint"`
	PeerTLSCert  string `yaml:"peerTlsCert"` // path to the peer's TLS CA cert (PEM)
	GatewayPeer  string `yaml:"gatewayPeer"` // TLS server name override
	CAURL        string `yaml:"caUrl"`
	CATLSCert    string `yaml:"caTlsCert"` // path to the CA's TLS cert (PEM)
	CAName       string `yaml:"caName"`
}

// CAAdminConfig holds the registrar credentials used to register new
// users with each organization's CA. Read-only after startup.
type CAAdminConfig struct {
	AdminID     string `yaml:"adminId"`
	AdminSecret string `yaml:"adminSecret"`
}

// DeadlineConfig carries the contractual per-call ceilings for ledger
// interactions. These are enforced even when the transport would allow
// longer.
type DeadlineConfig struct {
	Evaluate     Duration `yaml:"evaluate"`
	Endorse      Duration `yaml:"endorse"`
	Submit       Duration `yaml:"submit"`
	CommitStatus Duration `yaml:"commitStatus"`
}

// LedgerConfig bounds the per-user gateway handle cache.
type LedgerConfig struct {
	MaxHandles    int      `yaml:"maxHandles"`
	HandleIdleTTL Duration `yaml:"handleIdleTTL"`
}

// EventsConfig bounds the WebSocket fan-out and the event consumer.
type EventsConfig struct {
	MaxSubscriptionsPerUser int `yaml:"maxSubscriptionsPerUser"`
	ConsumerMaxRetries      int `yaml:"consumerMaxRetries"`
}

// Org returns the configuration of a named organization.
func (c *Config) Org(name string) (OrgConfig, error) {
	org, ok := c.Orgs[name]
	if !ok {
		return OrgConfig{}, fmt.Errorf("organization %q is not configured", name)
	}
	return org, nil
}

// SingleOrg reports whether the instance runs in single-org mode.
func (c *Config) SingleOrg() bool { return c.OrgName != "" }
