package config

import (
	"fmt"
	"log/slog"
	"os"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/parceltrace/parceltrace/pkg/models"
)

// Load reads, expands, merges and validates the configuration file.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Read the YAML file
//  2. Expand environment variables
//  3. Parse YAML into Config
//  4. Merge built-in defaults underneath
//  5. Validate
func Load(path string) (*Config, error) {
	log := slog.With("config_file", path)
	log.Info("Loading configuration")

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(ExpandEnv(raw), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := mergo.Merge(cfg, defaults()); err != nil {
		return nil, fmt.Errorf("failed to apply config defaults: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("Configuration loaded",
		"orgs", len(cfg.Orgs),
		"single_org", cfg.SingleOrg(),
		"auth_mode", cfg.Auth.Mode,
		"channel", cfg.ChannelName,
		"chaincode", cfg.ChaincodeName)

	return cfg, nil
}

// validate rejects configurations that cannot serve requests.
func validate(cfg *Config) error {
	if !cfg.Auth.Mode.IsValid() {
		return fmt.Errorf("auth.mode must be %q or %q, got %q", AuthModeJWT, AuthModeBasic, cfg.Auth.Mode)
	}
	if cfg.Auth.Mode == "" {
		cfg.Auth.Mode = AuthModeJWT
	}
	if cfg.Auth.Mode == AuthModeJWT && cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwtSecret is required in jwt mode")
	}
	if cfg.Wallet.EncryptionKey == "" {
		return fmt.Errorf("wallet.encryptionKey is required")
	}
	if len(cfg.Wallet.EncryptionKey) < 16 {
		slog.Warn("wallet.encryptionKey is shorter than 16 bytes; use more entropy")
	}
	if cfg.CA.AdminID == "" || cfg.CA.AdminSecret == "" {
		return fmt.Errorf("ca.adminId and ca.adminSecret are required")
	}
	if len(cfg.Orgs) == 0 {
		return fmt.Errorf("at least one organization must be configured")
	}

	if cfg.OrgName != "" {
		if _, ok := cfg.Orgs[cfg.OrgName]; !ok {
			return fmt.Errorf("orgName %q is not present in orgs", cfg.OrgName)
		}
		if len(models.OrgAllowedRoles(cfg.OrgName)) == 0 {
			return fmt.Errorf("orgName %q maps to no roles", cfg.OrgName)
		}
	}

	for name, org := range cfg.Orgs {
		if org.MSPID == "" {
			return fmt.Errorf("orgs.%s.mspId is required", name)
		}
		if org.PeerEndpoint == "" {
			return fmt.Errorf("orgs.%s.peerEndpoint is required", name)
		}
		if org.CAURL == "" {
			return fmt.Errorf("orgs.%s.caUrl is required", name)
		}
	}

	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return fmt.Errorf("http.port %d is out of range", cfg.HTTP.Port)
	}
	if (cfg.HTTP.TLSCert == "") != (cfg.HTTP.TLSKey == "") {
		return fmt.Errorf("http.tlsCert and http.tlsKey must be set together")
	}

	for _, d := range []struct {
		name  string
		value Duration
	}{
		{"deadlines.evaluate", cfg.Deadlines.Evaluate},
		{"deadlines.endorse", cfg.Deadlines.Endorse},
		{"deadlines.submit", cfg.Deadlines.Submit},
		{"deadlines.commitStatus", cfg.Deadlines.CommitStatus},
	} {
		if d.value <= 0 {
			return fmt.Errorf("%s must be positive", d.name)
		}
	}

	if cfg.Ledger.MaxHandles < 1 {
		return fmt.Errorf("ledger.maxHandles must be at least 1")
	}
	if cfg.Events.MaxSubscriptionsPerUser < 1 {
		return fmt.Errorf("events.maxSubscriptionsPerUser must be at least 1")
	}

	return nil
}
