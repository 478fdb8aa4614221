package config

import "time"

// defaults returns the built-in configuration. User-provided YAML is
// merged on top; anything left at its zero value falls back to these.
func defaults() *Config {
	return &Config{
		ChannelName:   "delivery-channel",
		ChaincodeName: "deliverycc",
		HTTP: HTTPConfig{
			Port: 8443,
		},
		Auth: AuthConfig{
			Mode:         AuthModeJWT,
			JWTExpiresIn: Duration(24 * time.Hour),
		},
		Deadlines: DeadlineConfig{
			Evaluate:     Duration(30 * time.Second),
			Endorse:      Duration(60 * time.Second),
			Submit:       Duration(60 * time.Second),
			CommitStatus: Duration(120 * time.Second),
		},
		Ledger: LedgerConfig{
			MaxHandles:    128,
			HandleIdleTTL: Duration(10 * time.Minute),
		},
		Events: EventsConfig{
			MaxSubscriptionsPerUser: 32,
			ConsumerMaxRetries:      10,
		},
	}
}
