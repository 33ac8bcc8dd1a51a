// Package config reads the relay's environment into one struct. Nothing here
// is validated as required: Daraja credentials may be absent in a fresh
// sandbox checkout, and the relay still boots — a missing credential only
// surfaces when an initiation is actually attempted.
package config

import (
	"net/url"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/providers/env"
)

const (
	defaultPort      = "8000"
	defaultShortCode = "174379" // Daraja sandbox paybill
)

type Config struct {
	Port  string
	Env   string
	Mpesa MpesaConfig
}

type MpesaConfig struct {
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	Passkey        string
	CallbackURL    string
	// CallbackSecret, when set, is appended to the registered callback URL as
	// a token query param and checked on every inbound callback. Daraja does
	// not sign its callbacks, so this is the only origin check available.
	CallbackSecret string
	IsProduction   bool
	// LedgerTTL > 0 turns on eviction of stale ledger records.
	LedgerTTL time.Duration
}

// Load reads the process environment (godotenv has already folded .env into
// it by the time this runs).
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(env.Provider("", ".", strings.ToLower), nil); err != nil {
		return nil, err
	}

	cfg := &Config{
		Port: k.String("port"),
		Env:  k.String("env"),
		Mpesa: MpesaConfig{
			ConsumerKey:    k.String("mpesa_consumer_key"),
			ConsumerSecret: k.String("mpesa_consumer_secret"),
			ShortCode:      k.String("mpesa_shortcode"),
			Passkey:        k.String("mpesa_passkey"),
			CallbackURL:    k.String("mpesa_callback_url"),
			CallbackSecret: k.String("mpesa_callback_secret"),
			IsProduction:   strings.EqualFold(k.String("mpesa_env"), "production"),
		},
	}

	if cfg.Port == "" {
		cfg.Port = defaultPort
	}
	if cfg.Mpesa.ShortCode == "" {
		cfg.Mpesa.ShortCode = defaultShortCode
	}

	if raw := k.String("mpesa_ledger_ttl"); raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil {
			return nil, err
		}
		cfg.Mpesa.LedgerTTL = ttl
	}

	return cfg, nil
}

// CallbackEndpoint is the URL registered with Daraja: the configured callback
// URL with the shared-secret token appended when one is set.
func (m MpesaConfig) CallbackEndpoint() string {
	if m.CallbackURL == "" || m.CallbackSecret == "" {
		return m.CallbackURL
	}
	u, err := url.Parse(m.CallbackURL)
	if err != nil {
		return m.CallbackURL
	}
	q := u.Query()
	q.Set("token", m.CallbackSecret)
	u.RawQuery = q.Encode()
	return u.String()
}
