// Package config loads the yvault configuration file and merges secrets into it.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/3cpo-dev/yvault/internal/accounting"
	"github.com/3cpo-dev/yvault/internal/localchain"
)

// ErrInvalid is returned by Validate.
var ErrInvalid = errors.New("config: invalid")

const (
	EnvGatewayToken = "YVAULT_GATEWAY_TOKEN"
	EnvDatabase     = "YVAULT_DB"
)

type Vault struct {
	Owner          string                  `yaml:"owner" toml:"owner"`
	Name           string                  `yaml:"name" toml:"name"`
	SupportedAsset string                  `yaml:"supported_asset" toml:"supported_asset"`
	Strategy       string                  `yaml:"strategy" toml:"strategy"`
	Registry       string                  `yaml:"registry" toml:"registry"`
	RedeemPolicy   accounting.RedeemPolicy `yaml:"redeem_policy" toml:"redeem_policy"`
	ShareDecimals  uint8                   `yaml:"share_decimals" toml:"share_decimals"`
}

type Gateway struct {
	Addr  string `yaml:"addr" toml:"addr"`
	Token string `yaml:"token" toml:"token"`

	TLSCert           string `yaml:"tls_cert" toml:"tls_cert"`
	TLSKey            string `yaml:"tls_key" toml:"tls_key"`
	ClientCA          string `yaml:"client_ca" toml:"client_ca"`
	RequireClientCert bool   `yaml:"require_client_cert" toml:"require_client_cert"`
}

type Telemetry struct {
	Enabled              bool `yaml:"enabled" toml:"enabled"`
	FlushIntervalSeconds int  `yaml:"flush_interval_seconds" toml:"flush_interval_seconds"`
}

// Chain is the local host: its genesis state and delivery order.
type Chain struct {
	localchain.Genesis `yaml:",inline"`
	// ShuffleSeed, when non-zero, delivers queued calls in a seeded random order.
	ShuffleSeed int64 `yaml:"shuffle_seed" toml:"shuffle_seed"`
}

// Options returns the host options the section selects.
func (c Chain) Options() []localchain.Option {
	if c.ShuffleSeed == 0 {
		return nil
	}
	return []localchain.Option{localchain.WithShuffle(c.ShuffleSeed)}
}

// Config is the full yvault configuration.
type Config struct {
	LogLevel  string    `yaml:"log_level" toml:"log_level"`
	Database  string    `yaml:"database" toml:"database"`
	Vault     Vault     `yaml:"vault" toml:"vault"`
	Gateway   Gateway   `yaml:"gateway" toml:"gateway"`
	Telemetry Telemetry `yaml:"telemetry" toml:"telemetry"`
	Chain     Chain     `yaml:"chain" toml:"chain"`
}

// Dir is $XDG_CONFIG_HOME/yvault, or ~/.config/yvault.
func Dir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, _ := os.UserHomeDir()
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "yvault")
}

// DefaultPath is the config file used when none is given.
func DefaultPath() string { return filepath.Join(Dir(), "config.yaml") }

// Default returns a runnable local configuration: one USDC-like asset with funded
// demo accounts, a lending strategy and a vault registry.
func Default() Config {
	return Config{
		LogLevel: "info",
		Database: filepath.Join(Dir(), "yvault.db"),
		Vault: Vault{
			Owner:          "owner",
			Name:           "usdc-vault",
			SupportedAsset: "USDC",
			Strategy:       "lending",
			Registry:       "factory",
			RedeemPolicy:   accounting.DefaultRedeemPolicy,
		},
		Gateway:   Gateway{Addr: "127.0.0.1:8545"},
		Telemetry: Telemetry{Enabled: false, FlushIntervalSeconds: 30},
		Chain: Chain{Genesis: localchain.Genesis{
			Tokens: []localchain.GenesisToken{{
				Name:     "USD Coin",
				Symbol:   "USDC",
				Decimals: 6,
				Balances: map[string]string{"owner": "1000000", "alice": "1000000", "bob": "1000000"},
			}},
			Strategies: []string{"lending"},
			Registries: []string{"factory"},
		}},
	}
}

// Load reads the config at path, YAML or TOML by extension, over Default(). An
// empty path resolves DefaultPath and a missing default file yields Default().
// secrets.env next to the config and the environment override file values.
func Load(path string) (Config, error) {
	cfg := Default()
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	content, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := decode(path, content, &cfg); err != nil {
			return cfg, err
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return cfg, fmt.Errorf("read config: %w", err)
	}

	secrets, err := LoadSecretsEnv(filepath.Join(filepath.Dir(path), "secrets.env"))
	if err != nil {
		return cfg, err
	}
	applyOverrides(&cfg, secrets)
	return cfg, nil
}

func decode(path string, content []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(content), cfg); err != nil {
			return fmt.Errorf("parse config: %w", err)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(content, cfg); err != nil {
			return fmt.Errorf("parse config: %w", err)
		}
	default:
		return fmt.Errorf("parse config: unsupported format %q", filepath.Ext(path))
	}
	return nil
}

// applyOverrides layers secrets, then the process environment, over cfg.
func applyOverrides(cfg *Config, secrets map[string]string) {
	for _, key := range []string{EnvGatewayToken, EnvDatabase} {
		if v := os.Getenv(key); v != "" {
			secrets[key] = v
		}
	}
	if v := secrets[EnvGatewayToken]; v != "" {
		cfg.Gateway.Token = v
	}
	if v := secrets[EnvDatabase]; v != "" {
		cfg.Database = v
	}
}

// Validate checks the fields every command relies on.
func (c Config) Validate() error {
	var errs []error
	if c.Database == "" {
		errs = append(errs, fmt.Errorf("%w: database is required", ErrInvalid))
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("%w: log_level: %v", ErrInvalid, err))
	}
	if c.Vault.SupportedAsset == "" {
		errs = append(errs, fmt.Errorf("%w: vault.supported_asset is required", ErrInvalid))
	}
	if c.Vault.Name == "" {
		errs = append(errs, fmt.Errorf("%w: vault.name is required", ErrInvalid))
	}
	if _, err := accounting.ParseRedeemPolicy(string(c.Vault.RedeemPolicy)); err != nil {
		errs = append(errs, fmt.Errorf("%w: vault.redeem_policy: %v", ErrInvalid, err))
	}
	if (c.Gateway.TLSCert == "") != (c.Gateway.TLSKey == "") {
		errs = append(errs, fmt.Errorf("%w: gateway.tls_cert and gateway.tls_key must be set together", ErrInvalid))
	}
	if c.Gateway.RequireClientCert && c.Gateway.ClientCA == "" {
		errs = append(errs, fmt.Errorf("%w: gateway.require_client_cert needs gateway.client_ca", ErrInvalid))
	}
	if c.Telemetry.Enabled && c.Telemetry.FlushIntervalSeconds <= 0 {
		errs = append(errs, fmt.Errorf("%w: telemetry.flush_interval_seconds must be positive", ErrInvalid))
	}
	for _, tok := range c.Chain.Tokens {
		if tok.Symbol == "" {
			errs = append(errs, fmt.Errorf("%w: chain token without symbol", ErrInvalid))
		}
		for holder, raw := range tok.Balances {
			if _, err := accounting.ParseAmount(raw); err != nil {
				errs = append(errs, fmt.Errorf("%w: chain token %s balance of %s: %v", ErrInvalid, tok.Symbol, holder, err))
			}
		}
	}
	return errors.Join(errs...)
}

// Write saves cfg as YAML at path, creating the directory.
func Write(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return os.WriteFile(path, out, 0o600)
}
