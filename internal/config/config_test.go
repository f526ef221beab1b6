package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/3cpo-dev/yvault/internal/accounting"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvGatewayToken, "")
	t.Setenv(EnvDatabase, "")
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, `
log_level: debug
database: /tmp/vault.db
vault:
  owner: treasury
  name: weth-vault
  supported_asset: WETH
  redeem_policy: exclude-burned
gateway:
  addr: 0.0.0.0:9000
chain:
  shuffle_seed: 11
  tokens:
    - name: Wrapped Ether
      symbol: WETH
      decimals: 18
      balances:
        treasury: "5000"
`)
	writeFile(t, filepath.Join(dir, "secrets.env"), "# local secrets\nYVAULT_GATEWAY_TOKEN=s3cret\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "debug" || cfg.Database != "/tmp/vault.db" {
		t.Errorf("top level fields not loaded: %+v", cfg)
	}
	if cfg.Vault.Owner != "treasury" || cfg.Vault.SupportedAsset != "WETH" {
		t.Errorf("vault section not loaded: %+v", cfg.Vault)
	}
	if cfg.Vault.RedeemPolicy != accounting.RedeemExcludeBurned {
		t.Errorf("redeem policy = %q", cfg.Vault.RedeemPolicy)
	}
	if cfg.Gateway.Addr != "0.0.0.0:9000" {
		t.Errorf("gateway addr = %q", cfg.Gateway.Addr)
	}
	if cfg.Gateway.Token != "s3cret" {
		t.Errorf("gateway token from secrets.env = %q", cfg.Gateway.Token)
	}
	if len(cfg.Chain.Tokens) != 1 || cfg.Chain.Tokens[0].Balances["treasury"] != "5000" {
		t.Errorf("chain genesis = %+v", cfg.Chain)
	}
	if cfg.Chain.ShuffleSeed != 11 || len(cfg.Chain.Options()) != 1 {
		t.Errorf("chain shuffle seed = %d", cfg.Chain.ShuffleSeed)
	}
	if cfg.Telemetry.FlushIntervalSeconds != 30 {
		t.Errorf("unset fields should keep defaults, got %d", cfg.Telemetry.FlushIntervalSeconds)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvGatewayToken, "")
	t.Setenv(EnvDatabase, "")
	path := filepath.Join(dir, "config.toml")
	writeFile(t, path, `
log_level = "warn"

[vault]
name = "dai-vault"
supported_asset = "DAI"
share_decimals = 6

[telemetry]
enabled = true
flush_interval_seconds = 5

[chain]
shuffle_seed = 7
strategies = ["vault-lender"]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "warn" || cfg.Vault.Name != "dai-vault" || cfg.Vault.ShareDecimals != 6 {
		t.Errorf("toml not decoded: %+v", cfg)
	}
	if !cfg.Telemetry.Enabled || cfg.Telemetry.FlushIntervalSeconds != 5 {
		t.Errorf("telemetry = %+v", cfg.Telemetry)
	}
	if cfg.Chain.ShuffleSeed != 7 || len(cfg.Chain.Strategies) != 1 || cfg.Chain.Strategies[0] != "vault-lender" {
		t.Errorf("chain = %+v", cfg.Chain)
	}
	if len(cfg.Chain.Tokens) != 1 {
		t.Errorf("chain tokens should keep defaults, got %+v", cfg.Chain.Tokens)
	}
}

func TestDefaultChainKeepsFIFODelivery(t *testing.T) {
	cfg := Default()
	if cfg.Chain.ShuffleSeed != 0 || cfg.Chain.Options() != nil {
		t.Errorf("default chain options = %v", cfg.Chain.Options())
	}
}

func TestEnvironmentOverridesSecrets(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, "database: from-file.db\n")
	writeFile(t, filepath.Join(dir, "secrets.env"), "YVAULT_GATEWAY_TOKEN=from-secrets\nYVAULT_DB=from-secrets.db\n")
	t.Setenv(EnvGatewayToken, "from-env")
	t.Setenv(EnvDatabase, "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.Token != "from-env" {
		t.Errorf("token = %q, want env value", cfg.Gateway.Token)
	}
	if cfg.Database != "from-secrets.db" {
		t.Errorf("database = %q, want secrets value", cfg.Database)
	}
}

func TestLoadMissingFiles(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv(EnvGatewayToken, "")
	t.Setenv(EnvDatabase, "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("missing default config should fall back to defaults: %v", err)
	}
	if cfg.Vault.Name != Default().Vault.Name {
		t.Errorf("expected defaults, got %+v", cfg.Vault)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("explicit missing path should fail")
	}
	bad := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, bad, "{}")
	if _, err := Load(bad); err == nil {
		t.Error("unsupported extension should fail")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Database = ""
	cfg.LogLevel = "loud"
	cfg.Vault.RedeemPolicy = "round-up"
	cfg.Chain.Tokens[0].Balances["mallory"] = "-5"

	err := cfg.Validate()
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	for _, want := range []string{"database", "log_level", "redeem_policy", "mallory"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestWriteRoundTrip(t *testing.T) {
	t.Setenv(EnvGatewayToken, "")
	t.Setenv(EnvDatabase, "")
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Default()
	cfg.Vault.Owner = "ops"
	if err := Write(path, cfg); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Vault.Owner != "ops" || got.Chain.Tokens[0].Symbol != "USDC" {
		t.Errorf("round trip lost fields: %+v", got)
	}
}
