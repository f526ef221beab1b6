package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/3cpo-dev/yvault/internal/config"
	"github.com/3cpo-dev/yvault/internal/gateway"
	"github.com/3cpo-dev/yvault/internal/ledger"
	"github.com/3cpo-dev/yvault/internal/localchain"
	"github.com/3cpo-dev/yvault/internal/telemetry"
	"github.com/3cpo-dev/yvault/internal/vault"
)

// session is one CLI invocation's view of the local database.
type session struct {
	cfg   config.Config
	chain *localchain.Chain
	store *ledger.SQLiteStore
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	if lvl, _ := cmd.Flags().GetString("log"); lvl == "" {
		setLevel(cfg.LogLevel)
	}
	return cfg, nil
}

func openSession(cmd *cobra.Command) (*session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if cfg.Telemetry.Enabled {
		telemetry.InitGlobal(true, time.Duration(cfg.Telemetry.FlushIntervalSeconds)*time.Second)
	}
	chain, store, err := localchain.Open(cmd.Context(), cfg.Database, cfg.Chain.Genesis, cfg.Chain.Options()...)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("database", cfg.Database).Msg("session opened")
	return &session{cfg: cfg, chain: chain, store: store}, nil
}

func (s *session) Close() {
	if err := telemetry.Shutdown(); err != nil {
		log.Warn().Err(err).Msg("telemetry shutdown")
	}
	if err := s.store.Close(); err != nil {
		log.Warn().Err(err).Msg("close database")
	}
}

// vault resolves the --vault flag, defaulting to the configured vault name.
func (s *session) vault(cmd *cobra.Command) (*vault.Vault, error) {
	name, _ := cmd.Flags().GetString("vault")
	if name == "" {
		name = s.cfg.Vault.Name
	}
	addr, err := s.chain.Resolve(cmd.Context(), name)
	if err != nil {
		return nil, err
	}
	return s.chain.Vault(cmd.Context(), addr)
}

func (s *session) resolve(cmd *cobra.Command, ref string) (vault.Address, error) {
	return s.chain.Resolve(cmd.Context(), ref)
}

// drain settles every queued call and fails if a vault rejected a completion.
func (s *session) drain(cmd *cobra.Command) (localchain.Report, error) {
	rep, err := s.chain.Drain(cmd.Context())
	if err != nil {
		return rep, err
	}
	if out := s.chain.Outstanding(); len(out) > 0 {
		return rep, fmt.Errorf("%d calls left undelivered", len(out))
	}
	return rep, rep.Err()
}

func remoteClient(cmd *cobra.Command) *gateway.Client {
	url, _ := cmd.Flags().GetString("gateway")
	if url == "" {
		return nil
	}
	token := os.Getenv(config.EnvGatewayToken)
	return gateway.NewClient(url, token, 15*time.Second, 20)
}

// remoteVault is the --vault flag, falling back to the configured vault name.
func remoteVault(cmd *cobra.Command) string {
	if name, _ := cmd.Flags().GetString("vault"); name != "" {
		return name
	}
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Default().Vault.Name
	}
	return cfg.Vault.Name
}

// render writes v in the --output format; text uses the given printer.
func render(cmd *cobra.Command, v any, text func(w io.Writer)) error {
	format, _ := cmd.Flags().GetString("output")
	out := cmd.OutOrStdout()
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(out)
		defer enc.Close()
		return enc.Encode(v)
	case "text", "":
		text(out)
		return nil
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

type operationOutput struct {
	Vault      vault.Address         `json:"vault" yaml:"vault"`
	Attributes []vault.Attribute     `json:"attributes" yaml:"attributes"`
	Deliveries []localchain.Delivery `json:"deliveries" yaml:"deliveries"`
}

// finish drains the queue and prints what the operation did.
func (s *session) finish(cmd *cobra.Command, addr vault.Address, resp vault.Response) error {
	rep, drainErr := s.drain(cmd)
	out := operationOutput{Vault: addr, Attributes: resp.Attributes, Deliveries: rep.Deliveries}
	err := render(cmd, out, func(w io.Writer) {
		for _, a := range resp.Attributes {
			fmt.Fprintf(w, "%s=%s\n", a.Key, a.Value)
		}
		for _, d := range rep.Deliveries {
			status := "ok"
			switch {
			case d.HandlerError != "":
				status = "rejected: " + d.HandlerError
			case d.ExecError != "":
				status = "failed: " + d.ExecError
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.ID, d.Action, d.Target, status)
		}
	})
	return errors.Join(err, drainErr)
}
