package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/3cpo-dev/yvault/internal/config"
	"github.com/3cpo-dev/yvault/internal/gateway"
	"github.com/3cpo-dev/yvault/internal/localchain"
	"github.com/3cpo-dev/yvault/internal/telemetry"
)

var version = "dev"

func main() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cmd := &cobra.Command{
		Use:           "yvault-gateway",
		Short:         "Serve yvault vaults over HTTP",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}
	cmd.Flags().String("config", "", "config file (.yaml or .toml)")
	cmd.Flags().String("addr", "", "listen address (default from config)")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	telemetry.InitGlobal(cfg.Telemetry.Enabled, time.Duration(cfg.Telemetry.FlushIntervalSeconds)*time.Second)
	defer func() { _ = telemetry.Shutdown() }()

	chain, store, err := localchain.Open(cmd.Context(), cfg.Database, cfg.Chain.Genesis, cfg.Chain.Options()...)
	if err != nil {
		return err
	}
	defer store.Close()

	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = cfg.Gateway.Addr
	}
	srv := gateway.New(chain, gateway.Options{Version: version, Token: cfg.Gateway.Token})
	return srv.Run(cmd.Context(), addr, gateway.TLSConfig{
		CertFile:          cfg.Gateway.TLSCert,
		KeyFile:           cfg.Gateway.TLSKey,
		ClientCAFile:      cfg.Gateway.ClientCA,
		RequireClientCert: cfg.Gateway.RequireClientCert,
	})
}
