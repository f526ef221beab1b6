package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/3cpo-dev/yvault/internal/accounting"
	"github.com/3cpo-dev/yvault/internal/config"
	"github.com/3cpo-dev/yvault/internal/gateway"
	"github.com/3cpo-dev/yvault/internal/localchain"
	"github.com/3cpo-dev/yvault/internal/vault"
	"github.com/3cpo-dev/yvault/pkg/api"
)

// Initialize configuration, genesis and the configured vault
func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "yvault initialization command. Run this the first time.",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			if path == "" {
				path = config.DefaultPath()
			}
			if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
				if err := config.Write(path, config.Default()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote default config to %s\n", path)
				_ = cmd.Flags().Set("config", path)
			}
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := cmd.Context()
			aliases, err := s.chain.Aliases(ctx)
			if err != nil {
				return err
			}
			if addr, ok := aliases[s.cfg.Vault.Name]; ok {
				fmt.Fprintf(cmd.OutOrStdout(), "vault %s already deployed at %s\n", s.cfg.Vault.Name, addr)
				return nil
			}
			msg, err := s.initMsg(cmd)
			if err != nil {
				return err
			}
			owner := vault.Address(s.cfg.Vault.Owner)
			addr, resp, err := s.chain.InstantiateVault(ctx, owner, s.cfg.Vault.Name, msg)
			if err != nil {
				return err
			}
			if err := s.chain.SetAlias(ctx, s.cfg.Vault.Name, addr); err != nil {
				return err
			}
			log.Info().Str("vault", string(addr)).Str("name", s.cfg.Vault.Name).Msg("vault instantiated")
			return s.finish(cmd, addr, resp)
		},
	}
}

func (s *session) initMsg(cmd *cobra.Command) (vault.InitMsg, error) {
	vc := s.cfg.Vault
	msg := vault.InitMsg{
		Owner:         vault.Address(vc.Owner),
		RedeemPolicy:  vc.RedeemPolicy,
		ShareDecimals: vc.ShareDecimals,
	}
	var err error
	if msg.SupportedAsset, err = s.resolve(cmd, vc.SupportedAsset); err != nil {
		return msg, err
	}
	if vc.Strategy != "" {
		if msg.Strategy, err = s.resolve(cmd, vc.Strategy); err != nil {
			return msg, err
		}
	}
	if vc.Registry != "" {
		if msg.Registry, err = s.resolve(cmd, vc.Registry); err != nil {
			return msg, err
		}
	}
	return msg, nil
}

// Deposit the supported asset into a vault
func newDepositCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deposit",
		Short: "Deposit the supported asset and receive shares",
		RunE: func(cmd *cobra.Command, args []string) error {
			from, _ := cmd.Flags().GetString("from")
			raw, _ := cmd.Flags().GetString("amount")
			if c := remoteClient(cmd); c != nil {
				name := remoteVault(cmd)
				tok, _ := cmd.Flags().GetString("token")
				resp, err := c.Deposit(cmd.Context(), name, api.DepositRequest{Sender: from, Amount: raw, Token: tok})
				if err != nil {
					return err
				}
				return renderOperation(cmd, resp)
			}
			return sendToVault(cmd, from, raw, vault.ActionDeposit, func(v *vault.Vault) (vault.Address, error) {
				return v.SupportedToken(cmd.Context())
			})
		},
	}
	cmd.Flags().String("vault", "", "vault name or address (default from config)")
	cmd.Flags().String("from", "", "depositor address")
	cmd.Flags().String("amount", "", "amount of the supported asset")
	cmd.Flags().String("token", "", "token to send (default the vault's supported asset)")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

// Redeem shares for the underlying asset
func newWithdrawCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "withdraw",
		Short: "Return shares and receive the underlying asset",
		RunE: func(cmd *cobra.Command, args []string) error {
			from, _ := cmd.Flags().GetString("from")
			raw, _ := cmd.Flags().GetString("shares")
			if c := remoteClient(cmd); c != nil {
				name := remoteVault(cmd)
				tok, _ := cmd.Flags().GetString("token")
				resp, err := c.Withdraw(cmd.Context(), name, api.WithdrawRequest{Sender: from, Shares: raw, Token: tok})
				if err != nil {
					return err
				}
				return renderOperation(cmd, resp)
			}
			return sendToVault(cmd, from, raw, vault.ActionWithdraw, func(v *vault.Vault) (vault.Address, error) {
				return v.ShareToken(cmd.Context())
			})
		},
	}
	cmd.Flags().String("vault", "", "vault name or address (default from config)")
	cmd.Flags().String("from", "", "shareholder address")
	cmd.Flags().String("shares", "", "number of shares to redeem")
	cmd.Flags().String("token", "", "token to send (default the vault's share token)")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("shares")
	return cmd
}

func sendToVault(cmd *cobra.Command, from, raw, action string, defaultToken func(*vault.Vault) (vault.Address, error)) error {
	amt, err := accounting.ParseAmount(raw)
	if err != nil {
		return err
	}
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()
	v, err := s.vault(cmd)
	if err != nil {
		return err
	}
	var tok vault.Address
	if ref, _ := cmd.Flags().GetString("token"); ref != "" {
		tok, err = s.resolve(cmd, ref)
	} else {
		tok, err = defaultToken(v)
	}
	if err != nil {
		return err
	}
	sender, err := s.resolve(cmd, from)
	if err != nil {
		return err
	}
	resp, err := s.chain.Send(cmd.Context(), tok, sender, v.Address(), amt, action)
	if err != nil {
		return err
	}
	return s.finish(cmd, v.Address(), resp)
}

// Move idle funds into the strategy
func newStrategyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "strategy",
		Short: "Deposit the vault's idle balance into its strategy (owner only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			from, _ := cmd.Flags().GetString("from")
			if c := remoteClient(cmd); c != nil {
				name := remoteVault(cmd)
				resp, err := c.RunStrategy(cmd.Context(), name, api.SenderRequest{Sender: from})
				if err != nil {
					return err
				}
				return renderOperation(cmd, resp)
			}
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			v, err := s.vault(cmd)
			if err != nil {
				return err
			}
			if from == "" {
				from = s.cfg.Vault.Owner
			}
			sender, err := s.resolve(cmd, from)
			if err != nil {
				return err
			}
			resp, err := s.chain.RunStrategy(cmd.Context(), sender, v.Address())
			if err != nil {
				return err
			}
			return s.finish(cmd, v.Address(), resp)
		},
	}
	cmd.Flags().String("vault", "", "vault name or address (default from config)")
	cmd.Flags().String("from", "", "sender (default the configured owner)")
	return cmd
}

// Credit earnings to a vault's strategy position
func newYieldCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "yield",
		Short: "Simulate strategy earnings for a vault",
		RunE: func(cmd *cobra.Command, args []string) error {
			from, _ := cmd.Flags().GetString("from")
			raw, _ := cmd.Flags().GetString("amount")
			amt, err := accounting.ParseAmount(raw)
			if err != nil {
				return err
			}
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			ctx := cmd.Context()
			v, err := s.vault(cmd)
			if err != nil {
				return err
			}
			vc, err := v.Config(ctx)
			if err != nil {
				return err
			}
			strategy := vc.Strategy
			if ref, _ := cmd.Flags().GetString("strategy"); ref != "" {
				if strategy, err = s.resolve(cmd, ref); err != nil {
					return err
				}
			}
			if strategy == "" {
				return fmt.Errorf("vault %s has no strategy", v.Address())
			}
			sponsor, err := s.resolve(cmd, from)
			if err != nil {
				return err
			}
			if err := s.chain.AddYield(ctx, strategy, v.Address(), vc.SupportedAsset, sponsor, amt); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "credited %s to %s in %s\n", amt, v.Address(), strategy)
			return nil
		},
	}
	cmd.Flags().String("vault", "", "vault name or address (default from config)")
	cmd.Flags().String("strategy", "", "strategy name or address (default the vault's strategy)")
	cmd.Flags().String("from", "", "account paying the yield")
	cmd.Flags().String("amount", "", "amount of the supported asset")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

// Read-only vault queries
func newQueryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Query vault state",
	}
	cmd.PersistentFlags().String("vault", "", "vault name or address (default from config)")

	amountQuery := func(use, short string, local func(*cobra.Command, *vault.Vault) (vault.Amount, error), remote func(*cobra.Command, *gateway.Client, string) (api.AmountResponse, error)) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			RunE: func(cmd *cobra.Command, args []string) error {
				if c := remoteClient(cmd); c != nil {
					out, err := remote(cmd, c, remoteVault(cmd))
					if err != nil {
						return err
					}
					return render(cmd, out, func(w io.Writer) { fmt.Fprintln(w, out.Amount) })
				}
				return withVault(cmd, func(v *vault.Vault) error {
					amt, err := local(cmd, v)
					if err != nil {
						return err
					}
					out := api.AmountResponse{Vault: string(v.Address()), Amount: amt.String()}
					return render(cmd, out, func(w io.Writer) { fmt.Fprintln(w, out.Amount) })
				})
			},
		}
	}
	tokenQuery := func(use, short string, local func(*cobra.Command, *vault.Vault) (vault.Address, error), remote func(*cobra.Command, *gateway.Client, string) (api.TokenResponse, error)) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			RunE: func(cmd *cobra.Command, args []string) error {
				if c := remoteClient(cmd); c != nil {
					out, err := remote(cmd, c, remoteVault(cmd))
					if err != nil {
						return err
					}
					return render(cmd, out, func(w io.Writer) { fmt.Fprintln(w, out.Token) })
				}
				return withVault(cmd, func(v *vault.Vault) error {
					addr, err := local(cmd, v)
					if err != nil {
						return err
					}
					out := api.TokenResponse{Vault: string(v.Address()), Token: string(addr)}
					return render(cmd, out, func(w io.Writer) { fmt.Fprintln(w, out.Token) })
				})
			},
		}
	}

	cmd.AddCommand(amountQuery("balance", "Total pool balance, idle plus strategy position",
		func(c *cobra.Command, v *vault.Vault) (vault.Amount, error) { return v.TotalBalance(c.Context()) },
		func(c *cobra.Command, gc *gateway.Client, name string) (api.AmountResponse, error) {
			return gc.TotalBalance(c.Context(), name)
		}))
	cmd.AddCommand(amountQuery("supply", "Outstanding share supply",
		func(c *cobra.Command, v *vault.Vault) (vault.Amount, error) { return v.TotalSupply(c.Context()) },
		func(c *cobra.Command, gc *gateway.Client, name string) (api.AmountResponse, error) {
			return gc.TotalSupply(c.Context(), name)
		}))
	cmd.AddCommand(tokenQuery("supported-token", "Asset the vault accepts",
		func(c *cobra.Command, v *vault.Vault) (vault.Address, error) { return v.SupportedToken(c.Context()) },
		func(c *cobra.Command, gc *gateway.Client, name string) (api.TokenResponse, error) {
			return gc.SupportedToken(c.Context(), name)
		}))
	cmd.AddCommand(tokenQuery("share-token", "Share token the vault mints",
		func(c *cobra.Command, v *vault.Vault) (vault.Address, error) { return v.ShareToken(c.Context()) },
		func(c *cobra.Command, gc *gateway.Client, name string) (api.TokenResponse, error) {
			return gc.ShareToken(c.Context(), name)
		}))
	cmd.AddCommand(&cobra.Command{
		Use:   "phase",
		Short: "Lifecycle phase of the vault",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withVault(cmd, func(v *vault.Vault) error {
				p, err := v.Phase(cmd.Context())
				if err != nil {
					return err
				}
				return render(cmd, map[string]string{"vault": string(v.Address()), "phase": string(p)},
					func(w io.Writer) { fmt.Fprintln(w, p) })
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "config",
		Short: "Stored vault configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withVault(cmd, func(v *vault.Vault) error {
				vc, err := v.Config(cmd.Context())
				if err != nil {
					return err
				}
				return render(cmd, vc, func(w io.Writer) {
					fmt.Fprintf(w, "owner\t%s\nasset\t%s\nstrategy\t%s\nregistry\t%s\nredeem_policy\t%s\n",
						vc.Owner, vc.SupportedAsset, vc.Strategy, vc.Registry, vc.RedeemPolicy)
				})
			})
		},
	})
	return cmd
}

func withVault(cmd *cobra.Command, fn func(*vault.Vault) error) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()
	v, err := s.vault(cmd)
	if err != nil {
		return err
	}
	return fn(v)
}

// Token balance of a holder
func newBalanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Show a token balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			tokRef, _ := cmd.Flags().GetString("token")
			holderRef, _ := cmd.Flags().GetString("holder")
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			tok, err := s.resolve(cmd, tokRef)
			if err != nil {
				return err
			}
			holder, err := s.resolve(cmd, holderRef)
			if err != nil {
				return err
			}
			amt, err := s.chain.Balance(cmd.Context(), tok, holder)
			if err != nil {
				return err
			}
			out := api.BalanceResponse{Token: string(tok), Holder: string(holder), Amount: amt.String()}
			return render(cmd, out, func(w io.Writer) { fmt.Fprintln(w, out.Amount) })
		},
	}
	cmd.Flags().String("token", "", "token symbol or address")
	cmd.Flags().String("holder", "", "holder name or address")
	_ = cmd.MarkFlagRequired("token")
	_ = cmd.MarkFlagRequired("holder")
	return cmd
}

// List vaults
func newVaultsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vaults",
		Short: "List vaults and registry entries",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "ls",
		Short: "List every vault with its balances",
		RunE: func(cmd *cobra.Command, args []string) error {
			var summaries []api.VaultSummary
			if c := remoteClient(cmd); c != nil {
				resp, err := c.Vaults(cmd.Context())
				if err != nil {
					return err
				}
				summaries = resp.Vaults
			} else {
				s, err := openSession(cmd)
				if err != nil {
					return err
				}
				defer s.Close()
				stats, err := s.chain.AllStats(cmd.Context())
				if err != nil {
					return err
				}
				summaries = gateway.Summaries(stats)
			}
			return render(cmd, api.VaultsResponse{Vaults: summaries}, func(w io.Writer) {
				for _, v := range summaries {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", v.Address, v.Phase, v.TotalBalance, v.TotalSupply, v.Pending)
				}
			})
		},
	})

	reg := &cobra.Command{
		Use:   "registry",
		Short: "List the vaults recorded by a registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, _ := cmd.Flags().GetString("registry")
			var out api.RegistryResponse
			if c := remoteClient(cmd); c != nil {
				var err error
				if ref == "" {
					return errors.New("--registry is required with --gateway")
				}
				if out, err = c.RegistryVaults(cmd.Context(), ref); err != nil {
					return err
				}
			} else {
				s, err := openSession(cmd)
				if err != nil {
					return err
				}
				defer s.Close()
				if ref == "" {
					ref = s.cfg.Vault.Registry
				}
				addr, err := s.resolve(cmd, ref)
				if err != nil {
					return err
				}
				r, err := s.chain.Registry(cmd.Context(), addr)
				if err != nil {
					return err
				}
				records, err := r.ListVaults(cmd.Context())
				if err != nil {
					return err
				}
				out.Registry = string(addr)
				for _, rec := range records {
					out.Vaults = append(out.Vaults, api.VaultRecord{
						VaultID:      rec.VaultID,
						Name:         rec.Name,
						Symbol:       rec.Symbol,
						VaultAddress: rec.VaultAddress,
						VaultOwner:   rec.VaultOwner,
					})
				}
			}
			return render(cmd, out, func(w io.Writer) {
				for _, rec := range out.Vaults {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", rec.VaultID, rec.Name, rec.Symbol, rec.VaultAddress, rec.VaultOwner)
				}
			})
		},
	}
	reg.Flags().String("registry", "", "registry name or address (default from config)")
	cmd.AddCommand(reg)

	cmd.AddCommand(&cobra.Command{
		Use:   "contracts",
		Short: "List deployed contracts and aliases",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			ctx := cmd.Context()
			var all []localchain.Contract
			for _, kind := range []localchain.ContractKind{localchain.ContractToken, localchain.ContractStrategy, localchain.ContractRegistry, localchain.ContractVault} {
				cs, err := s.chain.Contracts(ctx, kind)
				if err != nil {
					return err
				}
				all = append(all, cs...)
			}
			aliases, err := s.chain.Aliases(ctx)
			if err != nil {
				return err
			}
			names := make(map[vault.Address]string, len(aliases))
			for name, addr := range aliases {
				names[addr] = name
			}
			sort.Slice(all, func(i, j int) bool { return all[i].Address < all[j].Address })
			return render(cmd, all, func(w io.Writer) {
				for _, c := range all {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.Address, c.Kind, c.Label, names[c.Address])
				}
			})
		},
	})
	return cmd
}

// Outstanding operations
func newPendingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List a vault's pending operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			var out api.PendingResponse
			if c := remoteClient(cmd); c != nil {
				var err error
				if out, err = c.Pending(cmd.Context(), remoteVault(cmd)); err != nil {
					return err
				}
			} else {
				err := withVault(cmd, func(v *vault.Vault) error {
					ops, err := v.PendingOperations(cmd.Context())
					if err != nil {
						return err
					}
					out.Vault = string(v.Address())
					for _, op := range ops {
						out.Operations = append(out.Operations, api.PendingOperation{
							ID:      uint64(op.ID),
							Ref:     op.ID.String(),
							Kind:    op.Kind.String(),
							Account: string(op.Account),
							Amount:  op.Amount.String(),
						})
					}
					return nil
				})
				if err != nil {
					return err
				}
			}
			return render(cmd, out, func(w io.Writer) {
				for _, op := range out.Operations {
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", op.ID, op.Kind, op.Account, op.Amount)
				}
			})
		},
	}
	cmd.Flags().String("vault", "", "vault name or address (default from config)")
	return cmd
}

// Clear a burn that failed
func newResolveBurnCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve-burn",
		Short: "Clear a pending burn after a failed completion (owner only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			rawID, _ := cmd.Flags().GetString("id")
			id, err := vault.ParseCorrelationID(rawID)
			if err != nil {
				return err
			}
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			v, err := s.vault(cmd)
			if err != nil {
				return err
			}
			from, _ := cmd.Flags().GetString("from")
			if from == "" {
				from = s.cfg.Vault.Owner
			}
			sender, err := s.resolve(cmd, from)
			if err != nil {
				return err
			}
			if err := s.chain.ResolvePendingBurn(cmd.Context(), sender, v.Address(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "resolved %s\n", id)
			return nil
		},
	}
	cmd.Flags().String("vault", "", "vault name or address (default from config)")
	cmd.Flags().String("from", "", "sender (default the configured owner)")
	cmd.Flags().String("id", "", "correlation id of the pending burn")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

// Serve the HTTP gateway
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway over the local database",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			addr, _ := cmd.Flags().GetString("addr")
			if addr == "" {
				addr = s.cfg.Gateway.Addr
			}
			gw := gateway.New(s.chain, gateway.Options{Version: version, Token: s.cfg.Gateway.Token})
			return gw.Run(cmd.Context(), addr, tlsConfig(s.cfg))
		},
	}
	cmd.Flags().String("addr", "", "listen address (default from config)")
	return cmd
}

func tlsConfig(cfg config.Config) gateway.TLSConfig {
	return gateway.TLSConfig{
		CertFile:          cfg.Gateway.TLSCert,
		KeyFile:           cfg.Gateway.TLSKey,
		ClientCAFile:      cfg.Gateway.ClientCA,
		RequireClientCert: cfg.Gateway.RequireClientCert,
	}
}

func renderOperation(cmd *cobra.Command, resp api.OperationResponse) error {
	return render(cmd, resp, func(w io.Writer) {
		for _, a := range resp.Attributes {
			fmt.Fprintf(w, "%s=%s\n", a.Key, a.Value)
		}
		for _, d := range resp.Deliveries {
			status := "ok"
			switch {
			case d.HandlerError != "":
				status = "rejected: " + d.HandlerError
			case d.ExecError != "":
				status = "failed: " + d.ExecError
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", d.ID, d.Action, d.Target, status)
		}
	})
}
