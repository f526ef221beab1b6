// Package accounting computes share mint and redemption quantities for a pooled vault.
//
// All functions are pure and operate on exact integers with floor division.
package accounting

import (
	"errors"
	"fmt"
)

// ErrArithmetic reports a division by zero or an underflow in share math.
var ErrArithmetic = errors.New("arithmetic error")

// RedeemPolicy selects the redemption formula.
type RedeemPolicy string

const (
	// RedeemFloorFirst pays floor(pool/supply) * burned. It never pays more than the
	// proportional claim, at the cost of precision when pool < supply.
	RedeemFloorFirst RedeemPolicy = "floor-first"
	// RedeemExcludeBurned pays floor(pool * burned / (supply - burned)).
	RedeemExcludeBurned RedeemPolicy = "exclude-burned"
)

// DefaultRedeemPolicy is used when none is configured.
const DefaultRedeemPolicy = RedeemFloorFirst

// ParseRedeemPolicy maps a config string to a policy. Empty selects the default.
func ParseRedeemPolicy(s string) (RedeemPolicy, error) {
	switch RedeemPolicy(s) {
	case "":
		return DefaultRedeemPolicy, nil
	case RedeemFloorFirst, RedeemExcludeBurned:
		return RedeemPolicy(s), nil
	default:
		return "", fmt.Errorf("unknown redeem policy %q", s)
	}
}

// ComputeMintAmount returns the shares to mint for a deposit. poolBalance is observed after
// the deposit has landed, so the prior balance is poolBalance - deposit.
//
// The first deposit into an empty vault (supply 0) mints 1:1.
func ComputeMintAmount(totalSupply, poolBalance, deposit Amount) (Amount, error) {
	if totalSupply.IsZero() {
		return deposit, nil
	}
	if deposit.Cmp(poolBalance) >= 0 {
		return Amount{}, fmt.Errorf("%w: deposit %s leaves no prior pool balance (observed %s, supply %s)",
			ErrArithmetic, deposit, poolBalance, totalSupply)
	}
	prior, err := poolBalance.Sub(deposit)
	if err != nil {
		return Amount{}, err
	}
	return totalSupply.Mul(deposit).Quo(prior)
}

// ComputeRedeemAmount returns the asset amount released for burning shares under policy.
// Burning the entire supply, or more than it, is rejected.
func ComputeRedeemAmount(policy RedeemPolicy, totalSupply, poolBalance, burned Amount) (Amount, error) {
	if burned.Cmp(totalSupply) > 0 {
		return Amount{}, fmt.Errorf("%w: burn %s exceeds supply %s", ErrArithmetic, burned, totalSupply)
	}
	if burned.Equal(totalSupply) {
		return Amount{}, fmt.Errorf("%w: burn %s equals supply", ErrArithmetic, burned)
	}
	switch policy {
	case RedeemExcludeBurned:
		remaining, err := totalSupply.Sub(burned)
		if err != nil {
			return Amount{}, err
		}
		return poolBalance.Mul(burned).Quo(remaining)
	case RedeemFloorFirst, "":
		perShare, err := poolBalance.Quo(totalSupply)
		if err != nil {
			return Amount{}, err
		}
		return perShare.Mul(burned), nil
	default:
		return Amount{}, fmt.Errorf("unknown redeem policy %q", policy)
	}
}
