package vault

import (
	"errors"

	"github.com/3cpo-dev/yvault/internal/accounting"
	"github.com/3cpo-dev/yvault/internal/ledger"
	"github.com/3cpo-dev/yvault/internal/registry"
)

var (
	ErrConfiguration      = errors.New("vault: configuration error")
	ErrAlreadyInitialized = errors.New("vault: already initialized")
	ErrNotInitialized     = errors.New("vault: not initialized")
	ErrUnsupportedAsset   = errors.New("vault: unsupported asset")
	ErrInvalidShareToken  = errors.New("vault: invalid share token")
	ErrInvalidAmount      = errors.New("vault: invalid amount")
	ErrUnauthorized       = errors.New("vault: unauthorized")
	ErrMintFailed         = errors.New("vault: mint failed")
	ErrTransferFailed     = errors.New("vault: transfer failed")
	ErrBurnFailed         = errors.New("vault: burn failed")
	ErrStrategyFailed     = errors.New("vault: strategy call failed")
	ErrOrchestration      = errors.New("vault: orchestration error")
)

var errorKinds = []struct {
	err  error
	name string
}{
	{ErrConfiguration, "ConfigurationError"},
	{ErrAlreadyInitialized, "AlreadyInitializedError"},
	{ErrNotInitialized, "NotInitializedError"},
	{ErrUnsupportedAsset, "UnsupportedAssetError"},
	{ErrInvalidShareToken, "InvalidShareTokenError"},
	{ErrInvalidAmount, "InvalidAmountError"},
	{ErrUnauthorized, "UnauthorizedError"},
	{ErrMintFailed, "MintFailedError"},
	{ErrTransferFailed, "TransferFailedError"},
	{ErrBurnFailed, "BurnFailedError"},
	{ErrStrategyFailed, "StrategyFailedError"},
	{ErrOrchestration, "OrchestrationError"},
	{registry.ErrDuplicateVault, "DuplicateVaultError"},
	{registry.ErrInvalidRecord, "InvalidRecordError"},
	{accounting.ErrArithmetic, "ArithmeticError"},
	{ledger.ErrStorage, "StorageError"},
}

// ErrorKind names the error class of err for structured error bodies. Unknown errors are "Error".
func ErrorKind(err error) string {
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "Error"
}
