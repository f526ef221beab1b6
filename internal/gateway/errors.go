package gateway

import (
	"errors"
	"net/http"

	"github.com/3cpo-dev/yvault/internal/localchain"
	"github.com/3cpo-dev/yvault/internal/vault"
	"github.com/3cpo-dev/yvault/pkg/api"
)

var errBadRequest = errors.New("bad request")

var statusByKind = map[string]int{
	"ConfigurationError":      http.StatusBadRequest,
	"AlreadyInitializedError": http.StatusConflict,
	"NotInitializedError":     http.StatusConflict,
	"UnsupportedAssetError":   http.StatusBadRequest,
	"InvalidShareTokenError":  http.StatusBadRequest,
	"InvalidAmountError":      http.StatusBadRequest,
	"UnauthorizedError":       http.StatusForbidden,
	"MintFailedError":         http.StatusBadGateway,
	"TransferFailedError":     http.StatusBadGateway,
	"BurnFailedError":         http.StatusBadGateway,
	"StrategyFailedError":     http.StatusBadGateway,
	"DuplicateVaultError":     http.StatusConflict,
	"InvalidRecordError":      http.StatusBadRequest,
	"ArithmeticError":         http.StatusUnprocessableEntity,
	"OrchestrationError":      http.StatusConflict,
	"StorageError":            http.StatusInternalServerError,
}

// classify maps err to an HTTP status and a stable error kind.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "BadRequest"
	case errors.Is(err, localchain.ErrUnknownContract):
		return http.StatusNotFound, "UnknownContractError"
	case errors.Is(err, localchain.ErrInsufficient):
		return http.StatusBadRequest, "InsufficientFundsError"
	case errors.Is(err, localchain.ErrUnauthorized):
		return http.StatusForbidden, "UnauthorizedError"
	}
	kind := vault.ErrorKind(err)
	if status, ok := statusByKind[kind]; ok {
		return status, kind
	}
	return http.StatusInternalServerError, kind
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	s.writeErrorWith(w, r, err, nil)
}

// writeErrorWith also reports the deliveries processed before the failure.
func (s *Server) writeErrorWith(w http.ResponseWriter, r *http.Request, err error, deliveries []api.Delivery) {
	status, kind := classify(err)
	ev := s.logger.Info()
	if status >= http.StatusInternalServerError {
		ev = s.logger.Error()
	}
	ev.Err(err).Str("operation_id", OperationID(r.Context())).Str("kind", kind).Int("status", status).Msg("request rejected")
	writeJSON(w, status, api.ErrorResponse{
		Error:       err.Error(),
		Kind:        kind,
		OperationID: OperationID(r.Context()),
		Deliveries:  deliveries,
	})
}
