package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/parceltrace/parceltrace/pkg/ledger"
	"github.com/parceltrace/parceltrace/pkg/services"
	"github.com/parceltrace/parceltrace/pkg/wallet"
)

// mapError translates service- and ledger-layer failures into the
// stable HTTP statuses of the error taxonomy and writes the error
// envelope. Contract errors keep their kind and message verbatim; only
// the HTTP shell and correlation id are added here.
func mapError(c *echo.Context, err error) error {
	status, code, message := classifyError(err)

	if status == http.StatusInternalServerError {
		slog.Error("Unexpected error", "error", err, "correlation_id", correlationID(c))
		message = "internal server error"
	}

	return c.JSON(status, &Envelope{
		Success:       false,
		Message:       message,
		Code:          code,
		CorrelationID: correlationID(c),
	})
}

func classifyError(err error) (int, string, string) {
	// Contract and transport failures carry their own kind.
	var lerr *ledger.Error
	if errors.As(err, &lerr) {
		switch lerr.Kind {
		case ledger.KindNotAuthorized:
			return http.StatusForbidden, string(lerr.Kind), lerr.Message
		case ledger.KindNotFound:
			return http.StatusNotFound, string(lerr.Kind), lerr.Message
		case ledger.KindInvalidArgument:
			return http.StatusBadRequest, string(lerr.Kind), lerr.Message
		case ledger.KindInvalidState, ledger.KindConflict:
			return http.StatusConflict, string(lerr.Kind), lerr.Message
		case ledger.KindDependencyFailure:
			return http.StatusBadGateway, string(lerr.Kind), lerr.Message
		default:
			return http.StatusInternalServerError, "INTERNAL", lerr.Message
		}
	}

	var validErr *services.ValidationError
	switch {
	case errors.As(err, &validErr):
		return http.StatusBadRequest, "INVALID_ARGUMENT", validErr.Error()
	case errors.Is(err, services.ErrBadCredentials):
		return http.StatusUnauthorized, "UNAUTHENTICATED", services.ErrBadCredentials.Error()
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "resource not found"
	case errors.Is(err, services.ErrNotAuthorized):
		return http.StatusForbidden, "NOT_AUTHORIZED", err.Error()
	case errors.Is(err, services.ErrInvalidState):
		return http.StatusConflict, "INVALID_STATE", err.Error()
	case errors.Is(err, services.ErrAlreadyExists):
		return http.StatusConflict, "CONFLICT", err.Error()
	case errors.Is(err, services.ErrEnrollment):
		return http.StatusBadGateway, "DEPENDENCY_FAILURE", "identity enrollment failed"
	case errors.Is(err, wallet.ErrNotFound):
		return http.StatusForbidden, "NOT_AUTHORIZED", "no ledger identity for this user"
	}

	return http.StatusInternalServerError, "INTERNAL", err.Error()
}
