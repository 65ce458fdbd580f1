package apperrors

import (
	"fmt"
	"net/http"
)

// Kind is the closed taxonomy of order-lifecycle failures. Callers never see
// raw transport errors; everything surfaced by the orchestrator or resolver
// is one of these.
type Kind string

const (
	// Post-submission kinds, mapped from the ledger's error-event codes.
	KindOrderExpired      Kind = "ORDER_EXPIRED"
	KindOrderDead         Kind = "ORDER_DEAD"
	KindUnknownOrderError Kind = "UNKNOWN_ORDER_ERROR"

	// Pre-submission validation kinds, detected client-side.
	KindContractAlreadySettled           Kind = "CONTRACT_ALREADY_SETTLED"
	KindInvalidTaker                     Kind = "INVALID_TAKER"
	KindOrderFilledOrCancelled           Kind = "ORDER_FILLED_OR_CANCELLED"
	KindBuySellMismatch                  Kind = "BUY_SELL_MISMATCH"
	KindInvalidSignature                 Kind = "INVALID_SIGNATURE"
	KindUserNotEnabledForContract        Kind = "USER_NOT_ENABLED_FOR_CONTRACT"
	KindInsufficientBalanceForTransfer   Kind = "INSUFFICIENT_BALANCE_FOR_TRANSFER"
	KindInsufficientAllowanceForTransfer Kind = "INSUFFICIENT_ALLOWANCE_FOR_TRANSFER"
	KindInsufficientCollateralBalance    Kind = "INSUFFICIENT_COLLATERAL_BALANCE"
	KindUserHasNoAssociatedPositions     Kind = "USER_HAS_NO_ASSOCIATED_POSITIONS"

	// Gateway-level kinds for the HTTP surface.
	KindInvalidRequest Kind = "INVALID_REQUEST"
	KindNotFound       Kind = "NOT_FOUND"
	KindInternal       Kind = "INTERNAL_ERROR"
)

// AppError is the standard error struct for the application.
type AppError struct {
	Kind       Kind   `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Cause      error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func New(kind Kind, msg string, cause error) *AppError {
	return &AppError{
		Kind:       kind,
		Message:    msg,
		Cause:      cause,
		HTTPStatus: mapKindToStatus(kind),
	}
}

// Reject builds a validation-pipeline rejection for a given kind.
func Reject(kind Kind, format string, args ...any) *AppError {
	return New(kind, fmt.Sprintf(format, args...), nil)
}

func Wrap(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}
	return New(KindInternal, err.Error(), err)
}

// KindFromErrorCode maps the ledger's error-event code to a Kind. The fill
// and cancel resolution paths share this single mapping.
func KindFromErrorCode(code uint8) Kind {
	switch code {
	case 0:
		return KindOrderExpired
	case 1:
		return KindOrderDead
	default:
		return KindUnknownOrderError
	}
}

func mapKindToStatus(kind Kind) int {
	switch kind {
	case KindContractAlreadySettled, KindInvalidTaker, KindOrderExpired,
		KindOrderFilledOrCancelled, KindBuySellMismatch, KindInvalidSignature,
		KindUserNotEnabledForContract, KindInsufficientBalanceForTransfer,
		KindInsufficientAllowanceForTransfer, KindInsufficientCollateralBalance,
		KindUserHasNoAssociatedPositions, KindInvalidRequest:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindOrderDead, KindUnknownOrderError:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
