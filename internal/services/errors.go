package services

import "errors"

// Validation errors: rejected synchronously, never retried
var (
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInvalidAddress       = errors.New("invalid wallet address")
	ErrInvalidTxHash        = errors.New("invalid transaction hash")
	ErrInvalidActionID      = errors.New("invalid action id")
	ErrInvalidTicketRequest = errors.New("invalid ticket request")
	ErrUnknownScope         = errors.New("unknown ticket scope")
)

// Business-rule errors: the enclosing transaction is rolled back in full
var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrTicketNotFound      = errors.New("ticket not found")
	ErrTicketExpired       = errors.New("ticket expired")
	ErrTicketExhausted     = errors.New("ticket exhausted")
	ErrOwnershipMismatch   = errors.New("ownership mismatch")
	ErrActionNotFound      = errors.New("billing action not found")
	ErrActionOwnerMismatch = errors.New("billing action belongs to another wallet")
	ErrActionNotRefundable = errors.New("billing action is not refundable")
	ErrTxNotFound          = errors.New("transaction not found")
	ErrTxFailed            = errors.New("transaction failed on chain")
	ErrNoDepositEvent      = errors.New("no deposit event in transaction")
	ErrBeneficiaryMismatch = errors.New("deposit beneficiary does not match wallet")
)

// ErrChainUnavailable chain access is not configured on this instance
var ErrChainUnavailable = errors.New("chain access disabled")

// ErrRetriesExhausted a supervised task failed too many times in a row
var ErrRetriesExhausted = errors.New("retries exhausted")

// IsValidationError reports whether err is a caller input error
func IsValidationError(err error) bool {
	for _, target := range []error{ErrInvalidAmount, ErrInvalidAddress, ErrInvalidTxHash, ErrInvalidActionID, ErrInvalidTicketRequest, ErrUnknownScope} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
