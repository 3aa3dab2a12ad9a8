package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"ledger-backend/internal/services"

	"github.com/gin-gonic/gin"
)

// errorMapping HTTP status and error code per service sentinel
var errorMapping = []struct {
	err    error
	status int
	code   string
}{
	{services.ErrInvalidAmount, http.StatusBadRequest, "INVALID_AMOUNT"},
	{services.ErrInvalidAddress, http.StatusBadRequest, "INVALID_ADDRESS"},
	{services.ErrInvalidTxHash, http.StatusBadRequest, "INVALID_TX_HASH"},
	{services.ErrInvalidActionID, http.StatusBadRequest, "INVALID_ACTION_ID"},
	{services.ErrInvalidTicketRequest, http.StatusBadRequest, "INVALID_TICKET_REQUEST"},
	{services.ErrUnknownScope, http.StatusBadRequest, "UNKNOWN_SCOPE"},

	{services.ErrTicketNotFound, http.StatusNotFound, "TICKET_NOT_FOUND"},
	{services.ErrActionNotFound, http.StatusNotFound, "ACTION_NOT_FOUND"},
	{services.ErrTxNotFound, http.StatusNotFound, "TX_NOT_FOUND"},

	{services.ErrInsufficientBalance, http.StatusPaymentRequired, "INSUFFICIENT_BALANCE"},
	{services.ErrOwnershipMismatch, http.StatusForbidden, "OWNERSHIP_MISMATCH"},
	{services.ErrActionOwnerMismatch, http.StatusForbidden, "ACTION_OWNER_MISMATCH"},
	{services.ErrBeneficiaryMismatch, http.StatusForbidden, "BENEFICIARY_MISMATCH"},

	{services.ErrActionNotRefundable, http.StatusConflict, "ACTION_NOT_REFUNDABLE"},
	{services.ErrTicketExpired, http.StatusConflict, "TICKET_EXPIRED"},
	{services.ErrTicketExhausted, http.StatusConflict, "TICKET_EXHAUSTED"},
	{services.ErrTxFailed, http.StatusConflict, "TX_FAILED"},
	{services.ErrNoDepositEvent, http.StatusConflict, "NO_DEPOSIT_EVENT"},

	{services.ErrChainUnavailable, http.StatusServiceUnavailable, "CHAIN_UNAVAILABLE"},
}

// ErrorStatus maps a service error to its HTTP status and code
func ErrorStatus(err error) (int, string) {
	for _, m := range errorMapping {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR"
}

// respondError writes the error body. Internal errors are not echoed to clients.
func respondError(c *gin.Context, err error) {
	status, code := ErrorStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		message = "internal error"
	}
	c.JSON(status, gin.H{
		"success": false,
		"error":   message,
		"code":    code,
	})
}

func badRequest(c *gin.Context, code, message string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"success": false,
		"error":   message,
		"code":    code,
	})
}

// pagination reads ?page=&limit= with sane bounds
func pagination(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return page, limit
}

// Context keys set by the auth middleware
const (
	ContextUserAddress = "user_address"
	ContextUserRole    = "user_role"
	ContextAPIKeyName  = "api_key_name"
	ContextAdminName   = "admin_username"
)

func currentUser(c *gin.Context) (string, string) {
	return c.GetString(ContextUserAddress), c.GetString(ContextUserRole)
}
