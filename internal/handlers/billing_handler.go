package handlers

import (
	"net/http"

	"ledger-backend/internal/dto"
	"ledger-backend/internal/services"
	"ledger-backend/internal/utils"

	"github.com/gin-gonic/gin"
)

// BillingHandler paid actions of the authenticated wallet
type BillingHandler struct {
	billing *services.BillingService
}

// NewBillingHandler create
func NewBillingHandler(billing *services.BillingService) *BillingHandler {
	return &BillingHandler{billing: billing}
}

// ChargeHandler POST /api/billing/charge
func (h *BillingHandler) ChargeHandler(c *gin.Context) {
	var req dto.ChargeActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "INVALID_REQUEST", err.Error())
		return
	}
	amount, err := utils.ParseAmount(req.Amount)
	if err != nil {
		badRequest(c, "INVALID_AMOUNT", err.Error())
		return
	}

	address, role := currentUser(c)
	result, err := h.billing.ChargeForAction(c.Request.Context(), services.ChargeRequest{
		ActionID:   req.ActionID,
		Wallet:     address,
		Role:       role,
		Amount:     amount,
		ActionType: req.ActionType,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, billingResponse(result))
}

// RefundHandler POST /api/billing/refund
func (h *BillingHandler) RefundHandler(c *gin.Context) {
	var req dto.RefundActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "INVALID_REQUEST", err.Error())
		return
	}

	address, _ := currentUser(c)
	result, err := h.billing.RefundAction(c.Request.Context(), req.ActionID, address)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, billingResponse(result))
}

// GetActionHandler GET /api/billing/actions/:action_id
func (h *BillingHandler) GetActionHandler(c *gin.Context) {
	entry, err := h.billing.GetAction(c.Request.Context(), c.Param("action_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	address, _ := currentUser(c)
	if entry.WalletAddress != address {
		respondError(c, services.ErrActionNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": entry})
}

// ListActionsHandler GET /api/billing/actions
func (h *BillingHandler) ListActionsHandler(c *gin.Context) {
	address, _ := currentUser(c)
	page, limit := pagination(c)
	entries, total, err := h.billing.ListActions(c.Request.Context(), address, page, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    entries,
		"total":   total,
		"page":    page,
		"limit":   limit,
	})
}

func billingResponse(result *services.BillingResult) gin.H {
	return gin.H{
		"success":    true,
		"balance":    utils.FormatAmount(result.Balance),
		"duplicated": result.Duplicated,
		"action_id":  result.Entry.ActionID,
		"status":     result.Entry.Status,
	}
}
