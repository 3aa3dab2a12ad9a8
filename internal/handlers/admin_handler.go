package handlers

import (
	"net/http"
	"strconv"

	"ledger-backend/internal/dto"
	"ledger-backend/internal/services"
	"ledger-backend/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// AdminHandler 管理员接口：监听状态、收入池、审计、人工入账
type AdminHandler struct {
	ledger     *services.WalletLedger
	listener   *services.DepositListener // nil when chain sync is disabled
	audit      *services.LedgerAuditService
	reputation *services.ReputationDispatcher
	logger     *logrus.Logger
}

// NewAdminHandler create
func NewAdminHandler(ledger *services.WalletLedger, listener *services.DepositListener, audit *services.LedgerAuditService, reputation *services.ReputationDispatcher, logger *logrus.Logger) *AdminHandler {
	return &AdminHandler{
		ledger:     ledger,
		listener:   listener,
		audit:      audit,
		reputation: reputation,
		logger:     logger,
	}
}

// ListenerStatusHandler GET /api/admin/listener
func (h *AdminHandler) ListenerStatusHandler(c *gin.Context) {
	if h.listener == nil {
		c.JSON(http.StatusOK, gin.H{"success": true, "enabled": false})
		return
	}
	cursor, found, err := h.listener.Cursor(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	resp := gin.H{
		"success": true,
		"enabled": true,
		"status":  h.listener.Status(),
	}
	if found {
		resp["cursor"] = cursor
	}
	c.JSON(http.StatusOK, resp)
}

// RevenueHandler GET /api/admin/revenue
func (h *AdminHandler) RevenueHandler(c *gin.Context) {
	pool, err := h.ledger.GetRevenuePool(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "balance": utils.FormatAmount(pool)})
}

// WalletHandler GET /api/admin/wallets/:address
func (h *AdminHandler) WalletHandler(c *gin.Context) {
	wallet, err := h.ledger.GetWallet(c.Request.Context(), c.Param("address"))
	if err != nil {
		respondError(c, err)
		return
	}
	page, limit := pagination(c)
	txns, total, err := h.ledger.History(c.Request.Context(), wallet.Address, page, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"wallet":       wallet,
		"transactions": txns,
		"total":        total,
	})
}

// ManualCreditHandler POST /api/admin/credits
func (h *AdminHandler) ManualCreditHandler(c *gin.Context) {
	var req dto.ManualCreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "INVALID_REQUEST", err.Error())
		return
	}
	amount, err := utils.ParseAmount(req.Amount)
	if err != nil {
		badRequest(c, "INVALID_AMOUNT", err.Error())
		return
	}

	result, duplicated, err := h.ledger.ManualCredit(c.Request.Context(), req.WalletAddress, req.Role, amount, req.Reference)
	if err != nil {
		respondError(c, err)
		return
	}
	h.logger.WithFields(logrus.Fields{
		"admin":      c.GetString(ContextAdminName),
		"wallet":     result.Wallet,
		"reference":  req.Reference,
		"duplicated": duplicated,
	}).Info("🛠️ Manual credit request")

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"balance":    utils.FormatAmount(result.Balance),
		"duplicated": duplicated,
	})
}

// RunAuditHandler POST /api/admin/audits
func (h *AdminHandler) RunAuditHandler(c *gin.Context) {
	report, err := h.audit.Run(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": report})
}

// ListAuditsHandler GET /api/admin/audits
func (h *AdminHandler) ListAuditsHandler(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	reports, err := h.audit.Recent(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": reports})
}

// ReputationStatsHandler GET /api/admin/reputation
func (h *AdminHandler) ReputationStatsHandler(c *gin.Context) {
	counts, err := h.reputation.Counts(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": counts})
}

// ReputationJobHandler GET /api/admin/reputation/:id
func (h *AdminHandler) ReputationJobHandler(c *gin.Context) {
	job, err := h.reputation.Job(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   err.Error(),
			"code":    "JOB_NOT_FOUND",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": job})
}
