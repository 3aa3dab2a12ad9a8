package handlers

import (
	"net/http"

	"ledger-backend/internal/dto"
	"ledger-backend/internal/services"
	"ledger-backend/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// WalletHandler balance, history, deposits and recharge confirmation for the
// authenticated wallet
type WalletHandler struct {
	ledger     *services.WalletLedger
	reconciler *services.DepositReconciler
	recharge   *services.RechargeService
	logger     *logrus.Logger
}

// NewWalletHandler create
func NewWalletHandler(ledger *services.WalletLedger, reconciler *services.DepositReconciler, recharge *services.RechargeService, logger *logrus.Logger) *WalletHandler {
	return &WalletHandler{
		ledger:     ledger,
		reconciler: reconciler,
		recharge:   recharge,
		logger:     logger,
	}
}

// GetBalanceHandler GET /api/wallet/balance
func (h *WalletHandler) GetBalanceHandler(c *gin.Context) {
	address, _ := currentUser(c)
	wallet, err := h.ledger.GetWallet(c.Request.Context(), address)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"wallet_address": wallet.Address,
		"role":           wallet.Role,
		"balance":        utils.FormatAmount(wallet.Balance),
	})
}

// GetHistoryHandler GET /api/wallet/transactions
func (h *WalletHandler) GetHistoryHandler(c *gin.Context) {
	address, _ := currentUser(c)
	page, limit := pagination(c)
	txns, total, err := h.ledger.History(c.Request.Context(), address, page, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    txns,
		"total":   total,
		"page":    page,
		"limit":   limit,
	})
}

// GetDepositsHandler GET /api/wallet/deposits
func (h *WalletHandler) GetDepositsHandler(c *gin.Context) {
	address, _ := currentUser(c)
	page, limit := pagination(c)
	deposits, total, err := h.reconciler.DepositsByWallet(c.Request.Context(), address, page, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    deposits,
		"total":   total,
		"page":    page,
		"limit":   limit,
	})
}

// ConfirmRechargeHandler POST /api/wallet/recharge
func (h *WalletHandler) ConfirmRechargeHandler(c *gin.Context) {
	var req dto.ConfirmRechargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "INVALID_REQUEST", err.Error())
		return
	}

	address, _ := currentUser(c)
	result, err := h.recharge.ConfirmRecharge(c.Request.Context(), address, req.TxHash)
	if err != nil {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"wallet":  address,
			"tx_hash": req.TxHash,
		}).Info("💳 Recharge confirmation rejected")
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"credited":   result.Credited,
		"balance":    utils.FormatAmount(result.Balance),
		"events":     result.Events,
		"duplicated": result.Duplicated,
	})
}
