package router

import (
	"net/http"

	"ledger-backend/internal/config"
	"ledger-backend/internal/handlers"
	"ledger-backend/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Handlers everything the router mounts
type Handlers struct {
	Auth      *handlers.AuthHandler
	AdminAuth *handlers.AdminAuthHandler
	Wallet    *handlers.WalletHandler
	Billing   *handlers.BillingHandler
	Ticket    *handlers.TicketHandler
	Admin     *handlers.AdminHandler
	WebSocket *handlers.WebSocketHandler
}

// SetupRouter builds the gin engine
func SetupRouter(cfg *config.Config, db *gorm.DB, h Handlers, logger *logrus.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	r.Use(middleware.CORS(cfg.CORS, logger))

	userAuth := middleware.NewAuthMiddleware(h.Auth.ValidateToken, logger)
	adminAuth := middleware.NewAdminAuthMiddleware(h.AdminAuth.ValidateToken, logger)
	apiKeys := middleware.NewAPIKeyMiddleware(cfg.APIKeys, logger)
	localhostOnly := middleware.NewLocalhostOnly(logger, cfg.Admin.AllowedIPs)

	// ============ Check ============
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	r.GET("/health", handlers.HealthCheckHandler(db))

	// ============ Prometheus Metrics ============
	r.GET("/metrics", localhostOnly.Restrict(), gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.GET("/health", handlers.HealthCheckHandler(db))

	// ============ Auth ============
	auth := api.Group("/auth")
	{
		auth.POST("/nonce", h.Auth.GenerateNonceHandler)
		auth.POST("/login", h.Auth.AuthenticateHandler)
	}

	// ============ Balance feed ============
	api.GET("/ws", h.WebSocket.HandleWebSocket)

	// ============ Wallet ============
	wallet := api.Group("/wallet", userAuth.RequireAuth())
	{
		wallet.GET("/balance", h.Wallet.GetBalanceHandler)
		wallet.GET("/transactions", h.Wallet.GetHistoryHandler)
		wallet.GET("/deposits", h.Wallet.GetDepositsHandler)
		wallet.POST("/recharge", h.Wallet.ConfirmRechargeHandler)
	}

	// ============ Billing ============
	billing := api.Group("/billing", userAuth.RequireAuth())
	{
		billing.POST("/charge", h.Billing.ChargeHandler)
		billing.POST("/refund", h.Billing.RefundHandler)
		billing.GET("/actions", h.Billing.ListActionsHandler)
		billing.GET("/actions/:action_id", h.Billing.GetActionHandler)
	}

	// ============ Tickets ============
	tickets := api.Group("/tickets", userAuth.RequireAuth())
	{
		tickets.POST("", h.Ticket.IssueTicketHandler)
		tickets.GET("", h.Ticket.ListTicketsHandler)
		tickets.GET("/:ticket", h.Ticket.GetTicketHandler)
		tickets.POST("/:ticket/consume", h.Ticket.ConsumeTicketHandler)
	}

	partner := api.Group("/partner", apiKeys.RequireAPIKey())
	{
		partner.POST("/tickets/:ticket/consume", h.Ticket.PartnerConsumeTicketHandler)
	}

	// ============ Admin (IP whitelist + admin JWT) ============
	admin := api.Group("/admin", localhostOnly.Restrict())
	admin.POST("/login", h.AdminAuth.AdminLoginHandler)

	adminAPI := admin.Group("", adminAuth.RequireAdminAuth())
	{
		adminAPI.GET("/listener", h.Admin.ListenerStatusHandler)
		adminAPI.GET("/revenue", h.Admin.RevenueHandler)
		adminAPI.GET("/wallets/:address", h.Admin.WalletHandler)
		adminAPI.POST("/credits", h.Admin.ManualCreditHandler)
		adminAPI.GET("/audits", h.Admin.ListAuditsHandler)
		adminAPI.POST("/audits", h.Admin.RunAuditHandler)
		adminAPI.GET("/reputation", h.Admin.ReputationStatsHandler)
		adminAPI.GET("/reputation/:id", h.Admin.ReputationJobHandler)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "API endpoint not found",
			"code":    "NOT_FOUND",
			"path":    c.Request.URL.Path,
		})
	})

	return r
}
