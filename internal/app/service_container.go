package app

import (
	"context"
	"fmt"
	"time"

	"ledger-backend/internal/clients"
	"ledger-backend/internal/config"
	"ledger-backend/internal/handlers"
	"ledger-backend/internal/router"
	"ledger-backend/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ServiceContainer wires the ledger services around one *gorm.DB
type ServiceContainer struct {
	Config *config.Config
	DB     *gorm.DB
	Logger *logrus.Logger

	// Clients (optional)
	Chain      clients.ChainReader
	NATSClient *clients.NATSClient

	// Core Services
	Ledger     *services.WalletLedger
	Reconciler *services.DepositReconciler
	Billing    *services.BillingService
	Tickets    *services.TicketService
	Recharge   *services.RechargeService

	// Background Services
	Scanner     *services.DepositScanner
	Listener    *services.DepositListener
	Reputation  *services.ReputationDispatcher
	Audit       *services.LedgerAuditService
	Scheduler   *services.SchedulerService
	Monitoring  *services.MonitoringService
	PushService *services.BalancePushService
}

// Options external collaborators; nil fields disable the matching feature
type Options struct {
	Chain      clients.ChainReader
	NATSClient *clients.NATSClient
	OnFatal    func(error) // deposit listener gave up
}

// NewServiceContainer builds every service. Nothing is started.
func NewServiceContainer(cfg *config.Config, db *gorm.DB, opts Options, logger *logrus.Logger) (*ServiceContainer, error) {
	logger.Info("🚀 Initializing Service Container...")

	c := &ServiceContainer{
		Config:     cfg,
		DB:         db,
		Logger:     logger,
		Chain:      opts.Chain,
		NATSClient: opts.NATSClient,
	}

	// 1. Push & events
	var publisher services.EventPublisher
	if c.NATSClient != nil {
		publisher = c.NATSClient
	}
	c.PushService = services.NewBalancePushService(publisher, cfg.NATS.Subjects, logger)

	// 2. Ledger core
	c.Ledger = services.NewWalletLedger(db, logger)
	c.Ledger.SetEventSink(c.PushService)
	c.Reconciler = services.NewDepositReconciler(db, c.Ledger, logger)
	c.Billing = services.NewBillingService(db, c.Ledger, logger)
	c.Recharge = services.NewRechargeService(db, c.Chain, c.Reconciler, cfg.Blockchain, logger)

	// 3. Reputation
	var engine services.ReputationEngine
	if c.NATSClient != nil {
		engine = clients.NewNATSReputationEngine(c.NATSClient)
	}
	c.Reputation = services.NewReputationDispatcher(db, engine, cfg.Reputation, logger)

	// 4. Tickets
	var oracle clients.OwnershipOracle
	if c.Chain != nil && len(cfg.Blockchain.OwnershipContract) > 0 {
		erc721, err := clients.NewERC721OwnershipOracle(c.Chain, cfg.Blockchain.OwnershipContract)
		if err != nil {
			return nil, fmt.Errorf("failed to create ownership oracle: %w", err)
		}
		oracle = erc721
	}
	tickets, err := services.NewTicketService(db, c.Billing, c.Ledger, oracle, c.Reputation, cfg.Tickets, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create ticket service: %w", err)
	}
	c.Tickets = tickets

	// 5. Chain sync
	if c.Chain != nil && cfg.Blockchain.Enabled {
		c.Scanner = services.NewDepositScanner(db, c.Chain, c.Reconciler, cfg.Blockchain, logger)
		c.Listener = services.NewDepositListener(c.Scanner, cfg.Blockchain, opts.OnFatal, logger)
	}

	// 6. Scheduled jobs
	c.Audit = services.NewLedgerAuditService(db, logger)
	scheduler, err := services.NewSchedulerService(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	c.Scheduler = scheduler
	if err := c.registerJobs(); err != nil {
		return nil, err
	}

	var natsStatus services.ConnectionChecker
	if c.NATSClient != nil {
		natsStatus = c.NATSClient
	}
	c.Monitoring = services.NewMonitoringService(db, c.Ledger, natsStatus, logger)

	logger.Info("✅ Service Container initialized successfully")
	return c, nil
}

func (c *ServiceContainer) registerJobs() error {
	sweep := time.Duration(c.Config.Reputation.SweepInterval) * time.Second
	if err := c.Scheduler.Every("reputation_sweep", sweep, 30*time.Second, c.Reputation.Sweep); err != nil {
		return fmt.Errorf("failed to schedule reputation sweep: %w", err)
	}

	if c.Config.Audit.Enabled {
		interval := time.Duration(c.Config.Audit.Interval) * time.Minute
		audit := func(ctx context.Context) error {
			_, err := c.Audit.Run(ctx)
			return err
		}
		if err := c.Scheduler.Every("ledger_audit", interval, 2*time.Minute, audit); err != nil {
			return fmt.Errorf("failed to schedule ledger audit: %w", err)
		}
	}
	return nil
}

// Router builds the HTTP surface
func (c *ServiceContainer) Router() *gin.Engine {
	auth := handlers.NewAuthHandler(c.Config.Auth, c.Ledger, c.Logger)
	return router.SetupRouter(c.Config, c.DB, router.Handlers{
		Auth:      auth,
		AdminAuth: handlers.NewAdminAuthHandler(c.Config.Admin, c.Logger),
		Wallet:    handlers.NewWalletHandler(c.Ledger, c.Reconciler, c.Recharge, c.Logger),
		Billing:   handlers.NewBillingHandler(c.Billing),
		Ticket:    handlers.NewTicketHandler(c.Tickets),
		Admin:     handlers.NewAdminHandler(c.Ledger, c.Listener, c.Audit, c.Reputation, c.Logger),
		WebSocket: handlers.NewWebSocketHandler(c.PushService, auth.ValidateToken, c.Config.CORS.AllowedOrigins, c.Logger),
	}, c.Logger)
}

// Start launches background services
func (c *ServiceContainer) Start() {
	c.Reputation.Start()
	c.Scheduler.Start()
	c.Monitoring.Start()
	if c.Listener != nil {
		c.Listener.Start()
	} else {
		c.Logger.Warn("⚠️ Deposit listener disabled (blockchain.enabled=false or no RPC)")
	}
}

// Stop stops background services in reverse order
func (c *ServiceContainer) Stop() {
	if c.Listener != nil {
		c.Listener.Stop()
	}
	c.Monitoring.Stop()
	c.Scheduler.Stop()
	c.Reputation.Stop()
}
