package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ledger-backend/internal/app"
	"ledger-backend/internal/clients"
	"ledger-backend/internal/config"
	"ledger-backend/internal/db"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "", "path to config yaml (default config.local.yaml or config.yaml)")
	skipDataMigrations := flag.Bool("skip-data-migrations", false, "do not run data migrations at startup")
	flag.Parse()

	logger := logrus.New()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.WithError(err).Fatal("❌ Failed to load config")
	}
	setupLogger(logger, cfg.Log)
	if cfg.Log.LogLevel() != logrus.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}

	gormDB, err := db.Open(cfg.Database)
	if err != nil {
		logger.WithError(err).Fatal("❌ Failed to open database")
	}
	defer func() {
		if err := db.Close(gormDB); err != nil {
			logger.WithError(err).Warn("⚠️ Failed to close database")
		}
	}()

	if !*skipDataMigrations {
		sqlDB, err := gormDB.DB()
		if err != nil {
			logger.WithError(err).Fatal("❌ Failed to get sql.DB")
		}
		if err := db.RunDataMigrations(sqlDB); err != nil {
			logger.WithError(err).Fatal("❌ Data migrations failed")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := app.Options{}

	if cfg.Blockchain.Enabled {
		timeout := time.Duration(cfg.Blockchain.RPCTimeout) * time.Second
		client, endpoint, err := clients.DialChain(ctx, cfg.Blockchain.RPCEndpoints, cfg.Blockchain.ChainID, timeout)
		if err != nil {
			logger.WithError(err).Fatal("❌ No usable RPC endpoint")
		}
		defer client.Close()
		logger.WithFields(logrus.Fields{"endpoint": endpoint, "chain_id": cfg.Blockchain.ChainID}).Info("🔗 Connected to chain")
		opts.Chain = clients.WithCallTimeout(client, timeout)
	}

	if cfg.NATS.Enabled {
		natsClient, err := clients.NewNATSClient(cfg.NATS)
		if err != nil {
			// 事件推送和信誉计算可降级，不阻止启动
			logger.WithError(err).Warn("⚠️ NATS unavailable, continuing without event publishing")
		} else {
			defer natsClient.Close()
			opts.NATSClient = natsClient
		}
	}

	// The listener cannot recover by itself once retries are exhausted
	fatal := make(chan error, 1)
	opts.OnFatal = func(err error) {
		select {
		case fatal <- err:
		default:
		}
	}

	container, err := app.NewServiceContainer(cfg, gormDB, opts, logger)
	if err != nil {
		logger.WithError(err).Fatal("❌ Failed to build services")
	}

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           container.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	container.Start()

	serverErr := make(chan error, 1)
	go func() {
		logger.WithField("addr", server.Addr).Info("🌐 HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	exitCode := 0
	select {
	case <-ctx.Done():
		logger.Info("🛑 Shutdown signal received")
	case err := <-fatal:
		logger.WithError(err).Error("❌ Deposit listener stopped permanently")
		exitCode = 1
	case err := <-serverErr:
		logger.WithError(err).Error("❌ HTTP server failed")
		exitCode = 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("⚠️ HTTP server shutdown error")
	}
	container.Stop()

	logger.Info("👋 Ledger server stopped")
	if exitCode != 0 {
		// deferred closers are skipped by os.Exit
		stop()
		_ = db.Close(gormDB)
		os.Exit(exitCode)
	}
}

func setupLogger(logger *logrus.Logger, cfg config.LogConfig) {
	logger.SetLevel(cfg.LogLevel())
	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	// package-level logrus calls (clients) follow the same settings
	logrus.SetLevel(logger.Level)
	logrus.SetFormatter(logger.Formatter)
}
