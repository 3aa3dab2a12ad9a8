package services

import (
	"context"
	"sync"
	"time"

	"ledger-backend/internal/metrics"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ConnectionChecker 连接状态（NATS 等）
type ConnectionChecker interface {
	IsConnected() bool
}

// MonitoringService 监控服务，负责定期更新 Prometheus metrics
type MonitoringService struct {
	db             *gorm.DB
	ledger         *WalletLedger
	nats           ConnectionChecker
	stopCh         chan struct{}
	wg             sync.WaitGroup
	dbInterval     time.Duration
	poolInterval   time.Duration
	logger         *logrus.Logger
	stopOnce       sync.Once
}

// NewMonitoringService 创建监控服务；nats 可以为 nil
func NewMonitoringService(db *gorm.DB, ledger *WalletLedger, nats ConnectionChecker, logger *logrus.Logger) *MonitoringService {
	return &MonitoringService{
		db:           db,
		ledger:       ledger,
		nats:         nats,
		stopCh:       make(chan struct{}),
		dbInterval:   10 * time.Second,
		poolInterval: 60 * time.Second, // 默认60秒检查一次
		logger:       logger,
	}
}

// Start 启动监控服务
func (m *MonitoringService) Start() {
	m.logger.Info("🚀 Starting monitoring service...")

	// 启动数据库连接监控
	m.wg.Add(1)
	go m.loop(m.dbInterval, m.updateConnectionMetrics)

	// 启动收入池余额监控
	m.wg.Add(1)
	go m.loop(m.poolInterval, m.updateRevenuePool)

	m.logger.Info("✅ Monitoring service started")
}

// Stop 停止监控服务
func (m *MonitoringService) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		m.wg.Wait()
		m.logger.Info("✅ Monitoring service stopped")
	})
}

func (m *MonitoringService) loop(interval time.Duration, fn func()) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// 立即执行一次
	fn()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			fn()
		}
	}
}

// updateConnectionMetrics 更新数据库和 NATS 指标
func (m *MonitoringService) updateConnectionMetrics() {
	if m.nats != nil {
		if m.nats.IsConnected() {
			metrics.NATSConnectionStatus.Set(1)
		} else {
			metrics.NATSConnectionStatus.Set(0)
		}
	}

	sqlDB, err := m.db.DB()
	if err != nil {
		metrics.DBConnectionStatus.Set(0)
		return
	}

	stats := sqlDB.Stats()
	metrics.DBConnectionPoolSize.Set(float64(stats.MaxOpenConnections))
	metrics.DBConnectionActive.Set(float64(stats.InUse))
	metrics.DBConnectionIdle.Set(float64(stats.Idle))

	// 检查连接状态
	if err := sqlDB.Ping(); err != nil {
		metrics.DBConnectionStatus.Set(0)
		m.logger.WithError(err).Warn("⚠️ Database ping failed")
	} else {
		metrics.DBConnectionStatus.Set(1)
	}
}

// updateRevenuePool 更新收入池余额
func (m *MonitoringService) updateRevenuePool() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := m.ledger.GetRevenuePool(ctx)
	if err != nil {
		m.logger.WithError(err).Warn("⚠️ Failed to read revenue pool")
		return
	}
	metrics.RevenuePoolBalance.Set(pool.InexactFloat64())
}
