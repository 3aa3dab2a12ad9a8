package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ============================================
	// 数据库连接指标
	// ============================================
	DBConnectionPoolSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ledger_db_connection_pool_size",
		Help: "Database connection pool size",
	})

	DBConnectionActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ledger_db_connection_active",
		Help: "Number of active database connections",
	})

	DBConnectionIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ledger_db_connection_idle",
		Help: "Number of idle database connections",
	})

	DBConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ledger_db_connection_status",
		Help: "Database connection status (1=healthy, 0=unhealthy)",
	})

	// ============================================
	// NATS 连接和消息指标
	// ============================================
	NATSConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ledger_nats_connection_status",
		Help: "NATS connection status (1=connected, 0=disconnected)",
	})

	NATSMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_nats_messages_published_total",
			Help: "Total number of NATS messages published",
		},
		[]string{"subject"},
	)

	NATSMessagesFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_nats_messages_failed_total",
			Help: "Total number of NATS publish or request failures",
		},
		[]string{"subject"},
	)

	// ============================================
	// 事件监听指标
	// ============================================
	ListenerStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ledger_listener_status",
			Help: "Supervised task state (1=running, 0=stopped, -1=failed)",
		},
		[]string{"task"},
	)

	ListenerConsecutiveFailures = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ledger_listener_consecutive_failures",
			Help: "Consecutive failed iterations of a supervised task",
		},
		[]string{"task"},
	)

	ListenerErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_listener_errors_total",
			Help: "Total number of failed supervised task iterations",
		},
		[]string{"task"},
	)

	ListenerLastSuccess = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ledger_listener_last_success_timestamp_seconds",
			Help: "Unix time of the last successful iteration",
		},
		[]string{"task"},
	)

	ScanCursor = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ledger_scan_cursor_block",
			Help: "Last fully scanned block per event stream",
		},
		[]string{"stream"},
	)

	ScanDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ledger_scan_duration_seconds",
			Help:    "Duration of one scan iteration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stream"},
	)

	// ============================================
	// 账本指标
	// ============================================
	DepositsCredited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_deposits_credited_total",
			Help: "Deposits credited to wallets",
		},
		[]string{"source"},
	)

	DepositsDuplicated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_deposits_duplicated_total",
			Help: "Deposit deliveries ignored because the deposit was already credited",
		},
		[]string{"source"},
	)

	WalletMutations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_wallet_mutations_total",
			Help: "Wallet credits and debits by result",
		},
		[]string{"kind", "result"},
	)

	BillingOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_billing_operations_total",
			Help: "Action charges and refunds by result",
		},
		[]string{"operation", "result"},
	)

	TicketConsumptions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_ticket_consumptions_total",
			Help: "Ticket consumption attempts by actor and result",
		},
		[]string{"actor", "result"},
	)

	ReputationJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_reputation_jobs_total",
			Help: "Reputation recompute jobs by final status",
		},
		[]string{"status"},
	)

	AuditImbalance = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ledger_audit_drift",
			Help: "Last audit drift per check (0 when consistent)",
		},
		[]string{"check"},
	)

	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ledger_websocket_clients",
		Help: "Connected balance feed clients",
	})

	RevenuePoolBalance = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ledger_revenue_pool_balance",
		Help: "Platform revenue pool balance",
	})
)
