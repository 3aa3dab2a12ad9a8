package services

import (
	"encoding/json"
	"sync"
	"time"

	"ledger-backend/internal/config"
	"ledger-backend/internal/dto"
	"ledger-backend/internal/metrics"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// EventPublisher fire-and-forget bus for ledger events
type EventPublisher interface {
	PublishJSON(subject string, payload interface{}) error
}

// Connection one balance feed client
type Connection struct {
	ID          string          `json:"id"`
	UserAddress string          `json:"user_address"`
	Conn        *websocket.Conn `json:"-"`
	Send        chan []byte     `json:"-"`
	ConnectedAt time.Time       `json:"connected_at"`
}

// PushMessage envelope written to feed clients
type PushMessage struct {
	Type        string      `json:"type"`
	Timestamp   string      `json:"timestamp"`
	MessageID   string      `json:"message_id"`
	UserAddress string      `json:"user_address"`
	Data        interface{} `json:"data"`
}

const (
	PushTypeBalanceChanged  = "balance_changed"
	PushTypeDepositCredited = "deposit_credited"
	PushTypeConnected       = "connection_established"
)

// BalancePushService fans committed ledger events out to the wallet's
// WebSocket connections and to NATS. It never blocks the ledger: a full
// client buffer drops the message for that client.
type BalancePushService struct {
	userConns map[string]map[string]*Connection // userAddress -> connID -> conn
	mutex     sync.RWMutex

	publisher EventPublisher
	subjects  config.NATSSubjectNames
	logger    *logrus.Logger
}

// NewBalancePushService creates the push service. publisher may be nil.
func NewBalancePushService(publisher EventPublisher, subjects config.NATSSubjectNames, logger *logrus.Logger) *BalancePushService {
	return &BalancePushService{
		userConns: make(map[string]map[string]*Connection),
		publisher: publisher,
		subjects:  subjects,
		logger:    logger,
	}
}

// RegisterConnection maps a connection to its wallet. The caller owns the
// socket and drains conn.Send.
func (s *BalancePushService) RegisterConnection(conn *Connection) {
	s.mutex.Lock()
	if s.userConns[conn.UserAddress] == nil {
		s.userConns[conn.UserAddress] = make(map[string]*Connection)
	}
	s.userConns[conn.UserAddress][conn.ID] = conn
	s.mutex.Unlock()

	metrics.WebSocketClients.Inc()
	s.logger.WithFields(logrus.Fields{
		"wallet":  conn.UserAddress,
		"conn_id": conn.ID,
	}).Debug("📱 Balance feed connection registered")

	s.sendTo(conn, PushMessage{
		Type:        PushTypeConnected,
		Timestamp:   time.Now().Format(time.RFC3339),
		MessageID:   uuid.NewString(),
		UserAddress: conn.UserAddress,
		Data: map[string]interface{}{
			"connection_id": conn.ID,
		},
	})
}

// UnregisterConnection removes the mapping; the socket is left to the caller
func (s *BalancePushService) UnregisterConnection(conn *Connection) {
	s.mutex.Lock()
	conns, ok := s.userConns[conn.UserAddress]
	if ok {
		if _, exists := conns[conn.ID]; !exists {
			ok = false
		}
		delete(conns, conn.ID)
		if len(conns) == 0 {
			delete(s.userConns, conn.UserAddress)
		}
	}
	s.mutex.Unlock()

	if ok {
		metrics.WebSocketClients.Dec()
		s.logger.WithFields(logrus.Fields{
			"wallet":  conn.UserAddress,
			"conn_id": conn.ID,
		}).Debug("📱 Balance feed connection unregistered")
	}
}

// ConnectionCount number of open feed connections
func (s *BalancePushService) ConnectionCount() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	n := 0
	for _, conns := range s.userConns {
		n += len(conns)
	}
	return n
}

// BalanceChanged implements LedgerEventSink
func (s *BalancePushService) BalanceChanged(change dto.BalanceChange) {
	s.broadcast(change.WalletAddress, PushTypeBalanceChanged, change)
	s.publish(s.subjects.BalanceChanged, change)
}

// DepositCredited implements LedgerEventSink
func (s *BalancePushService) DepositCredited(event dto.DepositCredited) {
	s.broadcast(event.WalletAddress, PushTypeDepositCredited, event)
	s.publish(s.subjects.DepositCredited, event)
}

func (s *BalancePushService) broadcast(wallet, msgType string, data interface{}) {
	msg := PushMessage{
		Type:        msgType,
		Timestamp:   time.Now().Format(time.RFC3339),
		MessageID:   uuid.NewString(),
		UserAddress: wallet,
		Data:        data,
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()
	conns := s.userConns[wallet]
	if len(conns) == 0 {
		return
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		s.logger.WithError(err).Error("❌ Failed to marshal push message")
		return
	}
	dropped := 0
	for _, conn := range conns {
		select {
		case conn.Send <- payload:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		s.logger.WithFields(logrus.Fields{
			"wallet":  wallet,
			"type":    msgType,
			"dropped": dropped,
		}).Warn("⚠️ Balance feed buffer full, message dropped")
	}
}

func (s *BalancePushService) sendTo(conn *Connection, msg PushMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case conn.Send <- payload:
	default:
	}
}

func (s *BalancePushService) publish(subject string, payload interface{}) {
	if s.publisher == nil || subject == "" {
		return
	}
	if err := s.publisher.PublishJSON(subject, payload); err != nil {
		s.logger.WithError(err).WithField("subject", subject).Warn("⚠️ Failed to publish ledger event")
	}
}
