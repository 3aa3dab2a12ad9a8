package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"ledger-backend/internal/config"
	"ledger-backend/internal/metrics"

	"github.com/nats-io/nats.go"
)

// NATSClient NATS client
type NATSClient struct {
	conn     *nats.Conn
	subjects config.NATSSubjectNames
	timeout  time.Duration
}

// NewNATSClient CreateNATS client
func NewNATSClient(cfg config.NATSConfig) (*NATSClient, error) {
	connectTimeout := 10 * time.Second
	if cfg.Timeout > 0 {
		connectTimeout = time.Duration(cfg.Timeout) * time.Second
	}
	reconnectWait := 5 * time.Second
	if cfg.ReconnectWait > 0 {
		reconnectWait = time.Duration(cfg.ReconnectWait) * time.Second
	}
	maxReconnects := -1
	if cfg.MaxReconnects != 0 {
		maxReconnects = cfg.MaxReconnects
	}

	log.Printf("🔌 Connecting to NATS %s (timeout %v)", cfg.URL, connectTimeout)

	conn, err := nats.Connect(cfg.URL,
		nats.Name("ledger-backend"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Printf("⚠️ NATS disconnected: %v", err)
			metrics.NATSConnectionStatus.Set(0)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("✅ NATS reconnected to %s", nc.ConnectedUrl())
			metrics.NATSConnectionStatus.Set(1)
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			metrics.NATSConnectionStatus.Set(0)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	metrics.NATSConnectionStatus.Set(1)

	return &NATSClient{
		conn:     conn,
		subjects: cfg.Subjects,
		timeout:  connectTimeout,
	}, nil
}

// Subjects configured subject names
func (c *NATSClient) Subjects() config.NATSSubjectNames {
	return c.subjects
}

// PublishJSON publishes payload as JSON on subject
func (c *NATSClient) PublishJSON(subject string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", subject, err)
	}
	if err := c.conn.Publish(subject, data); err != nil {
		metrics.NATSMessagesFailed.WithLabelValues(subject).Inc()
		return fmt.Errorf("failed to publish %s: %w", subject, err)
	}
	metrics.NATSMessagesPublished.WithLabelValues(subject).Inc()
	return nil
}

// RequestJSON sends a request and decodes the reply into out. Without a
// deadline on ctx the client timeout applies.
func (c *NATSClient) RequestJSON(ctx context.Context, subject string, payload, out interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", subject, err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	msg, err := c.conn.RequestWithContext(ctx, subject, data)
	if err != nil {
		metrics.NATSMessagesFailed.WithLabelValues(subject).Inc()
		return fmt.Errorf("NATS request %s failed: %w", subject, err)
	}
	metrics.NATSMessagesPublished.WithLabelValues(subject).Inc()

	if err := json.Unmarshal(msg.Data, out); err != nil {
		return fmt.Errorf("failed to decode %s reply: %w", subject, err)
	}
	return nil
}

// IsConnected reports whether the connection is up
func (c *NATSClient) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// Close drains and closes the connection
func (c *NATSClient) Close() {
	if c.conn == nil {
		return
	}
	if err := c.conn.Drain(); err != nil {
		c.conn.Close()
	}
	metrics.NATSConnectionStatus.Set(0)
}
