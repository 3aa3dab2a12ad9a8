package handlers

import (
	"net/http"
	"strings"
	"time"

	"ledger-backend/internal/dto"
	"ledger-backend/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
	wsSendBuffer = 64
)

// WebSocketHandler balance feed: one socket per client, scoped to the JWT wallet
type WebSocketHandler struct {
	push     *services.BalancePushService
	validate func(token string) (*dto.JWTClaims, error)
	upgrader websocket.Upgrader
	logger   *logrus.Logger
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(push *services.BalancePushService, validate func(token string) (*dto.JWTClaims, error), allowedOrigins []string, logger *logrus.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		push:     push,
		validate: validate,
		upgrader: websocket.Upgrader{
			CheckOrigin:     originChecker(allowedOrigins),
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger,
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, o := range allowed {
			if o == "*" || strings.EqualFold(strings.TrimSpace(o), origin) {
				return true
			}
		}
		return false
	}
}

// HandleWebSocket GET /api/ws?token=<jwt>
func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		token = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	}
	claims, err := h.validate(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"error":   "Invalid or expired token",
			"code":    "INVALID_TOKEN",
		})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithError(err).Warn("❌ WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	client := &services.Connection{
		ID:          uuid.NewString(),
		UserAddress: claims.UserAddress,
		Conn:        conn,
		Send:        make(chan []byte, wsSendBuffer),
		ConnectedAt: time.Now(),
	}
	h.push.RegisterConnection(client)
	defer h.push.UnregisterConnection(client)

	h.logger.WithFields(logrus.Fields{
		"conn_id": client.ID,
		"wallet":  client.UserAddress,
	}).Info("📡 Balance feed client connected")

	// 读循环只处理 pong 和关闭
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		conn.SetReadLimit(4096)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					h.logger.WithError(err).WithField("conn_id", client.ID).Debug("🔌 Balance feed read error")
				}
				return
			}
		}
	}()

	// all writes go through this loop
	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-readDone:
			h.logger.WithField("conn_id", client.ID).Info("🔌 Balance feed client disconnected")
			return
		case msg := <-client.Send:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
