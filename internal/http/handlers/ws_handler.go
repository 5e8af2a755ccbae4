package handlers

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/retail-backoffice/inventory-audit/internal/auth"
	"github.com/retail-backoffice/inventory-audit/internal/config"
	"github.com/retail-backoffice/inventory-audit/internal/events"
	"go.uber.org/zap"
)

// wsClient serializes writes; events may arrive from several goroutines.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// WSHub pushes audit session events to the sockets of the event's tenant.
type WSHub struct {
	cfg         *config.Config
	subscriber  events.Subscriber
	log         *zap.Logger
	mu          sync.RWMutex
	connections map[string][]*wsClient
}

func NewWSHub(cfg *config.Config, subscriber events.Subscriber, log *zap.Logger) *WSHub {
	return &WSHub{
		cfg:         cfg,
		subscriber:  subscriber,
		log:         log,
		connections: make(map[string][]*wsClient),
	}
}

func (h *WSHub) Start(ctx context.Context) {
	if err := h.subscriber.Subscribe(ctx, events.AuditSessionChannel, h.broadcast); err != nil {
		h.log.Error("ws hub subscribe failed", zap.Error(err))
	}
}

func (h *WSHub) broadcast(event events.Event) {
	tenantID := event.TenantID()
	if tenantID == "" {
		h.log.Warn("dropping event without tenant", zap.String("type", event.Type))
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	h.mu.RLock()
	clients := append([]*wsClient(nil), h.connections[tenantID]...)
	h.mu.RUnlock()

	for _, cl := range clients {
		_ = cl.write(data)
	}
}

// Connections reports how many sockets are open for a tenant.
func (h *WSHub) Connections(tenantID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections[tenantID])
}

func (h *WSHub) register(tenantID string, cl *wsClient) {
	h.mu.Lock()
	h.connections[tenantID] = append(h.connections[tenantID], cl)
	h.mu.Unlock()
}

func (h *WSHub) unregister(tenantID string, cl *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients := h.connections[tenantID]
	for i, c := range clients {
		if c == cl {
			h.connections[tenantID] = append(clients[:i], clients[i+1:]...)
			break
		}
	}
	if len(h.connections[tenantID]) == 0 {
		delete(h.connections, tenantID)
	}
}

// WSUpgradeMiddleware checks for websocket upgrade
func WSUpgradeMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
}

func (h *WSHub) HandleWS(conn *websocket.Conn) {
	tokenStr := conn.Query("token")
	if tokenStr == "" {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"missing token"}`))
		conn.Close()
		return
	}

	claims, err := auth.ParseJWT(h.cfg.JWTSecret, tokenStr)
	if err != nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"invalid token"}`))
		conn.Close()
		return
	}

	tenantID := claims.TenantID
	cl := &wsClient{conn: conn}
	h.register(tenantID, cl)
	defer func() {
		h.unregister(tenantID, cl)
		conn.Close()
	}()

	// Read loop keeps the socket alive until the client goes away.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}
