package handlers

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/sand/paymesh/backend/internal/entities"
)

const (
	clientBufferSize = 32
	writeWait        = 5 * time.Second
)

type subscriber struct {
	conn *websocket.Conn
	send chan entities.TransactionEvent
}

// Manager owns the websocket subscribers and fans transaction events out to them.
// A subscriber that cannot keep up loses events rather than slowing down payments.
type Manager struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu          sync.RWMutex
	subscribers map[*websocket.Conn]*subscriber
}

func NewWebSocketManager(logger *slog.Logger) *Manager {
	return &Manager{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		subscribers: make(map[*websocket.Conn]*subscriber),
	}
}

func (m *Manager) Upgrade(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	return m.upgrader.Upgrade(w, r, nil)
}

// Publish implements ports.EventPublisher. It never blocks.
func (m *Manager) Publish(event entities.TransactionEvent) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, s := range m.subscribers {
		select {
		case s.send <- event:
		default:
			m.logger.Warn("Dropping event for slow subscriber", "tx_id", event.TxID, "remote", s.conn.RemoteAddr().String())
		}
	}
}

// Subscribers returns the number of connected clients.
func (m *Manager) Subscribers() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.subscribers)
}

func (m *Manager) add(conn *websocket.Conn) *subscriber {
	s := &subscriber{conn: conn, send: make(chan entities.TransactionEvent, clientBufferSize)}

	m.mu.Lock()
	m.subscribers[conn] = s
	m.mu.Unlock()

	return s
}

func (m *Manager) remove(conn *websocket.Conn) {
	m.mu.Lock()
	s, ok := m.subscribers[conn]
	delete(m.subscribers, conn)
	m.mu.Unlock()

	if ok {
		close(s.send)
	}
}

func (m *Manager) writeLoop(s *subscriber) {
	for event := range s.send {
		_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := s.conn.WriteJSON(event); err != nil {
			m.logger.Error("Error writing websocket event", "tx_id", event.TxID, "error", err)
			_ = s.conn.Close()
			return
		}
	}
}

type WebSocketHandler struct {
	logger           *slog.Logger
	websocketManager *Manager
}

func NewWebSocketHandler(logger *slog.Logger, websocketManager *Manager) *WebSocketHandler {
	return &WebSocketHandler{
		logger:           logger,
		websocketManager: websocketManager,
	}
}

func (h *WebSocketHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/ws/transactions", h.HandleConnection)
}

func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := h.websocketManager.Upgrade(w, r)
	if err != nil {
		h.logger.Error("Error upgrading connection", "error", err)
		return
	}

	h.logger.Info("New WebSocket connection", "remote", conn.RemoteAddr().String())

	s := h.websocketManager.add(conn)
	go h.websocketManager.writeLoop(s)

	// Keep connection open and handle disconnection
	for {
		if _, _, readErr := conn.ReadMessage(); readErr != nil {
			h.logger.Info("WebSocket connection closed", "remote", conn.RemoteAddr().String(), "error", readErr)
			h.websocketManager.remove(conn)
			_ = conn.Close()
			break
		}
	}
}
