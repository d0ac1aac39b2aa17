package handler

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/CageChen/contentbridge/internal/middleware"
)

const (
	// writeWait bounds a single write so a stalled browser only loses its
	// own connection.
	writeWait = 10 * time.Second
	// sendBuffer is the number of notices queued per client before it is
	// dropped as too slow.
	sendBuffer = 16
)

// File change events.
const (
	EventUpdate = "update"
	EventRemove = "remove"
)

// FileChange describes a file written or deleted through the bridge. Open
// forms showing the same file compare SHA with their own to detect that
// their token is stale.
type FileChange struct {
	Event string `json:"event"`
	Owner string `json:"owner"`
	Repo  string `json:"repo"`
	Path  string `json:"path"`
	SHA   string `json:"sha,omitempty"`
}

// WSMessage represents a WebSocket message
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// WSHandler pushes file change notices to connected forms. Each connection
// has its own writer goroutine; NotifyFileChange only enqueues.
type WSHandler struct {
	upgrader websocket.Upgrader
	clients  map[*wsClient]bool
	mu       sync.RWMutex
	logger   *zap.Logger
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewWSHandler creates a new WebSocket handler. Upgrades are accepted from
// the bridge's own origin and from allowedOrigins.
func NewWSHandler(log *zap.Logger, allowedOrigins ...string) *WSHandler {
	if log == nil {
		log = zap.NewNop()
	}
	checkOrigin := func(r *http.Request) bool {
		return middleware.OriginAllowed(r, allowedOrigins)
	}
	return &WSHandler{
		upgrader: websocket.Upgrader{CheckOrigin: checkOrigin},
		clients:  make(map[*wsClient]bool),
		logger:   log,
	}
}

// HandleWS handles WebSocket upgrade and connection
func (h *WSHandler) HandleWS(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &wsClient{conn: conn, send: make(chan []byte, sendBuffer)}
	h.addClient(client)
	go h.writeLoop(client)

	// Clients never send anything meaningful; reading only detects close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.removeClient(client)
}

// NotifyFileChange implements ChangeNotifier
func (h *WSHandler) NotifyFileChange(change FileChange) {
	h.broadcast(WSMessage{
		Type:    "fileChange",
		Payload: change,
	})
}

// ClientCount returns the number of connected clients
func (h *WSHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *WSHandler) addClient(client *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client] = true
}

// removeClient closes the send channel exactly once; the writer goroutine
// then closes the connection.
func (h *WSHandler) removeClient(client *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[client] {
		delete(h.clients, client)
		close(client.send)
	}
}

// writeLoop is the only goroutine writing to client.conn.
func (h *WSHandler) writeLoop(client *wsClient) {
	defer func() { _ = client.conn.Close() }()

	for data := range client.send {
		_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := client.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.logger.Debug("websocket write failed", zap.Error(err))
			h.removeClient(client)
			// send is closed by now; discard what is queued.
			for range client.send {
			}
			return
		}
	}
	_ = client.conn.WriteControl(websocket.CloseMessage, nil, time.Now().Add(writeWait))
}

// broadcast never blocks: a client whose queue is full is dropped.
func (h *WSHandler) broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			h.logger.Debug("dropping slow websocket client")
			delete(h.clients, client)
			close(client.send)
		}
	}
}
