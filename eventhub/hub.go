// Package eventhub pushes ring events to UI clients over websockets.
package eventhub

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lumie-health/ringlink/ble"
	"github.com/lumie-health/ringlink/logger"
	"github.com/lumie-health/ringlink/ring"
)

// Event types sent to UI clients.
const (
	TypeScanFound   = "ring/scan_found"
	TypeScanTimeout = "ring/scan_timeout"
	TypeState       = "ring/state"
	TypePaired      = "ring/paired"
	TypePairFailed  = "ring/pair_failed"
)

// WriteTimeout bounds each client write. Clients that miss it are dropped.
const WriteTimeout = 100 * time.Millisecond

// Event is the JSON envelope sent to clients.
type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// Hub fans events out to connected websocket clients.
type Hub struct {
	clients map[*websocket.Conn]bool
	mu      sync.Mutex

	// gorilla connections allow one concurrent writer
	writeMu sync.Mutex

	upgrader websocket.Upgrader
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*websocket.Conn]bool),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *Hub) AddClient(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = true
}

func (h *Hub) RemoveClient(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeWS upgrades the request and keeps the client registered until it
// disconnects. Client messages are ignored.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("eventhub", "upgrade failed: %v", err)
		return
	}
	h.AddClient(conn)
	logger.Debug("eventhub", "client connected from %s", r.RemoteAddr)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.RemoveClient(conn)
	logger.Debug("eventhub", "client %s gone", r.RemoteAddr)
}

// Broadcast sends event to every client in parallel and drops the ones
// whose write fails.
func (h *Hub) Broadcast(event Event) {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	h.mu.Lock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		clients = append(clients, conn)
	}
	h.mu.Unlock()

	var wg sync.WaitGroup
	var failedClients []*websocket.Conn
	var failedMu sync.Mutex

	for _, conn := range clients {
		wg.Add(1)
		go func(c *websocket.Conn) {
			defer wg.Done()

			c.SetWriteDeadline(time.Now().Add(WriteTimeout))
			if err := c.WriteJSON(event); err != nil {
				failedMu.Lock()
				failedClients = append(failedClients, c)
				failedMu.Unlock()
			}
		}(conn)
	}
	wg.Wait()

	for _, conn := range failedClients {
		logger.Debug("eventhub", "dropping client %s", conn.RemoteAddr())
		h.RemoveClient(conn)
	}
}

// ScanFound announces a discovered ring.
func (h *Hub) ScanFound(p ble.Peripheral) {
	h.Broadcast(Event{Type: TypeScanFound, Payload: map[string]interface{}{
		"device_id": p.ID,
		"name":      p.Name,
		"rssi":      p.RSSI,
	}})
}

// ScanTimeout announces the end of the scan window.
func (h *Hub) ScanTimeout() {
	h.Broadcast(Event{Type: TypeScanTimeout})
}

// State announces a client state change.
func (h *Hub) State(s ring.State) {
	h.Broadcast(Event{Type: TypeState, Payload: map[string]interface{}{"state": s.String()}})
}

// Paired announces a completed handshake.
func (h *Hub) Paired(info *ring.PairedDeviceInfo) {
	h.Broadcast(Event{Type: TypePaired, Payload: info})
}

// PairFailed announces a failed pairing with a reason the UI can branch on.
func (h *Hub) PairFailed(deviceID string, err error) {
	h.Broadcast(Event{Type: TypePairFailed, Payload: map[string]interface{}{
		"device_id": deviceID,
		"reason":    ring.FailureReason(err),
		"error":     err.Error(),
	}})
}
