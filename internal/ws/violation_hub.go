// Package ws pushes violation events to websocket clients.
package ws

import (
	"encoding/json"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"trafficeye/internal/sink"
)

// AllCameras is the subscription key for clients that want every camera
const AllCameras = "all"

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 32
)

// client is one websocket connection. Only its writePump writes to conn.
type client struct {
	cameraID string
	conn     *websocket.Conn
	send     chan []byte
	once     sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// ViolationHub manages WebSocket connections for real-time violation events
type ViolationHub struct {
	// clients maps camera_id -> set of clients
	clients map[string]map[*client]bool
	mu      sync.RWMutex
}

// NewViolationHub creates a new violation hub
func NewViolationHub() *ViolationHub {
	return &ViolationHub{
		clients: make(map[string]map[*client]bool),
	}
}

func (h *ViolationHub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[c.cameraID] == nil {
		h.clients[c.cameraID] = make(map[*client]bool)
	}
	h.clients[c.cameraID][c] = true
	log.Printf("[WS] Client registered for camera %s (total: %d)", c.cameraID, len(h.clients[c.cameraID]))
}

func (h *ViolationHub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.clients[c.cameraID]; ok {
		if _, ok := conns[c]; ok {
			delete(conns, c)
			c.close()
		}
		if len(conns) == 0 {
			delete(h.clients, c.cameraID)
		}
	}
}

// HasClients returns true if any client would receive events for a camera
func (h *ViolationHub) HasClients(cameraID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[cameraID]) > 0 || len(h.clients[AllCameras]) > 0
}

// GetRegisteredCameras returns all subscription keys with clients
func (h *ViolationHub) GetRegisteredCameras() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	cameras := make([]string, 0, len(h.clients))
	for cameraID := range h.clients {
		cameras = append(cameras, cameraID)
	}
	sort.Strings(cameras)
	return cameras
}

// ClientCount returns the total number of connected clients
func (h *ViolationHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for _, conns := range h.clients {
		count += len(conns)
	}
	return count
}

// BroadcastToCamera queues a message for the camera's clients and for
// clients subscribed to all cameras. Clients whose queue is full are dropped.
func (h *ViolationHub) BroadcastToCamera(cameraID string, message []byte) {
	h.mu.RLock()
	var targets []*client
	for c := range h.clients[cameraID] {
		targets = append(targets, c)
	}
	if cameraID != AllCameras {
		for c := range h.clients[AllCameras] {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if !c.trySend(message) {
			log.Printf("[WS] Client for camera %s is too slow, disconnecting", c.cameraID)
			h.unregister(c)
		}
	}
}

// trySend queues message without blocking; it reports false if the queue
// is full or already closed
func (c *client) trySend(message []byte) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

// OnViolation broadcasts a violation event to its camera's subscribers
func (h *ViolationHub) OnViolation(event *sink.Event) {
	if event == nil || !h.HasClients(event.CameraID) {
		return
	}

	data, err := json.Marshal(NewViolationMessage(event))
	if err != nil {
		log.Printf("[WS] Error marshaling violation message: %v", err)
		return
	}
	h.BroadcastToCamera(event.CameraID, data)
}

// Close disconnects every client
func (h *ViolationHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, conns := range h.clients {
		for c := range conns {
			c.close()
		}
		delete(h.clients, id)
	}
}
