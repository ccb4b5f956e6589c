// Package monitor implements the read-only observation surface: a periodic
// Sampler that snapshots Active/Overdue state and tracks utilisation, and
// a Hub that broadcasts those snapshots to websocket dashboard clients.
package monitor

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const maxWSConnections = 200

// Snapshot is the payload broadcast to every connected dashboard client.
type Snapshot struct {
	Tick            uint32       `json:"tick"`
	Active          []TaskView   `json:"active"`
	Overdue         []TaskView   `json:"overdue"`
	OverdueDropped  uint64       `json:"overdue_dropped"`
	ActiveSamples   uint64       `json:"active_samples"`
	IdleSamples     uint64       `json:"idle_samples"`
	UtilisationRate float64      `json:"utilisation_rate"` // -1 sentinel when IdleSamples == 0
}

// TaskView is the dashboard-facing projection of an edf.TaskRecord.
type TaskView struct {
	TaskID           int64  `json:"task_id"`
	Kind             string `json:"kind"`
	CreationTick     uint32 `json:"creation_tick"`
	AbsoluteDeadline uint32 `json:"absolute_deadline"`
}

// Hub manages websocket connections and broadcasts Snapshots. A single
// broadcaster goroutine owns the client set, so there is exactly one
// ticker regardless of client count; mu guards the client set (so
// ClientCount can read it from other goroutines) and the latest snapshot.
type Hub struct {
	clients    map[*websocket.Conn]struct{}
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.RWMutex

	latest Snapshot
}

// NewHub returns an idle Hub; call Run to start broadcasting.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]struct{}),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
	}
}

// Run drives registration and broadcasts until ctx is cancelled. period
// controls how often the latest Snapshot is pushed to clients; Publish can
// be called from another goroutine at any rate without waiting on Run.
func (h *Hub) Run(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case conn := <-h.register:
			h.mu.Lock()
			if len(h.clients) >= maxWSConnections {
				h.mu.Unlock()
				conn.Close()
				log.Printf("monitor: websocket connection rejected, at max (%d)", maxWSConnections)
				continue
			}
			h.clients[conn] = struct{}{}
			h.mu.Unlock()

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			h.mu.Unlock()

		case <-ticker.C:
			h.broadcast()
		}
	}
}

// Publish updates the snapshot broadcast on the next tick. Called by the
// Sampler; never blocks.
func (h *Hub) Publish(s Snapshot) {
	h.mu.Lock()
	h.latest = s
	h.mu.Unlock()
}

func (h *Hub) broadcast() {
	h.mu.RLock()
	snap := h.latest
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(snap); err != nil {
			log.Printf("monitor: websocket write error: %v", err)
			go h.Unregister(conn)
		}
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]struct{})
}

// Register adds a newly-upgraded connection to the broadcast set.
func (h *Hub) Register(conn *websocket.Conn) { h.register <- conn }

// Unregister removes conn; safe to call more than once.
func (h *Hub) Unregister(conn *websocket.Conn) { h.unregister <- conn }

// ClientCount returns the number of connected dashboard clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
