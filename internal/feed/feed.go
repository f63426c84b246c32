// Package feed pushes job transitions to WebSocket subscribers.
package feed

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/open-oni/oni-admin/internal/jobs"
	"github.com/open-oni/oni-admin/internal/logger"
)

const (
	writeWait  = 10 * time.Second
	sendBuffer = 32
)

// Update is the message sent for every job transition.
type Update struct {
	JobID     string    `json:"job_id"`
	Kind      string    `json:"kind"`
	Target    string    `json:"target"`
	Status    string    `json:"status"`
	Info      string    `json:"info"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UpdateFor builds the feed message for job.
func UpdateFor(job jobs.Job) Update {
	return Update{
		JobID:     job.ID,
		Kind:      job.Kind.Code(),
		Target:    job.Target,
		Status:    job.Status.Label(),
		Info:      job.Info,
		UpdatedAt: job.UpdatedAt,
	}
}

type client struct {
	conn *websocket.Conn
	send chan Update
	once sync.Once
}

// Manager manages WebSocket connections and broadcasts.
type Manager struct {
	clients   map[*client]bool
	clientsMu sync.Mutex
	upgrader  websocket.Upgrader
}

// New creates a new WebSocket manager.
func New() *Manager {
	return &Manager{
		clients: make(map[*client]bool),
		upgrader: websocket.Upgrader{
			// The admin surface is bound to a local interface.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the request and registers the connection.
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Feed", "ServeHTTP", err)
		return
	}
	m.add(conn)
}

func (m *Manager) add(conn *websocket.Conn) {
	c := &client{conn: conn, send: make(chan Update, sendBuffer)}

	m.clientsMu.Lock()
	m.clients[c] = true
	total := len(m.clients)
	m.clientsMu.Unlock()
	logger.Debugf("Feed", "add", "client connected, total clients: %d", total)

	go m.writeLoop(c)
	go m.readLoop(c)
}

// readLoop drains client frames until the connection closes.
func (m *Manager) readLoop(c *client) {
	defer m.remove(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (m *Manager) writeLoop(c *client) {
	defer c.conn.Close()
	for update := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(update); err != nil {
			logger.Warnf("Feed", "writeLoop", "failed to send update: %v", err)
			m.remove(c)
			return
		}
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (m *Manager) remove(c *client) {
	c.once.Do(func() {
		m.clientsMu.Lock()
		delete(m.clients, c)
		total := len(m.clients)
		m.clientsMu.Unlock()
		close(c.send)
		logger.Debugf("Feed", "remove", "client disconnected, total clients: %d", total)
	})
}

// Publish queues job's update for every client. Clients whose buffer is
// full are disconnected.
func (m *Manager) Publish(job jobs.Job) {
	update := UpdateFor(job)

	m.clientsMu.Lock()
	var slow []*client
	for c := range m.clients {
		select {
		case c.send <- update:
		default:
			slow = append(slow, c)
		}
	}
	m.clientsMu.Unlock()

	for _, c := range slow {
		m.remove(c)
	}
}

// ClientCount returns the number of connected clients.
func (m *Manager) ClientCount() int {
	m.clientsMu.Lock()
	defer m.clientsMu.Unlock()
	return len(m.clients)
}

// Close disconnects every client.
func (m *Manager) Close() {
	m.clientsMu.Lock()
	all := make([]*client, 0, len(m.clients))
	for c := range m.clients {
		all = append(all, c)
	}
	m.clientsMu.Unlock()

	for _, c := range all {
		m.remove(c)
	}
}
