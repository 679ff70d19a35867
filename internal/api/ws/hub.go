package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/your-org/presence/internal/models"
	"github.com/your-org/presence/internal/observability"
	"github.com/your-org/presence/pkg/dto"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type outbound struct {
	identityID int64
	data       []byte
}

// Client is one connected subscriber, optionally filtered to an identity.
type Client struct {
	conn       *websocket.Conn
	send       chan []byte
	identityID int64
}

// Hub fans committed attendance events out to websocket clients.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan outbound, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run is the hub event loop. Call it in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			observability.WSConnections.Inc()
			slog.Debug("ws client connected", "identity_filter", client.identityID)

		case client := <-h.unregister:
			h.remove(client)

		case msg := <-h.broadcast:
			var slow []*Client
			h.mu.RLock()
			for client := range h.clients {
				if client.identityID != 0 && client.identityID != msg.identityID {
					continue
				}
				select {
				case client.send <- msg.data:
				default:
					slow = append(slow, client)
				}
			}
			h.mu.RUnlock()
			for _, client := range slow {
				slog.Warn("ws client too slow, dropping")
				h.remove(client)
			}
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.send)
	observability.WSConnections.Dec()
}

// ClientCount is the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastAttendance queues msg for every matching client. It drops the
// message when the hub is backed up.
func (h *Hub) BroadcastAttendance(msg models.AttendanceMessage) {
	data, err := json.Marshal(newWSEvent(msg))
	if err != nil {
		slog.Error("marshal ws event", "error", err)
		return
	}
	select {
	case h.broadcast <- outbound{identityID: msg.Event.IdentityID, data: data}:
	default:
		slog.Warn("ws broadcast queue full", "event_id", msg.Event.ID)
	}
}

func newWSEvent(msg models.AttendanceMessage) dto.WSEvent {
	ev := msg.Event
	return dto.WSEvent{
		Type:     string(ev.Kind),
		Name:     msg.Name,
		Distance: msg.Distance,
		Data: dto.EventResponse{
			ID:         ev.ID,
			IdentityID: ev.IdentityID,
			Kind:       string(ev.Kind),
			Timestamp:  ev.Timestamp.UTC().Format(time.RFC3339),
			CameraID:   ev.CameraID,
		},
	}
}

// HandleWS upgrades the request. ?identity_id limits the feed to one person.
func (h *Hub) HandleWS(c *gin.Context) {
	var filter int64
	if raw := c.Query("identity_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid identity_id", "code": "VALIDATION_ERROR"})
			return
		}
		filter = id
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "error", err)
		return
	}

	client := &Client{
		conn:       conn,
		send:       make(chan []byte, 64),
		identityID: filter,
	}
	h.register <- client

	go client.writePump()
	go client.readPump(h)
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only exists to notice disconnects and answer pongs.
func (c *Client) readPump(h *Hub) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
