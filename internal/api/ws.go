package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/Leblepito/uAlgoTrade/internal/bus"
	"github.com/Leblepito/uAlgoTrade/internal/metrics"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send keep-alive pings with this period. Must be less than pongWait
	pingPeriod = 30 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 512
)

// Bus topics forwarded to WebSocket clients.
var forwardedTopics = []string{
	"analysis.alpha_scout",
	"analysis.technical_analyst",
	"analysis.risk_sentinel",
	"analysis.orchestrator",
	"analysis.quant_lab",
	"signal.decision",
	"risk.kill_switch",
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// eventFrame is the JSON frame sent to event stream clients.
type eventFrame struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
	// Timestamp set on control frames (connected/ping/pong)
	Timestamp string `json:"timestamp,omitempty"`
}

// Client is one WebSocket event subscriber.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub fans bus events out to connected WebSocket clients. Iteration during
// broadcast snapshots the client set, so concurrent disconnects are safe.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
}

// NewHub creates a hub subscribed to the swarm's event topics.
func NewHub(eventBus *bus.Bus) *Hub {
	h := &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}

	for _, topic := range forwardedTopics {
		eventBus.Subscribe(topic, h.onBusMessage)
	}

	return h
}

// onBusMessage converts a bus event to a client frame and queues it.
func (h *Hub) onBusMessage(msg bus.Message) {
	frame, err := json.Marshal(eventFrame{
		Type: "agent:" + msg.Topic,
		Data: map[string]any{
			"sender":    msg.Sender,
			"topic":     msg.Topic,
			"payload":   msg.Payload,
			"timestamp": msg.Timestamp.Format(time.RFC3339Nano),
			"priority":  msg.Priority,
		},
	})
	if err != nil {
		log.Warn().Err(err).Str("topic", msg.Topic).Msg("Event frame marshal failed")
		return
	}

	select {
	case h.broadcast <- frame:
	default:
		log.Warn().Str("topic", msg.Topic).Msg("Event broadcast queue full, frame dropped")
	}
}

// Run processes hub registration and broadcast events.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			metrics.WebSocketClients.Set(float64(len(h.clients)))
			log.Info().Int("total_clients", len(h.clients)).Msg("WebSocket client connected")

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			metrics.WebSocketClients.Set(float64(len(h.clients)))
			log.Info().Int("total_clients", len(h.clients)).Msg("WebSocket client disconnected")

		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow client: drop it rather than stall the fan-out
					close(client.send)
					delete(h.clients, client)
				}
			}
		}
	}
}

// handleWebSocket upgrades the connection and attaches it to the hub.
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := &Client{hub: s.hub, conn: conn, send: make(chan []byte, 64)}
	s.hub.register <- client

	// Initial hello frame
	hello, _ := json.Marshal(eventFrame{
		Type:      "connected",
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
	client.send <- hello

	go client.writePump()
	go client.readPump()
}

// readPump consumes client messages, answering application-level pings.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Msg("WebSocket read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var frame eventFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			continue
		}
		if frame.Type == "ping" {
			pong, _ := json.Marshal(eventFrame{
				Type:      "pong",
				Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			})
			select {
			case c.send <- pong:
			default:
			}
		}
	}
}

// writePump streams hub frames to the client with keep-alive pings after 30s
// of silence.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
