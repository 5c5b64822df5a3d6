package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/saltdig/engine/internal/events"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // origin policy enforced by the CORS middleware
	},
}

// FirehosePayload is one websocket frame: the market topic plus the event.
type FirehosePayload struct {
	Topic     string       `json:"topic"`
	ListingID string       `json:"listingId"`
	Event     events.Event `json:"event"`
}

// Hub maintains the set of active websocket clients and fans every bus
// event out to them. One hub serves the whole market firehose.
type Hub struct {
	clients   map[*websocket.Conn]bool
	broadcast chan []byte
	mutex     sync.Mutex
}

func NewHub() *Hub {
	return &Hub{
		broadcast: make(chan []byte, 256),
		clients:   make(map[*websocket.Conn]bool),
	}
}

// BindBus subscribes the hub to every topic and returns the unsubscribe
// handle.
func (h *Hub) BindBus(bus *events.Bus) func() {
	return bus.SubscribeAll(func(topic string, ev events.Event) {
		payload := FirehosePayload{
			Topic:     topic,
			ListingID: strings.TrimPrefix(topic, "market:"),
			Event:     ev,
		}
		data, err := json.Marshal(payload)
		if err != nil {
			log.Printf("[WS] marshal event on %s: %v", topic, err)
			return
		}
		h.Broadcast(data)
	})
}

func (h *Hub) Run() {
	for message := range h.broadcast {
		h.mutex.Lock()
		for client := range h.clients {
			// Write deadline keeps one blocked client from hanging the hub.
			_ = client.SetWriteDeadline(time.Now().Add(5 * time.Second))
			err := client.WriteMessage(websocket.TextMessage, message)
			if err != nil {
				log.Printf("Websocket write error: %v", err)
				client.Close()
				delete(h.clients, client)
			}
		}
		h.mutex.Unlock()
	}
}

// Subscribe handles incoming websocket connections
func (h *Hub) Subscribe(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Failed to upgrade websocket: %v", err)
		return
	}

	h.mutex.Lock()
	h.clients[conn] = true
	h.mutex.Unlock()

	log.Printf("New WebSocket client connected. Total clients: %d", len(h.clients))

	// Push-only stream, but we must read to notice disconnects.
	go func() {
		defer func() {
			h.mutex.Lock()
			delete(h.clients, conn)
			h.mutex.Unlock()
			conn.Close()
			log.Printf("WebSocket client disconnected. Total clients: %d", len(h.clients))
		}()
		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("WebSocket error: %v", err)
				}
				break
			}
		}
	}()
}

// Broadcast sends JSON data to all connected clients. Drops the frame when
// the buffer is full rather than blocking an emitter.
func (h *Hub) Broadcast(data []byte) {
	select {
	case h.broadcast <- data:
	default:
		log.Println("[WS] broadcast buffer full, dropping frame")
	}
}
