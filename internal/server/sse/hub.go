// Package sse pushes new captures to open gallery pages as server-sent events.
package sse

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"sync"

	"smart-doorbell-go/internal/notify"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// EventName is the SSE event type used for new captures
const EventName = "capture"

const clientBuffer = 8

// ErrHubStopped is returned once Run has returned
var ErrHubStopped = errors.New("live hub stopped")

// Client is the message channel of one connected browser
type Client chan []byte

// Hub keeps the connected clients and broadcasts captures to them
type Hub struct {
	clients    map[Client]bool
	broadcast  chan []byte
	register   chan Client
	unregister chan Client
	done       chan struct{}
	captureURL string
	mu         sync.Mutex
}

// CaptureData is the payload of a capture event
type CaptureData struct {
	ID         uint    `json:"id"`
	Filename   string  `json:"filename"`
	URL        string  `json:"url"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Known      bool    `json:"known"`
	Timestamp  string  `json:"timestamp"`
}

// NewHub creates a hub; captureURL is the prefix captures are served under
func NewHub(captureURL string) *Hub {
	return &Hub{
		clients:    make(map[Client]bool),
		broadcast:  make(chan []byte, 100),
		register:   make(chan Client),
		unregister: make(chan Client),
		done:       make(chan struct{}),
		captureURL: captureURL,
	}
}

// Run processes registrations and broadcasts until ctx is done. Every client
// channel is closed on return so open streams end.
func (h *Hub) Run(ctx context.Context) {
	log.Info("SSE hub started")
	defer func() {
		h.mu.Lock()
		for client := range h.clients {
			delete(h.clients, client)
			close(client)
		}
		h.mu.Unlock()
		close(h.done)
		log.Info("SSE hub stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			log.Debugf("SSE client registered. Total clients: %d", count)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client)
				log.Debugf("SSE client unregistered. Total clients: %d", len(h.clients))
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client <- message:
				default:
					log.Warn("SSE client channel full, removing client")
					delete(h.clients, client)
					close(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Register adds a client. It returns false once the hub has stopped.
func (h *Hub) Register(client Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a client
func (h *Hub) Unregister(client Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Broadcast queues message for every client without blocking
func (h *Hub) Broadcast(message []byte) error {
	select {
	case <-h.done:
		return ErrHubStopped
	default:
	}
	select {
	case h.broadcast <- message:
		return nil
	default:
		return errors.New("live broadcast queue full")
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Name implements notify.Notifier
func (h *Hub) Name() string { return notify.SinkLive }

// Notify implements notify.Notifier
func (h *Hub) Notify(ctx context.Context, ev notify.Event) error {
	data, err := json.Marshal(CaptureData{
		ID:         ev.CaptureID,
		Filename:   ev.Filename,
		URL:        path.Join(h.captureURL, ev.Filename),
		Label:      ev.Label,
		Confidence: ev.Confidence,
		Known:      ev.Known,
		Timestamp:  ev.Timestamp(),
	})
	if err != nil {
		return err
	}
	return h.Broadcast(data)
}

// Stream serves the event stream of one client
func (h *Hub) Stream(c *gin.Context) {
	client := make(Client, clientBuffer)
	if !h.Register(client) {
		c.AbortWithStatus(http.StatusServiceUnavailable)
		return
	}
	defer h.Unregister(client)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	// send the headers now so the browser sees the stream open
	c.Writer.Flush()

	ctx := c.Request.Context()
	for {
		select {
		case message, open := <-client:
			if !open {
				return
			}
			c.SSEvent(EventName, json.RawMessage(message))
			c.Writer.Flush()
		case <-ctx.Done():
			return
		}
	}
}
