package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"zigstack/internal/events"
)

// WSHub fans bus events out to WebSocket clients.
type WSHub struct {
	clients map[*wsClient]struct{}
	mu      sync.RWMutex
	logger  *slog.Logger

	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan events.Event

	done     chan struct{}
	stopOnce sync.Once
}

type wsClient struct {
	conn  *websocket.Conn
	send  chan []byte
	types map[events.Type]bool // nil: every type
}

func (c *wsClient) wants(t events.Type) bool {
	return c.types == nil || c.types[t]
}

// parseTypes reads a comma-separated ?types= filter.
func parseTypes(q string) map[events.Type]bool {
	if q == "" {
		return nil
	}
	types := make(map[events.Type]bool)
	for _, t := range strings.Split(q, ",") {
		if t = strings.TrimSpace(t); t != "" {
			types[events.Type(t)] = true
		}
	}
	return types
}

func NewWSHub(logger *slog.Logger) *WSHub {
	return &WSHub{
		clients:    make(map[*wsClient]struct{}),
		logger:     logger,
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan events.Event, 256),
		done:       make(chan struct{}),
	}
}

// Run is the hub loop. It owns client registration and send channels.
func (h *WSHub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("ws client connected", "total", total)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("ws client disconnected", "total", total)

		case ev := <-h.broadcast:
			data, err := json.Marshal(ev)
			if err != nil {
				h.logger.Error("ws marshal", "err", err)
				continue
			}
			h.mu.Lock()
			var slow []*wsClient
			for client := range h.clients {
				if !client.wants(ev.Type) {
					continue
				}
				select {
				case client.send <- data:
				default:
					slow = append(slow, client)
				}
			}
			for _, client := range slow {
				delete(h.clients, client)
				close(client.send)
				h.logger.Warn("ws client evicted (too slow)")
			}
			h.mu.Unlock()
		}
	}
}

// Stop signals the hub to shut down. Safe to call multiple times.
func (h *WSHub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
	})
}

// Broadcast queues ev without blocking the publisher. It drops ev when the
// queue is full.
func (h *WSHub) Broadcast(ev events.Event) {
	select {
	case h.broadcast <- ev:
	default:
		h.logger.Warn("ws broadcast channel full, dropping event", "type", ev.Type)
	}
}

// handleWS streams events as JSON text messages. ?types=frame_rx,decode_error
// limits the stream.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{}
	if len(s.allowedOrigins) > 0 {
		opts.OriginPatterns = s.allowedOrigins
	}

	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		s.logger.Error("ws accept", "err", err)
		return
	}
	conn.SetReadLimit(4096)

	client := &wsClient{
		conn:  conn,
		send:  make(chan []byte, 64),
		types: parseTypes(r.URL.Query().Get("types")),
	}

	select {
	case s.wsHub.register <- client:
	case <-s.wsHub.done:
		conn.Close(websocket.StatusGoingAway, "server shutdown")
		return
	}

	go s.wsWritePump(client)
	s.wsReadPump(client)
}

func (s *Server) wsWritePump(client *wsClient) {
	for msg := range client.send {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := client.conn.Write(ctx, websocket.MessageText, msg)
		cancel()
		if err != nil {
			return
		}
	}
	client.conn.Close(websocket.StatusNormalClosure, "")
}

// wsReadPump only watches for the peer going away; inbound messages are
// discarded.
func (s *Server) wsReadPump(client *wsClient) {
	defer func() {
		select {
		case s.wsHub.unregister <- client:
		case <-s.wsHub.done:
			client.conn.Close(websocket.StatusGoingAway, "server shutdown")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		select {
		case <-s.wsHub.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		if _, _, err := client.conn.Read(ctx); err != nil {
			return
		}
	}
}
