package websocket

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jonathanvineet/DAIO/internal/logger"
)

const writeWait = 2 * time.Second

// viewer is one connected client with its own writer goroutine. send holds at
// most the latest undelivered message.
type viewer struct {
	conn *websocket.Conn
	send chan []byte
}

// HubService fans frames out to connected viewers. Registration and fan-out
// happen on the Run goroutine; each viewer is written by its own goroutine so
// a slow client only delays itself.
type HubService struct {
	clients    map[*websocket.Conn]*viewer
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	count      atomic.Int32
	dropped    atomic.Uint64
	logger     *logger.Logger
}

func NewHubService(logger *logger.Logger) *HubService {
	return &HubService{
		clients:    make(map[*websocket.Conn]*viewer),
		broadcast:  make(chan []byte, 1),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run serves the hub until ctx is done, then closes every client. After Run
// returns Register and Unregister no longer block.
func (h *HubService) Run(ctx context.Context) {
	defer close(h.done)
	defer h.closeAll()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			v := &viewer{conn: client, send: make(chan []byte, 1)}
			h.clients[client] = v
			total := h.count.Add(1)
			go h.write(v)
			h.logger.Info("Viewer connected. Total: %d", total)

		case client := <-h.unregister:
			if v, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(v.send)
				h.count.Add(-1)
			}
			client.Close()
			h.logger.Info("Viewer disconnected. Total: %d", h.count.Load())

		case message := <-h.broadcast:
			for _, v := range h.clients {
				h.offer(v, message)
			}
		}
	}
}

// offer hands message to v, replacing one it has not picked up yet.
func (h *HubService) offer(v *viewer, message []byte) {
	select {
	case v.send <- message:
		return
	default:
	}
	select {
	case <-v.send:
		h.dropped.Add(1)
	default:
	}
	// Only Run sends on v.send, so there is room now.
	select {
	case v.send <- message:
	default:
	}
}

func (h *HubService) write(v *viewer) {
	defer v.conn.Close()

	for message := range v.send {
		v.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := v.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			h.logger.Warning("Dropping viewer %s: %v", v.conn.RemoteAddr(), err)
			select {
			case h.unregister <- v.conn:
			case <-h.done:
			}
			return
		}
	}
}

func (h *HubService) closeAll() {
	for client, v := range h.clients {
		close(v.send)
		client.Close()
		delete(h.clients, client)
		h.count.Add(-1)
	}
}

// Register adds a viewer. It gives up, closing client, when ctx is done or
// the hub has stopped.
func (h *HubService) Register(ctx context.Context, client *websocket.Conn) {
	select {
	case h.register <- client:
	case <-ctx.Done():
		client.Close()
	case <-h.done:
		client.Close()
	}
}

// Unregister removes a viewer and closes its connection.
func (h *HubService) Unregister(ctx context.Context, client *websocket.Conn) {
	select {
	case h.unregister <- client:
	case <-ctx.Done():
		client.Close()
	case <-h.done:
		client.Close()
	}
}

// Broadcast queues message for every viewer without blocking. A message still
// waiting from an earlier call is replaced.
func (h *HubService) Broadcast(message []byte) {
	for {
		select {
		case h.broadcast <- message:
			return
		default:
		}
		select {
		case <-h.broadcast:
			h.dropped.Add(1)
		default:
		}
	}
}

// GetClientCount returns the number of connected viewers.
func (h *HubService) GetClientCount() int {
	return int(h.count.Load())
}

// Dropped returns how many messages were replaced before delivery.
func (h *HubService) Dropped() uint64 {
	return h.dropped.Load()
}
