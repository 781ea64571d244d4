package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"stardust/pkg/contracts/events"
)

const defaultBroadcastBuffer = 1024

// Hub maintains the set of active clients and broadcasts messages to the clients
type Hub struct {
	// Registered clients
	clients map[*Client]struct{}

	// Encoded frames waiting to be fanned out, in order
	broadcast chan []byte

	// Register requests from the clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Mutex for thread-safe operations
	mu sync.RWMutex

	logger  *slog.Logger
	metrics *OTelMetrics

	onConnect    ConnectHandler
	onDisconnect DisconnectHandler

	// Control
	quit    chan struct{}
	done    chan struct{}
	running bool
}

// NewHub creates a new Hub instance with dependency injection
func NewHub(logger *slog.Logger, metrics *OTelMetrics) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics, _ = NewOTelMetrics(nil)
	}

	return &Hub{
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan []byte, defaultBroadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger.With(slog.String("component", "websocket.hub")),
		metrics:    metrics,
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// OnConnect sets the handler run for every new client, before its reads
// start. Must be called before Start.
func (h *Hub) OnConnect(fn ConnectHandler) {
	h.onConnect = fn
}

// OnDisconnect sets the handler run once per departed client. Must be
// called before Start.
func (h *Hub) OnDisconnect(fn DisconnectHandler) {
	h.onDisconnect = fn
}

// Start starts the hub's goroutines
func (h *Hub) Start() {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.mu.Unlock()

	go h.Run()
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	defer close(h.done)
	for {
		select {
		case <-h.quit:
			h.logger.Info("Hub shutting down")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			count := len(h.clients)
			h.mu.Unlock()

			h.metrics.RecordConnection(context.Background())
			h.logger.Info("Client registered",
				slog.Int("total_clients", count),
				slog.String("client_id", client.id),
				slog.String("remote_addr", client.remoteAddr))

		case client := <-h.unregister:
			h.mu.Lock()
			_, ok := h.clients[client]
			if ok {
				delete(h.clients, client)
			}
			count := len(h.clients)
			h.mu.Unlock()

			if ok {
				client.closeSend()
				h.logger.Info("Client unregistered",
					slog.Int("total_clients", count),
					slog.String("client_id", client.id),
					slog.Duration("connection_duration", time.Since(client.connectedAt)))
			}

		case message := <-h.broadcast:
			h.fanOut(message)
		}
	}
}

// fanOut queues message on every client. Clients whose buffer is full are
// dropped.
func (h *Hub) fanOut(message []byte) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	failCount := 0
	for _, client := range clients {
		if client.enqueue(message) {
			continue
		}
		failCount++
		h.mu.Lock()
		delete(h.clients, client)
		h.mu.Unlock()
		client.closeSend()
		h.metrics.RecordDropped(context.Background(), "client")
		h.logger.Warn("Client send buffer full, disconnecting",
			slog.String("client_id", client.id))
	}

	if failCount > 0 {
		h.logger.Warn("Some clients failed to receive broadcast",
			slog.Int("success_count", len(clients)-failCount),
			slog.Int("fail_count", failCount))
	}
}

// Broadcast encodes payload on channel and queues it for every client. The
// payload is encoded before Broadcast returns. When the hub is backed up
// the message is dropped rather than blocking the caller.
func (h *Hub) Broadcast(channel events.Channel, payload interface{}) {
	data, err := encodeFrame(channel, payload)
	if err != nil {
		h.logger.Error("Error marshaling message",
			slog.String("error", err.Error()),
			slog.String("message_type", string(channel)))
		return
	}

	select {
	case h.broadcast <- data:
	default:
		h.metrics.RecordDropped(context.Background(), "hub")
		h.logger.Warn("Broadcast queue full, message dropped",
			slog.String("message_type", string(channel)),
			slog.Int("queue_depth", len(h.broadcast)))
	}
}

// Register adds a client to the hub. It reports false when the hub has
// stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.quit:
		return false
	}
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.quit:
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stop gracefully stops the hub
func (h *Hub) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	h.mu.Unlock()

	close(h.quit)
	<-h.done

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		client.closeSend()
		delete(h.clients, client)
	}
}

// Serve attaches conn as a new client: it registers it, runs the connect
// handler, then starts the pumps. remoteAddr is the peer address, with or
// without a port.
func (h *Hub) Serve(conn Connection, remoteAddr string, opts ClientOptions) *Client {
	client := NewClient(h, conn, remoteAddr, opts, h.logger)
	if !h.Register(client) {
		_ = conn.Close()
		return client
	}

	go client.WritePump()
	if h.onConnect != nil {
		h.onConnect(client)
	}
	go client.ReadPump()
	return client
}

func (h *Hub) clientLeft(client *Client) {
	h.Unregister(client)
	h.metrics.RecordDisconnection(context.Background(), time.Since(client.connectedAt), "closed")
	if h.onDisconnect != nil {
		h.onDisconnect(client)
	}
}

func encodeFrame(channel events.Channel, payload interface{}) ([]byte, error) {
	envelope, err := events.NewEnvelope(channel, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope)
}
