package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"stardust/internal/config"
	"stardust/pkg/contracts/events"
)

var (
	// ErrClientClosed is returned by Send after the client has left.
	ErrClientClosed = errors.New("websocket client closed")
	// ErrSendBufferFull is returned by Send when the client is not keeping up.
	ErrSendBufferFull = errors.New("websocket client send buffer full")
)

// heartbeat frames keep idle browser connections open and are otherwise ignored.
const heartbeat events.Channel = "heartbeat"

// ClientOptions holds the per-connection limits.
type ClientOptions struct {
	// Time allowed to write a message to the peer
	WriteWait time.Duration
	// Time allowed to read the next pong message from the peer
	PongWait time.Duration
	// Send pings to peer with this period. Must be less than PongWait
	PingPeriod time.Duration
	// Maximum message size allowed from peer
	MaxMessageSize int64
	// Capacity of the outbound queue
	SendBuffer int
}

// ClientOptionsFromConfig maps the websocket configuration section.
func ClientOptionsFromConfig(cfg config.WebSocketConfig) ClientOptions {
	return ClientOptions{
		WriteWait:      cfg.WriteWait,
		PongWait:       cfg.PongWait,
		PingPeriod:     cfg.PingPeriod,
		MaxMessageSize: cfg.MaxMessageSize,
		SendBuffer:     cfg.SendBuffer,
	}
}

func (o ClientOptions) withDefaults() ClientOptions {
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = (o.PongWait * 9) / 10
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 64 << 10
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	return o
}

// MessageHandler handles one inbound frame.
type MessageHandler func(c *Client, data json.RawMessage)

// Client is a middleman between the websocket connection and the hub
type Client struct {
	hub  *Hub
	conn Connection
	opts ClientOptions

	// Buffered channel of outbound messages
	send   chan []byte
	sendMu sync.Mutex
	closed bool

	// Inbound handlers, only modified before ReadPump starts
	handlers map[events.Channel]MessageHandler

	id          string
	remoteAddr  string
	connectedAt time.Time

	logger *slog.Logger
}

// NewClient creates a new Client with dependency injection
func NewClient(hub *Hub, conn Connection, remoteAddr string, opts ClientOptions, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	opts = opts.withDefaults()

	id := uuid.New().String()
	host := hostOnly(remoteAddr)
	return &Client{
		hub:         hub,
		conn:        conn,
		opts:        opts,
		send:        make(chan []byte, opts.SendBuffer),
		handlers:    make(map[events.Channel]MessageHandler),
		id:          id,
		remoteAddr:  host,
		connectedAt: time.Now(),
		logger: logger.With(
			slog.String("component", "websocket.client"),
			slog.String("client_id", id),
		),
	}
}

// ID returns the client id.
func (c *Client) ID() string { return c.id }

// RemoteAddr returns the peer IP without port.
func (c *Client) RemoteAddr() string { return c.remoteAddr }

// OnMessage installs the handler for an inbound channel. It must be called
// from the hub's connect handler.
func (c *Client) OnMessage(channel events.Channel, handler MessageHandler) {
	c.handlers[channel] = handler
}

// Send encodes payload on channel and queues it for this client only.
func (c *Client) Send(channel events.Channel, payload interface{}) error {
	data, err := encodeFrame(channel, payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", channel, err)
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		c.hub.metrics.RecordDropped(context.Background(), "client")
		return ErrSendBufferFull
	}
}

// enqueue queues an encoded frame, reporting false when the buffer is full.
// A closed client swallows the frame.
func (c *Client) enqueue(data []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// closeSend closes the outbound queue once, which stops WritePump.
func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// ReadPump pumps messages from the websocket connection to the handlers
func (c *Client) ReadPump() {
	defer func() {
		c.logger.Info("WebSocket client disconnected",
			slog.Duration("connection_duration", time.Since(c.connectedAt)))
		c.hub.clientLeft(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(c.opts.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("Unexpected WebSocket close error",
					slog.String("error", err.Error()))
			}
			return
		}
		c.dispatch(message)
	}
}

func (c *Client) dispatch(message []byte) {
	var envelope events.Envelope
	if err := json.Unmarshal(message, &envelope); err != nil {
		c.logger.Warn("Malformed WebSocket frame", slog.String("error", err.Error()))
		return
	}
	if envelope.Type == heartbeat {
		return
	}
	c.hub.metrics.RecordMessage(context.Background(), "in", string(envelope.Type), len(message))

	handler, ok := c.handlers[envelope.Type]
	if !ok || !envelope.Type.Inbound() {
		c.logger.Debug("Ignoring frame on unhandled channel",
			slog.String("message_type", string(envelope.Type)))
		return
	}
	handler(c, envelope.Data)
}

// WritePump pumps messages from the hub to the websocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if !ok {
				// The hub closed the channel
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Error("Error writing message to WebSocket",
					slog.String("error", err.Error()))
				return
			}
			c.hub.metrics.RecordMessage(context.Background(), "out", "", len(message))

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("Failed to send ping message",
					slog.String("error", err.Error()))
				return
			}
		}
	}
}

// NewUpgrader builds the HTTP upgrader. An empty allowedOrigins accepts any
// origin.
func NewUpgrader(cfg config.WebSocketConfig, allowedOrigins []string) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, allowed := range allowedOrigins {
				if allowed == "*" || allowed == origin {
					return true
				}
			}
			return false
		},
	}
}

// ServeWS upgrades the request and attaches the connection to hub.
func ServeWS(hub *Hub, upgrader *websocket.Upgrader, opts ClientOptions, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		hub.logger.Warn("WebSocket upgrade failed",
			slog.String("error", err.Error()),
			slog.String("remote_addr", r.RemoteAddr))
		return
	}
	hub.Serve(conn, r.RemoteAddr, opts)
}

func hostOnly(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
