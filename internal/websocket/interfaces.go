package websocket

import (
	"time"

	"github.com/gorilla/websocket"
)

// Connection is the part of *websocket.Conn a Client uses. Tests substitute
// MockConnection.
type Connection interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
}

var _ Connection = (*websocket.Conn)(nil)

// ConnectHandler is called once a client is registered with the hub.
type ConnectHandler func(c *Client)

// DisconnectHandler is called once a client has left the hub.
type DisconnectHandler func(c *Client)
