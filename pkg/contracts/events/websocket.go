// Package events contains the websocket channel names and envelope shared by
// the stardust server and its clients.
package events

import (
	"encoding/json"
	"time"
)

// Channel names a websocket message stream.
type Channel string

const (
	// client -> server
	ChannelSubmit Channel = "submit"
	ChannelDelete Channel = "delete"
	ChannelAdmin  Channel = "admin"

	// server -> client
	ChannelStatus   Channel = "status"
	ChannelList     Channel = "list"
	ChannelOpUpdate Channel = "op-update"
	ChannelMessage  Channel = "message"
)

// Inbound reports whether clients are allowed to publish on c.
func (c Channel) Inbound() bool {
	switch c {
	case ChannelSubmit, ChannelDelete, ChannelAdmin:
		return true
	}
	return false
}

// Envelope is the frame used in both directions.
type Envelope struct {
	Type      Channel         `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEnvelope encodes data into a frame for channel.
func NewEnvelope(channel Channel, data interface{}) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: channel, Data: raw, Timestamp: time.Now().UTC()}, nil
}

// Notices sent on ChannelMessage.
const (
	NoticeQueueFull        = "Cannot add more. Wait for the current queue to clear."
	NoticeBadRequest       = "Error with the request."
	NoticeDeleteDenied     = "Operation cannot be deleted."
	NoticeDeleteNotFound   = "Operation cannot be deleted. Not found."
	NoticeDeleteInProgress = "Operation cannot be deleted. In progress."
	NoticeAdminDenied      = "Admin operation not permitted"
)
