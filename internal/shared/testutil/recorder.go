package testutil

import (
	"encoding/json"
	"fmt"
	"sync"

	"stardust/pkg/contracts/events"
)

// Message is one payload captured by a Recorder, already JSON encoded.
type Message struct {
	Channel events.Channel
	Data    json.RawMessage
}

// Recorder captures broadcasts and direct sends. Payloads are encoded when
// received, the same as the websocket hub does.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
	// Addr is returned by RemoteAddr when the recorder stands in for a
	// client connection.
	Addr string
}

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{Addr: "127.0.0.1"}
}

// ID identifies the recorder when it stands in for a client connection.
func (r *Recorder) ID() string {
	return "recorder"
}

// RemoteAddr returns Addr.
func (r *Recorder) RemoteAddr() string {
	return r.Addr
}

// Broadcast records a fan-out message.
func (r *Recorder) Broadcast(channel events.Channel, payload interface{}) {
	_ = r.Send(channel, payload)
}

// Send records a message addressed to a single client.
func (r *Recorder) Send(channel events.Channel, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", channel, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, Message{Channel: channel, Data: data})
	return nil
}

// Messages returns every captured message in arrival order.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.messages))
	copy(out, r.messages)
	return out
}

// On returns the captured messages for one channel.
func (r *Recorder) On(channel events.Channel) []Message {
	var out []Message
	for _, m := range r.Messages() {
		if m.Channel == channel {
			out = append(out, m)
		}
	}
	return out
}

// Last decodes the most recent message on channel into v and reports
// whether there was one.
func (r *Recorder) Last(channel events.Channel, v interface{}) bool {
	msgs := r.On(channel)
	if len(msgs) == 0 {
		return false
	}
	return json.Unmarshal(msgs[len(msgs)-1].Data, v) == nil
}

// Reset drops every captured message.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = nil
}
