package operations

import (
	"stardust/pkg/contracts/domain"
	"stardust/pkg/contracts/events"
)

// StatusPatch is a partial ServerStatus. Nil fields are left alone.
type StatusPatch struct {
	ConnectedClients *int
	IsRunning        *bool
	QueueFull        *bool
}

// Notifier pushes state changes to observers and owns the live
// ServerStatus. Delivery is best effort.
type Notifier struct {
	out    Broadcaster
	status domain.ServerStatus
}

// NewNotifier creates a notifier writing to out. A nil out discards.
func NewNotifier(out Broadcaster) *Notifier {
	return &Notifier{out: out}
}

// BroadcastList sends the whole collection, newest first.
func (n *Notifier) BroadcastList(ops []*domain.Operation) {
	if ops == nil {
		ops = []*domain.Operation{}
	}
	n.broadcast(events.ChannelList, ops)
}

// BroadcastOperation sends one operation.
func (n *Notifier) BroadcastOperation(op *domain.Operation) {
	n.broadcast(events.ChannelOpUpdate, op)
}

// BroadcastStatus merges patch into the live status and sends all of it.
func (n *Notifier) BroadcastStatus(patch StatusPatch) {
	if patch.ConnectedClients != nil {
		n.status.ConnectedClients = *patch.ConnectedClients
	}
	if patch.IsRunning != nil {
		n.status.IsRunning = *patch.IsRunning
	}
	if patch.QueueFull != nil {
		n.status.QueueFull = *patch.QueueFull
	}
	n.broadcast(events.ChannelStatus, n.status)
}

// Status returns a copy of the live status.
func (n *Notifier) Status() domain.ServerStatus {
	return n.status
}

func (n *Notifier) broadcast(channel events.Channel, payload interface{}) {
	if n.out == nil {
		return
	}
	n.out.Broadcast(channel, payload)
}

// Bool returns a pointer to v, for building patches.
func Bool(v bool) *bool { return &v }
