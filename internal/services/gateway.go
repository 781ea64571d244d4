package services

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"

	"stardust/internal/config"
	"stardust/internal/infrastructure"
	"stardust/internal/operations"
	ws "stardust/internal/websocket"
	apiv1 "stardust/pkg/contracts/api/v1"
	"stardust/pkg/contracts/domain"
	"stardust/pkg/contracts/events"
)

// OperationsManager is the part of operations.Manager the services use.
type OperationsManager interface {
	Submit(ctx context.Context, req domain.Request, submitterID string) (*domain.Operation, error)
	Delete(ctx context.Context, uid string) error
	ExecuteAdmin(ctx context.Context, name, submitterID string) error
	Find(uid string) (*domain.Operation, bool)
	List() []*domain.Operation
	Status() domain.ServerStatus
	ClientConnected(conn operations.Conn)
	ClientDisconnected()
}

// Peer is a connected websocket client as seen by the gateway.
type Peer interface {
	ID() string
	RemoteAddr() string
	Send(channel events.Channel, payload interface{}) error
}

// Gateway binds websocket clients to the operations manager.
type Gateway struct {
	manager  OperationsManager
	adminIP  string
	defaults config.QueueConfig
	logger   *slog.Logger
}

// NewGateway creates a gateway. adminIPv4 is compared against each peer's
// address; config.AdminUnset admits nobody.
func NewGateway(manager OperationsManager, adminIPv4 string, defaults config.QueueConfig, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		manager:  manager,
		adminIP:  adminIPv4,
		defaults: defaults,
		logger:   logger.With(slog.String("component", "gateway")),
	}
}

// Connect installs the inbound handlers on c and announces it. It is
// meant to be the hub's connect handler.
func (g *Gateway) Connect(c *ws.Client) {
	c.OnMessage(events.ChannelSubmit, func(c *ws.Client, data json.RawMessage) {
		g.Submit(frameContext(), c, data)
	})
	c.OnMessage(events.ChannelDelete, func(c *ws.Client, data json.RawMessage) {
		g.Delete(frameContext(), c, data)
	})
	c.OnMessage(events.ChannelAdmin, func(c *ws.Client, data json.RawMessage) {
		g.Admin(frameContext(), c, data)
	})
	g.manager.ClientConnected(c)
}

// Disconnect is meant to be the hub's disconnect handler.
func (g *Gateway) Disconnect(*ws.Client) {
	g.manager.ClientDisconnected()
}

// Submit handles a submit frame.
func (g *Gateway) Submit(ctx context.Context, peer Peer, data json.RawMessage) {
	var wire apiv1.SubmitRequest
	if err := json.Unmarshal(data, &wire); err != nil {
		g.logger.WarnContext(ctx, "submit payload undecodable",
			slog.String("client_id", peer.ID()),
			slog.String("error", err.Error()))
		g.notify(ctx, peer, events.NoticeBadRequest)
		return
	}
	req, err := wire.ToDomain(g.defaults.DefaultMaxResults, g.defaults.DefaultLimitStarsPerUser)
	if err != nil {
		g.logger.WarnContext(ctx, "submit payload incomplete",
			slog.String("client_id", peer.ID()),
			slog.String("error", err.Error()))
		g.notify(ctx, peer, events.NoticeBadRequest)
		return
	}

	if _, err := g.manager.Submit(ctx, req, peer.ID()); err != nil {
		switch {
		case errors.Is(err, operations.ErrQueueSaturated):
			g.notify(ctx, peer, events.NoticeQueueFull)
		default:
			g.notify(ctx, peer, events.NoticeBadRequest)
		}
	}
}

// Delete handles a delete frame. Only the admin may delete.
func (g *Gateway) Delete(ctx context.Context, peer Peer, data json.RawMessage) {
	if !g.IsAdmin(peer) {
		g.logger.WarnContext(ctx, "delete refused", slog.String("remote_addr", peer.RemoteAddr()))
		g.notify(ctx, peer, events.NoticeDeleteDenied)
		return
	}

	var uid string
	if err := json.Unmarshal(data, &uid); err != nil {
		g.notify(ctx, peer, events.NoticeDeleteNotFound)
		return
	}

	err := g.manager.Delete(ctx, uid)
	switch {
	case err == nil:
	case errors.Is(err, operations.ErrNotFound):
		g.notify(ctx, peer, events.NoticeDeleteNotFound)
	case errors.Is(err, operations.ErrInUse):
		g.notify(ctx, peer, events.NoticeDeleteInProgress)
	default:
		g.logger.ErrorContext(ctx, "delete failed", slog.String("uid", uid), slog.String("error", err.Error()))
		g.notify(ctx, peer, events.NoticeDeleteDenied)
	}
}

// Admin handles an admin frame. Only the admin may run admin operations.
func (g *Gateway) Admin(ctx context.Context, peer Peer, data json.RawMessage) {
	if !g.IsAdmin(peer) {
		g.logger.WarnContext(ctx, "admin operation refused", slog.String("remote_addr", peer.RemoteAddr()))
		g.notify(ctx, peer, events.NoticeAdminDenied)
		return
	}

	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		g.notify(ctx, peer, events.NoticeAdminDenied)
		return
	}
	if err := g.manager.ExecuteAdmin(ctx, name, peer.ID()); err != nil {
		g.notify(ctx, peer, events.NoticeAdminDenied)
	}
}

// IsAdmin reports whether peer connects from the admin address.
func (g *Gateway) IsAdmin(peer Peer) bool {
	if g.adminIP == "" || g.adminIP == config.AdminUnset {
		return false
	}
	return normalizeIPv4(peer.RemoteAddr()) == g.adminIP
}

func (g *Gateway) notify(ctx context.Context, peer Peer, notice string) {
	if err := peer.Send(events.ChannelMessage, notice); err != nil {
		g.logger.DebugContext(ctx, "notice not delivered",
			slog.String("client_id", peer.ID()),
			slog.String("error", err.Error()))
	}
}

// frameContext gives every inbound frame its own trace id.
func frameContext() context.Context {
	return infrastructure.WithTraceID(context.Background(), infrastructure.GenerateTraceID())
}

// normalizeIPv4 turns IPv4-mapped IPv6 addresses into dotted quads.
func normalizeIPv4(addr string) string {
	ip := net.ParseIP(addr)
	if ip == nil {
		return addr
	}
	if v4 := ip.To4(); v4 != nil {
		return v4.String()
	}
	return ip.String()
}
