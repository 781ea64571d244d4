package websocket

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const (
	meterName = "stardust.websocket"
)

// OTelMetrics provides OpenTelemetry metrics for WebSocket operations
type OTelMetrics struct {
	connectionsTotal   metric.Int64Counter
	connectionsActive  metric.Int64UpDownCounter
	connectionDuration metric.Float64Histogram

	messagesTotal   metric.Int64Counter
	messageBytes    metric.Int64Counter
	droppedMessages metric.Int64Counter
}

// NewOTelMetrics creates the websocket instruments on meter. A nil meter
// records nothing.
func NewOTelMetrics(meter metric.Meter) (*OTelMetrics, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter(meterName)
	}

	connectionsTotal, err := meter.Int64Counter(
		"websocket_connections_total",
		metric.WithDescription("Total number of WebSocket connections"),
	)
	if err != nil {
		return nil, err
	}

	connectionsActive, err := meter.Int64UpDownCounter(
		"websocket_connections_active",
		metric.WithDescription("Number of active WebSocket connections"),
	)
	if err != nil {
		return nil, err
	}

	connectionDuration, err := meter.Float64Histogram(
		"websocket_connection_duration_seconds",
		metric.WithDescription("Duration of WebSocket connections"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	messagesTotal, err := meter.Int64Counter(
		"websocket_messages_total",
		metric.WithDescription("Total number of WebSocket messages, by direction and channel"),
	)
	if err != nil {
		return nil, err
	}

	messageBytes, err := meter.Int64Counter(
		"websocket_message_bytes_total",
		metric.WithDescription("Total WebSocket payload bytes, by direction"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	droppedMessages, err := meter.Int64Counter(
		"websocket_dropped_messages_total",
		metric.WithDescription("Messages dropped because a buffer was full"),
	)
	if err != nil {
		return nil, err
	}

	return &OTelMetrics{
		connectionsTotal:   connectionsTotal,
		connectionsActive:  connectionsActive,
		connectionDuration: connectionDuration,
		messagesTotal:      messagesTotal,
		messageBytes:       messageBytes,
		droppedMessages:    droppedMessages,
	}, nil
}

// RecordConnection records a new client
func (m *OTelMetrics) RecordConnection(ctx context.Context) {
	m.connectionsTotal.Add(ctx, 1)
	m.connectionsActive.Add(ctx, 1)
}

// RecordDisconnection records a client leaving after duration
func (m *OTelMetrics) RecordDisconnection(ctx context.Context, duration time.Duration, reason string) {
	m.connectionsActive.Add(ctx, -1)
	m.connectionDuration.Record(ctx, duration.Seconds(),
		metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordMessage records one frame in direction "in" or "out"
func (m *OTelMetrics) RecordMessage(ctx context.Context, direction, channel string, size int) {
	m.messagesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("direction", direction),
		attribute.String("channel", channel)))
	m.messageBytes.Add(ctx, int64(size), metric.WithAttributes(
		attribute.String("direction", direction)))
}

// RecordDropped records a message that could not be queued
func (m *OTelMetrics) RecordDropped(ctx context.Context, where string) {
	m.droppedMessages.Add(ctx, 1, metric.WithAttributes(attribute.String("buffer", where)))
}
