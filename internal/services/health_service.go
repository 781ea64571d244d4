package services

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"stardust/pkg/contracts"
	"stardust/pkg/contracts/domain"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StatusSource exposes the scheduler state reported by the health endpoints.
type StatusSource interface {
	Status() domain.ServerStatus
	List() []*domain.Operation
}

// HealthService provides health check functionality
type HealthService struct {
	store     Pinger
	ops       StatusSource
	startTime time.Time
	logger    *slog.Logger
}

// HealthStatus represents the health status response
type HealthStatus struct {
	Status    string                   `json:"status"`
	Timestamp time.Time                `json:"timestamp"`
	Version   string                   `json:"version"`
	Runtime   map[string]interface{}   `json:"runtime,omitempty"`
	Services  map[string]ServiceHealth `json:"services,omitempty"`
}

// ServiceHealth represents individual service health
type ServiceHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Uptime  string `json:"uptime,omitempty"`
}

// SystemStats summarizes the scheduler and runtime.
type SystemStats struct {
	UptimeSeconds    float64 `json:"uptime_seconds"`
	WebSocketClients int     `json:"websocket_clients"`
	Operations       int     `json:"operations"`
	ActiveOperations int     `json:"active_operations"`
	IsRunning        bool    `json:"is_running"`
	QueueFull        bool    `json:"queue_full"`
	Goroutines       int     `json:"goroutines"`
	GoVersion        string  `json:"go_version"`
}

// NewHealthService creates a health service. store may be nil, in which
// case readiness does not check storage.
func NewHealthService(store Pinger, ops StatusSource, logger *slog.Logger) *HealthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthService{
		store:     store,
		ops:       ops,
		startTime: time.Now(),
		logger:    logger.With(slog.String("service", "health")),
	}
}

// HealthCheck returns overall health status
func (hs *HealthService) HealthCheck(ctx context.Context) HealthStatus {
	hs.logger.DebugContext(ctx, "health check",
		slog.String("uptime", time.Since(hs.startTime).String()))

	return HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		Version:   contracts.Version,
	}
}

// ReadinessCheck returns readiness status
func (hs *HealthService) ReadinessCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:    "ready",
		Timestamp: time.Now(),
		Version:   contracts.Version,
		Services: map[string]ServiceHealth{
			"store":      hs.checkStoreHealth(ctx),
			"operations": hs.checkOperationsHealth(),
		},
	}

	for name, service := range status.Services {
		if service.Status != "ready" {
			hs.logger.WarnContext(ctx, "dependency not ready",
				slog.String("dependency", name),
				slog.String("message", service.Message))
			status.Status = "not_ready"
		}
	}
	return status
}

// LivenessCheck returns liveness status
func (hs *HealthService) LivenessCheck(ctx context.Context) HealthStatus {
	return HealthStatus{
		Status:    "alive",
		Timestamp: time.Now(),
		Version:   contracts.Version,
		Runtime: map[string]interface{}{
			"uptime":     time.Since(hs.startTime).Seconds(),
			"go_version": runtime.Version(),
			"goroutines": runtime.NumGoroutine(),
		},
	}
}

// Version returns version information
func (hs *HealthService) Version() contracts.VersionInfo {
	return contracts.GetVersionInfo()
}

// SystemStats returns scheduler and runtime statistics.
func (hs *HealthService) SystemStats(ctx context.Context) SystemStats {
	stats := SystemStats{
		UptimeSeconds: time.Since(hs.startTime).Seconds(),
		Goroutines:    runtime.NumGoroutine(),
		GoVersion:     runtime.Version(),
	}
	if hs.ops == nil {
		return stats
	}

	status := hs.ops.Status()
	stats.WebSocketClients = status.ConnectedClients
	stats.IsRunning = status.IsRunning
	stats.QueueFull = status.QueueFull
	for _, op := range hs.ops.List() {
		stats.Operations++
		if op.IsActive() {
			stats.ActiveOperations++
		}
	}
	return stats
}

func (hs *HealthService) checkStoreHealth(ctx context.Context) ServiceHealth {
	if hs.store == nil {
		return ServiceHealth{Status: "ready", Message: "no store configured"}
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := hs.store.Ping(ctx); err != nil {
		return ServiceHealth{
			Status:  "not_ready",
			Message: fmt.Sprintf("store unreachable: %v", err),
		}
	}
	return ServiceHealth{Status: "ready", Message: "store is reachable"}
}

func (hs *HealthService) checkOperationsHealth() ServiceHealth {
	if hs.ops == nil {
		return ServiceHealth{
			Status:  "not_ready",
			Message: "operations manager not initialized",
		}
	}
	return ServiceHealth{
		Status:  "ready",
		Message: "operations manager is running",
		Uptime:  time.Since(hs.startTime).String(),
	}
}
