package infrastructure

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// SystemMetrics reports Go runtime gauges on every collection.
type SystemMetrics struct {
	startTime    time.Time
	registration metric.Registration

	goroutines    metric.Int64ObservableGauge
	heapAlloc     metric.Int64ObservableGauge
	memorySystem  metric.Int64ObservableGauge
	gcCount       metric.Int64ObservableCounter
	cpuCount      metric.Int64ObservableGauge
	processUptime metric.Float64ObservableGauge
}

// NewSystemMetrics registers the runtime gauges with meter. A nil meter
// registers nothing.
func NewSystemMetrics(meter metric.Meter, startTime time.Time) (*SystemMetrics, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter(MeterName)
	}
	sm := &SystemMetrics{startTime: startTime}

	var err error
	if sm.goroutines, err = meter.Int64ObservableGauge("system_goroutines",
		metric.WithDescription("Number of active goroutines")); err != nil {
		return nil, fmt.Errorf("goroutine gauge: %w", err)
	}
	if sm.heapAlloc, err = meter.Int64ObservableGauge("system_memory_allocated_bytes",
		metric.WithDescription("Heap bytes allocated by the Go runtime"),
		metric.WithUnit("By")); err != nil {
		return nil, fmt.Errorf("heap gauge: %w", err)
	}
	if sm.memorySystem, err = meter.Int64ObservableGauge("system_memory_system_bytes",
		metric.WithDescription("Memory obtained from the OS"),
		metric.WithUnit("By")); err != nil {
		return nil, fmt.Errorf("system memory gauge: %w", err)
	}
	if sm.gcCount, err = meter.Int64ObservableCounter("system_gc_count",
		metric.WithDescription("Completed garbage collections")); err != nil {
		return nil, fmt.Errorf("gc counter: %w", err)
	}
	if sm.cpuCount, err = meter.Int64ObservableGauge("system_cpu_count",
		metric.WithDescription("Number of logical CPUs")); err != nil {
		return nil, fmt.Errorf("cpu gauge: %w", err)
	}
	if sm.processUptime, err = meter.Float64ObservableGauge("system_process_uptime_seconds",
		metric.WithDescription("Process uptime"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("uptime gauge: %w", err)
	}

	sm.registration, err = meter.RegisterCallback(sm.observe,
		sm.goroutines, sm.heapAlloc, sm.memorySystem, sm.gcCount, sm.cpuCount, sm.processUptime)
	if err != nil {
		return nil, fmt.Errorf("register runtime callback: %w", err)
	}
	return sm, nil
}

func (sm *SystemMetrics) observe(_ context.Context, o metric.Observer) error {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	o.ObserveInt64(sm.goroutines, int64(runtime.NumGoroutine()))
	o.ObserveInt64(sm.heapAlloc, int64(mem.HeapAlloc))
	o.ObserveInt64(sm.memorySystem, int64(mem.Sys))
	o.ObserveInt64(sm.gcCount, int64(mem.NumGC))
	o.ObserveInt64(sm.cpuCount, int64(runtime.NumCPU()))
	o.ObserveFloat64(sm.processUptime, time.Since(sm.startTime).Seconds())
	return nil
}

// Stop unregisters the callback.
func (sm *SystemMetrics) Stop() error {
	if sm.registration == nil {
		return nil
	}
	return sm.registration.Unregister()
}
