package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"stardust/internal/kv"
	"stardust/internal/shared/testutil"
	"stardust/pkg/contracts"
	"stardust/pkg/contracts/domain"
)

type MockPinger struct {
	mock.Mock
}

func (m *MockPinger) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func TestHealthServiceReadiness(t *testing.T) {
	ctx := context.Background()
	logger, _ := testutil.NewTestLogger(t)

	t.Run("ready", func(t *testing.T) {
		manager := new(MockOperationsManager)
		hs := NewHealthService(kv.NewMemoryBackend(), manager, logger)

		status := hs.ReadinessCheck(ctx)
		assert.Equal(t, "ready", status.Status)
		assert.Equal(t, contracts.Version, status.Version)
		assert.Equal(t, "ready", status.Services["store"].Status)
		assert.Equal(t, "ready", status.Services["operations"].Status)
	})

	t.Run("store unreachable", func(t *testing.T) {
		pinger := new(MockPinger)
		pinger.On("Ping", mock.Anything).Return(errors.New("connection refused"))
		hs := NewHealthService(pinger, new(MockOperationsManager), logger)

		status := hs.ReadinessCheck(ctx)
		assert.Equal(t, "not_ready", status.Status)
		assert.Contains(t, status.Services["store"].Message, "connection refused")
		pinger.AssertExpectations(t)
	})

	t.Run("no operations manager", func(t *testing.T) {
		hs := NewHealthService(nil, nil, logger)

		status := hs.ReadinessCheck(ctx)
		assert.Equal(t, "not_ready", status.Status)
		assert.Equal(t, "ready", status.Services["store"].Status)
	})
}

func TestHealthServiceStats(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	manager := new(MockOperationsManager)
	manager.On("Status").Return(domain.ServerStatus{ConnectedClients: 3, IsRunning: true})
	manager.On("List").Return([]*domain.Operation{
		{UID: "a", Progress: domain.Progress{State: domain.StateRunning}},
		{UID: "b", Progress: domain.Progress{State: domain.StateQueued}},
		{UID: "c", Progress: domain.Progress{State: domain.StateDone}},
	})
	hs := NewHealthService(nil, manager, logger)

	stats := hs.SystemStats(context.Background())
	assert.Equal(t, 3, stats.WebSocketClients)
	assert.Equal(t, 3, stats.Operations)
	assert.Equal(t, 2, stats.ActiveOperations)
	assert.True(t, stats.IsRunning)
	assert.False(t, stats.QueueFull)
	assert.Positive(t, stats.Goroutines)
}

func TestHealthServiceLivenessAndVersion(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	hs := NewHealthService(nil, nil, logger)

	assert.Equal(t, "ok", hs.HealthCheck(context.Background()).Status)

	live := hs.LivenessCheck(context.Background())
	assert.Equal(t, "alive", live.Status)
	assert.Contains(t, live.Runtime, "goroutines")

	info := hs.Version()
	assert.Equal(t, contracts.Version, info.Version)
	assert.Equal(t, contracts.APIVersion, info.APIVersion)
}
