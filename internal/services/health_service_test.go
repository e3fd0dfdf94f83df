package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// MockPinger is a mock for storage.Pinger
type MockPinger struct {
	mock.Mock
}

func (m *MockPinger) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func TestHealthServiceReadiness(t *testing.T) {
	tests := []struct {
		name       string
		pingErr    error
		wantStatus string
	}{
		{"storage reachable", nil, "ready"},
		{"storage down", errors.New("connection refused"), "not_ready"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pinger := new(MockPinger)
			pinger.On("Ping", mock.Anything).Return(tt.pingErr)

			hs := NewHealthService("1.0.0", pinger, time.Second, discardLogger())
			status := hs.ReadinessCheck(context.Background())

			assert.Equal(t, tt.wantStatus, status.Status)
			assert.Equal(t, tt.wantStatus, status.Services["storage"].Status)
			assert.Equal(t, tt.pingErr == nil, hs.Ready(context.Background()))
			pinger.AssertExpectations(t)
		})
	}
}

func TestHealthServiceWithoutStore(t *testing.T) {
	hs := NewHealthService("1.0.0", nil, 0, discardLogger())
	assert.False(t, hs.Ready(context.Background()))
}

func TestHealthServiceLiveness(t *testing.T) {
	hs := NewHealthService("1.0.0", new(MockPinger), time.Second, discardLogger())
	status := hs.LivenessCheck(context.Background())

	assert.Equal(t, "alive", status.Status)
	assert.Equal(t, "1.0.0", status.Version)
	assert.Contains(t, status.Runtime, "goroutines")
}
