package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoChecksIsHealthy(t *testing.T) {
	h := New()

	status, err := h.CheckReadiness(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Healthy)
	assert.Empty(t, status.Checks)
}

func TestPassingCheck(t *testing.T) {
	h := New()
	h.AddReadinessCheck(NewCheckFunc("db", func(ctx context.Context) error {
		return nil
	}))

	status, err := h.CheckReadiness(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Healthy)
	require.Len(t, status.Checks, 1)
	assert.Equal(t, "db", status.Checks[0].Name)
	assert.True(t, status.Checks[0].Healthy)
}

func TestFailureThreshold(t *testing.T) {
	h := New(WithFailureThreshold(3))
	h.AddReadinessCheck(NewCheckFunc("db", func(ctx context.Context) error {
		return errors.New("connection refused")
	}))

	// First two failures stay below the threshold
	for i := 0; i < 2; i++ {
		status, err := h.CheckReadiness(context.Background())
		require.NoError(t, err)
		assert.True(t, status.Healthy)
	}

	// Third consecutive failure crosses the threshold
	status, err := h.CheckReadiness(context.Background())
	require.Error(t, err)
	assert.False(t, status.Healthy)
	assert.Equal(t, "connection refused", status.Checks[0].Error)
}

func TestSuccessResetsFailureCount(t *testing.T) {
	h := New(WithFailureThreshold(2))
	fail := true
	h.AddReadinessCheck(NewCheckFunc("db", func(ctx context.Context) error {
		if fail {
			return errors.New("down")
		}
		return nil
	}))

	_, err := h.CheckReadiness(context.Background())
	require.NoError(t, err)

	fail = false
	_, err = h.CheckReadiness(context.Background())
	require.NoError(t, err)

	// Failure count was reset, so one new failure is below threshold again
	fail = true
	status, err := h.CheckReadiness(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Healthy)
}

func TestCheckTimeout(t *testing.T) {
	h := New(WithTimeout(20*time.Millisecond), WithFailureThreshold(1))
	h.AddReadinessCheck(NewCheckFunc("slow", func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	}))

	status, err := h.CheckReadiness(context.Background())
	require.Error(t, err)
	assert.False(t, status.Healthy)
}

func TestReadinessHandler(t *testing.T) {
	h := New(WithFailureThreshold(1))
	h.AddReadinessCheck(NewCheckFunc("ok", func(ctx context.Context) error { return nil }))
	h.AddReadinessCheck(NewCheckFunc("bad", func(ctx context.Context) error { return errors.New("boom") }))

	rec := httptest.NewRecorder()
	h.ReadinessHandler()(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "unhealthy", resp.Status)
	assert.Equal(t, "ok", resp.Checks["ok"].Status)
	assert.Equal(t, "error", resp.Checks["bad"].Status)
	assert.Equal(t, "boom", resp.Checks["bad"].Error)
}

func TestLivenessHandlerHealthy(t *testing.T) {
	h := New()
	h.AddLivenessCheck(NewCheckFunc("alive", func(ctx context.Context) error { return nil }))

	rec := httptest.NewRecorder()
	h.LivenessHandler()(rec, httptest.NewRequest(http.MethodGet, "/live", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}
