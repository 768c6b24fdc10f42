package telemetry_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xiaoi/internal/application"
	"xiaoi/internal/infra/telemetry"
)

var _ application.OperationObserver = (*telemetry.Metrics)(nil)

func TestMetrics_ExposesOperations(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m, err := telemetry.New(context.Background(), "test", logger)
	require.NoError(t, err)
	defer m.Shutdown(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m.ObserveOperation(ctx, "tts", 120*time.Millisecond, nil)
	m.ObserveOperation(context.Background(), "tts", 80*time.Millisecond, errors.New("boom"))
	m.ObserveOperation(context.Background(), "set_volume", 10*time.Millisecond, nil)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "xiaoi_operations_total")
	assert.Contains(t, body, `op="tts"`)
	assert.Contains(t, body, `outcome="error"`)
	assert.Contains(t, body, `op="set_volume"`)
	assert.Contains(t, body, "xiaoi_operation_duration_seconds_bucket")
}

func TestMetrics_IndependentInstances(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	a, err := telemetry.New(context.Background(), "test", logger)
	require.NoError(t, err)
	defer a.Shutdown(context.Background())

	b, err := telemetry.New(context.Background(), "test", logger)
	require.NoError(t, err)
	defer b.Shutdown(context.Background())
}
