package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthChecker(t *testing.T) {
	hc := NewHealthChecker("test", 0)
	hc.RegisterCheck("venues", VenueHealthCheck(func() (int, int) { return 3, 2 }))
	hc.RegisterCheck("breaker", BreakerHealthCheck(func() string { return "closed" }))

	health := hc.CheckHealth(context.Background())
	assert.Equal(t, HealthStatusDegraded, health.Status)
	require.Len(t, health.Components, 2)
	assert.Equal(t, "breaker", health.Components[0].Name)
	assert.Equal(t, "venues", health.Components[1].Name)
	assert.Equal(t, "2/3 venues online", health.Components[1].Message)

	hc.RegisterCheck("breaker", BreakerHealthCheck(func() string { return "open" }))
	health = hc.CheckHealth(context.Background())
	assert.Equal(t, HealthStatusUnhealthy, health.Status)
}

func TestHealthHTTPHandler(t *testing.T) {
	hc := NewHealthChecker("test", time.Minute)
	hc.RegisterCheck("venues", VenueHealthCheck(func() (int, int) { return 1, 0 }))
	hc.RegisterCheck("redis", PingHealthCheck(func(context.Context) error { return errors.New("refused") }))

	rec := httptest.NewRecorder()
	hc.HTTPHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body SystemHealth
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, HealthStatusUnhealthy, body.Status)
	assert.Equal(t, HealthStatusDegraded, body.Components[0].Status)
	assert.Equal(t, "refused", body.Components[0].Message)
}

func TestNewLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sor.log")
	logger, err := NewLogger(LogConfig{Level: "debug", File: path})
	require.NoError(t, err)

	Component(logger, "router").WithField("venue", "NYSE").Debug("routed")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &line))
	assert.Equal(t, "routed", line["message"])
	assert.Equal(t, "router", line["component"])
	assert.Equal(t, "debug", line["level"])

	_, err = NewLogger(LogConfig{Level: "loud"})
	assert.Error(t, err)
	_, err = NewLogger(LogConfig{Format: "xml"})
	assert.Error(t, err)
}

func TestMetrics(t *testing.T) {
	m := NewMetrics()
	m.OrderSubmitted("smart")
	m.OrderSubmitted("smart")
	m.OrderRejected("")
	m.Execution("NYSE", 3, 20*time.Millisecond)
	m.Quality(88, 90)
	m.BreakerOpen(true)
	m.VenuesOnline(4)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ordersSubmitted.WithLabelValues("smart")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ordersRejected.WithLabelValues("unknown")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.executions.WithLabelValues("NYSE")))
	assert.Equal(t, 90.0, testutil.ToFloat64(m.qualityAverage))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.breakerOpen))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.venuesOnline))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.True(t, strings.Contains(rec.Body.String(), "sor_orders_submitted_total"))

	var nilMetrics *Metrics
	assert.NotPanics(t, func() {
		nilMetrics.OrderSubmitted("smart")
		nilMetrics.Execution("X", 1, time.Millisecond)
		nilMetrics.BreakerOpen(false)
	})
}
