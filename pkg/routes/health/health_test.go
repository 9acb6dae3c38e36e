package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, c *Checker, path string) (*httptest.ResponseRecorder, HealthStatus) {
	t.Helper()
	e := echo.New()
	c.RegisterRoutes(e)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var status HealthStatus
	if path == "/api/v1/health" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	}
	return rec, status
}

func TestChecker_Health(t *testing.T) {
	ok := PingFunc(func(context.Context) error { return nil })
	down := PingFunc(func(context.Context) error { return errors.New("connection refused") })

	tests := []struct {
		name     string
		checks   map[string]Pinger
		code     int
		expected string
	}{
		{"no checks", nil, http.StatusOK, "healthy"},
		{"all healthy", map[string]Pinger{"database": ok, "redis": ok}, http.StatusOK, "healthy"},
		{"one down", map[string]Pinger{"database": ok, "graph": down}, http.StatusServiceUnavailable, "unhealthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker("test")
			for name, p := range tt.checks {
				c.AddCheck(name, p)
			}
			rec, status := serve(t, c, "/api/v1/health")
			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, tt.expected, status.Status)
			assert.Len(t, status.Checks, len(tt.checks))
		})
	}

	c := NewChecker("test").AddCheck("graph", down)
	_, status := serve(t, c, "/api/v1/health")
	assert.Equal(t, "connection refused", status.Checks["graph"].Message)
}

func TestChecker_Ready(t *testing.T) {
	c := NewChecker("test")
	rec, _ := serve(t, c, "/api/v1/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	c.SetReady(true)
	rec, _ = serve(t, c, "/api/v1/health/ready")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = serve(t, c, "/api/v1/health/live")
	assert.Equal(t, http.StatusOK, rec.Code)
}
