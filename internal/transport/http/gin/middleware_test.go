package httpgin

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggingMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	r := gin.New()
	r.Use(RequestIDMiddleware(), LoggingMiddleware(logger, "/healthz"))
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/bookings/:id", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Zero(t, buf.Len())

	req := httptest.NewRequest(http.MethodGet, "/bookings/b1?x=1", nil)
	req.Header.Set("X-Request-ID", "req-1")
	r.ServeHTTP(httptest.NewRecorder(), req)

	var line struct {
		Level string `json:"level"`
		HTTP  struct {
			Status    int    `json:"status"`
			Route     string `json:"route"`
			Path      string `json:"path"`
			Query     string `json:"query"`
			RequestID string `json:"request_id"`
		} `json:"http"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "WARN", line.Level)
	assert.Equal(t, http.StatusNotFound, line.HTTP.Status)
	assert.Equal(t, "/bookings/:id", line.HTTP.Route)
	assert.Equal(t, "/bookings/b1", line.HTTP.Path)
	assert.Equal(t, "x=1", line.HTTP.Query)
	assert.Equal(t, "req-1", line.HTTP.RequestID)
}
