package httptransport

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/require"
)

func TestRequestLoggerRecordsStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := log.NewWithOptions(&buf, log.Options{Level: log.InfoLevel})

	handler := RequestLogger(logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/day?date=2024-01-01", nil))

	require.Equal(t, http.StatusTeapot, rr.Code)
	require.Contains(t, buf.String(), "path=/day")
	require.Contains(t, buf.String(), "status=418")
}

func TestNewServerAppliesConfig(t *testing.T) {
	cfg := DefaultServerConfig(":3333")
	server := NewServer(cfg, http.NotFoundHandler())
	require.Equal(t, ":3333", server.Addr)
	require.Equal(t, cfg.ReadTimeout, server.ReadTimeout)
	require.Equal(t, cfg.IdleTimeout, server.IdleTimeout)
}

func TestCORSAnswersPreflight(t *testing.T) {
	called := false
	handler := CORS([]string{"https://app.example"}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodOptions, "/habits/create", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "https://app.example", rr.Header().Get("Access-Control-Allow-Origin"))
	require.False(t, called)
}
