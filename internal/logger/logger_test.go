package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"Warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, parseLevel(tt.input), tt.input)
	}
}

func TestContextLogger(t *testing.T) {
	custom := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	ctx := WithContext(context.Background(), custom)

	assert.Same(t, custom, FromContext(ctx))
	assert.Same(t, L, FromContext(context.Background()))
}

func TestMiddlewareLogsRequest(t *testing.T) {
	var buf bytes.Buffer
	base := New(&buf, "info", "json")

	var inner *slog.Logger
	h := middleware.RequestID(Middleware(base)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inner = FromContext(r.Context())
		w.WriteHeader(http.StatusTeapot)
	})))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.NotNil(t, inner)
	assert.NotSame(t, L, inner)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "request", line["msg"])
	assert.Equal(t, "/health", line["path"])
	assert.Equal(t, float64(http.StatusTeapot), line["status"])
	assert.NotEmpty(t, line["request_id"])
}
