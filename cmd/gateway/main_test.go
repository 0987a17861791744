package main

import (
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestHealthHandler(t *testing.T) {
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	healthHandler(w, req)

	resp := w.Result()
	require.Equal(t, 200, resp.StatusCode)
}

func TestIsWebsocketUpgrade(t *testing.T) {
	cases := []struct {
		name       string
		upgrade    string
		connection string
		want       bool
	}{
		{"standard headers", "websocket", "Upgrade", true},
		{"case insensitive", "WebSocket", "keep-alive, Upgrade", true},
		{"missing upgrade header", "", "Upgrade", false},
		{"missing connection header", "websocket", "keep-alive", false},
		{"plain http", "", "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/eth", nil)
			if tc.upgrade != "" {
				req.Header.Set("Upgrade", tc.upgrade)
			}
			if tc.connection != "" {
				req.Header.Set("Connection", tc.connection)
			}
			require.Equal(t, tc.want, isWebsocketUpgrade(req))
		})
	}
}

func TestConfigureLoggingDefaultsOnInvalidLevel(t *testing.T) {
	configureLogging("not-a-level")
	require.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}

func TestConfigureLoggingParsesValidLevel(t *testing.T) {
	configureLogging("warn")
	require.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())

	// restore default so this test doesn't leak the global level into the
	// other tests of this package.
	configureLogging("info")
}
