package wsdemo

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/privacyrpc/gateway/internal/metrics"
	"github.com/privacyrpc/gateway/internal/sanitizer"
)

func dialDemo(t *testing.T, server *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	return conn
}

func TestSubscriberReceivesWitnessedTransforms(t *testing.T) {
	h := New()
	server := httptest.NewServer(h)
	defer server.Close()

	conn := dialDemo(t, server, "/ws/tok123")
	defer conn.Close()

	// Give the handler's goroutine a moment to register the subscriber.
	time.Sleep(20 * time.Millisecond)

	transforms := []sanitizer.Transform{
		sanitizer.NewMetadataTransform(sanitizer.MetadataTransform{
			Protected:   sanitizer.Metadata{IP: "0.0.0.0", UA: "gateway", Time: "2026-01-01T00:00:00Z"},
			Unprotected: sanitizer.Metadata{IP: "1.2.3.4", UA: "curl", Time: "2026-01-01T00:00:00Z"},
		}),
	}
	h.OnHTTPRequest("tok123", true, transforms)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Contains(t, string(data), "metadata")
	require.Contains(t, string(data), "curl")
}

func TestOnHTTPRequestIgnoresMissingToken(t *testing.T) {
	h := New()
	h.OnHTTPRequest("", false, nil)
}

func TestOnHTTPRequestIgnoresUnknownToken(t *testing.T) {
	h := New()
	h.OnHTTPRequest("nobody-subscribed", true, []sanitizer.Transform{
		sanitizer.NewMetadataTransform(sanitizer.MetadataTransform{}),
	})
}

func TestSecondConnectionReplacesSubscriberForToken(t *testing.T) {
	h := New()
	server := httptest.NewServer(h)
	defer server.Close()

	first := dialDemo(t, server, "/ws/shared")
	defer first.Close()
	time.Sleep(20 * time.Millisecond)

	second := dialDemo(t, server, "/ws/shared")
	defer second.Close()
	time.Sleep(20 * time.Millisecond)

	h.mu.Lock()
	sub, ok := h.byToken["shared"]
	h.mu.Unlock()
	require.True(t, ok)
	require.NotNil(t, sub)

	// Pushes for the shared token now go to the second connection.
	h.OnHTTPRequest("shared", true, []sanitizer.Transform{
		sanitizer.NewMetadataTransform(sanitizer.MetadataTransform{}),
	})
	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := second.ReadMessage()
	require.NoError(t, err)
	require.Contains(t, string(data), "metadata")
}

func TestRejectsMissingToken(t *testing.T) {
	h := New()
	server := httptest.NewServer(h)
	defer server.Close()

	conn := dialDemo(t, server, "/ws/")
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, "No token", string(data))

	_, _, err = conn.ReadMessage()
	require.Error(t, err)
}

func TestRejectsBadPathPrefix(t *testing.T) {
	h := New()
	server := httptest.NewServer(h)
	defer server.Close()

	conn := dialDemo(t, server, "/notws/tok")
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, "Bad path", string(data))
}

func TestSubscriberRemovedOnDisconnect(t *testing.T) {
	h := New()
	server := httptest.NewServer(h)
	defer server.Close()

	conn := dialDemo(t, server, "/ws/gone")
	time.Sleep(20 * time.Millisecond)

	h.mu.Lock()
	_, ok := h.byToken["gone"]
	h.mu.Unlock()
	require.True(t, ok)

	conn.Close()
	time.Sleep(50 * time.Millisecond)

	h.mu.Lock()
	_, ok = h.byToken["gone"]
	h.mu.Unlock()
	require.False(t, ok)
}

func TestTracksWSConnectionsGauge(t *testing.T) {
	h := New()
	reg := metrics.New()
	h.Metrics = reg
	server := httptest.NewServer(h)
	defer server.Close()

	conn := dialDemo(t, server, "/ws/tok")

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(reg.WSConnections.WithLabelValues("demo")) == 1
	}, time.Second, 10*time.Millisecond)

	conn.Close()

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(reg.WSConnections.WithLabelValues("demo")) == 0
	}, time.Second, 10*time.Millisecond)
}
