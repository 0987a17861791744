package wsrelay

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/privacyrpc/gateway/internal/jsonrpc"
	"github.com/privacyrpc/gateway/internal/metrics"
	"github.com/privacyrpc/gateway/internal/router"
)

var echoUpgrader = websocket.Upgrader{}

func newEchoUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := echoUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(msgType, data); err != nil {
				return
			}
		}
	}))
}

func wssRoutes(t *testing.T, key, httpURL string) *router.Table {
	t.Helper()
	u, err := url.Parse(httpURL)
	require.NoError(t, err)
	u.Scheme = "wss"

	dir := t.TempDir()
	path := filepath.Join(dir, "routes.json")
	contents, err := json.Marshal(map[string]string{key: u.String()})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, contents, 0o644))
	tbl, err := router.Load(path)
	require.NoError(t, err)
	return tbl
}

func dialClient(t *testing.T, server *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	return conn
}

func TestRelayPipesFramesRoundTrip(t *testing.T) {
	upstream := newEchoUpstream(t)
	defer upstream.Close()

	routes := wssRoutes(t, "eth", upstream.URL)
	h := New(routes, Config{FrameSize: 4096, MaxBodyLength: 1 << 20, TLSInsecureSkipVerify: true})
	server := httptest.NewServer(h)
	defer server.Close()

	client := dialClient(t, server, "/eth")
	defer client.Close()

	req := `{"jsonrpc":"2.0","method":"eth_blockNumber","params":[],"id":1}`
	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(req)))

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := client.ReadMessage()
	require.NoError(t, err)
	require.JSONEq(t, req, string(data))
}

func TestRelayTracksWSConnectionsGauge(t *testing.T) {
	upstream := newEchoUpstream(t)
	defer upstream.Close()

	routes := wssRoutes(t, "eth", upstream.URL)
	reg := metrics.New()
	h := New(routes, Config{FrameSize: 4096, MaxBodyLength: 1 << 20, TLSInsecureSkipVerify: true})
	h.Metrics = reg
	server := httptest.NewServer(h)
	defer server.Close()

	client := dialClient(t, server, "/eth")

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(reg.WSConnections.WithLabelValues("relay")) == 1
	}, time.Second, 10*time.Millisecond)

	client.Close()

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(reg.WSConnections.WithLabelValues("relay")) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestRelayRejectsMissingPath(t *testing.T) {
	routes := wssRoutes(t, "eth", "http://127.0.0.1:0")
	h := New(routes, Config{})
	server := httptest.NewServer(h)
	defer server.Close()

	resp, err := http.Get(server.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out jsonrpc.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.False(t, out.Ok())
	require.Contains(t, out.Error.Message, "No path specified")
}

func TestRelayRejectsUnknownPath(t *testing.T) {
	routes := wssRoutes(t, "eth", "http://127.0.0.1:0")
	h := New(routes, Config{})
	server := httptest.NewServer(h)
	defer server.Close()

	resp, err := http.Get(server.URL + "/nope")
	require.NoError(t, err)
	defer resp.Body.Close()

	var out jsonrpc.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.False(t, out.Ok())
	require.Contains(t, out.Error.Message, "Unknown path")
}

func TestRelayClosesOnOversizedBody(t *testing.T) {
	upstream := newEchoUpstream(t)
	defer upstream.Close()

	routes := wssRoutes(t, "eth", upstream.URL)
	h := New(routes, Config{FrameSize: 4096, MaxBodyLength: 4, TLSInsecureSkipVerify: true})
	server := httptest.NewServer(h)
	defer server.Close()

	client := dialClient(t, server, "/eth")
	defer client.Close()

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(`{"jsonrpc":"2.0"}`)))

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := client.ReadMessage()
	require.NoError(t, err)

	var out jsonrpc.Response
	require.NoError(t, json.Unmarshal(data, &out))
	require.False(t, out.Ok())
	require.Contains(t, out.Error.Message, "too large")

	_, _, err = client.ReadMessage()
	require.Error(t, err)
}

func TestRelayClosesOnParseError(t *testing.T) {
	upstream := newEchoUpstream(t)
	defer upstream.Close()

	routes := wssRoutes(t, "eth", upstream.URL)
	h := New(routes, Config{FrameSize: 4096, MaxBodyLength: 1 << 20, TLSInsecureSkipVerify: true})
	server := httptest.NewServer(h)
	defer server.Close()

	client := dialClient(t, server, "/eth")
	defer client.Close()

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte("not json")))

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := client.ReadMessage()
	require.NoError(t, err)

	var out jsonrpc.Response
	require.NoError(t, json.Unmarshal(data, &out))
	require.False(t, out.Ok())
	require.Contains(t, out.Error.Message, "Parse error")
}

func TestRelayFailsWhenUpstreamUnreachable(t *testing.T) {
	routes := wssRoutes(t, "eth", "http://127.0.0.1:1")
	h := New(routes, Config{FrameSize: 4096})
	server := httptest.NewServer(h)
	defer server.Close()

	client := dialClient(t, server, "/eth")
	defer client.Close()

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := client.ReadMessage()
	require.NoError(t, err)

	var out jsonrpc.Response
	require.NoError(t, json.Unmarshal(data, &out))
	require.False(t, out.Ok())
	require.Contains(t, out.Error.Message, "Failed to connect remote client")
}
