// Package wsrelay implements the WebSocket relay handler: each client
// connection gets its own upstream WebSocket dial, and frames are piped
// bidirectionally between the two with no inspection beyond a body-size and
// syntactic JSON-RPC check on the client->upstream direction. This is the Go
// rendering of the original's RelayWsHandler, replacing its tick_ws_reqs /
// tick_ws_recv_remote sub-ticks with a goroutine pair per connection.
package wsrelay

import (
	"crypto/tls"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/privacyrpc/gateway/internal/jsonrpc"
	"github.com/privacyrpc/gateway/internal/metrics"
	"github.com/privacyrpc/gateway/internal/router"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Config holds the WS relay's frame-size, keep-alive and body-length limits,
// sourced from the tuning file (config.Tuning).
type Config struct {
	FrameSize     int
	KeepAlive     time.Duration
	MaxBodyLength int

	// TLSInsecureSkipVerify disables upstream certificate verification.
	// Off by default; only meant for tests against a self-signed httptest
	// TLS server, never for production routes.
	TLSInsecureSkipVerify bool
}

// Handler upgrades incoming client connections and relays frames to the
// route's upstream WebSocket endpoint. Safe for concurrent use by net/http.
type Handler struct {
	Routes  *router.Table
	Cfg     Config
	Metrics *metrics.Registry
}

func New(routes *router.Table, cfg Config) *Handler {
	return &Handler{Routes: routes, Cfg: cfg}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key, ok := router.ExtractRPCPath(r.URL.Path)
	if !ok {
		writeUpgradeError(w, "No path specified")
		return
	}
	upstreamURI, ok := h.Routes.WSUpstream(key)
	if !ok {
		writeUpgradeError(w, "Unknown path")
		return
	}

	clientConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Str("route", key).Msg("wsrelay: upgrade failed")
		return
	}

	dialer := &websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   h.Cfg.FrameSize,
		WriteBufferSize:  h.Cfg.FrameSize,
	}
	if h.Cfg.TLSInsecureSkipVerify {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	upstreamConn, _, err := dialer.Dial(upstreamURI.String(), nil)
	if err != nil {
		log.Error().Err(err).Str("route", key).Msg("wsrelay: connect to remote client failed")
		closeWithError(clientConn, "Failed to connect remote client")
		return
	}

	log.Debug().Str("route", key).Msg("wsrelay: connection opened")
	if h.Metrics != nil {
		h.Metrics.WSConnections.WithLabelValues("relay").Inc()
		defer h.Metrics.WSConnections.WithLabelValues("relay").Dec()
	}
	pipeFrames(key, clientConn, upstreamConn, h.Cfg)
	log.Debug().Str("route", key).Msg("wsrelay: connection closed")
}

// pipeFrames runs the client->upstream and upstream->client goroutines and
// blocks until both have exited. Each socket gets its own writer mutex since
// gorilla/websocket forbids concurrent writers to the same connection.
func pipeFrames(route string, client, upstream *websocket.Conn, cfg Config) {
	var upstreamWriteMu sync.Mutex
	var clientWriteMu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(2)

	done := make(chan struct{})
	defer close(done)
	if cfg.KeepAlive > 0 {
		go pingUpstream(upstream, &upstreamWriteMu, cfg.KeepAlive, done)
	}

	go func() {
		defer wg.Done()
		defer upstream.Close()
		for {
			msgType, data, err := client.ReadMessage()
			if err != nil {
				return
			}
			if cfg.MaxBodyLength > 0 && len(data) > cfg.MaxBodyLength {
				writeCloseError(client, &clientWriteMu, "JSON RPC Request is too large")
				return
			}
			if _, err := jsonrpc.ParseBatchable[jsonrpc.Request](data); err != nil {
				writeCloseError(client, &clientWriteMu, "Parse error")
				return
			}
			upstreamWriteMu.Lock()
			err = upstream.WriteMessage(msgType, data)
			upstreamWriteMu.Unlock()
			if err != nil {
				log.Error().Err(err).Str("route", route).Msg("wsrelay: upstream write error")
				return
			}
		}
	}()

	go func() {
		defer wg.Done()
		defer client.Close()
		for {
			msgType, data, err := upstream.ReadMessage()
			if err != nil {
				return
			}
			clientWriteMu.Lock()
			err = client.WriteMessage(msgType, data)
			clientWriteMu.Unlock()
			if err != nil {
				log.Error().Err(err).Str("route", route).Msg("wsrelay: client write error")
				return
			}
		}
	}()

	wg.Wait()
}

// pingUpstream sends periodic ping frames to keep an otherwise-idle upstream
// connection alive, the Go analogue of WsStreamConfig.keep_alive.
func pingUpstream(conn *websocket.Conn, mu *sync.Mutex, interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			mu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func writeCloseError(conn *websocket.Conn, mu *sync.Mutex, msg string) {
	resp := jsonrpc.Single(jsonrpc.NewErrorResponse(jsonrpc.NewError(jsonrpc.CodeInvalidRequest, msg), nil))
	out, err := resp.MarshalJSON()
	if err != nil {
		conn.Close()
		return
	}
	mu.Lock()
	conn.WriteMessage(websocket.TextMessage, out)
	mu.Unlock()
	conn.Close()
}

func closeWithError(conn *websocket.Conn, msg string) {
	resp := jsonrpc.Single(jsonrpc.NewErrorResponse(jsonrpc.NewError(jsonrpc.CodeInvalidRequest, msg), nil))
	out, err := resp.MarshalJSON()
	if err == nil {
		conn.WriteMessage(websocket.TextMessage, out)
	}
	conn.Close()
}

// writeUpgradeError responds with a JSON-RPC error over plain HTTP, since the
// upgrade has not happened yet and there is no WS connection to close.
func writeUpgradeError(w http.ResponseWriter, msg string) {
	resp := jsonrpc.Single(jsonrpc.NewErrorResponse(jsonrpc.NewError(jsonrpc.CodeInvalidRequest, msg), nil))
	out, err := resp.MarshalJSON()
	if err != nil {
		http.Error(w, msg, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(out)
}
