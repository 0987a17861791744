// Package wsdemo implements the WS demo handler: a subscriber opens a
// "/ws/{token}" connection and receives a push of every sanitizer transform
// applied to HTTP requests carrying that same token, letting a demo client
// watch privacy rewrites happen live. This is the Go rendering of the
// original's DemoWsHandler, with the tick-loop-driven witness_request /
// JsonrpcResponseMgr push replaced by a direct write on the subscriber's own
// connection, guarded by a per-connection write mutex.
package wsdemo

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/privacyrpc/gateway/internal/metrics"
	"github.com/privacyrpc/gateway/internal/router"
	"github.com/privacyrpc/gateway/internal/sanitizer"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type subscriber struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// Handler upgrades subscriber connections and implements forwarder.WitnessHook
// so it can be wired directly as a Forwarder's Witness field in demo mode.
type Handler struct {
	mu      sync.Mutex
	byToken map[string]*subscriber

	Metrics *metrics.Registry
}

func New() *Handler {
	return &Handler{byToken: make(map[string]*subscriber)}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.URL.Path, "/ws/") {
		h.rejectBeforeUpgrade(w, r, "Bad path")
		return
	}
	token, ok := router.ExtractToken(r.URL.Path)
	if !ok {
		h.rejectBeforeUpgrade(w, r, "No token")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("wsdemo: upgrade failed")
		return
	}

	sub := &subscriber{conn: conn}
	h.mu.Lock()
	if _, replaced := h.byToken[token]; replaced {
		log.Warn().Str("token", token).Msg("wsdemo: subscriber replaced")
	}
	h.byToken[token] = sub
	h.mu.Unlock()
	log.Debug().Str("token", token).Msg("wsdemo: subscriber connected")
	if h.Metrics != nil {
		h.Metrics.WSConnections.WithLabelValues("demo").Inc()
	}

	defer func() {
		h.mu.Lock()
		if h.byToken[token] == sub {
			delete(h.byToken, token)
		}
		h.mu.Unlock()
		conn.Close()
		if h.Metrics != nil {
			h.Metrics.WSConnections.WithLabelValues("demo").Dec()
		}
		log.Debug().Str("token", token).Msg("wsdemo: subscriber disconnected")
	}()

	// The demo handler never reads meaningful frames from the subscriber; it
	// only drains the connection to detect close and respond to pings.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// rejectBeforeUpgrade upgrades anyway, per the original's behavior of
// accepting the WS handshake and then closing with a raw error body rather
// than refusing the upgrade outright.
func (h *Handler) rejectBeforeUpgrade(w http.ResponseWriter, r *http.Request, msg string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("wsdemo: upgrade failed")
		return
	}
	conn.WriteMessage(websocket.TextMessage, []byte(msg))
	conn.Close()
}

// OnHTTPRequest implements forwarder.WitnessHook. It looks up the subscriber
// registered for token and pushes the sanitized transform list as a raw JSON
// WS payload; a token with no live subscriber is logged and dropped.
func (h *Handler) OnHTTPRequest(token string, hasToken bool, transforms []sanitizer.Transform) {
	if !hasToken {
		return
	}
	h.mu.Lock()
	sub, ok := h.byToken[token]
	h.mu.Unlock()
	if !ok {
		log.Warn().Str("token", token).Msg("wsdemo: no subscriber for token")
		return
	}

	raw, err := json.Marshal(transforms)
	if err != nil {
		log.Error().Err(err).Str("token", token).Msg("wsdemo: marshal transforms")
		return
	}

	sub.writeMu.Lock()
	err = sub.conn.WriteMessage(websocket.TextMessage, raw)
	sub.writeMu.Unlock()
	if err != nil {
		log.Error().Err(err).Str("token", token).Msg("wsdemo: push to subscriber")
	}
}
