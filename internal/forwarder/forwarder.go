// Package forwarder implements the HTTP request lifecycle of the gateway:
// accept, sanitize, enroll, forward to the upstream pool, rewrite the
// response, and respond — the goroutine-per-request rendering of the
// original's ServerHandler::on_new_http_request / tick_http_* trio.
package forwarder

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/privacyrpc/gateway/internal/jsonrpc"
	"github.com/privacyrpc/gateway/internal/metrics"
	"github.com/privacyrpc/gateway/internal/pool"
	"github.com/privacyrpc/gateway/internal/registry"
	"github.com/privacyrpc/gateway/internal/router"
	"github.com/privacyrpc/gateway/internal/sanitizer"
)

const maxBatchSize = 30

// WitnessHook is invoked after sanitization, before enrollment, mirroring
// the original's on_http_request callback ordering. Consumed by the demo WS
// handler to push sanitizer transforms to a subscribed token.
type WitnessHook interface {
	OnHTTPRequest(token string, hasToken bool, transforms []sanitizer.Transform)
}

type noopWitness struct{}

func (noopWitness) OnHTTPRequest(string, bool, []sanitizer.Transform) {}

// Forwarder is an http.Handler implementing the full request lifecycle.
type Forwarder struct {
	Routes  *router.Table
	Pool    *pool.Pool
	Witness WitnessHook
	Metrics *metrics.Registry

	HTTPMaxBodyLength int
	RequestTimeout    time.Duration

	connSeq uint64
	mu      sync.Mutex
	reqs    *registry.RequestMgr
}

// New builds a Forwarder. witness may be nil, in which case HTTP requests
// are processed without being witnessed (relay mode).
func New(routes *router.Table, p *pool.Pool, witness WitnessHook, m *metrics.Registry, maxBodyLen int, timeout time.Duration) *Forwarder {
	if witness == nil {
		witness = noopWitness{}
	}
	return &Forwarder{
		Routes:            routes,
		Pool:              p,
		Witness:           witness,
		Metrics:           m,
		HTTPMaxBodyLength: maxBodyLen,
		RequestTimeout:    timeout,
		reqs:              registry.NewRequestMgr(),
	}
}

func (f *Forwarder) nextConnID() uint64 {
	return atomic.AddUint64(&f.connSeq, 1)
}

func (f *Forwarder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	connID := f.nextConnID()

	limited := io.LimitReader(r.Body, int64(f.HTTPMaxBodyLength)+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		f.writeErrorClosed(w, jsonrpc.CodeInvalidRequest, "Parse error")
		return
	}
	if len(body) > f.HTTPMaxBodyLength {
		f.recordOutcome("", "too_large")
		f.writeErrorClosed(w, jsonrpc.CodeInvalidRequest, "JSONRPC request is too large")
		return
	}

	key, hasKey, token, hasToken := router.ExtractPathAndToken(r.URL.Path)
	if !hasKey {
		f.recordOutcome("", "no_path")
		f.writeErrorClosed(w, jsonrpc.CodeInvalidRequest, "No path specified")
		return
	}

	upstream, ok := f.Routes.HTTPUpstream(key)
	if !ok {
		f.recordOutcome(key, "unknown_path")
		f.writeErrorClosed(w, jsonrpc.CodeInvalidRequest, "Unknown path")
		return
	}

	reqBody, err := jsonrpc.ParseBatchable[jsonrpc.Request](body)
	if err != nil {
		f.recordOutcome(key, "parse_error")
		f.writeErrorClosed(w, jsonrpc.CodeInvalidRequest, "Parse error")
		return
	}
	if reqBody.IsBatch() && len(reqBody.Items()) > maxBatchSize {
		f.recordOutcome(key, "batch_too_large")
		f.writeErrorClosed(w, jsonrpc.CodeInvalidRequest, "Batch size is too large")
		return
	}

	sr := sanitizer.New(reqBody)
	sr = sanitizer.ProtectAccountRelationship(sr)
	f.recordAccountRelationshipOutcome(reqBody, sr)
	sr = sanitizer.ProtectMetadata(sr, r)

	f.Witness.OnHTTPRequest(token, hasToken, sr.Transforms)

	fwdReq := registry.ForwardRequest{
		ConnID:    connID,
		RpcPath:   key,
		RemoteURI: upstream,
		SR:        sr,
		LastSend:  time.Now(),
	}
	f.mu.Lock()
	reqID := f.reqs.Push(fwdReq)
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.reqs.Pop(reqID)
		f.mu.Unlock()
	}()

	f.forwardAndRespond(w, key, sr, fwdReq)
}

func (f *Forwarder) forwardAndRespond(w http.ResponseWriter, key string, sr sanitizer.SanitizedRequest, fwdReq registry.ForwardRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), f.RequestTimeout)
	defer cancel()

	reqBodyBytes, err := json.Marshal(sr.ReqBody)
	if err != nil {
		log.Error().Err(err).Str("route", key).Msg("forwarder: marshal outbound body")
		f.recordOutcome(key, "internal_error")
		f.writeErrorClosed(w, jsonrpc.CodeInternal, "unknown error")
		return
	}

	userAgent, _ := sr.ProtectedUserAgentOverride()
	httpReq, err := pool.NewRequest(ctx, fwdReq.RemoteURI, reqBodyBytes, userAgent)
	if err != nil {
		log.Error().Err(err).Str("route", key).Msg("forwarder: build upstream request")
		f.recordOutcome(key, "internal_error")
		f.writeErrorClosed(w, jsonrpc.CodeInternal, "unknown error")
		return
	}

	start := time.Now()
	if f.Metrics != nil {
		f.Metrics.PoolInflight.WithLabelValues(key).Inc()
	}
	resp, err := f.Pool.Do(ctx, key, httpReq)
	if f.Metrics != nil {
		f.Metrics.PoolInflight.WithLabelValues(key).Dec()
		f.Metrics.HTTPForwardDuration.WithLabelValues(key).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		log.Error().Err(err).Str("route", key).Msg("forwarder: upstream round trip")
		f.recordOutcome(key, "upstream_error")
		f.writeErrorClosed(w, jsonrpc.CodeInternal, "unknown error")
		return
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Error().Err(err).Str("route", key).Msg("forwarder: read upstream response")
		f.recordOutcome(key, "upstream_error")
		f.writeErrorClosed(w, jsonrpc.CodeInternal, "unknown error")
		return
	}

	upstreamResp, err := jsonrpc.ParseBatchable[jsonrpc.Response](respBody)
	if err != nil {
		log.Error().Err(err).Str("route", key).Msg("forwarder: parse upstream response")
		f.recordOutcome(key, "upstream_parse_error")
		f.writeErrorClosed(w, jsonrpc.CodeParseError, err.Error())
		return
	}

	rewritten := sr.RewriteResponse(upstreamResp)
	out, err := json.Marshal(rewritten)
	if err != nil {
		log.Error().Err(err).Str("route", key).Msg("forwarder: marshal rewritten response")
		f.recordOutcome(key, "internal_error")
		f.writeErrorClosed(w, jsonrpc.CodeInternal, "unknown error")
		return
	}

	f.recordOutcome(key, "ok")
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Connection", "close")
	w.WriteHeader(http.StatusOK)
	w.Write(out)
}

func (f *Forwarder) writeErrorClosed(w http.ResponseWriter, code int64, msg string) {
	resp := jsonrpc.Single(jsonrpc.NewErrorResponse(jsonrpc.NewError(code, msg), nil))
	out, err := json.Marshal(resp)
	if err != nil {
		http.Error(w, msg, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Connection", "close")
	w.WriteHeader(http.StatusOK)
	w.Write(out)
}

func (f *Forwarder) recordOutcome(route, outcome string) {
	if f.Metrics == nil {
		return
	}
	f.Metrics.HTTPRequestsTotal.WithLabelValues(route, outcome).Inc()
}

// recordAccountRelationshipOutcome reports whether a request eligible for the
// balances() aggregation rewrite (a single eth_call) was actually rewritten,
// by checking whether the sanitized request carries an AccountRelationship
// transform.
func (f *Forwarder) recordAccountRelationshipOutcome(reqBody jsonrpc.Batchable[jsonrpc.Request], sr sanitizer.SanitizedRequest) {
	if f.Metrics == nil {
		return
	}
	req, ok := reqBody.AsSingle()
	if !ok || req.Method != "eth_call" {
		return
	}
	outcome := "skipped"
	for _, t := range sr.Transforms {
		if t.IsAccountRelationship() {
			outcome = "rewritten"
			break
		}
	}
	f.Metrics.AccountRelationshipRewr.WithLabelValues(outcome).Inc()
}
