package registry

import (
	"sync"

	"github.com/privacyrpc/gateway/internal/jsonrpc"
)

// BodyKind discriminates ResponseBody's two shapes.
type BodyKind int

const (
	BodyJsonrpc BodyKind = iota
	BodyRaw
)

// ResponseBody is either an ordered list of JSON-RPC responses (each itself
// single-or-batch) or an opaque raw byte buffer used for protocol-level
// errors and the demo push channel. Raw never silently coerces into the
// JSON-RPC list: see ResponseMgr's "raw wins" invariant.
type ResponseBody struct {
	Kind    BodyKind
	Jsonrpc []jsonrpc.Batchable[jsonrpc.Response]
	Raw     []byte
}

// ResponseAndClose is the pending output for one client connection: a body
// plus whether the connection should be closed once it is flushed.
type ResponseAndClose struct {
	Resp  ResponseBody
	Close bool
}

// ResponseMgr holds at most one ResponseAndClose per connection id, guarded
// by a mutex so it is safe for concurrent use. The forwarder and the WS
// handlers write their responses directly and do not use it.
type ResponseMgr struct {
	mu      sync.Mutex
	entries map[uint64]*ResponseAndClose
}

func NewResponseMgr() *ResponseMgr {
	return &ResponseMgr{entries: make(map[uint64]*ResponseAndClose)}
}

// AddRaw sets the connection's body to raw bytes, preserving any existing
// close flag. Creates the entry with close=false if absent.
func (m *ResponseMgr) AddRaw(connID uint64, raw []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.entries[connID]; ok {
		v.Resp = ResponseBody{Kind: BodyRaw, Raw: raw}
		return
	}
	m.entries[connID] = &ResponseAndClose{Resp: ResponseBody{Kind: BodyRaw, Raw: raw}}
}

// AddRawClosed replaces the connection's entry with raw bytes and close=true.
func (m *ResponseMgr) AddRawClosed(connID uint64, raw []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[connID] = &ResponseAndClose{Resp: ResponseBody{Kind: BodyRaw, Raw: raw}, Close: true}
}

// AddSingleErrorMsgClosed appends a single JSON-RPC error response with no
// id and marks the connection to close once flushed.
func (m *ResponseMgr) AddSingleErrorMsgClosed(connID uint64, code int64, msg string) {
	resp := jsonrpc.Single(jsonrpc.NewErrorResponse(jsonrpc.NewError(code, msg), nil))
	m.addJsonrpc(connID, resp, true)
}

// addJsonrpc appends response to the connection's jsonrpc list, creating the
// entry if absent. If the existing body is raw, the append to the body is a
// no-op (raw wins) but the close flag is still applied when toClose is set.
func (m *ResponseMgr) addJsonrpc(connID uint64, resp jsonrpc.Batchable[jsonrpc.Response], toClose bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.entries[connID]; ok {
		if v.Resp.Kind == BodyJsonrpc {
			v.Resp.Jsonrpc = append(v.Resp.Jsonrpc, resp)
		}
		if toClose {
			v.Close = true
		}
		return
	}
	m.entries[connID] = &ResponseAndClose{
		Resp:  ResponseBody{Kind: BodyJsonrpc, Jsonrpc: []jsonrpc.Batchable[jsonrpc.Response]{resp}},
		Close: toClose,
	}
}

// AddJsonrpc is the exported form of addJsonrpc: it enqueues a response,
// closing the connection only when toClose is set.
func (m *ResponseMgr) AddJsonrpc(connID uint64, resp jsonrpc.Batchable[jsonrpc.Response], toClose bool) {
	m.addJsonrpc(connID, resp, toClose)
}

// ToClose marks the connection to close without touching its body. Creates
// the entry as an empty jsonrpc list if absent — nothing in the original
// calls this for a connection that does not already have an entry, but the
// Go rendering defends against that case too.
func (m *ResponseMgr) ToClose(connID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.entries[connID]; ok {
		v.Close = true
		return
	}
	m.entries[connID] = &ResponseAndClose{Resp: ResponseBody{Kind: BodyJsonrpc}, Close: true}
}

// Get returns the pending entry for a connection, if any.
func (m *ResponseMgr) Get(connID uint64) (ResponseAndClose, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.entries[connID]
	if !ok {
		return ResponseAndClose{}, false
	}
	return *v, true
}

// Remove drops the entry for a connection once it has been flushed.
func (m *ResponseMgr) Remove(connID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, connID)
}

// Clear drops all entries.
func (m *ResponseMgr) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[uint64]*ResponseAndClose)
}
