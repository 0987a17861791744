// Package registry implements the two in-flight bookkeeping structures the
// forwarder and WS handlers rely on: RequestMgr tracks outbound requests
// awaiting an upstream response, and ResponseMgr accumulates the per-connection
// payload to flush back to the client.
package registry

import (
	"container/list"
	"net/url"
	"time"

	"github.com/privacyrpc/gateway/internal/sanitizer"
)

// ForwardRequest is the state held for one outbound upstream call: the
// connection it was accepted on, the route path, the resolved upstream URI,
// the sanitized request body, and the instant the request was enrolled, just
// before the upstream send. The forwarder enforces the 20s forwarding timeout
// with a context deadline and does not read LastSend.
type ForwardRequest struct {
	ConnID    uint64
	RpcPath   string
	RemoteURI *url.URL
	SR        sanitizer.SanitizedRequest
	LastSend  time.Time
}

// RequestMgr assigns monotonically increasing, wrap-around request ids to
// in-flight ForwardRequests and supports push/pop by id. An auxiliary
// container/list index preserves insertion order for iteration even though a
// Go map does not, matching the ordered-map behavior of the original
// BTreeMap-backed manager.
type RequestMgr struct {
	nextID uint64
	order  *list.List
	byID   map[uint64]*list.Element
}

type requestEntry struct {
	id  uint64
	req ForwardRequest
}

func NewRequestMgr() *RequestMgr {
	return &RequestMgr{
		order: list.New(),
		byID:  make(map[uint64]*list.Element),
	}
}

// Push assigns the next id to req, stores it, and returns the assigned id.
func (m *RequestMgr) Push(req ForwardRequest) uint64 {
	id := m.nextID
	m.nextID++
	el := m.order.PushBack(requestEntry{id: id, req: req})
	m.byID[id] = el
	return id
}

// Pop removes and returns the ForwardRequest stored under id, if any.
func (m *RequestMgr) Pop(id uint64) (ForwardRequest, bool) {
	el, ok := m.byID[id]
	if !ok {
		return ForwardRequest{}, false
	}
	delete(m.byID, id)
	m.order.Remove(el)
	return el.Value.(requestEntry).req, true
}

// Len reports the number of in-flight requests.
func (m *RequestMgr) Len() int {
	return len(m.byID)
}

// Ids returns the in-flight request ids in insertion order. Intended for
// tests and shutdown draining, not the hot path.
func (m *RequestMgr) Ids() []uint64 {
	out := make([]uint64, 0, m.order.Len())
	for el := m.order.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(requestEntry).id)
	}
	return out
}
