package sanitizer

import (
	"net"
	"net/http"
	"strings"
	"time"
)

// ProtectedUserAgent is substituted for the client's real user agent on
// every forwarded request, regardless of route.
const ProtectedUserAgent = "1rpc-demo/0.1"

// nowUTC renders the current instant as an RFC-style UTC date string.
func nowUTC() string {
	return time.Now().UTC().Format(http.TimeFormat)
}

// HostIP resolves the gateway's own address as seen via the Host header, so
// it can stand in for the client's IP in the protected metadata view.
func HostIP(r *http.Request) string {
	host := r.Header.Get("Host")
	if host == "" {
		host = r.Host
	}
	if host == "" {
		return "N/A"
	}
	if strings.Contains(host, "127.0.0.1") || strings.Contains(host, "localhost") {
		return "127.0.0.1"
	}
	h, _, err := net.SplitHostPort(host)
	if err != nil {
		h = host
	}
	addrs, err := net.LookupHost(h)
	if err != nil || len(addrs) == 0 {
		return "N/A"
	}
	return addrs[0]
}

// ClientIP resolves the real client IP, preferring cf-connecting-ip, then
// x-forwarded-for, then the peer socket address.
func ClientIP(r *http.Request) string {
	if v := r.Header.Get("cf-connecting-ip"); v != "" {
		return v
	}
	if v := r.Header.Get("x-forwarded-for"); v != "" {
		return v
	}
	if r.RemoteAddr != "" {
		if h, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			return h
		}
		return r.RemoteAddr
	}
	return "N/A"
}

// ClientUA resolves the real User-Agent header.
func ClientUA(r *http.Request) string {
	return r.Header.Get("User-Agent")
}
