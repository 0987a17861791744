// Package router holds the immutable route table mapping an opaque route
// key to its upstream URI, plus the path/token extraction used by the
// forwarder and WS handlers.
package router

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
)

// Table is the immutable key -> upstream URI mapping loaded from the routes
// file at startup. Safe for concurrent reads from any number of goroutines;
// never mutated after Load returns.
type Table struct {
	routes map[string]*url.URL
}

// Load reads a UTF-8 JSON object mapping route key to upstream URI from
// path, parsing every URI. An unparseable URI is a fatal startup error.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("router: read routes file: %w", err)
	}

	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("router: parse routes file: %w", err)
	}

	routes := make(map[string]*url.URL, len(raw))
	for key, uri := range raw {
		parsed, err := url.Parse(uri)
		if err != nil {
			return nil, fmt.Errorf("router: route %q: unparseable uri %q: %w", key, uri, err)
		}
		routes[key] = parsed
	}
	return &Table{routes: routes}, nil
}

// getRoute returns the URI mapped to key, if any.
func (t *Table) getRoute(key string) (*url.URL, bool) {
	u, ok := t.routes[key]
	return u, ok
}

// HTTPUpstream returns the mapped URI for key, filtered to the https scheme.
func (t *Table) HTTPUpstream(key string) (*url.URL, bool) {
	u, ok := t.getRoute(key)
	if !ok || u.Scheme != "https" {
		return nil, false
	}
	return u, true
}

// WSUpstream returns the mapped URI for key, filtered to the wss scheme.
func (t *Table) WSUpstream(key string) (*url.URL, bool) {
	u, ok := t.getRoute(key)
	if !ok || u.Scheme != "wss" {
		return nil, false
	}
	return u, true
}

// ExtractPathAndToken mirrors the original's extract_path_and_token: the
// first path segment is the route key, the second is an optional token.
// Preserved verbatim, including its quirk that a path with no token segment
// still yields a valid key.
func ExtractPathAndToken(path string) (key string, hasKey bool, token string, hasToken bool) {
	parts := strings.Split(path, "/")
	if len(parts) > 1 && parts[1] != "" {
		key, hasKey = parts[1], true
	}
	if len(parts) > 2 && parts[2] != "" {
		token, hasToken = parts[2], true
	}
	return key, hasKey, token, hasToken
}

// ExtractToken extracts the token from a "/ws/{token}" style WS demo path.
func ExtractToken(path string) (string, bool) {
	parts := strings.Split(path, "/")
	if len(parts) > 2 && parts[2] != "" {
		return parts[2], true
	}
	return "", false
}

// ExtractRPCPath extracts the route key from a "/{key}/..." WS relay path.
func ExtractRPCPath(path string) (string, bool) {
	parts := strings.Split(path, "/")
	if len(parts) > 1 && parts[1] != "" {
		return parts[1], true
	}
	return "", false
}
