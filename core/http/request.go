package http

import (
	"net/textproto"
	"net/url"

	"golang.org/x/net/http/httpguts"
)

// Header maps canonical header names to values. Repeated headers are
// joined with ", ".
type Header map[string]string

// Get returns the value of key, matched case-insensitively
func (h Header) Get(key string) string {
	return h[textproto.CanonicalMIMEHeaderKey(key)]
}

// Set replaces the value of key
func (h Header) Set(key, value string) {
	h[textproto.CanonicalMIMEHeaderKey(key)] = value
}

// Add appends value to key
func (h Header) Add(key, value string) {
	key = textproto.CanonicalMIMEHeaderKey(key)
	if cur, ok := h[key]; ok && cur != "" {
		h[key] = cur + ", " + value
		return
	}
	h[key] = value
}

// Del removes key
func (h Header) Del(key string) {
	delete(h, textproto.CanonicalMIMEHeaderKey(key))
}

// Request is one parsed request. It owns all of its memory: nothing aliases
// the connection's read buffer.
type Request struct {
	Method   string
	URI      string // request target as sent
	Path     string // unescaped path component
	RawQuery string
	Query    url.Values
	Proto    string // "HTTP/1.1"

	Header Header
	Body   []byte
}

// KeepAlive reports whether the connection may carry another request after
// this one.
func (r *Request) KeepAlive() bool {
	conn := []string{r.Header.Get("Connection")}
	if httpguts.HeaderValuesContainsToken(conn, "close") {
		return false
	}
	if r.Proto == "HTTP/1.0" {
		return httpguts.HeaderValuesContainsToken(conn, "keep-alive")
	}
	return true
}
