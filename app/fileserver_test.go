package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/searchktools/evloop/core"
	"github.com/searchktools/evloop/core/http"
	"github.com/searchktools/evloop/core/middleware"
)

func newTestFileServer(t *testing.T) *FileServer {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.html"), []byte("home"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "style.css"), []byte("body{}"), 0o644))

	s, err := NewFileServer(root, "/_stats", nil)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func request(method, path, proto string) *http.Request {
	return &http.Request{
		Method: method,
		URI:    path,
		Path:   path,
		Proto:  proto,
		Header: http.Header{},
	}
}

func TestRespond(t *testing.T) {
	s := newTestFileServer(t)

	tests := []struct {
		name   string
		req    *http.Request
		status int
		ctype  string
	}{
		{"index", request("GET", "/", "HTTP/1.1"), 200, "text/html; charset=utf-8"},
		{"css", request("GET", "/style.css", "HTTP/1.1"), 200, "text/css; charset=utf-8"},
		{"head", request("HEAD", "/style.css", "HTTP/1.1"), 200, "text/css; charset=utf-8"},
		{"missing", request("GET", "/nope.txt", "HTTP/1.1"), 404, ""},
		{"directory", request("GET", "/..", "HTTP/1.1"), 404, ""},
		{"traversal", request("GET", "/../../etc/passwd", "HTTP/1.1"), 404, ""},
		{"nul", request("GET", "/index.html\x00.txt", "HTTP/1.1"), 404, ""},
		{"post", request("POST", "/", "HTTP/1.1"), 405, ""},
		{"http10", request("GET", "/", "HTTP/1.0"), 505, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := s.respond(tt.req)
			assert.Equal(t, tt.status, resp.Status)
			if tt.ctype != "" {
				assert.Equal(t, tt.ctype, resp.Header.Get("Content-Type"))
			}
		})
	}
}

func TestRespondStatsBeforeBind(t *testing.T) {
	s := newTestFileServer(t)

	// without a loop the stats path is just another file lookup
	resp := s.respond(request("GET", "/_stats", "HTTP/1.1"))
	assert.Equal(t, 404, resp.Status)
}

func TestStatsResponseNegotiation(t *testing.T) {
	s := newTestFileServer(t)
	st := core.Stats{Live: 2, Accepted: 5}

	r := request("GET", "/_stats", "HTTP/1.1")
	resp := s.statsResponse(r, st)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Contains(t, string(resp.Body), `"accepted":5`)
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))

	r.Header.Set("Accept", "application/x-protobuf;q=1, */*")
	resp = s.statsResponse(r, st)
	assert.Equal(t, "application/x-protobuf", resp.Header.Get("Content-Type"))
	assert.NotEmpty(t, resp.Body)
}

func TestOnRequestRejectsForeignRequests(t *testing.T) {
	s := newTestFileServer(t)
	assert.Error(t, s.OnRequest(nil, []byte("GET / HTTP/1.1\r\n\r\n")))
}

func TestHandlerPipeline(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.html"), []byte("home"), 0o644))

	s, err := NewFileServer(root, "", nil, middleware.RateLimiter(1))
	require.NoError(t, err)
	defer s.Close()

	resp := s.handle(request("GET", "/", "HTTP/1.1"))
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, "1", resp.Header.Get("X-Request-ID"))

	resp = s.handle(request("GET", "/", "HTTP/1.1"))
	assert.Equal(t, 429, resp.Status)
	assert.Equal(t, "2", resp.Header.Get("X-Request-ID"))
}
