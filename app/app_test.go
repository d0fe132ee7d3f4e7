package app

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net"
	nethttp "net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/searchktools/evloop/config"
	"github.com/searchktools/evloop/logger"
)

func startApp(t *testing.T) (*App, string) {
	t.Helper()

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.html"), []byte("<h1>index</h1>"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "docs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "docs", "a.txt"), []byte("alpha"), 0o644))

	cfg := config.Default()
	cfg.Address = "127.0.0.1"
	cfg.Port = 0
	cfg.Root = root
	cfg.Env = "production"

	a, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, a.Start())
	t.Cleanup(func() {
		a.Close()
		logger.Set(nil)
	})

	return a, "http://" + a.Loop().Addr().String()
}

// rawExchange writes req on a fresh connection and returns everything the
// server sends until it closes the connection.
func rawExchange(t *testing.T, addr, req string) string {
	t.Helper()
	c, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer c.Close()

	c.SetDeadline(time.Now().Add(3 * time.Second))
	_, err = c.Write([]byte(req))
	require.NoError(t, err)

	data, err := io.ReadAll(c)
	require.NoError(t, err)
	return string(data)
}

func TestServeIndexAndFiles(t *testing.T) {
	_, base := startApp(t)

	resp, err := nethttp.Get(base + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Equal(t, "<h1>index</h1>", string(body))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp, err = nethttp.Get(base + "/docs/a.txt")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "alpha", string(body))
}

func TestNotFoundAndMethodNotAllowed(t *testing.T) {
	_, base := startApp(t)

	resp, err := nethttp.Get(base + "/missing.html")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, 404, resp.StatusCode)

	resp, err = nethttp.Post(base+"/", "text/plain", strings.NewReader("x"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, 405, resp.StatusCode)
	assert.Equal(t, "GET, HEAD", resp.Header.Get("Allow"))
}

func TestKeepAliveReusesConnection(t *testing.T) {
	a, base := startApp(t)

	client := &nethttp.Client{Transport: &nethttp.Transport{MaxIdleConnsPerHost: 1}}
	defer client.CloseIdleConnections()

	for i := 0; i < 3; i++ {
		resp, err := client.Get(base + "/docs/a.txt")
		require.NoError(t, err)
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}

	assert.EqualValues(t, 1, a.Loop().Stats().Accepted)
	assert.EqualValues(t, 3, a.Loop().Stats().Requests)
}

func TestHeadRequestHasNoBody(t *testing.T) {
	a, _ := startApp(t)

	out := rawExchange(t, a.Loop().Addr().String(),
		"HEAD /docs/a.txt HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n")

	assert.True(t, strings.HasPrefix(out, "HTTP/1.1 200 OK\r\n"), out)
	assert.Contains(t, out, "Content-Length: 5\r\n")
	assert.True(t, strings.HasSuffix(out, "\r\n\r\n"), "no body after the head")
}

func TestHTTP10IsNotSupported(t *testing.T) {
	a, _ := startApp(t)

	out := rawExchange(t, a.Loop().Addr().String(), "GET / HTTP/1.0\r\n\r\n")
	assert.True(t, strings.HasPrefix(out, "HTTP/1.1 505 HTTP Version Not Supported\r\n"), out)
	assert.Contains(t, out, "Connection: close\r\n")
}

func TestPathTraversalIsRejected(t *testing.T) {
	a, _ := startApp(t)

	secret := filepath.Join(filepath.Dir(a.files.root), "secret.txt")
	require.NoError(t, os.WriteFile(secret, []byte("secret"), 0o644))
	defer os.Remove(secret)

	out := rawExchange(t, a.Loop().Addr().String(),
		"GET /../secret.txt HTTP/1.1\r\nConnection: close\r\n\r\n")
	assert.True(t, strings.HasPrefix(out, "HTTP/1.1 404 Not Found\r\n"), out)
	assert.NotContains(t, out, "secret")
}

func TestPipelinedRequests(t *testing.T) {
	a, _ := startApp(t)

	out := rawExchange(t, a.Loop().Addr().String(),
		"GET /docs/a.txt HTTP/1.1\r\n\r\n"+
			"GET /missing HTTP/1.1\r\n\r\n"+
			"GET /docs/a.txt HTTP/1.1\r\nConnection: close\r\n\r\n")

	r := bufio.NewReader(strings.NewReader(out))
	var codes []int
	for {
		resp, err := nethttp.ReadResponse(r, nil)
		if err != nil {
			break
		}
		io.Copy(io.Discard, resp.Body)
		codes = append(codes, resp.StatusCode)
	}
	assert.Equal(t, []int{200, 404, 200}, codes)
}

func TestMalformedRequestClosesConnection(t *testing.T) {
	a, _ := startApp(t)

	out := rawExchange(t, a.Loop().Addr().String(), "NOT A REQUEST LINE\r\n\r\n")
	assert.Empty(t, out)

	require.Eventually(t, func() bool {
		st := a.Loop().Stats()
		return st.Exceptions == 1 && st.Live == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestStatsEndpoint(t *testing.T) {
	_, base := startApp(t)

	resp, err := nethttp.Get(base + "/_stats")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	var stats map[string]any
	require.NoError(t, json.Unmarshal(body, &stats))
	assert.EqualValues(t, 1, stats["live"])
	assert.EqualValues(t, 1, stats["requests"])

	req, err := nethttp.NewRequest("GET", base+"/_stats", nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "application/x-protobuf")
	resp, err = nethttp.DefaultClient.Do(req)
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()

	assert.Equal(t, "application/x-protobuf", resp.Header.Get("Content-Type"))
	s := &structpb.Struct{}
	require.NoError(t, proto.Unmarshal(body, s))
	assert.GreaterOrEqual(t, s.Fields["accepted"].GetNumberValue(), float64(1))
	// the first stats request was recorded by the metrics middleware
	kinds := s.Fields["kinds"].GetStructValue()
	require.NotNil(t, kinds)
	assert.Contains(t, kinds.Fields, "GET 200")
}

func TestCloseReleasesListener(t *testing.T) {
	a, _ := startApp(t)
	addr := a.Loop().Addr().String()

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	_, err := net.DialTimeout("tcp", addr, time.Second)
	assert.Error(t, err, fmt.Sprintf("%s must refuse connections after Close", addr))
}
