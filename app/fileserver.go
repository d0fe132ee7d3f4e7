package app

import (
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/searchktools/evloop/core"
	"github.com/searchktools/evloop/core/codec"
	"github.com/searchktools/evloop/core/http"
	"github.com/searchktools/evloop/core/middleware"
	"github.com/searchktools/evloop/core/observability"
	"github.com/searchktools/evloop/core/sendfile"
)

// FileServer serves files below a root directory over HTTP/1.1 and exposes
// the loop statistics on a configurable path.
type FileServer struct {
	root      string
	statsPath string
	files     *sendfile.FileCache
	log       *zap.Logger
	monitor   *observability.Monitor
	handle    middleware.HandlerFunc

	// loop is set by Bind after the loop started serving
	loop atomic.Pointer[core.EventLoop]
}

// NewFileServer creates a handler serving root. An empty statsPath disables
// the stats endpoint. Extra middlewares run after recovery, request IDs and
// access logging.
func NewFileServer(root, statsPath string, log *zap.Logger, mws ...middleware.Middleware) (*FileServer, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve root %q", root)
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &FileServer{
		root:      abs,
		statsPath: statsPath,
		files:     sendfile.NewFileCache(256),
		log:       log,
		monitor:   observability.NewMonitor(),
	}
	s.handle = middleware.NewPipeline().
		Use(middleware.Recovery(log), middleware.RequestID(), middleware.AccessLog(log)).
		Use(middleware.Metrics(s.monitor)).
		Use(mws...).
		Then(s.respond)
	return s, nil
}

// Bind connects the stats endpoint to a running loop
func (s *FileServer) Bind(l *core.EventLoop) {
	s.loop.Store(l)
}

// Close releases cached file descriptors
func (s *FileServer) Close() {
	s.files.Close()
}

func (s *FileServer) OnStart() {
	s.log.Info("file server started", zap.String("root", s.root))
}

func (s *FileServer) OnRequest(c *core.Conn, req any) error {
	r, ok := req.(*http.Request)
	if !ok {
		return errors.Errorf("unexpected request type %T", req)
	}

	resp := s.handle(r)
	keepAlive := r.KeepAlive()
	if !keepAlive {
		resp.Header.Set("Connection", "close")
	}

	if err := resp.SendTo(c, r.Method == "HEAD"); err != nil {
		// the peer is gone or stuck; nothing to retry
		s.log.Debug("send response", zap.Stringer("conn", c), zap.Error(err))
		return c.Close()
	}

	if !keepAlive {
		return c.Close()
	}
	return nil
}

func (s *FileServer) OnClose(c *core.Conn) {
	s.log.Debug("connection closed", zap.Stringer("conn", c))
}

func (s *FileServer) OnException(err error) {
	s.log.Warn("connection error", zap.Error(err))
}

func (s *FileServer) respond(r *http.Request) *http.Response {
	if r.Proto != "HTTP/1.1" {
		return http.NewStatusResponse(http.StatusHTTPVersionNotSupported)
	}
	if r.Method != "GET" && r.Method != "HEAD" {
		resp := http.NewStatusResponse(http.StatusMethodNotAllowed)
		resp.Header.Set("Allow", "GET, HEAD")
		return resp
	}

	if s.statsPath != "" && r.Path == s.statsPath {
		if l := s.loop.Load(); l != nil {
			return s.statsResponse(r, l.Stats())
		}
	}

	name := r.Path
	if name == "/" {
		name = "/index.html"
	}
	// Clean against "/" so ".." can never climb above the root
	name = path.Clean("/" + name)
	if strings.Contains(name, "\x00") {
		return http.NewStatusResponse(http.StatusNotFound)
	}
	full := filepath.Join(s.root, filepath.FromSlash(name))

	f, info, err := s.files.Open(full)
	if err != nil {
		return http.NewStatusResponse(http.StatusNotFound)
	}
	return http.NewFileResponse(f, info.Size(), sendfile.ContentType(full))
}

func (s *FileServer) statsResponse(r *http.Request, st core.Stats) *http.Response {
	c := codec.Negotiate(r.Header.Get("Accept"))
	doc := st.Map()
	doc["kinds"] = s.monitor.Map()
	body, err := c.Encode(doc)
	if err != nil {
		s.log.Error("encode stats", zap.String("codec", c.Name()), zap.Error(err))
		return http.NewStatusResponse(http.StatusInternalServerError)
	}
	resp := http.NewResponse(http.StatusOK, c.ContentType(), body)
	resp.Header.Set("Cache-Control", "no-store")
	return resp
}
