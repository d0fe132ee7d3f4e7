package app

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/searchktools/evloop/config"
	"github.com/searchktools/evloop/core"
	"github.com/searchktools/evloop/core/http"
	"github.com/searchktools/evloop/core/middleware"
	"github.com/searchktools/evloop/logger"
)

// App is the file server application: configuration, logger, handler and
// the event loop serving it
type App struct {
	cfg   *config.Config
	log   *zap.Logger
	files *FileServer
	loop  *core.EventLoop
}

// New creates an application instance and installs its logger as the
// process-wide one
func New(cfg *config.Config) (*App, error) {
	log, err := logger.New(cfg.Env, cfg.Debug)
	if err != nil {
		return nil, errors.Wrap(err, "build logger")
	}
	logger.Set(log)

	var mws []middleware.Middleware
	if cfg.RateLimit > 0 {
		mws = append(mws, middleware.RateLimiter(cfg.RateLimit))
	}

	files, err := NewFileServer(cfg.Root, cfg.StatsPath, log.Named("files"), mws...)
	if err != nil {
		return nil, err
	}

	return &App{cfg: cfg, log: log, files: files}, nil
}

// Start binds the listening socket and starts the event loop
func (a *App) Start() error {
	loop, err := core.New(core.Config{
		Address:      a.cfg.Address,
		Port:         a.cfg.Port,
		BufferSize:   a.cfg.BufferSize,
		WriteTimeout: a.cfg.WriteTimeoutDuration(),
		IdleTimeout:  a.cfg.IdleTimeoutDuration(),
		NewParser:    func() core.Parser { return http.NewParser() },
		Logger:       a.log.Named("loop"),
	}, a.files)
	if err != nil {
		return err
	}

	a.files.Bind(loop)
	a.loop = loop
	a.log.Info("server starting",
		zap.Stringer("addr", loop.Addr()),
		zap.String("env", a.cfg.Env))
	return nil
}

// Loop returns the running event loop, nil before Start
func (a *App) Loop() *core.EventLoop {
	return a.loop
}

// Run starts the server and blocks until SIGINT or SIGTERM, then shuts down
func (a *App) Run() error {
	if err := a.Start(); err != nil {
		return err
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		a.log.Info("signal received, shutting down", zap.Stringer("signal", sig))
	case <-a.loop.Done():
	}

	return a.Close()
}

// Close stops the loop, waits for it to release its sockets and flushes the log
func (a *App) Close() error {
	if a.loop != nil {
		a.loop.Close()
		<-a.loop.Done()
		a.log.Info("server stopped", zap.String("stats", a.loop.Stats().JSON()))
	}
	a.files.Close()
	a.log.Sync()
	return nil
}
