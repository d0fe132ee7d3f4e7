/*
Package evloop is a single-threaded, readiness-based TCP server.

One goroutine, locked to its OS thread, waits on epoll (Linux) or kqueue
(BSD/macOS), accepts connections, reads them into a shared buffer and hands
each delivery to a per-connection parser. Every complete request is passed
to a Handler with four callbacks: OnStart, OnRequest, OnClose and
OnException.

Quick Start

A custom handler on the raw parser:

	package main

	import "github.com/searchktools/evloop/core"

	type echo struct{}

	func (echo) OnStart()                                {}
	func (echo) OnRequest(c *core.Conn, req any) error { return c.Send(req.([]byte)) }
	func (echo) OnClose(c *core.Conn)                    {}
	func (echo) OnException(err error)                   {}

	func main() {
		l, err := core.New(core.Config{Address: "127.0.0.1", Port: 9000}, echo{})
		if err != nil {
			panic(err)
		}
		<-l.Done()
	}

The bundled file server:

	cfg := config.New()
	application, err := app.New(cfg)
	if err != nil {
		panic(err)
	}
	application.Run()

Modules

  - app: application lifecycle and the static file server handler
  - config: flags and EVLOOP_* environment configuration
  - logger: process-wide zap logger
  - core: event loop, connections, registry, handler and parser contracts
  - core/poller: epoll/kqueue readiness and wakeup
  - core/http: incremental HTTP/1.x request parser and responses
  - core/pools: tiered byte buffer pool
  - core/sendfile: open file cache and content types
  - core/codec: JSON and Protobuf codecs for the stats endpoint

Closing

EventLoop.Close may be called from any goroutine, any number of times. It
closes live connections without OnClose, wakes the loop and returns; Done
is closed once the loop released the poller and the listening socket.
*/
package evloop
