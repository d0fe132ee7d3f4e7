// Package middleware composes request handlers that turn a parsed request
// into a response.
package middleware

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/searchktools/evloop/core/http"
	"github.com/searchktools/evloop/core/observability"
)

// HandlerFunc produces the response for a request
type HandlerFunc func(*http.Request) *http.Response

// Middleware wraps a HandlerFunc. Returning a response without calling next
// aborts the rest of the pipeline.
type Middleware func(next HandlerFunc) HandlerFunc

// Pipeline is an ordered list of middlewares
type Pipeline struct {
	middlewares []Middleware
}

// NewPipeline creates an empty pipeline
func NewPipeline() *Pipeline {
	return &Pipeline{
		middlewares: make([]Middleware, 0, 8),
	}
}

// Use appends middlewares; the first one added runs first
func (p *Pipeline) Use(m ...Middleware) *Pipeline {
	p.middlewares = append(p.middlewares, m...)
	return p
}

// Len returns the number of middlewares
func (p *Pipeline) Len() int {
	return len(p.middlewares)
}

// Then compiles the pipeline around final. Later calls to Use do not affect
// the returned handler.
func (p *Pipeline) Then(final HandlerFunc) HandlerFunc {
	h := final
	for i := len(p.middlewares) - 1; i >= 0; i-- {
		h = p.middlewares[i](h)
	}
	return h
}

// Common middleware implementations

// Recovery turns a panicking handler into a 500 response
func Recovery(log *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(r *http.Request) (resp *http.Response) {
			defer func() {
				if err := recover(); err != nil {
					log.Error("panic recovered",
						zap.Any("panic", err),
						zap.String("method", r.Method),
						zap.String("uri", r.URI))
					resp = http.NewStatusResponse(http.StatusInternalServerError)
				}
			}()
			return next(r)
		}
	}
}

// AccessLog logs every request with its status and duration at debug level
func AccessLog(log *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(r *http.Request) *http.Response {
			start := time.Now()
			resp := next(r)
			log.Debug("request",
				zap.String("method", r.Method),
				zap.String("uri", r.URI),
				zap.Int("status", resp.Status),
				zap.Int64("bytes", resp.ContentLength()),
				zap.Duration("took", time.Since(start)))
			return resp
		}
	}
}

// Metrics records each request in m under "METHOD STATUS". Responses with
// a 5xx status count as errors.
func Metrics(m *observability.Monitor) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(r *http.Request) *http.Response {
			start := time.Now()
			resp := next(r)
			m.Record(r.Method+" "+strconv.Itoa(resp.Status), time.Since(start), resp.Status >= 500)
			return resp
		}
	}
}

// RequestID stamps each response with a monotonically increasing X-Request-ID
func RequestID() Middleware {
	var counter atomic.Uint64

	return func(next HandlerFunc) HandlerFunc {
		return func(r *http.Request) *http.Response {
			id := strconv.FormatUint(counter.Add(1), 10)
			resp := next(r)
			resp.Header.Set("X-Request-ID", id)
			return resp
		}
	}
}

// RateLimiter allows requestsPerSecond requests per one-second window and
// answers the rest with 429.
func RateLimiter(requestsPerSecond int) Middleware {
	var (
		mu         sync.Mutex
		tokens     = requestsPerSecond
		lastRefill = time.Now()
	)

	allow := func() bool {
		mu.Lock()
		defer mu.Unlock()

		now := time.Now()
		if now.Sub(lastRefill) >= time.Second {
			tokens = requestsPerSecond
			lastRefill = now
		}
		if tokens > 0 {
			tokens--
			return true
		}
		return false
	}

	return func(next HandlerFunc) HandlerFunc {
		return func(r *http.Request) *http.Response {
			if !allow() {
				resp := http.NewStatusResponse(http.StatusTooManyRequests)
				resp.Header.Set("Retry-After", "1")
				return resp
			}
			return next(r)
		}
	}
}
