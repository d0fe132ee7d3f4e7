package core

// Handler is the application side of an EventLoop. All callbacks run on the
// loop goroutine, so a slow callback stalls every other connection.
type Handler interface {
	// OnStart fires once after the listening socket is bound and before the
	// loop accepts its first connection.
	OnStart()

	// OnRequest fires once per request completed by the connection's Parser,
	// including requests completed before the Parser failed on later bytes.
	// The handler answers through c. A returned error is connection-fatal:
	// the connection is closed and OnClose then OnException follow.
	OnRequest(c *Conn, req any) error

	// OnClose fires once when a connection is torn down during normal
	// operation: peer EOF, connection-fatal error, idle timeout or Conn.Close.
	// Connections released by EventLoop.Close do not fire it. A Conn.Close
	// from another goroutine is carried out by the loop goroutine.
	OnClose(c *Conn)

	// OnException fires once per connection-fatal error with a *ConnError,
	// after the connection was closed and OnClose fired for it.
	OnException(err error)
}

// Parser turns raw bytes of one connection into completed requests.
//
// data aliases the loop's shared read buffer and is only valid for the
// duration of the call: implementations must copy anything they keep.
// TCP has no message boundaries, so a call may complete zero, one or
// several requests.
type Parser interface {
	Parse(data []byte) ([]any, error)
	Close() error
}

// rawParser yields each delivery as one copied []byte.
type rawParser struct{}

func (rawParser) Parse(data []byte) ([]any, error) {
	return []any{append([]byte(nil), data...)}, nil
}

func (rawParser) Close() error { return nil }

func newRawParser() Parser { return rawParser{} }
