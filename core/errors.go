package core

import (
	"errors"
	"fmt"
)

// ErrConnClosed is returned by writes on a released connection
var ErrConnClosed = errors.New("connection closed")

// ConnError is the error passed to Handler.OnException. The connection is
// already closed when it is delivered.
type ConnError struct {
	Conn *Conn
	Err  error
}

func (e *ConnError) Error() string {
	return fmt.Sprintf("connection %s: %v", e.Conn, e.Err)
}

func (e *ConnError) Unwrap() error {
	return e.Err
}
