package transport

import (
	"errors"
	"fmt"
)

// Common socket errors
var (
	// ErrBindFailed indicates the socket could not be bound
	ErrBindFailed = errors.New("bind failed")

	// ErrJoinFailed indicates a multicast group membership could not be added
	ErrJoinFailed = errors.New("multicast join failed")

	// ErrClosed indicates the transport has been closed
	ErrClosed = errors.New("transport closed")

	// ErrNotIPv4 indicates a multicast group that is not an IPv4 address
	ErrNotIPv4 = errors.New("not an IPv4 address")
)

// OpError represents a socket error with additional context
type OpError struct {
	Op   string // operation that caused the error
	Addr string // address if relevant
	Err  error  // underlying error
}

func (e *OpError) Error() string {
	if e.Addr != "" {
		return fmt.Sprintf("udp %s %s: %v", e.Op, e.Addr, e.Err)
	}
	return fmt.Sprintf("udp %s: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// newOpError creates a new OpError
func newOpError(op, addr string, err error) *OpError {
	return &OpError{
		Op:   op,
		Addr: addr,
		Err:  err,
	}
}
