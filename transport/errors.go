package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// Common errors for noisewire transports.
var (
	// ErrNotEstablished indicates an operation requiring a completed
	// handshake was attempted before the session was established.
	ErrNotEstablished = errors.New("session not established")

	// ErrSessionMismatch indicates an attempt to join a reader and a
	// writer that belong to different sessions. This is a contract
	// violation by the caller, never an operational condition.
	ErrSessionMismatch = errors.New("joining halves of different sessions")

	// ErrRemoteClosed indicates the peer performed an orderly shutdown.
	ErrRemoteClosed = errors.New("connection reset by peer")

	// ErrTerminated indicates the transport has already terminated.
	ErrTerminated = errors.New("transport terminated")

	// ErrPrematureData indicates application data arrived before the
	// handshake completed, which violates the protocol.
	ErrPrematureData = errors.New("application data before handshake completion")

	// ErrInvalidPeerKey indicates the declared remote identity cannot be
	// used as Diffie-Hellman key material.
	ErrInvalidPeerKey = errors.New("invalid peer public key")

	// ErrSessionDetached indicates I/O on a session whose connection and
	// cipher state were handed off by Split. This is a contract violation
	// by the caller, never an operational condition.
	ErrSessionDetached = errors.New("session split into detached halves")
)

// NetError carries the failed operation and peer address alongside the
// underlying error.
type NetError struct {
	Op   string // operation that caused the error
	Addr string // address if relevant
	Err  error  // underlying error
}

func (e *NetError) Error() string {
	if e.Addr != "" {
		return fmt.Sprintf("noisewire %s %s: %v", e.Op, e.Addr, e.Err)
	}
	return fmt.Sprintf("noisewire %s: %v", e.Op, e.Err)
}

func (e *NetError) Unwrap() error {
	return e.Err
}

// newNetError creates a new NetError.
func newNetError(op, addr string, err error) *NetError {
	return &NetError{
		Op:   op,
		Addr: addr,
		Err:  err,
	}
}

// IsWouldBlock reports whether err is a transient bounded-wait condition:
// a deadline expiry or an EAGAIN-class syscall error. Such errors absorb
// silently in the readiness handlers; the reactor signals again when the
// socket has more to offer.
func IsWouldBlock(err error) bool {
	if err == nil {
		return false
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK)
}

// isOrderlyShutdown reports whether err marks the peer closing its end
// of the connection.
func isOrderlyShutdown(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
