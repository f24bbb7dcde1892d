package transport

import (
	"io"
	"net"
	"time"
)

// Conn is the raw stream connection capability a session builds on.
// Implementations are expected to bound every read and write by the
// configured timeouts when placed in non-blocking mode, surfacing
// expiry as a net.Error timeout (see IsWouldBlock).
type Conn interface {
	io.ReadWriteCloser

	// Flush drains any buffered outbound bytes to the socket.
	Flush() error

	// SplitConn detaches the connection into independently owned read
	// and write halves. The halves touch disjoint directions of the
	// socket and need no synchronization against each other.
	SplitConn() (ConnReader, ConnWriter, error)

	// Shutdown performs an orderly close of both directions.
	Shutdown() error

	SetReadTimeout(d time.Duration) error
	SetWriteTimeout(d time.Duration) error
	SetNonblocking(nonblocking bool) error

	LocalAddr() net.Addr
	RemoteAddr() net.Addr

	// Fd returns the raw descriptor identity used for reactor
	// registration.
	Fd() int
}

// ConnReader is the read half of a split connection.
type ConnReader interface {
	io.Reader
}

// ConnWriter is the write half of a split connection.
type ConnWriter interface {
	io.Writer
	Flush() error
}

// Listener is the listening socket capability behind NetAccept.
type Listener interface {
	// Accept takes one pending connection. When the listener is in
	// non-blocking mode the wait is bounded by the accept timeout.
	Accept() (Conn, error)

	Addr() net.Addr
	Close() error

	// Fd returns the raw descriptor identity used for reactor
	// registration.
	Fd() int
}

// connJoiner is implemented by read halves that know how to rejoin with
// their write half.
type connJoiner interface {
	joinConn(w ConnWriter) (Conn, error)
}

// JoinConn reconstructs a connection from halves produced by SplitConn.
// The halves must originate from the same connection.
func JoinConn(r ConnReader, w ConnWriter) (Conn, error) {
	joiner, ok := r.(connJoiner)
	if !ok {
		return nil, newNetError("join", "", ErrSessionMismatch)
	}
	return joiner.joinConn(w)
}
