package transport

import (
	"bufio"
	"net"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
)

// TCPStream implements Conn over a stream socket, optionally dialed
// through a SOCKS5 proxy. Writes pass through a buffer drained by Flush
// so the writable readiness handler has real work to do.
type TCPStream struct {
	conn net.Conn
	bw   *bufio.Writer

	readTimeout  time.Duration
	writeTimeout time.Duration
	nonblocking  bool
	fd           int
}

// DialTCP establishes an outbound stream connection through the given
// dialer. proxy.Direct dials straight to the address; a SOCKS5 dialer
// routes through the proxy, and its failures surface here as connect
// errors.
func DialTCP(addr string, dialer proxy.Dialer) (*TCPStream, error) {
	if dialer == nil {
		dialer = proxy.Direct
	}
	conn, err := dialer.Dial("tcp", addr)
	if err != nil {
		return nil, newNetError("dial", addr, err)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "DialTCP",
		"remote_addr": addr,
		"local_addr":  conn.LocalAddr().String(),
	}).Debug("Outbound connection established")

	return newTCPStream(conn), nil
}

// newTCPStream wraps an established net.Conn.
func newTCPStream(conn net.Conn) *TCPStream {
	return &TCPStream{
		conn: conn,
		bw:   bufio.NewWriterSize(conn, DefaultReadBufferSize),
		fd:   rawFd(conn),
	}
}

// rawFd extracts the socket descriptor for reactor registration.
// Connections without a descriptor (proxied wrappers, in-memory pipes)
// report -1.
func rawFd(conn net.Conn) int {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return -1
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return -1
	}
	fd := -1
	_ = raw.Control(func(f uintptr) { fd = int(f) })
	return fd
}

// Read reads available bytes, bounded by the read timeout when the
// stream is in non-blocking mode.
func (t *TCPStream) Read(p []byte) (int, error) {
	if t.nonblocking && t.readTimeout > 0 {
		if err := t.conn.SetReadDeadline(time.Now().Add(t.readTimeout)); err != nil {
			return 0, err
		}
	}
	return t.conn.Read(p)
}

// Write buffers p for transmission; Flush pushes it to the socket.
func (t *TCPStream) Write(p []byte) (int, error) {
	if t.nonblocking && t.writeTimeout > 0 {
		if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
			return 0, err
		}
	}
	return t.bw.Write(p)
}

// Flush drains the write buffer to the socket.
func (t *TCPStream) Flush() error {
	if t.nonblocking && t.writeTimeout > 0 {
		if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
			return err
		}
	}
	return t.bw.Flush()
}

// SplitConn detaches the stream into read and write halves. The halves
// address disjoint directions of the socket, so each may live in its
// own owner without locking.
func (t *TCPStream) SplitConn() (ConnReader, ConnWriter, error) {
	return &tcpReader{stream: t}, &tcpWriter{stream: t}, nil
}

// Shutdown closes both directions in order, falling back to Close for
// connections that cannot half-close (e.g. proxied ones).
func (t *TCPStream) Shutdown() error {
	if err := t.Flush(); err != nil && !IsWouldBlock(err) {
		logrus.WithFields(logrus.Fields{
			"function": "TCPStream.Shutdown",
			"error":    err.Error(),
		}).Debug("Flush before shutdown failed")
	}
	if tc, ok := t.conn.(*net.TCPConn); ok {
		if err := tc.CloseRead(); err != nil {
			return tc.Close()
		}
		if err := tc.CloseWrite(); err != nil {
			return tc.Close()
		}
		return tc.Close()
	}
	return t.conn.Close()
}

// Close closes the underlying socket.
func (t *TCPStream) Close() error {
	return t.conn.Close()
}

// SetReadTimeout bounds each read issued in non-blocking mode.
func (t *TCPStream) SetReadTimeout(d time.Duration) error {
	t.readTimeout = d
	return nil
}

// SetWriteTimeout bounds each write issued in non-blocking mode.
func (t *TCPStream) SetWriteTimeout(d time.Duration) error {
	t.writeTimeout = d
	return nil
}

// SetNonblocking switches the stream into bounded-wait mode: every
// subsequent read and write carries a deadline derived from the
// configured timeouts, and expiry surfaces as a would-block condition.
func (t *TCPStream) SetNonblocking(nonblocking bool) error {
	t.nonblocking = nonblocking
	if !nonblocking {
		if err := t.conn.SetDeadline(time.Time{}); err != nil {
			return err
		}
	}
	return nil
}

// LocalAddr returns the local socket address.
func (t *TCPStream) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}

// RemoteAddr returns the remote socket address.
func (t *TCPStream) RemoteAddr() net.Addr {
	return t.conn.RemoteAddr()
}

// Fd returns the socket descriptor for reactor registration.
func (t *TCPStream) Fd() int {
	return t.fd
}

// tcpReader is the read half of a split TCPStream. It only ever touches
// the read direction of the shared socket.
type tcpReader struct {
	stream *TCPStream
}

func (r *tcpReader) Read(p []byte) (int, error) {
	return r.stream.Read(p)
}

// joinConn rejoins the halves of one stream.
func (r *tcpReader) joinConn(w ConnWriter) (Conn, error) {
	tw, ok := w.(*tcpWriter)
	if !ok || tw.stream != r.stream {
		return nil, newNetError("join", "", ErrSessionMismatch)
	}
	return r.stream, nil
}

// tcpWriter is the write half of a split TCPStream. It only ever
// touches the write direction of the shared socket.
type tcpWriter struct {
	stream *TCPStream
}

func (w *tcpWriter) Write(p []byte) (int, error) {
	return w.stream.Write(p)
}

func (w *tcpWriter) Flush() error {
	return w.stream.Flush()
}

// TCPListener implements Listener over a TCP listening socket.
type TCPListener struct {
	listener      *net.TCPListener
	acceptTimeout time.Duration
	fd            int
}

// ListenTCP opens a listening socket on addr. Accepts are bounded by
// the given timeout so a spurious readiness event cannot stall the
// caller indefinitely.
func ListenTCP(addr string, acceptTimeout time.Duration) (*TCPListener, error) {
	laddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, newNetError("resolve", addr, err)
	}
	l, err := net.ListenTCP("tcp", laddr)
	if err != nil {
		return nil, newNetError("listen", addr, err)
	}

	fd := -1
	if raw, err := l.SyscallConn(); err == nil {
		_ = raw.Control(func(f uintptr) { fd = int(f) })
	}

	return &TCPListener{
		listener:      l,
		acceptTimeout: acceptTimeout,
		fd:            fd,
	}, nil
}

// Accept takes one pending connection.
func (l *TCPListener) Accept() (Conn, error) {
	if l.acceptTimeout > 0 {
		if err := l.listener.SetDeadline(time.Now().Add(l.acceptTimeout)); err != nil {
			return nil, err
		}
	}
	conn, err := l.listener.AcceptTCP()
	if err != nil {
		return nil, err
	}
	return newTCPStream(conn), nil
}

// Addr returns the listening address.
func (l *TCPListener) Addr() net.Addr {
	return l.listener.Addr()
}

// Close closes the listening socket.
func (l *TCPListener) Close() error {
	return l.listener.Close()
}

// Fd returns the listening socket descriptor for reactor registration.
func (l *TCPListener) Fd() int {
	return l.fd
}
