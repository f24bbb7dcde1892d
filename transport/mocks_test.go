package transport

import (
	"bytes"
	"errors"
	"io"
	"net"
	"time"

	"github.com/opd-ai/noisewire/crypto"
)

// timeoutError mimics the bounded-wait expiry a non-blocking socket
// surfaces when nothing is available.
type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

// memPipe is one direction of an in-memory connection pair.
type memPipe struct {
	buf    bytes.Buffer
	closed bool
}

// memConn implements Conn over a pair of in-memory pipes. Reads on an
// empty pipe report a would-block timeout, matching the behavior of a
// readiness-driven socket; reads on a closed, drained pipe report EOF.
type memConn struct {
	in     *memPipe
	out    *memPipe
	local  net.Addr
	remote net.Addr
}

// newMemPair returns two connected in-memory connections.
func newMemPair() (*memConn, *memConn) {
	atob := &memPipe{}
	btoa := &memPipe{}
	addrA := &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40001}
	addrB := &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40002}
	a := &memConn{in: btoa, out: atob, local: addrA, remote: addrB}
	b := &memConn{in: atob, out: btoa, local: addrB, remote: addrA}
	return a, b
}

func (c *memConn) Read(p []byte) (int, error) {
	if c.in.buf.Len() == 0 {
		if c.in.closed {
			return 0, io.EOF
		}
		return 0, timeoutError{}
	}
	return c.in.buf.Read(p)
}

func (c *memConn) Write(p []byte) (int, error) {
	if c.out.closed {
		return 0, errors.New("write on closed pipe")
	}
	return c.out.buf.Write(p)
}

func (c *memConn) Flush() error { return nil }

func (c *memConn) SplitConn() (ConnReader, ConnWriter, error) {
	return &memReader{conn: c}, &memWriter{conn: c}, nil
}

func (c *memConn) Shutdown() error {
	c.out.closed = true
	return nil
}

func (c *memConn) Close() error {
	c.out.closed = true
	return nil
}

func (c *memConn) SetReadTimeout(time.Duration) error  { return nil }
func (c *memConn) SetWriteTimeout(time.Duration) error { return nil }
func (c *memConn) SetNonblocking(bool) error           { return nil }

func (c *memConn) LocalAddr() net.Addr  { return c.local }
func (c *memConn) RemoteAddr() net.Addr { return c.remote }
func (c *memConn) Fd() int              { return -1 }

type memReader struct {
	conn *memConn
}

func (r *memReader) Read(p []byte) (int, error) {
	return r.conn.Read(p)
}

func (r *memReader) joinConn(w ConnWriter) (Conn, error) {
	mw, ok := w.(*memWriter)
	if !ok || mw.conn != r.conn {
		return nil, newNetError("join", "", ErrSessionMismatch)
	}
	return r.conn, nil
}

type memWriter struct {
	conn *memConn
}

func (w *memWriter) Write(p []byte) (int, error) {
	return w.conn.Write(p)
}

func (w *memWriter) Flush() error { return nil }

// mockSession scripts Session behavior for the transport state machine
// tests, keeping them independent of real sockets.
type mockSession struct {
	readN     int
	readErr   error
	fill      byte
	completed bool
	peer      crypto.PublicKey
	hasPeer   bool
	flushErr  error

	readTimeout  time.Duration
	writeTimeout time.Duration
	nonblocking  bool
	disconnected bool
}

func (m *mockSession) Read(p []byte) (int, error) {
	n := m.readN
	if n > len(p) {
		n = len(p)
	}
	for i := 0; i < n; i++ {
		p[i] = m.fill
	}
	return n, m.readErr
}

func (m *mockSession) Write(p []byte) (int, error) { return len(p), nil }
func (m *mockSession) Flush() error                { return m.flushErr }

func (m *mockSession) HandshakeCompleted() bool { return m.completed }

func (m *mockSession) PeerIdentity() (crypto.PublicKey, bool) {
	return m.peer, m.hasPeer
}

func (m *mockSession) TransientAddr() *XKAddr {
	return PartialAddr("127.0.0.1:40001")
}

func (m *mockSession) LocalAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000}
}

func (m *mockSession) SetReadTimeout(d time.Duration) error {
	m.readTimeout = d
	return nil
}

func (m *mockSession) SetWriteTimeout(d time.Duration) error {
	m.writeTimeout = d
	return nil
}

func (m *mockSession) SetNonblocking(nb bool) error {
	m.nonblocking = nb
	return nil
}

func (m *mockSession) Fd() int { return 99 }

func (m *mockSession) Disconnect() error {
	m.disconnected = true
	return nil
}
