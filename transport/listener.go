package transport

import (
	"net"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/noisewire/crypto"
)

// NetAccept wraps a listening socket together with the local identity
// used to answer handshakes. It is read/accept-only: the type exposes
// no write methods, so writing to a listener is impossible rather than
// merely forbidden.
type NetAccept struct {
	keys     *crypto.KeyPair
	cfg      Config
	listener Listener
}

// Bind opens a listening socket on addr. Accepted connections inherit
// the socket tuning from cfg and are wrapped in responder-role sessions
// bound to keys.
func Bind(addr string, keys *crypto.KeyPair, cfg Config) (*NetAccept, error) {
	listener, err := ListenTCP(addr, cfg.ReadTimeout.Duration)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":   "Bind",
		"local_addr": listener.Addr().String(),
	}).Info("Listener bound")

	return &NetAccept{
		keys:     keys,
		cfg:      cfg,
		listener: listener,
	}, nil
}

// NewAccept wraps a caller-supplied listener capability, for transports
// other than plain TCP.
func NewAccept(listener Listener, keys *crypto.KeyPair, cfg Config) *NetAccept {
	return &NetAccept{
		keys:     keys,
		cfg:      cfg,
		listener: listener,
	}
}

// LocalAddr returns the listening address.
func (a *NetAccept) LocalAddr() net.Addr {
	return a.listener.Addr()
}

// Fd returns the listening descriptor for reactor registration.
func (a *NetAccept) Fd() int {
	return a.listener.Fd()
}

// handleAccept performs exactly one accept, applies the socket tuning
// and wraps the connection in a responder-role session.
func (a *NetAccept) handleAccept() (*NoiseSession, error) {
	conn, err := a.listener.Accept()
	if err != nil {
		return nil, err
	}
	if err := conn.SetReadTimeout(a.cfg.ReadTimeout.Duration); err != nil {
		return nil, err
	}
	if err := conn.SetWriteTimeout(a.cfg.WriteTimeout.Duration); err != nil {
		return nil, err
	}
	if err := conn.SetNonblocking(true); err != nil {
		return nil, err
	}
	return AcceptSession(conn, a.keys)
}

// HandleIO performs at most one non-blocking accept per accept-readiness
// event, yielding exactly one Accepted or Failure outcome. Events that
// do not indicate accept readiness yield nothing.
func (a *NetAccept) HandleIO(ev IOEvent) ListenerEvent {
	if !ev.Readable {
		return nil
	}
	session, err := a.handleAccept()
	if err != nil {
		if IsWouldBlock(err) {
			// Spurious wakeup; nothing pending.
			return nil
		}
		logrus.WithFields(logrus.Fields{
			"function":   "NetAccept.HandleIO",
			"local_addr": a.listener.Addr().String(),
			"error":      err.Error(),
		}).Warn("Accept failed")
		return Failure{Err: err}
	}
	return Accepted{Session: session}
}

// Disconnect closes the listening socket.
func (a *NetAccept) Disconnect() error {
	return a.listener.Close()
}
