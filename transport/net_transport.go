package transport

import (
	"net"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/noisewire/crypto"
)

// NetTransport reconciles raw socket readiness with session state. It
// owns its session exclusively and converts readiness events into
// application-level session events through an explicit three-state
// lifecycle: Handshake, Active, and the absorbing Terminated.
//
// The reactor delivers readiness to one transport serially, so the
// state machine needs no internal synchronization.
type NetTransport struct {
	state   TransportState
	session Session
	inbound bool
	cfg     Config
	scratch []byte // reused read buffer; payloads are copied out
}

// upgrade applies the socket tuning from cfg and wraps the session in a
// transport starting in the Handshake state. Transports begin life
// marked inbound; Connect flips the direction afterwards.
func upgrade(session Session, cfg Config) (*NetTransport, error) {
	if err := session.SetReadTimeout(cfg.ReadTimeout.Duration); err != nil {
		return nil, err
	}
	if err := session.SetWriteTimeout(cfg.WriteTimeout.Duration); err != nil {
		return nil, err
	}
	if err := session.SetNonblocking(true); err != nil {
		return nil, err
	}
	return &NetTransport{
		state:   StateHandshake,
		session: session,
		inbound: true,
		cfg:     cfg,
	}, nil
}

// Accept wraps an accepted session in an inbound transport.
func Accept(session Session, cfg Config) (*NetTransport, error) {
	return upgrade(session, cfg)
}

// Connect establishes an outbound session to the declared peer and
// wraps it in an outbound transport. Dialing goes through the proxy
// configured in cfg, if any.
func Connect(peer PeerAddr, keys *crypto.KeyPair, cfg Config) (*NetTransport, error) {
	dialer, err := cfg.Dialer()
	if err != nil {
		return nil, err
	}
	session, err := ConnectSession(peer, keys, dialer)
	if err != nil {
		return nil, err
	}
	transport, err := upgrade(session, cfg)
	if err != nil {
		return nil, err
	}
	transport.inbound = false
	return transport, nil
}

// IsInbound reports whether the session was accepted rather than dialed.
func (t *NetTransport) IsInbound() bool {
	return t.inbound
}

// IsOutbound reports whether the session was dialed.
func (t *NetTransport) IsOutbound() bool {
	return !t.inbound
}

// State returns the current lifecycle state.
func (t *NetTransport) State() TransportState {
	return t.state
}

// LocalAddr returns the session's local socket address.
func (t *NetTransport) LocalAddr() net.Addr {
	return t.session.LocalAddr()
}

// ExpectPeerID returns the verified peer identity. It is only valid
// once the transport is Active; earlier calls report false.
func (t *NetTransport) ExpectPeerID() (crypto.PublicKey, bool) {
	return t.session.PeerIdentity()
}

// Fd returns the descriptor identity for reactor registration.
func (t *NetTransport) Fd() int {
	return t.session.Fd()
}

// HandleIO converts one readiness event into at most one session event.
// A terminated transport produces nothing regardless of readiness.
func (t *NetTransport) HandleIO(ev IOEvent) SessionEvent {
	if t.state == StateTerminated {
		return nil
	}
	if ev.Writable {
		return t.handleWritable()
	}
	if ev.Readable {
		return t.handleReadable()
	}
	return nil
}

// handleReadable performs one bounded read and maps the outcome onto
// the state machine. Level-triggered readiness means there is no need
// to drain the socket here: the reactor will signal again while data
// remains.
func (t *NetTransport) handleReadable() SessionEvent {
	wasHandshake := t.state == StateHandshake

	if t.scratch == nil {
		t.scratch = make([]byte, t.cfg.ReadBufferSize)
	}
	n, err := t.session.Read(t.scratch)

	switch {
	case err != nil && IsWouldBlock(err):
		// Transient; the reactor re-signals when bytes arrive.
		return nil

	case err != nil && isOrderlyShutdown(err):
		return t.terminate(ErrRemoteClosed)

	case err != nil:
		return t.terminate(err)

	case n == 0 && wasHandshake:
		if t.session.HandshakeCompleted() {
			t.state = StateActive
			peer, ok := t.session.PeerIdentity()
			if !ok {
				// completion must yield a verified identity
				return t.terminate(ErrNotEstablished)
			}
			logrus.WithFields(logrus.Fields{
				"function": "NetTransport.handleReadable",
				"peer_key": peer.String()[:16],
				"inbound":  t.inbound,
			}).Debug("Transport active")
			return Established{PeerKey: peer}
		}
		// Handshake still in progress.
		return nil

	case n == 0:
		// Zero bytes past the handshake phase: orderly remote shutdown.
		return t.terminate(ErrRemoteClosed)

	case wasHandshake:
		// Application data must not precede handshake completion.
		return t.terminate(ErrPrematureData)

	default:
		// Copy out of the scratch buffer so the event does not pin it
		// and the next read cannot clobber a delivered payload.
		payload := make([]byte, n)
		copy(payload, t.scratch[:n])
		return Data{Payload: payload}
	}
}

// handleWritable flushes buffered encrypted output. Success emits
// nothing; failure terminates the transport.
func (t *NetTransport) handleWritable() SessionEvent {
	err := t.session.Flush()
	if err == nil || IsWouldBlock(err) {
		return nil
	}
	return t.terminate(err)
}

// terminate moves to the absorbing terminal state and emits the
// one-shot Terminated event.
func (t *NetTransport) terminate(err error) SessionEvent {
	t.state = StateTerminated
	logrus.WithFields(logrus.Fields{
		"function": "NetTransport.terminate",
		"inbound":  t.inbound,
		"error":    err.Error(),
	}).Debug("Transport terminated")
	return Terminated{Err: err}
}

// Write sends application bytes through the session's encryption. The
// transport must be Active.
func (t *NetTransport) Write(p []byte) (int, error) {
	if t.state == StateTerminated {
		return 0, ErrTerminated
	}
	return t.session.Write(p)
}

// Flush drains buffered outbound bytes.
func (t *NetTransport) Flush() error {
	if t.state == StateTerminated {
		return ErrTerminated
	}
	return t.session.Flush()
}

// Disconnect performs an orderly shutdown of the underlying connection.
func (t *NetTransport) Disconnect() error {
	t.state = StateTerminated
	return t.session.Disconnect()
}
