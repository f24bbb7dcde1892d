package transport

import (
	"encoding/binary"
	"io"
	"net"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"

	"github.com/opd-ai/noisewire/crypto"
	"github.com/opd-ai/noisewire/noise"
)

// frameHeaderLen is the length prefix carried before every handshake
// message and ciphertext on the wire.
const frameHeaderLen = 2

// maxPlaintextLen is the largest plaintext chunk a single Noise message
// can carry after the 16-byte AEAD tag.
const maxPlaintextLen = noise.MaxMessageLen - 16

// NoiseSession is an XK-authenticated session over a raw stream
// connection. It owns the connection, the handshake/cipher transcoder
// and the peer address exclusively until split.
//
// The handshake consumes the same Read/Write entry points used for
// application data, distinguished only by the established flag, so the
// lifecycle layer can treat both phases uniformly from a readiness
// perspective.
type NoiseSession struct {
	remoteAddr  *XKAddr
	conn        Conn
	transcoder  *noise.XKTranscoder
	established bool

	initiator   bool
	sentInitial bool
	detached    bool        // halves handed off by Split
	frames      frameReader // partially received wire frame
	pending     []byte      // decrypted plaintext not yet consumed
}

// AcceptSession wraps an accepted connection in a responder-role
// session. It fails only if the local identity cannot serve as
// handshake key material, which is a configuration error rather than an
// operational one.
func AcceptSession(conn Conn, keys *crypto.KeyPair) (*NoiseSession, error) {
	transcoder, err := noise.NewXKTranscoder(keys.Private[:], nil, noise.Responder)
	if err != nil {
		return nil, newNetError("accept", conn.RemoteAddr().String(), err)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "AcceptSession",
		"remote_addr": conn.RemoteAddr().String(),
	}).Debug("Responder session created")

	return &NoiseSession{
		remoteAddr: PartialAddr(conn.RemoteAddr().String()),
		conn:       conn,
		transcoder: transcoder,
	}, nil
}

// InitiateSession wraps a caller-supplied connection in an
// initiator-role session bound to the declared peer identity.
func InitiateSession(conn Conn, peer PeerAddr, keys *crypto.KeyPair) (*NoiseSession, error) {
	if isZeroPublicKey(peer.Key) {
		return nil, newNetError("connect", peer.Addr, ErrInvalidPeerKey)
	}
	transcoder, err := noise.NewXKTranscoder(keys.Private[:], peer.Key[:], noise.Initiator)
	if err != nil {
		return nil, newNetError("connect", peer.Addr, err)
	}

	return &NoiseSession{
		remoteAddr: FullAddr(peer),
		conn:       conn,
		transcoder: transcoder,
		initiator:  true,
	}, nil
}

// ConnectSession dials the peer's network address through the given
// dialer (direct or SOCKS5) and returns an initiator-role session. The
// handshake has not run yet; it is driven by subsequent reads and
// writes.
func ConnectSession(peer PeerAddr, keys *crypto.KeyPair, dialer proxy.Dialer) (*NoiseSession, error) {
	if isZeroPublicKey(peer.Key) {
		return nil, newNetError("connect", peer.Addr, ErrInvalidPeerKey)
	}
	conn, err := DialTCP(peer.Addr, dialer)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":    "ConnectSession",
		"remote_addr": peer.Addr,
		"peer_key":    peer.Key.String()[:16],
	}).Debug("Initiator session created")

	return InitiateSession(conn, peer, keys)
}

// isZeroPublicKey checks for the all-zero key, which is not a valid
// Curve25519 point for authentication purposes.
func isZeroPublicKey(pk crypto.PublicKey) bool {
	for _, b := range pk {
		if b != 0 {
			return false
		}
	}
	return true
}

// Read returns decrypted application bytes. Until the handshake
// completes it instead feeds incoming bytes into the handshake
// exchange and reports zero application bytes; the zero-length result
// after which HandshakeCompleted reports true marks the moment the
// session became established.
func (s *NoiseSession) Read(p []byte) (int, error) {
	if s.detached {
		return 0, newNetError("read", s.remoteAddr.RawAddr(), ErrSessionDetached)
	}
	if !s.established {
		return 0, s.advanceHandshake(true)
	}

	if len(s.pending) > 0 {
		n := copy(p, s.pending)
		s.pending = s.pending[n:]
		return n, nil
	}

	frame, err := s.frames.next(s.conn)
	if err != nil {
		return 0, err
	}
	plaintext, err := s.transcoder.Decrypt(frame)
	if err != nil {
		return 0, newNetError("decrypt", s.remoteAddr.RawAddr(), err)
	}
	n := copy(p, plaintext)
	if n < len(plaintext) {
		s.pending = append(s.pending, plaintext[n:]...)
	}
	return n, nil
}

// Write encrypts p and sends the ciphertext, reporting the number of
// plaintext bytes consumed. Before the handshake completes it drives
// outgoing handshake messages instead and consumes none of p.
func (s *NoiseSession) Write(p []byte) (int, error) {
	if s.detached {
		return 0, newNetError("write", s.remoteAddr.RawAddr(), ErrSessionDetached)
	}
	if !s.established {
		if err := s.advanceHandshake(false); err != nil && !IsWouldBlock(err) {
			return 0, err
		}
		return 0, nil
	}
	return writeCiphertext(s.conn, s.transcoder, p)
}

// Flush drains buffered outbound bytes. Before establishment it first
// pushes any pending handshake message onto the wire.
func (s *NoiseSession) Flush() error {
	if s.detached {
		return newNetError("flush", s.remoteAddr.RawAddr(), ErrSessionDetached)
	}
	if !s.established {
		if err := s.advanceHandshake(false); err != nil && !IsWouldBlock(err) {
			return err
		}
		return nil
	}
	return s.conn.Flush()
}

// advanceHandshake moves the XK exchange forward by at most one
// message in each direction. The initiator's opening message is sent
// eagerly; received messages are consumed only when canRead is set.
func (s *NoiseSession) advanceHandshake(canRead bool) error {
	if s.initiator && !s.sentInitial {
		msg, err := s.transcoder.Advance(nil)
		if err != nil {
			return newNetError("handshake", s.remoteAddr.RawAddr(), err)
		}
		if err := writeFrame(s.conn, msg); err != nil {
			return err
		}
		s.sentInitial = true
	}

	if !canRead || s.transcoder.IsComplete() {
		return s.maybeEstablish()
	}

	received, err := s.frames.next(s.conn)
	if err != nil {
		return err
	}
	response, err := s.transcoder.Advance(received)
	if err != nil {
		return newNetError("handshake", s.remoteAddr.RawAddr(), err)
	}
	if response != nil {
		if err := writeFrame(s.conn, response); err != nil {
			return err
		}
	}
	return s.maybeEstablish()
}

// maybeEstablish promotes the peer address with the identity produced
// by the handshake and flips the established flag, exactly once, as
// soon as the transcoder reports completion.
func (s *NoiseSession) maybeEstablish() error {
	if s.established || !s.transcoder.IsComplete() {
		return nil
	}
	remote, err := s.transcoder.RemoteStaticKey()
	if err != nil {
		return newNetError("handshake", s.remoteAddr.RawAddr(), err)
	}
	promoted := s.remoteAddr.Upgrade(remote)
	s.established = true

	logrus.WithFields(logrus.Fields{
		"function":    "NoiseSession.maybeEstablish",
		"remote_addr": s.remoteAddr.RawAddr(),
		"peer_key":    remote.String()[:16],
		"promoted":    promoted,
		"initiator":   s.initiator,
	}).Info("Session established")

	return nil
}

// HandshakeCompleted reports whether the session is established.
func (s *NoiseSession) HandshakeCompleted() bool {
	return s.established
}

// PeerIdentity returns the peer's verified public key; the second
// result is false while the peer address is still partial.
func (s *NoiseSession) PeerIdentity() (crypto.PublicKey, bool) {
	peer, ok := s.remoteAddr.Verified()
	if !ok {
		return crypto.PublicKey{}, false
	}
	return peer.Key, true
}

// TransientAddr returns the peer address in its current variant.
func (s *NoiseSession) TransientAddr() *XKAddr {
	return s.remoteAddr
}

// PeerAddr returns the verified peer address once the handshake has
// completed (or, for the initiator, the declared one).
func (s *NoiseSession) PeerAddr() (PeerAddr, bool) {
	return s.remoteAddr.Verified()
}

// LocalAddr returns the local socket address.
func (s *NoiseSession) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// SetReadTimeout bounds reads on the underlying connection.
func (s *NoiseSession) SetReadTimeout(d time.Duration) error {
	return s.conn.SetReadTimeout(d)
}

// SetWriteTimeout bounds writes on the underlying connection.
func (s *NoiseSession) SetWriteTimeout(d time.Duration) error {
	return s.conn.SetWriteTimeout(d)
}

// SetNonblocking toggles bounded-wait mode on the underlying connection.
func (s *NoiseSession) SetNonblocking(nonblocking bool) error {
	return s.conn.SetNonblocking(nonblocking)
}

// Fd returns the connection descriptor for reactor registration.
func (s *NoiseSession) Fd() int {
	return s.conn.Fd()
}

// Disconnect performs an orderly shutdown of the connection in both
// directions.
func (s *NoiseSession) Disconnect() error {
	return s.conn.Shutdown()
}

// Split detaches an established session into independently owned read
// and write halves, both tagged with the now-verified peer address. On
// a session that is not established it fails with ErrNotEstablished and
// leaves the session unchanged and usable. After a successful split the
// session itself is detached: every further I/O call reports
// ErrSessionDetached.
func (s *NoiseSession) Split() (*SessionReader, *SessionWriter, error) {
	if s.detached {
		return nil, nil, newNetError("split", s.remoteAddr.RawAddr(), ErrSessionDetached)
	}
	if !s.established {
		return nil, nil, newNetError("split", s.remoteAddr.RawAddr(), ErrNotEstablished)
	}
	peer, ok := s.remoteAddr.Verified()
	if !ok {
		// established implies a promoted address
		return nil, nil, newNetError("split", s.remoteAddr.RawAddr(), ErrNotEstablished)
	}

	reader, writer, err := s.conn.SplitConn()
	if err != nil {
		return nil, nil, newNetError("split", s.remoteAddr.RawAddr(), err)
	}
	enc, dec, err := s.transcoder.Split()
	if err != nil {
		return nil, nil, newNetError("split", s.remoteAddr.RawAddr(), err)
	}

	pending := s.pending
	frames := s.frames
	s.pending = nil
	s.frames = frameReader{}
	s.detached = true

	return &SessionReader{
			peer:    peer,
			reader:  reader,
			decrypt: dec,
			frames:  frames,
			pending: pending,
		}, &SessionWriter{
			peer:    peer,
			writer:  writer,
			encrypt: enc,
		}, nil
}

// JoinSession reconstructs a fully active session from previously split
// halves. The halves must record the same verified peer address;
// mismatched halves are never merged.
func JoinSession(reader *SessionReader, writer *SessionWriter) (*NoiseSession, error) {
	if reader.peer != writer.peer {
		return nil, newNetError("join", reader.peer.Addr, ErrSessionMismatch)
	}

	enc, okE := writer.encrypt.(*noise.Encryptor)
	dec, okD := reader.decrypt.(*noise.Decryptor)
	if !okE || !okD {
		return nil, newNetError("join", reader.peer.Addr, ErrSessionMismatch)
	}

	conn, err := JoinConn(reader.reader, writer.writer)
	if err != nil {
		return nil, err
	}

	return &NoiseSession{
		remoteAddr:  FullAddr(reader.peer),
		conn:        conn,
		transcoder:  noise.JoinTranscoder(enc, dec),
		established: true,
		frames:      reader.frames,
		pending:     reader.pending,
	}, nil
}

// frameReader accumulates one length-prefixed wire frame across read
// calls. A would-block expiry mid-frame keeps the bytes received so
// far; the retried read resumes at the same offset instead of
// misparsing the stream.
type frameReader struct {
	header [frameHeaderLen]byte
	have   int    // header bytes received
	frame  []byte // body, allocated once the header is complete
	filled int    // body bytes received
}

// next returns the next complete frame, or the error that interrupted
// it. Interrupted progress is retained for the following call.
func (f *frameReader) next(r io.Reader) ([]byte, error) {
	for f.have < frameHeaderLen {
		n, err := r.Read(f.header[f.have:])
		f.have += n
		if err != nil {
			return nil, err
		}
	}
	if f.frame == nil {
		f.frame = make([]byte, binary.BigEndian.Uint16(f.header[:]))
		f.filled = 0
	}
	for f.filled < len(f.frame) {
		n, err := r.Read(f.frame[f.filled:])
		f.filled += n
		if err != nil {
			return nil, err
		}
	}
	frame := f.frame
	f.have = 0
	f.frame = nil
	f.filled = 0
	return frame, nil
}

// writeFrame writes one length-prefixed wire frame and flushes it.
func writeFrame(w ConnWriter, frame []byte) error {
	if len(frame) > noise.MaxMessageLen {
		return noise.ErrMessageTooLarge
	}
	var header [frameHeaderLen]byte
	binary.BigEndian.PutUint16(header[:], uint16(len(frame)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return err
	}
	return w.Flush()
}

// writeCiphertext encrypts p in Noise-sized chunks and writes each as
// one frame, reporting consumed plaintext bytes.
func writeCiphertext(w ConnWriter, enc encryptHalf, p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		chunk := p
		if len(chunk) > maxPlaintextLen {
			chunk = chunk[:maxPlaintextLen]
		}
		ciphertext, err := enc.Encrypt(chunk)
		if err != nil {
			return written, err
		}
		if err := writeFrame(w, ciphertext); err != nil {
			return written, err
		}
		written += len(chunk)
		p = p[len(chunk):]
	}
	return written, nil
}
