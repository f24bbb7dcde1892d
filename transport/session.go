package transport

import (
	"net"
	"time"

	"github.com/opd-ai/noisewire/crypto"
)

// Session is the capability contract every concrete session type must
// satisfy so the lifecycle layer stays transport-agnostic. A session
// multiplexes handshake and application traffic through the same Read
// and Write entry points: until the handshake completes, Read consumes
// handshake bytes and reports zero application bytes, and Write drives
// outgoing handshake messages instead of caller plaintext. A single
// zero-length Read result with HandshakeCompleted() true signals that
// the handshake has just finished.
type Session interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)

	// Flush drains buffered outbound bytes, driving pending handshake
	// messages first when the session is not yet established.
	Flush() error

	// HandshakeCompleted reports whether the session is established.
	HandshakeCompleted() bool

	// PeerIdentity returns the peer's verified public key. The second
	// result is false until the peer address has been promoted.
	PeerIdentity() (crypto.PublicKey, bool)

	// TransientAddr returns the session's peer address in whichever
	// variant it currently holds.
	TransientAddr() *XKAddr

	LocalAddr() net.Addr

	SetReadTimeout(d time.Duration) error
	SetWriteTimeout(d time.Duration) error
	SetNonblocking(nonblocking bool) error

	// Fd returns the raw descriptor identity for reactor registration.
	Fd() int

	// Disconnect performs an orderly shutdown of the underlying
	// connection in both directions.
	Disconnect() error
}

// SessionReader is the read half of a split session: the verified peer
// address, the connection's read half, and the decrypting cipher state.
// It is independently ownable; nothing it touches is shared with the
// corresponding SessionWriter.
type SessionReader struct {
	peer    PeerAddr
	reader  ConnReader
	decrypt decryptHalf
	frames  frameReader
	pending []byte
}

// PeerAddr returns the verified peer address recorded at split time.
func (r *SessionReader) PeerAddr() PeerAddr {
	return r.peer
}

// Read decrypts the next inbound frame and copies plaintext into p.
// Plaintext that does not fit is retained for subsequent reads.
func (r *SessionReader) Read(p []byte) (int, error) {
	if len(r.pending) > 0 {
		n := copy(p, r.pending)
		r.pending = r.pending[n:]
		return n, nil
	}
	frame, err := r.frames.next(r.reader)
	if err != nil {
		return 0, err
	}
	plaintext, err := r.decrypt.Decrypt(frame)
	if err != nil {
		return 0, newNetError("decrypt", r.peer.Addr, err)
	}
	n := copy(p, plaintext)
	if n < len(plaintext) {
		r.pending = append(r.pending, plaintext[n:]...)
	}
	return n, nil
}

// SessionWriter is the write half of a split session: the verified peer
// address, the connection's write half, and the encrypting cipher state.
type SessionWriter struct {
	peer    PeerAddr
	writer  ConnWriter
	encrypt encryptHalf
}

// PeerAddr returns the verified peer address recorded at split time.
func (w *SessionWriter) PeerAddr() PeerAddr {
	return w.peer
}

// Write encrypts p and sends the ciphertext, chunked to the Noise
// message limit. It reports the number of plaintext bytes consumed.
func (w *SessionWriter) Write(p []byte) (int, error) {
	written, err := writeCiphertext(w.writer, w.encrypt, p)
	if err != nil {
		return written, newNetError("write", w.peer.Addr, err)
	}
	return written, nil
}

// Flush drains buffered ciphertext to the socket.
func (w *SessionWriter) Flush() error {
	return w.writer.Flush()
}

// encryptHalf and decryptHalf are the cipher capabilities the split
// halves carry; satisfied by noise.Encryptor and noise.Decryptor.
type encryptHalf interface {
	Encrypt(plaintext []byte) ([]byte, error)
}

type decryptHalf interface {
	Decrypt(ciphertext []byte) ([]byte, error)
}
