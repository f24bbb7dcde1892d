package noise

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/flynn/noise"
	"github.com/opd-ai/noisewire/crypto"
)

var (
	// ErrHandshakeNotComplete indicates handshake is still in progress
	ErrHandshakeNotComplete = errors.New("handshake not complete")
	// ErrHandshakeComplete indicates handshake is already complete
	ErrHandshakeComplete = errors.New("handshake already complete")
	// ErrMessageTooLarge indicates a payload exceeding the Noise message limit
	ErrMessageTooLarge = errors.New("message exceeds noise length limit")
	// ErrDetached indicates use of a transcoder whose cipher states were
	// handed off by Split
	ErrDetached = errors.New("cipher states detached by split")
)

// MaxMessageLen is the Noise protocol message size limit in bytes.
const MaxMessageLen = 65535

// Role defines whether we initiate or respond to a handshake.
type Role uint8

const (
	// Initiator starts the handshake and knows the responder's static key.
	Initiator Role = iota
	// Responder answers a handshake without prior knowledge of the
	// initiator's static key.
	Responder
)

// String returns the role name for logging.
func (r Role) String() string {
	if r == Initiator {
		return "initiator"
	}
	return "responder"
}

// Encryptor is the write half of a split transcoder. It owns the send
// cipher state exclusively and may be used without synchronization
// against the corresponding Decryptor.
type Encryptor struct {
	cipher *noise.CipherState
}

// Encrypt encrypts plaintext for transmission to the peer.
func (e *Encryptor) Encrypt(plaintext []byte) ([]byte, error) {
	if len(plaintext) > MaxMessageLen-16 {
		return nil, ErrMessageTooLarge
	}
	return e.cipher.Encrypt(nil, nil, plaintext)
}

// Decryptor is the read half of a split transcoder. It owns the receive
// cipher state exclusively.
type Decryptor struct {
	cipher *noise.CipherState
}

// Decrypt decrypts a ciphertext received from the peer.
func (d *Decryptor) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) > MaxMessageLen {
		return nil, ErrMessageTooLarge
	}
	return d.cipher.Decrypt(nil, nil, ciphertext)
}

// XKTranscoder drives a Noise XK handshake and, once the handshake is
// complete, holds the resulting AEAD cipher states. XK runs in three
// messages (-> e, es / <- e, ee / -> s, se); the initiator must know the
// responder's static public key in advance, and the responder learns the
// initiator's static key from the final message.
type XKTranscoder struct {
	role     Role
	state    *noise.HandshakeState
	send     *noise.CipherState
	recv     *noise.CipherState
	complete bool
	step     int
}

// NewXKTranscoder creates an XK handshake transcoder.
// staticPriv is our long-term Curve25519 private key (32 bytes).
// peerPub is the responder's static public key; it is required for the
// initiator and must be nil for the responder.
func NewXKTranscoder(staticPriv, peerPub []byte, role Role) (*XKTranscoder, error) {
	if len(staticPriv) != crypto.KeySize {
		return nil, fmt.Errorf("static private key must be 32 bytes, got %d", len(staticPriv))
	}
	if role == Initiator && len(peerPub) != crypto.KeySize {
		return nil, fmt.Errorf("initiator requires peer public key (32 bytes), got %d", len(peerPub))
	}
	if role == Responder && peerPub != nil {
		return nil, errors.New("responder must not supply a peer public key")
	}

	var privateKeyArray [crypto.KeySize]byte
	copy(privateKeyArray[:], staticPriv)

	keyPair, err := crypto.FromSecretKey(privateKeyArray)
	if err != nil {
		crypto.ZeroBytes(privateKeyArray[:])
		return nil, fmt.Errorf("failed to derive keypair: %w", err)
	}

	staticKey := noise.DHKey{
		Private: make([]byte, crypto.KeySize),
		Public:  make([]byte, crypto.KeySize),
	}
	copy(staticKey.Private, keyPair.Private[:])
	copy(staticKey.Public, keyPair.Public[:])
	crypto.ZeroBytes(privateKeyArray[:])

	cipherSuite := noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashSHA256)
	config := noise.Config{
		CipherSuite:   cipherSuite,
		Random:        rand.Reader,
		Pattern:       noise.HandshakeXK,
		Initiator:     role == Initiator,
		StaticKeypair: staticKey,
	}
	if role == Initiator {
		config.PeerStatic = make([]byte, crypto.KeySize)
		copy(config.PeerStatic, peerPub)
	}

	state, err := noise.NewHandshakeState(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create handshake state: %w", err)
	}

	return &XKTranscoder{
		role:  role,
		state: state,
	}, nil
}

// Advance consumes one received handshake message and produces the next
// message to send, if any. The initiator's opening call passes a nil
// received message. A nil send result with a nil error means the
// handshake finished without needing a further message on the wire.
func (t *XKTranscoder) Advance(received []byte) ([]byte, error) {
	if t.complete {
		return nil, ErrHandshakeComplete
	}
	if t.role == Initiator {
		return t.advanceInitiator(received)
	}
	return t.advanceResponder(received)
}

// advanceInitiator writes message 1 on the opening call and turns
// message 2 into message 3 afterwards, completing the handshake.
func (t *XKTranscoder) advanceInitiator(received []byte) ([]byte, error) {
	switch t.step {
	case 0:
		if received != nil {
			return nil, errors.New("initiator opens the handshake; unexpected received message")
		}
		msg, _, _, err := t.state.WriteMessage(nil, nil)
		if err != nil {
			return nil, fmt.Errorf("initiator write failed: %w", err)
		}
		t.step++
		return msg, nil
	case 1:
		if _, _, _, err := t.state.ReadMessage(nil, received); err != nil {
			return nil, fmt.Errorf("initiator read failed: %w", err)
		}
		msg, send, recv, err := t.state.WriteMessage(nil, nil)
		if err != nil {
			return nil, fmt.Errorf("initiator final write failed: %w", err)
		}
		t.finish(send, recv)
		return msg, nil
	default:
		return nil, ErrHandshakeComplete
	}
}

// advanceResponder turns message 1 into message 2 and consumes message 3,
// completing the handshake without a further message.
func (t *XKTranscoder) advanceResponder(received []byte) ([]byte, error) {
	if received == nil {
		return nil, errors.New("responder requires a received message")
	}
	switch t.step {
	case 0:
		if _, _, _, err := t.state.ReadMessage(nil, received); err != nil {
			return nil, fmt.Errorf("responder read failed: %w", err)
		}
		msg, _, _, err := t.state.WriteMessage(nil, nil)
		if err != nil {
			return nil, fmt.Errorf("responder write failed: %w", err)
		}
		t.step++
		return msg, nil
	case 1:
		_, recv, send, err := t.state.ReadMessage(nil, received)
		if err != nil {
			return nil, fmt.Errorf("responder final read failed: %w", err)
		}
		t.finish(send, recv)
		return nil, nil
	default:
		return nil, ErrHandshakeComplete
	}
}

// finish records the cipher states produced by the final handshake
// message. flynn/noise returns them in fixed protocol order (first
// carries initiator-to-responder traffic, second the reverse), so each
// role maps them onto send/recv from its own side.
func (t *XKTranscoder) finish(send, recv *noise.CipherState) {
	t.send = send
	t.recv = recv
	t.complete = true
	t.step++
}

// IsComplete reports whether the handshake has finished and cipher
// states are available.
func (t *XKTranscoder) IsComplete() bool {
	return t.complete
}

// Role returns the transcoder's handshake role.
func (t *XKTranscoder) Role() Role {
	return t.role
}

// RemoteStaticKey returns the peer's verified static public key. It is
// only available once the handshake is complete; for the responder this
// is the identity learned from the final XK message.
func (t *XKTranscoder) RemoteStaticKey() (crypto.PublicKey, error) {
	var pk crypto.PublicKey
	if !t.complete {
		return pk, ErrHandshakeNotComplete
	}
	if t.state == nil {
		// Rebuilt from split halves; the handshake transcript is gone.
		return pk, errors.New("remote static key not available")
	}
	remote := t.state.PeerStatic()
	if len(remote) != crypto.KeySize {
		return pk, errors.New("remote static key not available")
	}
	copy(pk[:], remote)
	return pk, nil
}

// Encrypt encrypts plaintext with the session's send cipher.
func (t *XKTranscoder) Encrypt(plaintext []byte) ([]byte, error) {
	if !t.complete {
		return nil, ErrHandshakeNotComplete
	}
	if t.send == nil {
		return nil, ErrDetached
	}
	if len(plaintext) > MaxMessageLen-16 {
		return nil, ErrMessageTooLarge
	}
	return t.send.Encrypt(nil, nil, plaintext)
}

// Decrypt decrypts a ciphertext with the session's receive cipher.
func (t *XKTranscoder) Decrypt(ciphertext []byte) ([]byte, error) {
	if !t.complete {
		return nil, ErrHandshakeNotComplete
	}
	if t.recv == nil {
		return nil, ErrDetached
	}
	if len(ciphertext) > MaxMessageLen {
		return nil, ErrMessageTooLarge
	}
	return t.recv.Decrypt(nil, nil, ciphertext)
}

// Split detaches the transcoder into an independently owned Encryptor
// and Decryptor. The two halves share no state: the send and receive
// ciphers are disjoint, so the halves may live in different owners
// without synchronization. The transcoder is unusable afterwards; every
// further cipher operation reports ErrDetached.
func (t *XKTranscoder) Split() (*Encryptor, *Decryptor, error) {
	if !t.complete {
		return nil, nil, ErrHandshakeNotComplete
	}
	if t.send == nil || t.recv == nil {
		return nil, nil, ErrDetached
	}
	enc := &Encryptor{cipher: t.send}
	dec := &Decryptor{cipher: t.recv}
	t.send = nil
	t.recv = nil
	return enc, dec, nil
}

// JoinTranscoder reconstructs a transcoder from previously split halves.
// The result is complete and continues both cipher states exactly where
// the halves left off.
func JoinTranscoder(enc *Encryptor, dec *Decryptor) *XKTranscoder {
	return &XKTranscoder{
		send:     enc.cipher,
		recv:     dec.cipher,
		complete: true,
	}
}
