package transport

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/noisewire/crypto"
)

// newSessionPair wires an initiator and responder session over an
// in-memory connection pair.
func newSessionPair(t *testing.T) (initiator, responder *NoiseSession, initiatorKeys, responderKeys *crypto.KeyPair) {
	t.Helper()

	var err error
	initiatorKeys, err = crypto.GenerateKeyPair()
	require.NoError(t, err)
	responderKeys, err = crypto.GenerateKeyPair()
	require.NoError(t, err)

	connA, connB := newMemPair()

	responder, err = AcceptSession(connB, responderKeys)
	require.NoError(t, err)

	peer := PeerAddr{Key: responderKeys.Public, Addr: connA.RemoteAddr().String()}
	initiator, err = InitiateSession(connA, peer, initiatorKeys)
	require.NoError(t, err)

	return initiator, responder, initiatorKeys, responderKeys
}

// driveHandshake alternates readiness-style reads until both sessions
// report establishment.
func driveHandshake(t *testing.T, a, b *NoiseSession) {
	t.Helper()
	buf := make([]byte, 1024)
	for i := 0; i < 8; i++ {
		if a.HandshakeCompleted() && b.HandshakeCompleted() {
			return
		}
		if n, err := a.Read(buf); err != nil && !IsWouldBlock(err) {
			t.Fatalf("initiator handshake read failed: %v", err)
		} else {
			require.Zero(t, n, "handshake reads must yield no application data")
		}
		if n, err := b.Read(buf); err != nil && !IsWouldBlock(err) {
			t.Fatalf("responder handshake read failed: %v", err)
		} else {
			require.Zero(t, n, "handshake reads must yield no application data")
		}
	}
	t.Fatal("handshake did not complete")
}

func TestSessionHandshakeVerifiesIdentities(t *testing.T) {
	initiator, responder, initiatorKeys, responderKeys := newSessionPair(t)

	_, ok := responder.PeerIdentity()
	assert.False(t, ok, "responder must not report an identity pre-handshake")

	driveHandshake(t, initiator, responder)

	gotInitiator, ok := responder.PeerIdentity()
	require.True(t, ok)
	assert.Equal(t, initiatorKeys.Public, gotInitiator,
		"responder must learn the initiator identity from the handshake")

	gotResponder, ok := initiator.PeerIdentity()
	require.True(t, ok)
	assert.Equal(t, responderKeys.Public, gotResponder)
}

func TestSessionDataRoundTrip(t *testing.T) {
	initiator, responder, _, _ := newSessionPair(t)
	driveHandshake(t, initiator, responder)

	payload := []byte("application bytes after establishment")
	n, err := initiator.Write(payload)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)

	buf := make([]byte, 1024)
	n, err = responder.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, payload, buf[:n], "decrypted bytes must equal the written plaintext")

	// Reverse direction.
	reply := []byte("reply")
	_, err = responder.Write(reply)
	require.NoError(t, err)
	n, err = initiator.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, reply, buf[:n])
}

func TestSessionLargeWriteChunks(t *testing.T) {
	initiator, responder, _, _ := newSessionPair(t)
	driveHandshake(t, initiator, responder)

	payload := make([]byte, maxPlaintextLen+4096)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	n, err := initiator.Write(payload)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)

	var got bytes.Buffer
	buf := make([]byte, DefaultReadBufferSize)
	for got.Len() < len(payload) {
		n, err := responder.Read(buf)
		if err != nil && IsWouldBlock(err) {
			break
		}
		require.NoError(t, err)
		got.Write(buf[:n])
	}
	assert.Equal(t, payload, got.Bytes())
}

func TestSessionWriteBeforeEstablishment(t *testing.T) {
	initiator, responder, _, _ := newSessionPair(t)

	// Pre-handshake writes drive the exchange, not caller plaintext.
	n, err := initiator.Write([]byte("secret"))
	require.NoError(t, err)
	assert.Zero(t, n, "plaintext must not be consumed before establishment")

	driveHandshake(t, initiator, responder)

	buf := make([]byte, 64)
	_, err = responder.Read(buf)
	require.Error(t, err)
	assert.True(t, IsWouldBlock(err), "no application data should have been sent")
}

func TestSplitRequiresEstablishment(t *testing.T) {
	initiator, responder, _, _ := newSessionPair(t)

	_, _, err := initiator.Split()
	require.ErrorIs(t, err, ErrNotEstablished)
	_, _, err = responder.Split()
	require.ErrorIs(t, err, ErrNotEstablished)

	// The failed split must leave both sessions fully usable.
	driveHandshake(t, initiator, responder)
	require.True(t, initiator.HandshakeCompleted())
	require.True(t, responder.HandshakeCompleted())
}

func TestSplitJoinRoundTrip(t *testing.T) {
	initiator, responder, _, responderKeys := newSessionPair(t)
	driveHandshake(t, initiator, responder)

	// Traffic before the split advances both cipher states.
	_, err := initiator.Write([]byte("before split"))
	require.NoError(t, err)
	buf := make([]byte, 1024)
	n, err := responder.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "before split", string(buf[:n]))

	reader, writer, err := initiator.Split()
	require.NoError(t, err)
	assert.Equal(t, responderKeys.Public, reader.PeerAddr().Key)
	assert.Equal(t, writer.PeerAddr(), reader.PeerAddr())

	// The halves work independently.
	_, err = writer.Write([]byte("via writer"))
	require.NoError(t, err)
	n, err = responder.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "via writer", string(buf[:n]))

	_, err = responder.Write([]byte("via reader"))
	require.NoError(t, err)
	n, err = reader.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "via reader", string(buf[:n]))

	// Rejoining restores a session behaviorally equivalent to the
	// original: same verified address, continued cipher state.
	rejoined, err := JoinSession(reader, writer)
	require.NoError(t, err)
	require.True(t, rejoined.HandshakeCompleted())
	peer, ok := rejoined.PeerIdentity()
	require.True(t, ok)
	assert.Equal(t, responderKeys.Public, peer)

	_, err = rejoined.Write([]byte("after join"))
	require.NoError(t, err)
	n, err = responder.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "after join", string(buf[:n]))

	_, err = responder.Write([]byte("still decryptable"))
	require.NoError(t, err)
	n, err = rejoined.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "still decryptable", string(buf[:n]))
}

func TestJoinRejectsMismatchedHalves(t *testing.T) {
	initiatorA, responderA, _, _ := newSessionPair(t)
	initiatorB, responderB, _, _ := newSessionPair(t)
	driveHandshake(t, initiatorA, responderA)
	driveHandshake(t, initiatorB, responderB)

	readerA, writerA, err := initiatorA.Split()
	require.NoError(t, err)
	readerB, writerB, err := initiatorB.Split()
	require.NoError(t, err)

	_, err = JoinSession(readerA, writerB)
	require.ErrorIs(t, err, ErrSessionMismatch,
		"halves of different sessions must never merge")
	_, err = JoinSession(readerB, writerA)
	require.ErrorIs(t, err, ErrSessionMismatch)

	// Matching halves still join fine afterwards.
	_, err = JoinSession(readerA, writerA)
	require.NoError(t, err)
}

func TestSplitCarriesPendingPlaintext(t *testing.T) {
	initiator, responder, _, _ := newSessionPair(t)
	driveHandshake(t, initiator, responder)

	_, err := responder.Write([]byte("abcdef"))
	require.NoError(t, err)

	// A short read leaves plaintext pending inside the session.
	small := make([]byte, 3)
	n, err := initiator.Read(small)
	require.NoError(t, err)
	require.Equal(t, "abc", string(small[:n]))

	reader, _, err := initiator.Split()
	require.NoError(t, err)

	buf := make([]byte, 16)
	n, err = reader.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "def", string(buf[:n]), "pending plaintext must move to the read half")
}

// dribbleConn delivers at most one byte per read and interleaves
// would-block results, modeling a peer whose bytes trickle in across
// many readiness events.
type dribbleConn struct {
	Conn
	starve bool
}

func (d *dribbleConn) Read(p []byte) (int, error) {
	if d.starve {
		d.starve = false
		return 0, timeoutError{}
	}
	d.starve = true
	if len(p) > 1 {
		p = p[:1]
	}
	return d.Conn.Read(p)
}

func TestSessionResumesPartialFrames(t *testing.T) {
	initiatorKeys, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	responderKeys, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	connA, connB := newMemPair()
	responder, err := AcceptSession(connB, responderKeys)
	require.NoError(t, err)

	peer := PeerAddr{Key: responderKeys.Public, Addr: connA.RemoteAddr().String()}
	initiator, err := InitiateSession(&dribbleConn{Conn: connA}, peer, initiatorKeys)
	require.NoError(t, err)

	// Every frame towards the initiator arrives one byte at a time with
	// would-block expiries in between; interrupted frames must resume
	// where they left off instead of desynchronizing the stream.
	buf := make([]byte, 64)
	for i := 0; i < 600; i++ {
		if initiator.HandshakeCompleted() && responder.HandshakeCompleted() {
			break
		}
		if _, err := initiator.Read(buf); err != nil && !IsWouldBlock(err) {
			t.Fatalf("initiator handshake read failed: %v", err)
		}
		if _, err := responder.Read(buf); err != nil && !IsWouldBlock(err) {
			t.Fatalf("responder handshake read failed: %v", err)
		}
	}
	require.True(t, initiator.HandshakeCompleted(), "initiator handshake did not complete")
	require.True(t, responder.HandshakeCompleted(), "responder handshake did not complete")

	payload := []byte("trickled payload")
	_, err = responder.Write(payload)
	require.NoError(t, err)

	var got []byte
	for i := 0; i < 200 && len(got) < len(payload); i++ {
		n, err := initiator.Read(buf)
		if err != nil {
			require.True(t, IsWouldBlock(err), "unexpected read error: %v", err)
			continue
		}
		got = append(got, buf[:n]...)
	}
	assert.Equal(t, payload, got)
}

func TestSessionUnusableAfterSplit(t *testing.T) {
	initiator, responder, _, _ := newSessionPair(t)
	driveHandshake(t, initiator, responder)

	_, _, err := initiator.Split()
	require.NoError(t, err)

	buf := make([]byte, 16)
	_, err = initiator.Read(buf)
	require.ErrorIs(t, err, ErrSessionDetached)
	_, err = initiator.Write([]byte("late"))
	require.ErrorIs(t, err, ErrSessionDetached)
	require.ErrorIs(t, initiator.Flush(), ErrSessionDetached)
	_, _, err = initiator.Split()
	require.ErrorIs(t, err, ErrSessionDetached)
}

func TestInitiateSessionRejectsZeroPeerKey(t *testing.T) {
	keys, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	connA, _ := newMemPair()

	_, err = InitiateSession(connA, PeerAddr{Addr: "10.0.0.9:1"}, keys)
	require.ErrorIs(t, err, ErrInvalidPeerKey)
}

func TestSessionDisconnectSurfacesAsEOF(t *testing.T) {
	initiator, responder, _, _ := newSessionPair(t)
	driveHandshake(t, initiator, responder)

	require.NoError(t, initiator.Disconnect())

	buf := make([]byte, 16)
	_, err := responder.Read(buf)
	require.Error(t, err)
	assert.True(t, isOrderlyShutdown(err))
}
