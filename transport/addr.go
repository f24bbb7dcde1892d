package transport

import (
	"fmt"
	"strings"

	"github.com/opd-ai/noisewire/crypto"
)

// PeerAddr is a network address bound to a verified peer identity.
type PeerAddr struct {
	Key  crypto.PublicKey
	Addr string // host:port
}

// Network returns the network name for noisewire peer addresses.
// This implements net.Addr.Network().
func (p PeerAddr) Network() string {
	return "noise+tcp"
}

// String returns the canonical "<hex key>@host:port" form.
// This implements net.Addr.String().
func (p PeerAddr) String() string {
	return fmt.Sprintf("%s@%s", p.Key, p.Addr)
}

// ParsePeerAddr parses the "<hex key>@host:port" form produced by
// PeerAddr.String.
func ParsePeerAddr(s string) (PeerAddr, error) {
	var p PeerAddr
	at := strings.LastIndex(s, "@")
	if at < 0 {
		return p, newNetError("parse", s, fmt.Errorf("missing @ separator"))
	}
	key, err := crypto.PublicKeyFromString(s[:at])
	if err != nil {
		return p, newNetError("parse", s, err)
	}
	addr := s[at+1:]
	if addr == "" {
		return p, newNetError("parse", s, fmt.Errorf("empty network address"))
	}
	return PeerAddr{Key: key, Addr: addr}, nil
}

// XKAddr is the two-variant address of an XK session peer. It starts as
// a bare network address (partial) and is promoted, exactly once, to an
// address carrying the peer identity verified by the handshake (full).
// It never reverts.
type XKAddr struct {
	addr     string
	key      crypto.PublicKey
	verified bool
}

// PartialAddr wraps a bare network address with no verified identity.
func PartialAddr(addr string) *XKAddr {
	return &XKAddr{addr: addr}
}

// FullAddr wraps an already-verified peer address, as on the initiator
// side where the peer's identity is declared before connecting.
func FullAddr(peer PeerAddr) *XKAddr {
	return &XKAddr{
		addr:     peer.Addr,
		key:      peer.Key,
		verified: true,
	}
}

// Upgrade promotes a partial address to a full one carrying the given
// identity. It reports whether promotion happened: an already-full
// address is left untouched and Upgrade returns false.
func (a *XKAddr) Upgrade(key crypto.PublicKey) bool {
	if a.verified {
		return false
	}
	a.key = key
	a.verified = true
	return true
}

// RawAddr returns the underlying network address regardless of variant.
func (a *XKAddr) RawAddr() string {
	return a.addr
}

// Verified returns the identity-bearing form of the address. The second
// result is false while the address is still partial.
func (a *XKAddr) Verified() (PeerAddr, bool) {
	if !a.verified {
		return PeerAddr{}, false
	}
	return PeerAddr{Key: a.key, Addr: a.addr}, true
}

// Network returns the network name. This implements net.Addr.Network().
func (a *XKAddr) Network() string {
	return "noise+tcp"
}

// String returns "host:port" for a partial address and
// "<hex key>@host:port" for a full one. The two forms never collide, so
// the string form is safe as a map key before and after promotion.
func (a *XKAddr) String() string {
	if !a.verified {
		return a.addr
	}
	return PeerAddr{Key: a.key, Addr: a.addr}.String()
}
