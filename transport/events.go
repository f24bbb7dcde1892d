package transport

import (
	"fmt"

	"github.com/opd-ai/noisewire/crypto"
)

// IOEvent is a level-triggered readiness notification delivered by the
// external reactor: the socket is currently readable and/or writable.
type IOEvent struct {
	Readable bool
	Writable bool
}

// Resource is the contract this package exposes to the reactor: a
// descriptor identity for registration and an orderly teardown hook.
// NetAccept and NetTransport additionally expose HandleIO methods
// producing ListenerEvent and SessionEvent values respectively.
type Resource interface {
	Fd() int
	Disconnect() error
}

// ListenerEvent is the outcome of one accept-readiness event.
type ListenerEvent interface {
	listenerEvent()
}

// Accepted carries a freshly accepted, not-yet-handshaken session.
type Accepted struct {
	Session *NoiseSession
}

// Failure carries a failed accept attempt.
type Failure struct {
	Err error
}

func (Accepted) listenerEvent() {}
func (Failure) listenerEvent()  {}

// SessionEvent is an application-level event produced by a transport in
// response to socket readiness.
type SessionEvent interface {
	sessionEvent()
}

// Established is emitted exactly once, when the handshake completes,
// carrying the peer identity it verified.
type Established struct {
	PeerKey crypto.PublicKey
}

// Data carries decrypted application bytes.
type Data struct {
	Payload []byte
}

// Terminated is emitted at most once, when the transport reaches its
// absorbing terminal state.
type Terminated struct {
	Err error
}

func (Established) sessionEvent() {}
func (Data) sessionEvent()        {}
func (Terminated) sessionEvent()  {}

// TransportState is the lifecycle state of a NetTransport.
type TransportState int

const (
	// StateHandshake is the initial state: the session exists but the
	// handshake has not completed.
	StateHandshake TransportState = iota
	// StateActive means the handshake completed and application data
	// flows encrypted.
	StateActive
	// StateTerminated is absorbing; no further events are produced.
	StateTerminated
)

// String returns the state name.
func (s TransportState) String() string {
	switch s {
	case StateHandshake:
		return "handshake"
	case StateActive:
		return "active"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}
