// Package transport provides an authenticated, encrypted point-to-point
// stream transport built on the Noise XK handshake, exposed through a
// readiness-based I/O model so it can be driven by an external
// non-blocking reactor.
//
// The layering, leaves first:
//
//   - XKAddr / PeerAddr: a peer address that starts as a bare network
//     address and is promoted exactly once to carry the identity the
//     handshake verified.
//   - NoiseSession: owns a raw connection and the handshake/cipher
//     transcoder; handshake and application traffic share the same
//     Read/Write entry points. An established session splits into a
//     SessionReader and SessionWriter that are independently ownable
//     and can be rejoined, provided their verified addresses match.
//   - NetTransport: the Handshake -> Active -> Terminated lifecycle.
//     Readiness events go in through HandleIO; Established, Data and
//     Terminated events come out, each state transition producing its
//     event exactly once.
//   - NetAccept: wraps a listening socket; each accept-readiness event
//     yields at most one Accepted or Failure outcome.
//
// Everything here is single-threaded and cooperative. Each handler
// performs one bounded unit of work and relies on the level-triggered
// reactor to signal again when more remains; the reactor delivers
// events to one resource serially, so no locking is needed within a
// connection's state machine.
package transport
