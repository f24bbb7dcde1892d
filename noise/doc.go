// Package noise provides the Noise XK transcoder used by noisewire
// sessions, built on the flynn/noise implementation of the Noise
// Protocol Framework.
//
// The XK pattern gives mutual authentication where the initiator knows
// the responder's static public key before connecting. An XKTranscoder
// carries the handshake forward one message at a time via Advance and,
// once complete, encrypts and decrypts application messages with the
// derived cipher states. The post-handshake state can be split into an
// Encryptor and a Decryptor that are safe to own independently, and
// rejoined later with JoinTranscoder.
package noise
