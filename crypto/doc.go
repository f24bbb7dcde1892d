// Package crypto implements the identity key material for noisewire nodes.
//
// A node identity is a long-term Curve25519 key pair. The private half is
// consumed by Noise XK handshakes as the local static key; the public half
// identifies the node to its peers and is what a remote peer ends up
// verifying during a handshake.
//
// Example:
//
//	keys, err := crypto.GenerateKeyPair()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println("Public key:", keys.Public)
package crypto
