// Package rotcipher implements the rotating-key stream cipher that obfuscates
// rotlink traffic, and the key derivation both peers use to agree on it.
//
// The cipher is NOT a cryptographic primitive. It has no integrity check and
// falls to known plaintext. It exists so that traffic is not readable on the
// wire by casual inspection.
//
// # Recurrence
//
// A cipher state is built from four non-negative integers (k0, k1, k2, k3)
// and keeps a live key, initially k0. For every byte:
//
//	out  = in XOR (live mod 256)
//	live = ((live + k3) * k1) mod k2
//
// k3 is the rotation constant, k1 the multiplier and k2 the modulus. Both
// peers must use this exact role assignment. Arithmetic is arbitrary
// precision so the recurrence never overflows.
//
// # Key Agreement
//
// There is no exchange of secrets during the handshake. Each side is
// provisioned with two prime indices and two seeds, and derives the same
// tuples with DeriveTuple:
//
//	k_i = seed + i*prime*(i+2)    for i = 0..3
//
// The upstream tuple (client to server) uses the inbound seed with prime X,
// the downstream tuple (server to client) the outbound seed with prime Y.
//
// # Streaming
//
// State carries across Transform calls. Encrypting packet N+1 continues the
// keystream where packet N stopped, so both peers must process bytes in the
// same order. A lost, duplicated or reordered byte desynchronises the
// stream for good.
package rotcipher
