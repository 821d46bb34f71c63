// Package cipher seals and opens payloads under conversation session keys.
//
// Every envelope carries a fresh 96-bit nonce and binds its metadata
// (conversation, key version, algorithm, creation time) as AES-GCM
// associated data, so an envelope cannot be replayed into another
// conversation or relabelled without failing authentication.
package cipher
