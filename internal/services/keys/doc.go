// Package keys manages the installation identity and per-conversation
// session keys.
//
// The identity is an RSA-OAEP (SHA-256) key pair created on first run and
// restored afterwards. Session keys are 256-bit AES-GCM keys, one active key
// per conversation, cached in memory and persisted through the key store.
// Session keys travel between participants only in wrapped form: sealed
// under the recipient's public identity key.
//
// PurgeAllKeys destroys everything and bumps an epoch counter; operations
// that captured the epoch before a purge fail instead of using stale keys.
package keys
