// Package store provides key-value persistence for securechat's core data.
//
// Backends implement domain.KeyValueStore:
//   - MemoryKV: in-process map, for tests and ephemeral runs
//   - LevelDBKV: goleveldb on disk with synchronous writes
//   - SealedKV: wraps another backend and seals every value with a key
//     derived from the installation passphrase (scrypt + XChaCha20-Poly1305)
//
// Typed stores sit on top of any backend and serialise values as JSON:
//   - KeyStore: identity key pair, session keys and peer public keys
//   - ConversationStore: conversation records
//   - SettingsStore: synced user settings
//   - QueueStore: the outbound sync queue
//   - DeviceStore: this installation's device id
package store
