// Package commands defines the securechat CLI and wires dependencies for subcommands.
//
// Commands
//
//   - init             Create the local identity and config file
//   - fingerprint      Print the identity fingerprint
//   - export-key       Print the public identity key for sharing
//   - import-key       Record a peer's public key
//   - share-key        Wrap a conversation key for a peer
//   - accept-key       Install a conversation key wrapped for us
//   - rotate-key       Replace a conversation key
//   - send             Encrypt a message and queue it for sync
//   - read             Decrypt and print a conversation
//   - encrypt-file     Encrypt a file for a conversation
//   - decrypt-file     Decrypt a file sealed by encrypt-file
//   - sync             Run a sync cycle, or keep syncing with --watch
//   - register-device  Announce this installation to the sync service
//   - status           Show key and sync status
//   - purge            Destroy all key material
//
// # Implementation
//
// The root command loads config.toml, applies flag overrides and builds the
// dependency graph (sealed store, services, transport, sync engine) before
// any subcommand runs. The store is closed after the subcommand returns.
package commands
