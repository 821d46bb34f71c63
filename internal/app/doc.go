// Package app wires application dependencies for the CLI.
//
// It loads Config from TOML, opens the sealed key-value store, and builds the
// key manager, message cipher, conflict resolver, transport, event bus and
// sync engine, exposing them via the Wire struct for commands to use.
package app
