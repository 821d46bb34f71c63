// Package relay provides an HTTP implementation of the domain.Transport
// interface used by the sync engine.
//
// The sync service stores conversation records, sealed messages and user
// settings on behalf of each device. This package offers a concrete HTTP
// client for it.
//
// Supported operations include:
//   - Fetching conversation records.
//   - Fetching messages of one conversation newer than a cursor.
//   - Fetching user settings.
//   - Pushing queued local changes (messages, conversations, settings).
//   - Registering this installation as a device.
//
// All requests are JSON over HTTP, carry a bearer token and accept a context
// for cancellation and deadlines. Failures are returned as
// *errors.TransportError carrying the operation and HTTP status.
package relay
