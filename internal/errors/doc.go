// Package errors defines the error taxonomy of the secure conversation engine.
//
// Callers test for a category with errors.Is rather than matching strings:
//
//	if errors.Is(err, scerrors.ErrDecryption) {
//	    // render the message as unreadable
//	}
//
// # Categories
//
//   - ErrNotInitialized: no identity or session key where one is required
//   - ErrKeyNotFound: a wrap was requested before a session key exists
//   - ErrUnwrap: a wrapped session key could not be opened or imported
//   - ErrDecryption: authenticated decryption failed (tampering or wrong key)
//   - ErrTransport: a remote call failed or timed out (see TransportError)
//   - ErrMergeConflictAmbiguous: duplicate id with divergent content; logged
//     by the conflict resolver, never returned
package errors
