// Package crypto exposes the minimal primitives used by securechat.
//
// Contents
//
//   - RSA-OAEP (SHA-256) identity keys: generation, DER encoding, wrapping
//     (GenerateRSA, MarshalPrivateKey, ParsePublicKey, WrapOAEP, UnwrapOAEP)
//   - AES-256-GCM sealing with random 96-bit nonces (NewAESGCM, SealGCM, OpenGCM)
//   - Best-effort memory wiping for sensitive byte slices (Wipe)
//   - Short public-key fingerprints for display/logging (Fingerprint)
//
// # Notes
//
// Nonces are always drawn from crypto/rand; callers never supply them.
// Callers should treat returned secrets as sensitive and rely on Wipe when
// practical to reduce their lifetime in memory.
package crypto
