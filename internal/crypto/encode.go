package crypto

import "encoding/base64"

// B64 returns standard base64 encoding without newlines.
func B64(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

// FromB64 decodes standard base64.
func FromB64(s string) ([]byte, error) { return base64.StdEncoding.DecodeString(s) }

// B64URL returns unpadded base64url, the encoding JWK uses for key material.
func B64URL(b []byte) string { return base64.RawURLEncoding.EncodeToString(b) }

// FromB64URL decodes unpadded base64url.
func FromB64URL(s string) ([]byte, error) { return base64.RawURLEncoding.DecodeString(s) }
