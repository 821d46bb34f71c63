package types

import "crypto/rsa"

// Algorithm identifiers carried in envelopes and wrapped keys.
const (
	AlgorithmAESGCM256  = "AES-GCM-256"
	AlgorithmRSAOAEP256 = "RSA-OAEP-256"
	KeyAlgorithmA256GCM = "A256GCM"
)

// IdentityKeyPair is the installation's long-term asymmetric key pair.
type IdentityKeyPair struct {
	Private *rsa.PrivateKey
	Public  *rsa.PublicKey
}

// SessionKey is the active symmetric key for one conversation.
type SessionKey struct {
	ConversationID ConversationID `json:"conversation_id"`
	Key            []byte         `json:"key"`
	Version        uint32         `json:"version"`
	CreatedAt      int64          `json:"created_at"`
}

// KeyOrigin reports whether a session key was freshly created or loaded.
type KeyOrigin int

const (
	KeyRetrieved KeyOrigin = iota
	KeyCreated
)

// String returns a short label for logs.
func (o KeyOrigin) String() string {
	if o == KeyCreated {
		return "created"
	}
	return "retrieved"
}

// WrappedSessionKey is a session key sealed under a recipient's public key.
// It is only used while distributing the key and is never persisted.
type WrappedSessionKey struct {
	ConversationID ConversationID `json:"conversation_id"`
	KeyVersion     uint32         `json:"key_version"`
	Algorithm      string         `json:"algorithm"`
	KeyAlgorithm   string         `json:"key_algorithm"`
	Ciphertext     []byte         `json:"ciphertext"`
}

// ExportedKey is the JWK-shaped plaintext carried inside a WrappedSessionKey.
type ExportedKey struct {
	KeyType   string `json:"kty"`
	Algorithm string `json:"alg"`
	Key       string `json:"k"`
	Version   uint32 `json:"ver"`
}

// KeyStatus summarises the key manager state.
type KeyStatus struct {
	Initialized     bool `json:"initialized"`
	HasIdentity     bool `json:"has_identity"`
	SessionKeyCount int  `json:"session_key_count"`
	PublicKeyCount  int  `json:"public_key_count"`
}
