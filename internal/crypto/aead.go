package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
)

const (
	// KeyBytes is the AES-256 session key length.
	KeyBytes = 32
	// NonceBytes is the fixed GCM nonce length (96 bits).
	NonceBytes = 12
	// TagBytes is the GCM authentication tag length.
	TagBytes = 16
)

var errNonceSize = errors.New("gcm nonce size is not 96 bits")

// NewSessionKey returns 32 random bytes.
func NewSessionKey() ([]byte, error) {
	k := make([]byte, KeyBytes)
	if _, err := rand.Read(k); err != nil {
		return nil, err
	}
	return k, nil
}

// NewAESGCM builds an AES-GCM AEAD and checks that it uses 96-bit nonces.
func NewAESGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if aead.NonceSize() != NonceBytes {
		return nil, errNonceSize
	}
	return aead, nil
}

// SealGCM encrypts plaintext under key with a fresh random nonce.
func SealGCM(key, plaintext, ad []byte) (nonce, ciphertext []byte, err error) {
	aead, err := NewAESGCM(key)
	if err != nil {
		return nil, nil, err
	}
	nonce = make([]byte, NonceBytes)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, err
	}
	return nonce, aead.Seal(nil, nonce, plaintext, ad), nil
}

// OpenGCM authenticates and decrypts ciphertext.
func OpenGCM(key, nonce, ciphertext, ad []byte) ([]byte, error) {
	if len(nonce) != NonceBytes {
		return nil, errNonceSize
	}
	aead, err := NewAESGCM(key)
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, nonce, ciphertext, ad)
}

// IsNonceSizeError reports whether err came from a nonce length check.
func IsNonceSizeError(err error) bool { return errors.Is(err, errNonceSize) }
