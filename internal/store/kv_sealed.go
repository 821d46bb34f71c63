package store

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"

	"securechat/internal/crypto"
	"securechat/internal/domain"
)

const (
	// The current supported version of the sealed store metadata.
	sealedFormatVersion = 1

	sealedMetaKey = "__sealed_meta"
	sealedCheck   = "securechat-sealed-kv"
)

var (
	// ErrWrongPassphrase is returned when the passphrase does not open the store.
	ErrWrongPassphrase = errors.New("wrong passphrase or corrupted store")

	errSealedValue = errors.New("sealed value corrupted")
)

// ScryptParams are the KDF tunables for SealedKV.
type ScryptParams struct {
	N, R, P int
}

// DefaultScryptParams are used when no override is configured.
func DefaultScryptParams() ScryptParams { return ScryptParams{N: 1 << 15, R: 8, P: 1} }

// sealedMeta is stored in the inner backend, in clear, next to the values.
type sealedMeta struct {
	V          int    `json:"v"`
	Salt       []byte `json:"salt"`
	N          int    `json:"scrypt_N"`
	R          int    `json:"scrypt_r"`
	P          int    `json:"scrypt_p"`
	CheckNonce []byte `json:"check_nonce"`
	Check      []byte `json:"check"`
}

// SealedKV seals every value before handing it to the inner backend.
// Keys stay in clear; each value is bound to its key as associated data.
type SealedKV struct {
	inner domain.KeyValueStore
	aead  cipher.AEAD
}

// OpenSealedKV derives the store key from passphrase. On first use it writes
// fresh metadata with params; afterwards the stored parameters win.
func OpenSealedKV(inner domain.KeyValueStore, passphrase string, params ScryptParams) (*SealedKV, error) {
	if passphrase == "" {
		return nil, errors.New("passphrase required")
	}
	raw, ok, err := inner.Get(sealedMetaKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return createSealedKV(inner, passphrase, params)
	}

	var meta sealedMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("sealed store metadata: %w", err)
	}
	if meta.V > sealedFormatVersion {
		return nil, fmt.Errorf("unsupported sealed store version %d", meta.V)
	}
	aead, err := deriveAEAD(passphrase, meta.Salt, ScryptParams{N: meta.N, R: meta.R, P: meta.P})
	if err != nil {
		return nil, err
	}
	if _, err := aead.Open(nil, meta.CheckNonce, meta.Check, []byte(sealedMetaKey)); err != nil {
		return nil, ErrWrongPassphrase
	}
	return &SealedKV{inner: inner, aead: aead}, nil
}

func createSealedKV(inner domain.KeyValueStore, passphrase string, params ScryptParams) (*SealedKV, error) {
	var salt [16]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return nil, err
	}
	aead, err := deriveAEAD(passphrase, salt[:], params)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	meta := sealedMeta{
		V:          sealedFormatVersion,
		Salt:       salt[:],
		N:          params.N,
		R:          params.R,
		P:          params.P,
		CheckNonce: nonce,
		Check:      aead.Seal(nil, nonce, []byte(sealedCheck), []byte(sealedMetaKey)),
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}
	if err := inner.Set(sealedMetaKey, b); err != nil {
		return nil, err
	}
	return &SealedKV{inner: inner, aead: aead}, nil
}

func deriveAEAD(passphrase string, salt []byte, p ScryptParams) (cipher.AEAD, error) {
	key, err := scrypt.Key([]byte(passphrase), salt, p.N, p.R, p.P, chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	defer crypto.Wipe(key)
	return chacha20poly1305.NewX(key)
}

// Get opens the value stored under key.
func (s *SealedKV) Get(key string) ([]byte, bool, error) {
	raw, ok, err := s.inner.Get(key)
	if err != nil || !ok {
		return nil, ok, err
	}
	pt, err := s.open(key, raw)
	if err != nil {
		return nil, false, err
	}
	return pt, true, nil
}

// Set seals value under a fresh nonce.
func (s *SealedKV) Set(key string, value []byte) error {
	if key == sealedMetaKey {
		return fmt.Errorf("key %q is reserved", key)
	}
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(value)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return err
	}
	return s.inner.Set(key, s.aead.Seal(nonce, nonce, value, []byte(key)))
}

// Remove deletes key from the inner backend.
func (s *SealedKV) Remove(key string) error { return s.inner.Remove(key) }

// GetAll opens every value except the store metadata.
func (s *SealedKV) GetAll() (map[string][]byte, error) {
	all, err := s.inner.GetAll()
	if err != nil {
		return nil, err
	}
	delete(all, sealedMetaKey)
	out := make(map[string][]byte, len(all))
	for k, v := range all {
		pt, err := s.open(k, v)
		if err != nil {
			return nil, err
		}
		out[k] = pt
	}
	return out, nil
}

func (s *SealedKV) open(key string, raw []byte) ([]byte, error) {
	ns := s.aead.NonceSize()
	if len(raw) < ns+s.aead.Overhead() {
		return nil, fmt.Errorf("open %q: %w", key, errSealedValue)
	}
	pt, err := s.aead.Open(nil, raw[:ns], raw[ns:], []byte(key))
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", key, errSealedValue)
	}
	return pt, nil
}

// Compile-time assertion that SealedKV implements domain.KeyValueStore.
var _ domain.KeyValueStore = (*SealedKV)(nil)
