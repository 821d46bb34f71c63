package store

import (
	"encoding/json"
	"errors"
	"sync"

	"securechat/internal/domain"
)

// identityRecord is the persisted identity key pair (DER encoded).
type identityRecord struct {
	Private   []byte `json:"private_pkcs8"`
	Public    []byte `json:"public_pkix"`
	CreatedAt int64  `json:"created_at"`
}

// KeyStore persists key material in a KeyValueStore.
type KeyStore struct {
	kv domain.KeyValueStore
	mu sync.Mutex
}

// NewKeyStore returns a KeyStore backed by kv.
func NewKeyStore(kv domain.KeyValueStore) *KeyStore { return &KeyStore{kv: kv} }

// SaveIdentity writes the DER-encoded identity key pair.
func (s *KeyStore) SaveIdentity(privatePKCS8, publicPKIX []byte, createdAt int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return setJSON(s.kv, identityKey, identityRecord{
		Private:   privatePKCS8,
		Public:    publicPKIX,
		CreatedAt: createdAt,
	})
}

// LoadIdentity returns the stored identity, ok=false when none exists.
func (s *KeyStore) LoadIdentity() (privatePKCS8, publicPKIX []byte, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rec identityRecord
	found, err := getJSON(s.kv, identityKey, &rec)
	if err != nil || !found {
		return nil, nil, false, err
	}
	return rec.Private, rec.Public, true, nil
}

// SaveSessionKey persists the active key for its conversation.
func (s *KeyStore) SaveSessionKey(key domain.SessionKey) error {
	if key.ConversationID == "" {
		return errors.New("session key without conversation id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return setJSON(s.kv, withPrefix(sessionKeyPrefix, key.ConversationID.String()), key)
}

// LoadSessionKeys returns every persisted session key.
func (s *KeyStore) LoadSessionKeys() (map[domain.ConversationID]domain.SessionKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.kv.GetAll()
	if err != nil {
		return nil, err
	}
	out := make(map[domain.ConversationID]domain.SessionKey)
	for k, v := range all {
		id, ok := trimPrefix(sessionKeyPrefix, k)
		if !ok {
			continue
		}
		var key domain.SessionKey
		if err := json.Unmarshal(v, &key); err != nil {
			return nil, err
		}
		out[domain.ConversationID(id)] = key
	}
	return out, nil
}

// SavePublicKey stores a peer's PKIX-encoded public key.
func (s *KeyStore) SavePublicKey(user domain.UserID, publicPKIX []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kv.Set(withPrefix(publicKeyPrefix, user.String()), publicPKIX)
}

// LoadPublicKeys returns every stored peer public key.
func (s *KeyStore) LoadPublicKeys() (map[domain.UserID][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.kv.GetAll()
	if err != nil {
		return nil, err
	}
	out := make(map[domain.UserID][]byte)
	for k, v := range all {
		if id, ok := trimPrefix(publicKeyPrefix, k); ok {
			out[domain.UserID(id)] = v
		}
	}
	return out, nil
}

// PurgeAll removes the identity, all session keys and all peer public keys.
// It keeps going after a failed removal and reports the first error.
func (s *KeyStore) PurgeAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.kv.GetAll()
	if err != nil {
		return err
	}
	var firstErr error
	remove := func(k string) {
		if err := s.kv.Remove(k); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	remove(identityKey)
	for k := range all {
		if _, ok := trimPrefix(sessionKeyPrefix, k); ok {
			remove(k)
		} else if _, ok := trimPrefix(publicKeyPrefix, k); ok {
			remove(k)
		}
	}
	return firstErr
}
