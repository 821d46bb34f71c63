package keys

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"securechat/internal/crypto"
	"securechat/internal/domain"
	scerrors "securechat/internal/errors"
)

const exportedKeyType = "oct"

// WrapSessionKeyFor seals the conversation's current session key under
// recipient. It never creates a key: a conversation without one yields
// ErrKeyNotFound.
func (m *Manager) WrapSessionKeyFor(
	ctx context.Context,
	conversation domain.ConversationID,
	recipient *rsa.PublicKey,
) (domain.WrappedSessionKey, error) {
	if recipient == nil {
		return domain.WrappedSessionKey{}, fmt.Errorf("%w: nil recipient", scerrors.ErrPublicKeyNotFound)
	}
	key, ok, err := m.LookupSessionKey(conversation)
	if err != nil {
		return domain.WrappedSessionKey{}, err
	}
	if !ok {
		return domain.WrappedSessionKey{}, fmt.Errorf("%w: %s", scerrors.ErrKeyNotFound, conversation)
	}
	defer crypto.Wipe(key.Key)
	if err := ctx.Err(); err != nil {
		return domain.WrappedSessionKey{}, err
	}

	exported, err := json.Marshal(domain.ExportedKey{
		KeyType:   exportedKeyType,
		Algorithm: domain.KeyAlgorithmA256GCM,
		Key:       crypto.B64URL(key.Key),
		Version:   key.Version,
	})
	if err != nil {
		return domain.WrappedSessionKey{}, err
	}
	defer crypto.Wipe(exported)

	ct, err := crypto.WrapOAEP(recipient, exported, []byte(conversation))
	if err != nil {
		return domain.WrappedSessionKey{}, fmt.Errorf("wrap session key: %w", err)
	}
	return domain.WrappedSessionKey{
		ConversationID: conversation,
		KeyVersion:     key.Version,
		Algorithm:      domain.AlgorithmRSAOAEP256,
		KeyAlgorithm:   domain.KeyAlgorithmA256GCM,
		Ciphertext:     ct,
	}, nil
}

// WrapSessionKeyForUser wraps for a peer whose public key was imported earlier.
func (m *Manager) WrapSessionKeyForUser(
	ctx context.Context,
	conversation domain.ConversationID,
	user domain.UserID,
) (domain.WrappedSessionKey, error) {
	pub, ok := m.PublicKey(user)
	if !ok {
		return domain.WrappedSessionKey{}, fmt.Errorf("%w: %s", scerrors.ErrPublicKeyNotFound, user)
	}
	return m.WrapSessionKeyFor(ctx, conversation, pub)
}

// UnwrapSessionKey opens a wrapped key with the local identity and installs
// it as the conversation's active key, replacing any earlier one. Wrapped
// keys older than the installed version are refused.
func (m *Manager) UnwrapSessionKey(
	ctx context.Context,
	conversation domain.ConversationID,
	wrapped domain.WrappedSessionKey,
) (domain.SessionKey, error) {
	if err := ValidateConversationID(conversation); err != nil {
		return domain.SessionKey{}, err
	}
	if wrapped.Algorithm != domain.AlgorithmRSAOAEP256 || wrapped.KeyAlgorithm != domain.KeyAlgorithmA256GCM {
		return domain.SessionKey{}, fmt.Errorf("%w: unsupported algorithm %s/%s",
			scerrors.ErrUnwrap, wrapped.Algorithm, wrapped.KeyAlgorithm)
	}
	if wrapped.ConversationID != conversation {
		return domain.SessionKey{}, fmt.Errorf("%w: wrapped for %q", scerrors.ErrUnwrap, wrapped.ConversationID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.identity == nil {
		return domain.SessionKey{}, scerrors.ErrNotInitialized
	}
	if err := ctx.Err(); err != nil {
		return domain.SessionKey{}, err
	}

	plain, err := crypto.UnwrapOAEP(m.identity.Private, wrapped.Ciphertext, []byte(conversation))
	if err != nil {
		return domain.SessionKey{}, fmt.Errorf("%w: %v", scerrors.ErrUnwrap, err)
	}
	defer crypto.Wipe(plain)

	var exported domain.ExportedKey
	if err := json.Unmarshal(plain, &exported); err != nil {
		return domain.SessionKey{}, fmt.Errorf("%w: malformed key payload", scerrors.ErrUnwrap)
	}
	if exported.KeyType != exportedKeyType || exported.Algorithm != domain.KeyAlgorithmA256GCM {
		return domain.SessionKey{}, fmt.Errorf("%w: unexpected key type %s/%s",
			scerrors.ErrUnwrap, exported.KeyType, exported.Algorithm)
	}
	if exported.Version != wrapped.KeyVersion {
		return domain.SessionKey{}, fmt.Errorf("%w: version header %d does not match payload %d",
			scerrors.ErrUnwrap, wrapped.KeyVersion, exported.Version)
	}
	raw, err := crypto.FromB64URL(exported.Key)
	if err != nil || len(raw) != crypto.KeyBytes {
		return domain.SessionKey{}, fmt.Errorf("%w: key material is not %d bytes", scerrors.ErrUnwrap, crypto.KeyBytes)
	}
	if cur, ok := m.sessions[conversation]; ok && cur.Version > exported.Version {
		crypto.Wipe(raw)
		return domain.SessionKey{}, fmt.Errorf("%w: stale key version %d, have %d",
			scerrors.ErrUnwrap, exported.Version, cur.Version)
	}

	key := domain.SessionKey{
		ConversationID: conversation,
		Key:            raw,
		Version:        exported.Version,
		CreatedAt:      m.now().UnixMilli(),
	}
	if err := m.store.SaveSessionKey(key); err != nil {
		return domain.SessionKey{}, fmt.Errorf("save session key: %w", err)
	}
	if old, ok := m.sessions[conversation]; ok {
		crypto.Wipe(old.Key)
	}
	m.sessions[conversation] = key
	m.log.WithFields(logrus.Fields{"conversation": conversation, "version": key.Version}).Info("session key installed")
	return copyKey(key), nil
}

// ImportPublicKey records a peer's base64 PKIX public key for later wrapping.
func (m *Manager) ImportPublicKey(ctx context.Context, user domain.UserID, encoded string) error {
	if user == "" {
		return fmt.Errorf("%w: empty user id", scerrors.ErrPublicKeyNotFound)
	}
	der, err := crypto.FromB64(encoded)
	if err != nil {
		return fmt.Errorf("decode public key: %w", err)
	}
	pub, err := crypto.ParsePublicKey(der)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.identity == nil {
		return scerrors.ErrNotInitialized
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.store.SavePublicKey(user, der); err != nil {
		return fmt.Errorf("save public key: %w", err)
	}
	m.peers[user] = pub
	m.log.WithFields(logrus.Fields{"user": user, "fingerprint": crypto.Fingerprint(der)}).Info("public key imported")
	return nil
}

// PublicKey returns a previously imported peer key.
func (m *Manager) PublicKey(user domain.UserID) (*rsa.PublicKey, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pub, ok := m.peers[user]
	return pub, ok
}

// ExportPublicKey returns the local identity's public key, base64 PKIX encoded.
func (m *Manager) ExportPublicKey() (string, error) {
	der, err := m.publicDER()
	if err != nil {
		return "", err
	}
	return crypto.B64(der), nil
}

// Fingerprint identifies the local identity for out-of-band comparison.
func (m *Manager) Fingerprint() (domain.Fingerprint, error) {
	der, err := m.publicDER()
	if err != nil {
		return "", err
	}
	return domain.Fingerprint(crypto.Fingerprint(der)), nil
}

func (m *Manager) publicDER() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.identity == nil {
		return nil, scerrors.ErrNotInitialized
	}
	return crypto.MarshalPublicKey(m.identity.Public)
}
