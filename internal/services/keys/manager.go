package keys

import (
	"context"
	"crypto/rsa"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/sirupsen/logrus"

	"securechat/internal/crypto"
	"securechat/internal/domain"
	scerrors "securechat/internal/errors"
	"securechat/internal/logging"
)

const maxConversationIDLength = 256

// Store is the persistence the manager needs; *store.KeyStore satisfies it.
type Store interface {
	SaveIdentity(privatePKCS8, publicPKIX []byte, createdAt int64) error
	LoadIdentity() (privatePKCS8, publicPKIX []byte, ok bool, err error)
	SaveSessionKey(key domain.SessionKey) error
	LoadSessionKeys() (map[domain.ConversationID]domain.SessionKey, error)
	SavePublicKey(user domain.UserID, publicPKIX []byte) error
	LoadPublicKeys() (map[domain.UserID][]byte, error)
	PurgeAll() error
}

// Options tunes a Manager.
type Options struct {
	RSABits int              // identity modulus size; defaults to 2048
	Logger  *logrus.Entry    // defaults to a discarding logger
	Clock   func() time.Time // defaults to time.Now
}

// Manager is the key lifecycle manager. It exclusively owns key material.
type Manager struct {
	store   Store
	log     *logrus.Entry
	now     func() time.Time
	rsaBits int

	mu       sync.RWMutex
	identity *domain.IdentityKeyPair
	sessions map[domain.ConversationID]domain.SessionKey
	peers    map[domain.UserID]*rsa.PublicKey

	epoch atomic.Uint64
}

// New returns a Manager backed by s. No identity is loaded until EnsureIdentity.
func New(s Store, opts Options) *Manager {
	bits := opts.RSABits
	if bits == 0 {
		bits = crypto.MinRSABits
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &Manager{
		store:    s,
		log:      logging.OrDiscard(opts.Logger, "keys"),
		now:      now,
		rsaBits:  bits,
		sessions: make(map[domain.ConversationID]domain.SessionKey),
		peers:    make(map[domain.UserID]*rsa.PublicKey),
	}
}

// EnsureIdentity returns the installation identity, generating and persisting
// one on first run. It also restores persisted session and peer keys.
// The bool reports whether a new identity was created. Safe to call at every
// startup.
func (m *Manager) EnsureIdentity(ctx context.Context) (domain.IdentityKeyPair, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.identity != nil {
		return *m.identity, false, nil
	}

	found, err := m.loadLocked()
	if err != nil {
		return domain.IdentityKeyPair{}, false, err
	}
	if found {
		return *m.identity, false, nil
	}

	if err := ctx.Err(); err != nil {
		return domain.IdentityKeyPair{}, false, err
	}
	priv, err := crypto.GenerateRSA(m.rsaBits)
	if err != nil {
		return domain.IdentityKeyPair{}, false, fmt.Errorf("generate identity: %w", err)
	}
	privDER, err := crypto.MarshalPrivateKey(priv)
	if err != nil {
		return domain.IdentityKeyPair{}, false, err
	}
	defer crypto.Wipe(privDER)
	pubDER, err := crypto.MarshalPublicKey(&priv.PublicKey)
	if err != nil {
		return domain.IdentityKeyPair{}, false, err
	}
	if err := m.store.SaveIdentity(privDER, pubDER, m.now().UnixMilli()); err != nil {
		return domain.IdentityKeyPair{}, false, fmt.Errorf("save identity: %w", err)
	}
	m.identity = &domain.IdentityKeyPair{Private: priv, Public: &priv.PublicKey}
	m.log.WithField("fingerprint", crypto.Fingerprint(pubDER)).Info("identity created")
	return *m.identity, true, nil
}

// Load restores a persisted identity without ever creating one.
// It reports whether an identity is loaded.
func (m *Manager) Load(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.identity != nil {
		return true, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return m.loadLocked()
}

func (m *Manager) loadLocked() (bool, error) {
	privDER, _, found, err := m.store.LoadIdentity()
	if err != nil || !found {
		return false, err
	}
	priv, err := crypto.ParsePrivateKey(privDER)
	if err != nil {
		return false, fmt.Errorf("parse identity: %w", err)
	}
	if err := m.restoreLocked(); err != nil {
		return false, err
	}
	m.identity = &domain.IdentityKeyPair{Private: priv, Public: &priv.PublicKey}
	m.log.WithField("session_keys", len(m.sessions)).Info("identity restored")
	return true, nil
}

// restoreLocked reloads persisted session and peer keys into the caches.
func (m *Manager) restoreLocked() error {
	sessions, err := m.store.LoadSessionKeys()
	if err != nil {
		return fmt.Errorf("load session keys: %w", err)
	}
	peers, err := m.store.LoadPublicKeys()
	if err != nil {
		return fmt.Errorf("load public keys: %w", err)
	}
	for id, key := range sessions {
		m.sessions[id] = key
	}
	for user, der := range peers {
		pub, err := crypto.ParsePublicKey(der)
		if err != nil {
			m.log.WithError(err).WithField("user", user).Warn("skipping unreadable public key")
			continue
		}
		m.peers[user] = pub
	}
	return nil
}

// SessionKey returns the active key for conversation, creating, persisting and
// caching a fresh one if none exists. The origin tells which happened.
func (m *Manager) SessionKey(
	ctx context.Context,
	conversation domain.ConversationID,
) (domain.SessionKey, domain.KeyOrigin, error) {
	if err := ValidateConversationID(conversation); err != nil {
		return domain.SessionKey{}, domain.KeyRetrieved, err
	}

	m.mu.RLock()
	if m.identity == nil {
		m.mu.RUnlock()
		return domain.SessionKey{}, domain.KeyRetrieved, scerrors.ErrNotInitialized
	}
	if key, ok := m.sessions[conversation]; ok {
		m.mu.RUnlock()
		return copyKey(key), domain.KeyRetrieved, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.identity == nil {
		return domain.SessionKey{}, domain.KeyRetrieved, scerrors.ErrNotInitialized
	}
	if key, ok := m.sessions[conversation]; ok {
		return copyKey(key), domain.KeyRetrieved, nil
	}
	if err := ctx.Err(); err != nil {
		return domain.SessionKey{}, domain.KeyRetrieved, err
	}
	key, err := m.newSessionKeyLocked(conversation, 1)
	if err != nil {
		return domain.SessionKey{}, domain.KeyRetrieved, err
	}
	m.log.WithField("conversation", conversation).Debug("session key created")
	return copyKey(key), domain.KeyCreated, nil
}

// LookupSessionKey returns the cached key without ever creating one.
// A miss means "not yet created".
func (m *Manager) LookupSessionKey(conversation domain.ConversationID) (domain.SessionKey, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.identity == nil {
		return domain.SessionKey{}, false, scerrors.ErrNotInitialized
	}
	key, ok := m.sessions[conversation]
	if !ok {
		return domain.SessionKey{}, false, nil
	}
	return copyKey(key), true, nil
}

// RotateSessionKey replaces the conversation's key with a fresh one at the
// next version. Only an existing key can be rotated; wrapped copies of
// earlier versions are rejected afterwards.
func (m *Manager) RotateSessionKey(
	ctx context.Context,
	conversation domain.ConversationID,
) (domain.SessionKey, error) {
	if err := ValidateConversationID(conversation); err != nil {
		return domain.SessionKey{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.identity == nil {
		return domain.SessionKey{}, scerrors.ErrNotInitialized
	}
	if err := ctx.Err(); err != nil {
		return domain.SessionKey{}, err
	}
	old, ok := m.sessions[conversation]
	if !ok {
		return domain.SessionKey{}, fmt.Errorf("%w: %s", scerrors.ErrKeyNotFound, conversation)
	}
	key, err := m.newSessionKeyLocked(conversation, old.Version+1)
	if err != nil {
		return domain.SessionKey{}, err
	}
	crypto.Wipe(old.Key)
	m.log.WithFields(logrus.Fields{"conversation": conversation, "version": key.Version}).Info("session key rotated")
	return copyKey(key), nil
}

func (m *Manager) newSessionKeyLocked(conversation domain.ConversationID, version uint32) (domain.SessionKey, error) {
	raw, err := crypto.NewSessionKey()
	if err != nil {
		return domain.SessionKey{}, err
	}
	key := domain.SessionKey{
		ConversationID: conversation,
		Key:            raw,
		Version:        version,
		CreatedAt:      m.now().UnixMilli(),
	}
	// Persist first so the cache never holds a key the store lost.
	if err := m.store.SaveSessionKey(key); err != nil {
		return domain.SessionKey{}, fmt.Errorf("save session key: %w", err)
	}
	m.sessions[conversation] = key
	return key, nil
}

// Epoch changes every time keys are purged.
func (m *Manager) Epoch() uint64 { return m.epoch.Load() }

// Status reports what key material is loaded.
func (m *Manager) Status() domain.KeyStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return domain.KeyStatus{
		Initialized:     m.identity != nil,
		HasIdentity:     m.identity != nil,
		SessionKeyCount: len(m.sessions),
		PublicKeyCount:  len(m.peers),
	}
}

// PurgeAllKeys irreversibly destroys the identity, session keys and peer keys,
// both cached and persisted. The in-memory state is cleared even when the
// store reports an error.
func (m *Manager) PurgeAllKeys(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.epoch.Add(1)
	for _, key := range m.sessions {
		crypto.Wipe(key.Key)
	}
	m.sessions = make(map[domain.ConversationID]domain.SessionKey)
	m.peers = make(map[domain.UserID]*rsa.PublicKey)
	m.identity = nil

	if err := m.store.PurgeAll(); err != nil {
		m.log.WithError(err).Error("purge persisted keys")
		return fmt.Errorf("purge persisted keys: %w", err)
	}
	m.log.Warn("all keys purged")
	return nil
}

// ValidateConversationID rejects ids that cannot name a conversation record.
func ValidateConversationID(id domain.ConversationID) error {
	if id == "" || len(id) > maxConversationIDLength {
		return fmt.Errorf("%w: %q", scerrors.ErrInvalidConversation, id)
	}
	for _, r := range id {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: control character in %q", scerrors.ErrInvalidConversation, id)
		}
	}
	return nil
}

func copyKey(k domain.SessionKey) domain.SessionKey {
	k.Key = append([]byte(nil), k.Key...)
	return k
}

// Compile-time assertion that Manager implements domain.KeyManager.
var _ domain.KeyManager = (*Manager)(nil)
