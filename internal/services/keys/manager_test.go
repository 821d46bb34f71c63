package keys_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"securechat/internal/domain"
	scerrors "securechat/internal/errors"
	"securechat/internal/services/keys"
	"securechat/internal/store"
)

func newManager(t *testing.T, kv domain.KeyValueStore) *keys.Manager {
	t.Helper()
	m := keys.New(store.NewKeyStore(kv), keys.Options{})
	_, _, err := m.EnsureIdentity(context.Background())
	require.NoError(t, err)
	return m
}

func TestEnsureIdentity_CreatesOnceThenRestores(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryKV()

	m := keys.New(store.NewKeyStore(kv), keys.Options{})
	first, created, err := m.EnsureIdentity(ctx)
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := m.EnsureIdentity(ctx)
	require.NoError(t, err)
	assert.False(t, created)
	assert.True(t, first.Public.Equal(again.Public))

	restarted := keys.New(store.NewKeyStore(kv), keys.Options{})
	restored, created, err := restarted.EnsureIdentity(ctx)
	require.NoError(t, err)
	assert.False(t, created)
	assert.True(t, first.Public.Equal(restored.Public))
}

func TestLoad_NeverCreates(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryKV()

	loaded, err := keys.New(store.NewKeyStore(kv), keys.Options{}).Load(ctx)
	require.NoError(t, err)
	assert.False(t, loaded)
	_, _, ok, err := store.NewKeyStore(kv).LoadIdentity()
	require.NoError(t, err)
	assert.False(t, ok)

	newManager(t, kv)
	m := keys.New(store.NewKeyStore(kv), keys.Options{})
	loaded, err = m.Load(ctx)
	require.NoError(t, err)
	assert.True(t, loaded)
	assert.True(t, m.Status().HasIdentity)
}

func TestSessionKey_CreatedThenRetrieved(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryKV()
	m := newManager(t, kv)

	k1, origin, err := m.SessionKey(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, domain.KeyCreated, origin)
	assert.Len(t, k1.Key, 32)
	assert.EqualValues(t, 1, k1.Version)

	k2, origin, err := m.SessionKey(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, domain.KeyRetrieved, origin)
	assert.Equal(t, k1.Key, k2.Key)

	// Survives a restart.
	restarted := newManager(t, kv)
	k3, ok, err := restarted.LookupSessionKey("conv-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, k1.Key, k3.Key)
}

func TestSessionKey_ConcurrentCallersShareOneKey(t *testing.T) {
	m := newManager(t, store.NewMemoryKV())

	var wg sync.WaitGroup
	results := make([][]byte, 16)
	created := make([]bool, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			k, origin, err := m.SessionKey(context.Background(), "shared")
			assert.NoError(t, err)
			results[i] = k.Key
			created[i] = origin == domain.KeyCreated
		}(i)
	}
	wg.Wait()

	n := 0
	for i := range results {
		assert.Equal(t, results[0], results[i])
		if created[i] {
			n++
		}
	}
	assert.Equal(t, 1, n)
}

func TestSessionKey_RequiresIdentityAndValidID(t *testing.T) {
	m := keys.New(store.NewKeyStore(store.NewMemoryKV()), keys.Options{})
	_, _, err := m.SessionKey(context.Background(), "c")
	assert.ErrorIs(t, err, scerrors.ErrNotInitialized)

	m = newManager(t, store.NewMemoryKV())
	_, _, err = m.SessionKey(context.Background(), "")
	assert.ErrorIs(t, err, scerrors.ErrInvalidConversation)
	_, _, err = m.SessionKey(context.Background(), "bad\x00id")
	assert.ErrorIs(t, err, scerrors.ErrInvalidConversation)
}

func TestLookupSessionKey_NeverCreates(t *testing.T) {
	m := newManager(t, store.NewMemoryKV())
	_, ok, err := m.LookupSessionKey("unknown")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, m.Status().SessionKeyCount)
}

func TestWrapUnwrap_BetweenInstallations(t *testing.T) {
	ctx := context.Background()
	alice := newManager(t, store.NewMemoryKV())
	bob := newManager(t, store.NewMemoryKV())

	aliceKey, _, err := alice.SessionKey(ctx, "c1")
	require.NoError(t, err)

	bobPub, err := bob.ExportPublicKey()
	require.NoError(t, err)
	require.NoError(t, alice.ImportPublicKey(ctx, "bob", bobPub))

	wrapped, err := alice.WrapSessionKeyForUser(ctx, "c1", "bob")
	require.NoError(t, err)
	assert.Equal(t, domain.AlgorithmRSAOAEP256, wrapped.Algorithm)
	assert.NotContains(t, string(wrapped.Ciphertext), string(aliceKey.Key))

	got, err := bob.UnwrapSessionKey(ctx, "c1", wrapped)
	require.NoError(t, err)
	assert.Equal(t, aliceKey.Key, got.Key)
	assert.Equal(t, aliceKey.Version, got.Version)

	installed, ok, err := bob.LookupSessionKey("c1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, aliceKey.Key, installed.Key)
}

func TestWrap_MissingKeyOrRecipient(t *testing.T) {
	ctx := context.Background()
	alice := newManager(t, store.NewMemoryKV())
	id, _, err := alice.EnsureIdentity(ctx)
	require.NoError(t, err)

	_, err = alice.WrapSessionKeyFor(ctx, "never-used", id.Public)
	assert.ErrorIs(t, err, scerrors.ErrKeyNotFound)
	assert.Equal(t, 0, alice.Status().SessionKeyCount, "wrapping must not create keys")

	_, err = alice.WrapSessionKeyForUser(ctx, "never-used", "carol")
	assert.ErrorIs(t, err, scerrors.ErrPublicKeyNotFound)
}

func TestUnwrap_Rejections(t *testing.T) {
	ctx := context.Background()
	alice := newManager(t, store.NewMemoryKV())
	bob := newManager(t, store.NewMemoryKV())
	mallory := newManager(t, store.NewMemoryKV())

	_, _, err := alice.SessionKey(ctx, "c1")
	require.NoError(t, err)
	bobID, _, err := bob.EnsureIdentity(ctx)
	require.NoError(t, err)
	wrapped, err := alice.WrapSessionKeyFor(ctx, "c1", bobID.Public)
	require.NoError(t, err)

	t.Run("wrong recipient", func(t *testing.T) {
		_, err := mallory.UnwrapSessionKey(ctx, "c1", wrapped)
		assert.ErrorIs(t, err, scerrors.ErrUnwrap)
	})
	t.Run("corrupted", func(t *testing.T) {
		bad := wrapped
		bad.Ciphertext = append([]byte(nil), wrapped.Ciphertext...)
		bad.Ciphertext[10] ^= 0xff
		_, err := bob.UnwrapSessionKey(ctx, "c1", bad)
		assert.ErrorIs(t, err, scerrors.ErrUnwrap)
	})
	t.Run("algorithm mismatch", func(t *testing.T) {
		bad := wrapped
		bad.KeyAlgorithm = "A128GCM"
		_, err := bob.UnwrapSessionKey(ctx, "c1", bad)
		assert.ErrorIs(t, err, scerrors.ErrUnwrap)
	})
	t.Run("other conversation", func(t *testing.T) {
		bad := wrapped
		bad.ConversationID = "c2"
		_, err := bob.UnwrapSessionKey(ctx, "c2", bad)
		assert.ErrorIs(t, err, scerrors.ErrUnwrap, "label binds the key to its conversation")
	})
	t.Run("version header tampered", func(t *testing.T) {
		bad := wrapped
		bad.KeyVersion = 7
		_, err := bob.UnwrapSessionKey(ctx, "c1", bad)
		assert.ErrorIs(t, err, scerrors.ErrUnwrap)
	})

	_, ok, err := bob.LookupSessionKey("c1")
	require.NoError(t, err)
	assert.False(t, ok, "rejected unwraps install nothing")
}

func TestRotate_InvalidatesOlderWrappedKeys(t *testing.T) {
	ctx := context.Background()
	alice := newManager(t, store.NewMemoryKV())
	bob := newManager(t, store.NewMemoryKV())
	bobID, _, err := bob.EnsureIdentity(ctx)
	require.NoError(t, err)

	_, _, err = alice.SessionKey(ctx, "c1")
	require.NoError(t, err)
	v1, err := alice.WrapSessionKeyFor(ctx, "c1", bobID.Public)
	require.NoError(t, err)

	rotated, err := alice.RotateSessionKey(ctx, "c1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, rotated.Version)
	v2, err := alice.WrapSessionKeyFor(ctx, "c1", bobID.Public)
	require.NoError(t, err)

	_, err = bob.UnwrapSessionKey(ctx, "c1", v2)
	require.NoError(t, err)
	_, err = bob.UnwrapSessionKey(ctx, "c1", v1)
	assert.ErrorIs(t, err, scerrors.ErrUnwrap)
}

func TestRotate_RequiresExistingKey(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, store.NewMemoryKV())

	_, err := m.RotateSessionKey(ctx, "ghost")
	assert.ErrorIs(t, err, scerrors.ErrKeyNotFound)
	_, ok, err := m.LookupSessionKey("ghost")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, m.Status().SessionKeyCount)
}

func TestPurgeAllKeys(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryKV()
	m := newManager(t, kv)
	_, _, err := m.SessionKey(ctx, "c1")
	require.NoError(t, err)
	before := m.Epoch()

	require.NoError(t, m.PurgeAllKeys(ctx))
	assert.Greater(t, m.Epoch(), before)
	assert.False(t, m.Status().Initialized)

	_, _, err = m.SessionKey(ctx, "c1")
	assert.ErrorIs(t, err, scerrors.ErrNotInitialized)
	_, _, err = m.LookupSessionKey("c1")
	assert.ErrorIs(t, err, scerrors.ErrNotInitialized)
	_, err = m.ExportPublicKey()
	assert.ErrorIs(t, err, scerrors.ErrNotInitialized)

	// Nothing persisted survives: a new identity is generated.
	_, created, err := keys.New(store.NewKeyStore(kv), keys.Options{}).EnsureIdentity(ctx)
	require.NoError(t, err)
	assert.True(t, created)
}
