package cipher

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"securechat/internal/crypto"
	"securechat/internal/domain"
	scerrors "securechat/internal/errors"
	"securechat/internal/logging"
)

// Options tunes a Cipher.
type Options struct {
	Logger *logrus.Entry
	Clock  func() time.Time
}

// Cipher is the message cipher. It holds no key material of its own; keys
// are fetched from the key manager on every call.
type Cipher struct {
	keys domain.KeyManager
	log  *logrus.Entry
	now  func() time.Time
}

// New returns a Cipher. It fails if the platform AES-GCM does not use
// 96-bit nonces, since envelopes would then be unreadable elsewhere.
func New(keys domain.KeyManager, opts Options) (*Cipher, error) {
	if _, err := crypto.NewAESGCM(make([]byte, crypto.KeyBytes)); err != nil {
		if crypto.IsNonceSizeError(err) {
			return nil, scerrors.ErrNonceSize
		}
		return nil, err
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &Cipher{keys: keys, log: logging.OrDiscard(opts.Logger, "cipher"), now: now}, nil
}

// Seal serializes v to JSON and encrypts it under the conversation's session
// key, creating that key on first use.
func (c *Cipher) Seal(ctx context.Context, conversation domain.ConversationID, v any) (domain.Envelope, error) {
	plain, err := json.Marshal(v)
	if err != nil {
		return domain.Envelope{}, fmt.Errorf("encode payload: %w", err)
	}
	defer crypto.Wipe(plain)
	return c.seal(ctx, conversation, plain)
}

// Open authenticates and decrypts env and decodes the payload into out.
// It never creates a session key.
func (c *Cipher) Open(ctx context.Context, conversation domain.ConversationID, env domain.Envelope, out any) error {
	plain, err := c.open(ctx, conversation, env)
	if err != nil {
		return err
	}
	defer crypto.Wipe(plain)
	if err := json.Unmarshal(plain, out); err != nil {
		return fmt.Errorf("%w: decode payload: %v", scerrors.ErrDecryption, err)
	}
	return nil
}

// SealBinary encrypts a file's bytes. Name, size and type stay in clear.
func (c *Cipher) SealBinary(
	ctx context.Context,
	conversation domain.ConversationID,
	file domain.Attachment,
) (domain.EncryptedAttachment, error) {
	env, err := c.seal(ctx, conversation, file.Data)
	if err != nil {
		return domain.EncryptedAttachment{}, err
	}
	size := file.Size
	if size == 0 {
		size = int64(len(file.Data))
	}
	return domain.EncryptedAttachment{Envelope: env, Name: file.Name, Size: size, MIMEType: file.MIMEType}, nil
}

// OpenBinary decrypts a file sealed by SealBinary.
func (c *Cipher) OpenBinary(
	ctx context.Context,
	conversation domain.ConversationID,
	file domain.EncryptedAttachment,
) (domain.Attachment, error) {
	data, err := c.open(ctx, conversation, file.Envelope)
	if err != nil {
		return domain.Attachment{}, err
	}
	return domain.Attachment{Name: file.Name, Size: file.Size, MIMEType: file.MIMEType, Data: data}, nil
}

func (c *Cipher) seal(ctx context.Context, conversation domain.ConversationID, plain []byte) (domain.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return domain.Envelope{}, err
	}
	epoch := c.keys.Epoch()
	key, origin, err := c.keys.SessionKey(ctx, conversation)
	if err != nil {
		return domain.Envelope{}, err
	}
	defer crypto.Wipe(key.Key)
	if origin == domain.KeyCreated {
		c.log.WithField("conversation", conversation).Info("new session key for conversation")
	}

	env := domain.Envelope{
		ConversationID: conversation,
		KeyVersion:     key.Version,
		Algorithm:      domain.AlgorithmAESGCM256,
		CreatedAt:      c.now().UnixMilli(),
	}
	nonce, ct, err := crypto.SealGCM(key.Key, plain, associatedData(env))
	if err != nil {
		if crypto.IsNonceSizeError(err) {
			return domain.Envelope{}, scerrors.ErrNonceSize
		}
		return domain.Envelope{}, fmt.Errorf("seal: %w", err)
	}
	if c.keys.Epoch() != epoch {
		return domain.Envelope{}, fmt.Errorf("%w: keys purged during seal", scerrors.ErrNotInitialized)
	}
	env.Nonce = nonce
	env.Ciphertext = ct
	return env, nil
}

func (c *Cipher) open(ctx context.Context, conversation domain.ConversationID, env domain.Envelope) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	epoch := c.keys.Epoch()
	key, ok, err := c.keys.LookupSessionKey(conversation)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: no session key for %s", scerrors.ErrDecryption, conversation)
	}
	defer crypto.Wipe(key.Key)

	switch {
	case env.ConversationID != conversation:
		return nil, fmt.Errorf("%w: envelope belongs to %q", scerrors.ErrDecryption, env.ConversationID)
	case env.Algorithm != domain.AlgorithmAESGCM256:
		return nil, fmt.Errorf("%w: unsupported algorithm %q", scerrors.ErrDecryption, env.Algorithm)
	case len(env.Nonce) != crypto.NonceBytes:
		return nil, fmt.Errorf("%w: malformed nonce", scerrors.ErrDecryption)
	case len(env.Ciphertext) < crypto.TagBytes:
		return nil, fmt.Errorf("%w: truncated ciphertext", scerrors.ErrDecryption)
	case env.KeyVersion != key.Version:
		return nil, fmt.Errorf("%w: key version %d, have %d", scerrors.ErrDecryption, env.KeyVersion, key.Version)
	}

	plain, err := crypto.OpenGCM(key.Key, env.Nonce, env.Ciphertext, associatedData(env))
	if err != nil {
		return nil, fmt.Errorf("%w: authentication failed", scerrors.ErrDecryption)
	}
	if c.keys.Epoch() != epoch {
		crypto.Wipe(plain)
		return nil, fmt.Errorf("%w: keys purged during open", scerrors.ErrNotInitialized)
	}
	return plain, nil
}

// associatedData is the authenticated, unencrypted envelope header.
// Conversation ids cannot contain control characters, so NUL separates fields.
func associatedData(env domain.Envelope) []byte {
	ad := make([]byte, 0, 64+len(env.ConversationID))
	ad = append(ad, env.Algorithm...)
	ad = append(ad, 0)
	ad = append(ad, env.ConversationID...)
	ad = append(ad, 0)
	ad = strconv.AppendUint(ad, uint64(env.KeyVersion), 10)
	ad = append(ad, 0)
	ad = strconv.AppendInt(ad, env.CreatedAt, 10)
	return ad
}

var _ domain.MessageCipher = (*Cipher)(nil)
