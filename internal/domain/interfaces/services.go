package interfaces

import (
	"context"
	"crypto/rsa"

	domaintypes "securechat/internal/domain/types"
)

// KeyManager owns identity and per-conversation session keys.
type KeyManager interface {
	EnsureIdentity(ctx context.Context) (domaintypes.IdentityKeyPair, bool, error)
	SessionKey(
		ctx context.Context,
		conversation domaintypes.ConversationID,
	) (domaintypes.SessionKey, domaintypes.KeyOrigin, error)
	LookupSessionKey(conversation domaintypes.ConversationID) (domaintypes.SessionKey, bool, error)
	RotateSessionKey(ctx context.Context, conversation domaintypes.ConversationID) (domaintypes.SessionKey, error)
	WrapSessionKeyFor(
		ctx context.Context,
		conversation domaintypes.ConversationID,
		recipient *rsa.PublicKey,
	) (domaintypes.WrappedSessionKey, error)
	UnwrapSessionKey(
		ctx context.Context,
		conversation domaintypes.ConversationID,
		wrapped domaintypes.WrappedSessionKey,
	) (domaintypes.SessionKey, error)
	PurgeAllKeys(ctx context.Context) error
	Epoch() uint64
	Status() domaintypes.KeyStatus
}

// MessageCipher seals and opens payloads under conversation session keys.
type MessageCipher interface {
	Seal(ctx context.Context, conversation domaintypes.ConversationID, v any) (domaintypes.Envelope, error)
	Open(ctx context.Context, conversation domaintypes.ConversationID, env domaintypes.Envelope, out any) error
	SealBinary(
		ctx context.Context,
		conversation domaintypes.ConversationID,
		file domaintypes.Attachment,
	) (domaintypes.EncryptedAttachment, error)
	OpenBinary(
		ctx context.Context,
		conversation domaintypes.ConversationID,
		file domaintypes.EncryptedAttachment,
	) (domaintypes.Attachment, error)
}

// ConflictResolver reconciles local and remote copies of synced state.
type ConflictResolver interface {
	MergeConversations(
		local, remote map[domaintypes.ConversationID]domaintypes.ConversationRecord,
	) map[domaintypes.ConversationID]domaintypes.ConversationRecord
	MergeMessages(local, remote []domaintypes.Message) []domaintypes.Message
	MergeSettings(local, remote domaintypes.Settings) domaintypes.Settings
}
