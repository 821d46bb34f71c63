package domain

import (
	interfaces "securechat/internal/domain/interfaces"
	types "securechat/internal/domain/types"
)

// Type aliases expose domain types from the types subpackage for compact imports.
type (
	ConversationID      = types.ConversationID
	UserID              = types.UserID
	DeviceID            = types.DeviceID
	MessageID           = types.MessageID
	Fingerprint         = types.Fingerprint
	IdentityKeyPair     = types.IdentityKeyPair
	SessionKey          = types.SessionKey
	KeyOrigin           = types.KeyOrigin
	WrappedSessionKey   = types.WrappedSessionKey
	ExportedKey         = types.ExportedKey
	KeyStatus           = types.KeyStatus
	Envelope            = types.Envelope
	Attachment          = types.Attachment
	EncryptedAttachment = types.EncryptedAttachment
	Message             = types.Message
	MessageBody         = types.MessageBody
	ConversationRecord  = types.ConversationRecord
	Settings            = types.Settings
	SyncKind            = types.SyncKind
	SyncQueueItem       = types.SyncQueueItem
	DeviceInfo          = types.DeviceInfo
	SyncState           = types.SyncState
	SyncStatus          = types.SyncStatus
	Event               = types.Event
)

// Interface aliases expose domain interfaces from the interfaces subpackage.
type (
	KeyValueStore    = interfaces.KeyValueStore
	Transport        = interfaces.Transport
	EventBus         = interfaces.EventBus
	KeyManager       = interfaces.KeyManager
	MessageCipher    = interfaces.MessageCipher
	ConflictResolver = interfaces.ConflictResolver
)

// Re-exported constants.
const (
	KeyRetrieved = types.KeyRetrieved
	KeyCreated   = types.KeyCreated

	AlgorithmAESGCM256  = types.AlgorithmAESGCM256
	AlgorithmRSAOAEP256 = types.AlgorithmRSAOAEP256
	KeyAlgorithmA256GCM = types.KeyAlgorithmA256GCM

	SyncKindMessage      = types.SyncKindMessage
	SyncKindConversation = types.SyncKindConversation
	SyncKindSettings     = types.SyncKindSettings

	SyncIdle      = types.SyncIdle
	SyncSyncing   = types.SyncSyncing
	SyncCompleted = types.SyncCompleted
	SyncFailed    = types.SyncFailed

	EventSyncCompleted     = types.EventSyncCompleted
	EventSyncFailed        = types.EventSyncFailed
	EventMessageDecrypted  = types.EventMessageDecrypted
	EventMessageUnreadable = types.EventMessageUnreadable
	EventKeysPurged        = types.EventKeysPurged
)
