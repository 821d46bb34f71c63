package interfaces

import (
	"context"

	domaintypes "securechat/internal/domain/types"
)

// Transport is how we talk to the remote sync service, all with context.
type Transport interface {
	FetchConversations(ctx context.Context) ([]domaintypes.ConversationRecord, error)
	FetchMessages(
		ctx context.Context,
		conversation domaintypes.ConversationID,
		since int64,
	) ([]domaintypes.Message, error)
	FetchSettings(ctx context.Context) (domaintypes.Settings, error)
	Push(ctx context.Context, item domaintypes.SyncQueueItem) error
	RegisterDevice(ctx context.Context, info domaintypes.DeviceInfo) error
}

// EventBus receives engine notifications. Emit must not block on subscribers.
type EventBus interface {
	Emit(event domaintypes.Event)
}
