package types

// Event names emitted by the engine.
const (
	EventSyncCompleted     = "sync_completed"
	EventSyncFailed        = "sync_failed"
	EventMessageDecrypted  = "message_decrypted"
	EventMessageUnreadable = "message_unreadable"
	EventKeysPurged        = "keys_purged"
)

// Event is a notification published on the event bus.
type Event struct {
	Name    string
	Payload any
}
