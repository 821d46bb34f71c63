package types

import "encoding/json"

// SyncKind names the type of a queued outbound change.
type SyncKind string

const (
	SyncKindMessage      SyncKind = "message"
	SyncKindConversation SyncKind = "conversation"
	SyncKindSettings     SyncKind = "settings"
)

// SyncQueueItem is a local mutation waiting for remote acknowledgement.
type SyncQueueItem struct {
	ID        string          `json:"id"`
	Kind      SyncKind        `json:"type"`
	Payload   json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
	DeviceID  DeviceID        `json:"deviceId"`
}

// DeviceInfo is sent to the sync service when registering an installation.
type DeviceInfo struct {
	DeviceID  DeviceID `json:"deviceId"`
	Platform  string   `json:"platform"`
	Timestamp int64    `json:"timestamp"`
}

// SyncState is the engine's position in its cycle state machine.
type SyncState string

const (
	SyncIdle      SyncState = "idle"
	SyncSyncing   SyncState = "syncing"
	SyncCompleted SyncState = "completed"
	SyncFailed    SyncState = "failed"
)

// SyncStatus reports the engine's observable state.
type SyncStatus struct {
	Enabled             bool      `json:"enabled"`
	State               SyncState `json:"state"`
	LastOutcome         SyncState `json:"last_outcome,omitempty"`
	LastSyncTime        int64     `json:"last_sync_time"`
	QueueLength         int       `json:"queue_length"`
	DeviceID            DeviceID  `json:"device_id"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
}
