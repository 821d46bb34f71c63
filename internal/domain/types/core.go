package types

// ConversationID identifies a conversation shared between participants.
type ConversationID string

// String returns the string form of the conversation identifier.
func (id ConversationID) String() string { return string(id) }

// UserID identifies a remote participant whose public key we hold.
type UserID string

// String returns the string form of the user identifier.
func (id UserID) String() string { return string(id) }

// DeviceID identifies this installation to the sync service.
type DeviceID string

// String returns the string form of the device identifier.
func (id DeviceID) String() string { return string(id) }

// MessageID uniquely identifies a message within the sync service.
type MessageID string

// String returns the string form of the message identifier.
func (id MessageID) String() string { return string(id) }

// Fingerprint is a short identifier for public keys presented to users.
type Fingerprint string

// String returns the string form of the fingerprint.
func (f Fingerprint) String() string { return string(f) }
