package types

// Envelope is the sealed unit exchanged over the transport and kept at rest.
// Envelopes are immutable once created.
type Envelope struct {
	ConversationID ConversationID `json:"conversation_id"`
	KeyVersion     uint32         `json:"key_version"`
	Algorithm      string         `json:"algorithm"`
	Nonce          []byte         `json:"nonce"`
	Ciphertext     []byte         `json:"ciphertext"`
	CreatedAt      int64          `json:"created_at"`
}

// Attachment is a plaintext file payload.
type Attachment struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"-"`
}

// EncryptedAttachment carries an envelope plus file metadata in clear.
// The metadata is not authenticated.
type EncryptedAttachment struct {
	Envelope Envelope `json:"envelope"`
	Name     string   `json:"name"`
	Size     int64    `json:"size"`
	MIMEType string   `json:"mime_type"`
}

// Message is the transport shape of a chat message. Content stays sealed.
type Message struct {
	ID             MessageID      `json:"id"`
	ConversationID ConversationID `json:"conversationId,omitempty"`
	Sender         string         `json:"sender,omitempty"`
	Content        Envelope       `json:"content"`
	CreatedAt      int64          `json:"createdAt"`
}

// MessageBody is the plaintext sealed into a Message's content.
type MessageBody struct {
	Text      string `json:"text"`
	Sender    string `json:"sender,omitempty"`
	Timestamp int64  `json:"timestamp"`
}
