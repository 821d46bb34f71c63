package types

import (
	"encoding/json"
	"maps"
)

// ConversationRecord is the locally stored state of one conversation.
//
// Fields other than the known ones are kept in Extra so that records received
// in the {id, lastModified, ...} shape survive a round trip.
type ConversationRecord struct {
	ID           ConversationID             `json:"id"`
	LastModified int64                      `json:"lastModified"`
	Messages     []Message                  `json:"messages,omitempty"`
	LastSync     int64                      `json:"lastSync,omitempty"`
	Extra        map[string]json.RawMessage `json:"-"`
}

var conversationKnownFields = map[string]struct{}{
	"id":           {},
	"lastModified": {},
	"messages":     {},
	"lastSync":     {},
}

// MarshalJSON flattens Extra next to the known fields.
func (c ConversationRecord) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(c.Extra)+4)
	for k, v := range c.Extra {
		out[k] = v
	}
	out["id"] = c.ID
	out["lastModified"] = c.LastModified
	if len(c.Messages) > 0 {
		out["messages"] = c.Messages
	}
	if c.LastSync != 0 {
		out["lastSync"] = c.LastSync
	}
	return json.Marshal(out)
}

// UnmarshalJSON mirrors MarshalJSON.
func (c *ConversationRecord) UnmarshalJSON(data []byte) error {
	type alias struct {
		ID           ConversationID `json:"id"`
		LastModified int64          `json:"lastModified"`
		Messages     []Message      `json:"messages"`
		LastSync     int64          `json:"lastSync"`
	}
	var known alias
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	*c = ConversationRecord{
		ID:           known.ID,
		LastModified: known.LastModified,
		Messages:     known.Messages,
		LastSync:     known.LastSync,
	}
	for k, v := range all {
		if _, ok := conversationKnownFields[k]; ok {
			continue
		}
		if c.Extra == nil {
			c.Extra = make(map[string]json.RawMessage)
		}
		c.Extra[k] = v
	}
	return nil
}

// Clone returns a deep enough copy for merge purposes.
func (c ConversationRecord) Clone() ConversationRecord {
	out := c
	if c.Messages != nil {
		out.Messages = append([]Message(nil), c.Messages...)
	}
	if c.Extra != nil {
		out.Extra = maps.Clone(c.Extra)
	}
	return out
}

// Settings holds user preferences synchronised across devices.
type Settings map[string]json.RawMessage
