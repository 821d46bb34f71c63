package store

import (
	"encoding/json"
	"sync"

	"securechat/internal/domain"
)

// ConversationStore persists conversation records, one KV entry per record.
type ConversationStore struct {
	kv domain.KeyValueStore
	mu sync.Mutex
}

// NewConversationStore returns a ConversationStore backed by kv.
func NewConversationStore(kv domain.KeyValueStore) *ConversationStore {
	return &ConversationStore{kv: kv}
}

// All returns every stored record keyed by id.
func (s *ConversationStore) All() (map[domain.ConversationID]domain.ConversationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.kv.GetAll()
	if err != nil {
		return nil, err
	}
	out := make(map[domain.ConversationID]domain.ConversationRecord)
	for k, v := range all {
		if _, ok := trimPrefix(conversationPrefix, k); !ok {
			continue
		}
		var rec domain.ConversationRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return nil, err
		}
		out[rec.ID] = rec
	}
	return out, nil
}

// Get returns a single record.
func (s *ConversationStore) Get(id domain.ConversationID) (domain.ConversationRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rec domain.ConversationRecord
	ok, err := getJSON(s.kv, withPrefix(conversationPrefix, id.String()), &rec)
	return rec, ok, err
}

// Put writes rec under its id.
func (s *ConversationStore) Put(rec domain.ConversationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return setJSON(s.kv, withPrefix(conversationPrefix, rec.ID.String()), rec)
}

// SettingsStore persists the synced settings map.
type SettingsStore struct {
	kv domain.KeyValueStore
}

// NewSettingsStore returns a SettingsStore backed by kv.
func NewSettingsStore(kv domain.KeyValueStore) *SettingsStore { return &SettingsStore{kv: kv} }

// Load returns stored settings, never nil.
func (s *SettingsStore) Load() (domain.Settings, error) {
	out := domain.Settings{}
	if _, err := getJSON(s.kv, settingsKey, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = domain.Settings{}
	}
	return out, nil
}

// Save replaces the stored settings.
func (s *SettingsStore) Save(settings domain.Settings) error {
	return setJSON(s.kv, settingsKey, settings)
}

// QueueStore persists the outbound sync queue as a single ordered list.
type QueueStore struct {
	kv domain.KeyValueStore
}

// NewQueueStore returns a QueueStore backed by kv.
func NewQueueStore(kv domain.KeyValueStore) *QueueStore { return &QueueStore{kv: kv} }

// Load returns the stored queue in FIFO order.
func (s *QueueStore) Load() ([]domain.SyncQueueItem, error) {
	var items []domain.SyncQueueItem
	if _, err := getJSON(s.kv, syncQueueKey, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// Save replaces the stored queue.
func (s *QueueStore) Save(items []domain.SyncQueueItem) error {
	if len(items) == 0 {
		return s.kv.Remove(syncQueueKey)
	}
	return setJSON(s.kv, syncQueueKey, items)
}

// DeviceStore persists this installation's device id.
type DeviceStore struct {
	kv domain.KeyValueStore
}

// NewDeviceStore returns a DeviceStore backed by kv.
func NewDeviceStore(kv domain.KeyValueStore) *DeviceStore { return &DeviceStore{kv: kv} }

// Load returns the stored device id.
func (s *DeviceStore) Load() (domain.DeviceID, bool, error) {
	b, ok, err := s.kv.Get(deviceIDKey)
	if err != nil || !ok {
		return "", ok, err
	}
	return domain.DeviceID(b), true, nil
}

// Save stores the device id.
func (s *DeviceStore) Save(id domain.DeviceID) error {
	return s.kv.Set(deviceIDKey, []byte(id))
}
