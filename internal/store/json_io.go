package store

import (
	"encoding/json"

	"securechat/internal/domain"
)

// getJSON reads key into out; a missing key is not an error and reports false.
func getJSON(kv domain.KeyValueStore, key string, out any) (bool, error) {
	b, ok, err := kv.Get(key)
	if err != nil || !ok {
		return false, err
	}
	return true, json.Unmarshal(b, out)
}

// setJSON encodes v and stores it under key.
func setJSON(kv domain.KeyValueStore, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return kv.Set(key, b)
}
