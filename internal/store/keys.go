package store

import "strings"

// KV key layout shared by the typed stores.
const (
	identityKey        = "user_keypair"
	sessionKeyPrefix   = "session_key/"
	publicKeyPrefix    = "public_key/"
	conversationPrefix = "conversation/"
	settingsKey        = "settings"
	syncQueueKey       = "sync_queue"
	deviceIDKey        = "device_id"
)

func withPrefix(prefix, id string) string { return prefix + id }

func trimPrefix(prefix, key string) (string, bool) {
	if !strings.HasPrefix(key, prefix) {
		return "", false
	}
	return strings.TrimPrefix(key, prefix), true
}
