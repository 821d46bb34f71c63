package interfaces

// KeyValueStore is the opaque blob store everything persistent sits on.
// Get reports ok=false for a missing key rather than an error.
type KeyValueStore interface {
	Get(key string) (value []byte, ok bool, err error)
	Set(key string, value []byte) error
	Remove(key string) error
	GetAll() (map[string][]byte, error)
}
