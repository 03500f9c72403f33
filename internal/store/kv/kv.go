// Package kv defines the durable key-value store the local file store
// persists into, with change notification so independent replicas of the
// same repository can invalidate their in-memory snapshots.
package kv

// Store is a durable string-keyed, string-valued store.
//
// Values are plain structured text (JSON). Readers must tolerate
// malformed or missing records by treating them as absent.
type Store interface {
	// Get returns the value for key, and whether it exists.
	Get(key string) (string, bool, error)

	// Set writes the value for key, creating or replacing it.
	Set(key, value string) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(key string) error

	// Keys returns all keys with the given prefix, sorted.
	Keys(prefix string) ([]string, error)

	// Subscribe registers fn to be called after any write or delete of a
	// key with the given prefix. The returned function cancels the
	// subscription. Notification is in-process only.
	Subscribe(prefix string, fn func(key string)) (cancel func())

	// Close releases underlying resources.
	Close() error
}
