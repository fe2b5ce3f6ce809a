package fleece

import "sync"

// SharedKeys is a per-database dictionary mapping short integer IDs to
// property names, used by the encoder to shrink common dict keys. Safe
// for concurrent use since it is typically shared across documents
// encoded/decoded by many goroutines.
type SharedKeys struct {
	mu        sync.RWMutex
	byName    map[string]uint64
	byID      []string
	maxCount  int
	committed bool
}

// DefaultMaxSharedKeys bounds how many distinct keys will be interned; the
// real Fleece format reserves this for a single-byte-friendly range.
const DefaultMaxSharedKeys = 2048

// NewSharedKeys creates an empty dictionary.
func NewSharedKeys() *SharedKeys {
	return &SharedKeys{
		byName:   make(map[string]uint64),
		maxCount: DefaultMaxSharedKeys,
	}
}

// Lookup returns the name for an interned ID.
func (k *SharedKeys) Lookup(id uint64) (string, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if id >= uint64(len(k.byID)) {
		return "", false
	}
	return k.byID[id], true
}

// Encode returns the shared-key ID for name, interning it if there is room
// and it hasn't been seen before. ok is false if name cannot be shared
// (dictionary full) and must be encoded inline instead.
func (k *SharedKeys) Encode(name string) (id uint64, ok bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if id, found := k.byName[name]; found {
		return id, true
	}
	if len(k.byID) >= k.maxCount {
		return 0, false
	}
	id = uint64(len(k.byID))
	k.byID = append(k.byID, name)
	k.byName[name] = id
	return id, true
}

// Count returns the number of interned keys.
func (k *SharedKeys) Count() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.byID)
}
