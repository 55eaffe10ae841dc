// Package keyspace implements the concurrent key -> record map described in
// spec.md §3-4.2: many concurrent readers, one writer at a time, and lazy
// expiry that is atomic with the "key absent" reply (spec.md Testable
// Property 3 and 4).
package keyspace

import (
	"sync"
	"time"
)

// Record is a key's value: an opaque payload plus an optional absolute
// expiry. A nil ExpiresAt means the record never expires.
type Record struct {
	Payload   []byte
	ExpiresAt *time.Time
}

// Expired reports whether r's expiry, evaluated at now, has passed.
func (r Record) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && !now.Before(*r.ExpiresAt)
}

// Keyspace is one numbered database: a mapping of key to Record. The zero
// value is not usable; construct with New.
type Keyspace struct {
	mu   sync.RWMutex
	data map[string]Record
}

// New returns an empty keyspace.
func New() *Keyspace {
	return &Keyspace{data: make(map[string]Record)}
}

// Get returns the record for key, or ok=false if it is absent or has lazily
// expired. Expiry removal happens under the same critical section as the
// absent determination, so two concurrent Get calls on an expired key never
// observe "present" after one of them has already removed it, and the
// delete itself only ever happens once.
func (k *Keyspace) Get(key string) (Record, bool) {
	now := time.Now()

	k.mu.RLock()
	rec, ok := k.data[key]
	stale := ok && rec.Expired(now)
	k.mu.RUnlock()

	if !ok {
		return Record{}, false
	}
	if !stale {
		return rec, true
	}

	// Upgrade to a write lock to perform (and make visible) the removal.
	// Re-check under the lock: another goroutine may have already deleted
	// or overwritten the key between the RUnlock above and this Lock.
	k.mu.Lock()
	rec, ok = k.data[key]
	if ok && rec.Expired(time.Now()) {
		delete(k.data, key)
		ok = false
	}
	k.mu.Unlock()

	if !ok {
		return Record{}, false
	}
	return rec, true
}

// Set upserts key with payload and an optional absolute expiry.
func (k *Keyspace) Set(key string, payload []byte, expiresAt *time.Time) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.data[key] = Record{Payload: payload, ExpiresAt: expiresAt}
}

// Del removes key, reporting whether it was present (and not already
// lazily expired).
func (k *Keyspace) Del(key string) bool {
	now := time.Now()

	k.mu.Lock()
	defer k.mu.Unlock()

	rec, ok := k.data[key]
	if !ok {
		return false
	}
	delete(k.data, key)
	return !rec.Expired(now)
}

// Keys returns every live (non-expired) key, lazily evicting any it finds
// expired along the way. Iteration order is unspecified.
func (k *Keyspace) Keys() []string {
	return k.KeysMatching("*")
}

// KeysMatching returns every live key whose name matches the glob pattern
// (spec.md §4.2), lazily evicting expired keys it encounters.
func (k *Keyspace) KeysMatching(pattern string) []string {
	now := time.Now()

	k.mu.Lock()
	defer k.mu.Unlock()

	matched := make([]string, 0, len(k.data))
	for key, rec := range k.data {
		if rec.Expired(now) {
			delete(k.data, key)
			continue
		}
		if globMatch(pattern, key) {
			matched = append(matched, key)
		}
	}
	return matched
}

// Len reports the number of entries currently stored, including any not
// yet lazily expired. Intended for metrics, not correctness-sensitive
// callers.
func (k *Keyspace) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.data)
}

// LoadRaw installs key unconditionally, without touching expiry semantics
// beyond recording it. Used exclusively by the RDB loader at boot, before
// the accept loop starts (spec.md Design Notes, "async vs blocking
// boundary").
func (k *Keyspace) LoadRaw(key string, payload []byte, expiresAt *time.Time) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.data[key] = Record{Payload: payload, ExpiresAt: expiresAt}
}
