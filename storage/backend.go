// Package storage hides two key/value backends of unequal capacity behind one selector
// that migrates data between them when the synced backend runs out of room.
package storage

import (
	"context"
	"encoding/json"
	"errors"
)

// Area names a backend the way the persisted bookkeeping key does.
type Area string

const (
	// AreaSync is the synced, capacity-limited primary backend.
	AreaSync Area = "sync"
	// AreaLocal is the local, capacity-generous secondary backend.
	AreaLocal Area = "local"
)

var (
	// ErrQuotaExceeded is returned by a backend whose write would not fit its quota.
	ErrQuotaExceeded = errors.New("QUOTA_BYTES quota exceeded")
	// ErrCapacity is returned when data is too large to move back to the primary backend.
	ErrCapacity = errors.New("data too large for sync storage")
	// ErrAlreadyPrimary is returned by MigrateToPrimary when nothing needs to move.
	ErrAlreadyPrimary = errors.New("already using sync storage")
)

// Items maps storage keys to JSON-encoded values.
type Items map[string]json.RawMessage

// Keys returns the item keys in no particular order.
func (it Items) Keys() []string {
	keys := make([]string, 0, len(it))
	for k := range it {
		keys = append(keys, k)
	}
	return keys
}

// Change is the before/after value of one key. A nil NewValue means the key was removed.
type Change struct {
	OldValue json.RawMessage `json:"oldValue,omitempty"`
	NewValue json.RawMessage `json:"newValue,omitempty"`
}

// Changes maps keys to their change.
type Changes map[string]Change

// Has reports whether any of keys changed.
func (c Changes) Has(keys ...string) bool {
	for _, k := range keys {
		if _, ok := c[k]; ok {
			return true
		}
	}
	return false
}

// ChangeFunc receives change notifications together with the area that produced them.
type ChangeFunc func(area Area, changes Changes)

// Backend is one key/value store. Get with nil keys returns every stored item.
// Implementations call every watcher synchronously after a successful mutation.
type Backend interface {
	Area() Area
	Get(ctx context.Context, keys []string) (Items, error)
	Set(ctx context.Context, items Items) error
	Remove(ctx context.Context, keys []string) error
	Clear(ctx context.Context) error
	BytesInUse(ctx context.Context) (int64, error)
	Watch(fn ChangeFunc)
}

// EstimateSize returns the serialized byte size used for quota decisions.
func EstimateSize(items Items) int64 {
	data, err := json.Marshal(items)
	if err != nil {
		var n int64
		for k, v := range items {
			n += int64(len(k) + len(v))
		}
		return n * 2
	}
	return int64(len(data))
}

// ItemSize is the per-item accounting used by backends for BytesInUse.
func ItemSize(key string, value json.RawMessage) int64 {
	return int64(len(key) + len(value))
}

// diff builds the change set for writing next over prev.
func diff(prev, next Items) Changes {
	changes := make(Changes, len(next))
	for k, v := range next {
		old, ok := prev[k]
		if ok && string(old) == string(v) {
			continue
		}
		changes[k] = Change{OldValue: old, NewValue: v}
	}
	return changes
}
