// Package changes issues changes-since markers and keeps a per-collection
// change log for incremental polling.
package changes

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sif3.org/internal/ids"
	"sif3.org/internal/keylock"
)

// Op is the kind of change recorded against an object.
type Op string

const (
	OpCreate Op = "CREATE"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
)

// Entry is one recorded change.
type Entry struct {
	ID         string    `json:"id"`
	Collection string    `json:"collection"`
	ObjectID   string    `json:"object_id"`
	Op         Op        `json:"op"`
	Marker     string    `json:"marker"`
	CreatedAt  time.Time `json:"created_at"`
	seq        uint64
}

// Manager issues markers from a Cursor and records changes in memory in
// marker order. Writers and readers of one collection are serialised by a
// per-collection lock so cursor round trips for different collections run
// in parallel.
type Manager struct {
	cursor      Cursor
	collections *keylock.Map

	mu  sync.RWMutex
	log map[string][]Entry
}

func NewManager(cursor Cursor) *Manager {
	if cursor == nil {
		cursor = NewMemoryCursor()
	}
	return &Manager{cursor: cursor, collections: keylock.New(), log: make(map[string][]Entry)}
}

// ChangesSinceMarker returns the current marker for collection.
func (m *Manager) ChangesSinceMarker(ctx context.Context, collection string) (string, error) {
	seq, err := m.cursor.Current(ctx, collection)
	if err != nil {
		return "", err
	}
	return FormatMarker(seq), nil
}

// NextChangesSinceMarker advances the collection's cursor and returns the
// new marker.
func (m *Manager) NextChangesSinceMarker(ctx context.Context, collection string) (string, error) {
	seq, err := m.cursor.Next(ctx, collection)
	if err != nil {
		return "", err
	}
	return FormatMarker(seq), nil
}

// Record appends a change tagged with a fresh marker.
func (m *Manager) Record(ctx context.Context, collection, objectID string, op Op) (Entry, error) {
	switch op {
	case OpCreate, OpUpdate, OpDelete:
	default:
		return Entry{}, fmt.Errorf("changes: unknown op %q", op)
	}
	m.collections.Lock(collection)
	defer m.collections.Unlock(collection)
	seq, err := m.cursor.Next(ctx, collection)
	if err != nil {
		return Entry{}, err
	}
	e := Entry{
		ID:         ids.New(),
		Collection: collection,
		ObjectID:   objectID,
		Op:         op,
		Marker:     FormatMarker(seq),
		CreatedAt:  time.Now().UTC(),
		seq:        seq,
	}
	m.mu.Lock()
	m.log[collection] = append(m.log[collection], e)
	m.mu.Unlock()
	return e, nil
}

// ChangesSince returns up to limit entries recorded after marker and the
// marker to poll with next.
func (m *Manager) ChangesSince(ctx context.Context, collection, marker string, limit int) ([]Entry, string, error) {
	after, err := ParseMarker(marker)
	if err != nil {
		return nil, "", err
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	m.collections.Lock(collection)
	defer m.collections.Unlock(collection)
	m.mu.RLock()
	entries := m.log[collection]
	m.mu.RUnlock()

	var res []Entry
	last := after
	for _, e := range entries {
		if e.seq <= after {
			continue
		}
		res = append(res, e)
		last = e.seq
		if len(res) >= limit {
			return res, FormatMarker(last), nil
		}
	}
	current, err := m.cursor.Current(ctx, collection)
	if err != nil {
		return nil, "", err
	}
	if current > last {
		last = current
	}
	return res, FormatMarker(last), nil
}
