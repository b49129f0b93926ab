package replica

import (
	"bytes"
	"encoding/json"
	"fmt"
	stdsync "sync"
)

// LoadState tracks whether the view has received its first batch.
type LoadState int

const (
	Loading LoadState = iota
	Ready
)

// ChangeSet lists the entity ids that changed (were put or deleted) in one
// batch, grouped by table.
type ChangeSet map[string][]string

// Subscriber is notified after each atomically applied batch.
type Subscriber func(changes ChangeSet)

// View is the client's derived replica: the authoritative base snapshot with
// pending local mutations replayed on top. All reads observe complete
// batches; a batch's operations are applied under one lock.
type View struct {
	mu          stdsync.RWMutex
	state       LoadState
	tables      map[string]map[string]json.RawMessage
	subscribers []Subscriber
}

func NewView() *View {
	return &View{tables: make(map[string]map[string]json.RawMessage)}
}

// State reports whether the first batch has been applied.
func (v *View) State() LoadState {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.state
}

// Subscribe registers a subscriber for future batches. Subscribers run
// synchronously inside the batch boundary; keep them fast.
func (v *View) Subscribe(fn Subscriber) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.subscribers = append(v.subscribers, fn)
}

// Get decodes the entity at (table, id) into out. Returns false when absent.
func (v *View) Get(table, id string, out any) (bool, error) {
	v.mu.RLock()
	raw, ok := v.tables[table][id]
	v.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("decode %s/%s: %w", table, id, err)
	}
	return true, nil
}

// IDs returns the ids present in a table.
func (v *View) IDs(table string) []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	ids := make([]string, 0, len(v.tables[table]))
	for id := range v.tables[table] {
		ids = append(ids, id)
	}
	return ids
}

// Points returns the point table decoded, keyed by id.
func (v *View) Points() (map[string]Point, error) {
	return decodeTable[Point](v, TablePoint)
}

// Labels returns the label table decoded, keyed by id.
func (v *View) Labels() (map[string]Label, error) {
	return decodeTable[Label](v, TableLabel)
}

// Streams returns the stream table decoded, keyed by id.
func (v *View) Streams() (map[string]Stream, error) {
	return decodeTable[Stream](v, TableStream)
}

// Statuses returns the status table decoded, keyed by user id.
func (v *View) Statuses() (map[string]Status, error) {
	return decodeTable[Status](v, TableStatus)
}

// MetaTasks returns the meta task table decoded, keyed by id.
func (v *View) MetaTasks() (map[string]MetaTask, error) {
	return decodeTable[MetaTask](v, TableMetaTask)
}

// Users returns the user table decoded, keyed by id.
func (v *View) Users() (map[string]User, error) {
	return decodeTable[User](v, TableUser)
}

func decodeTable[T any](v *View, table string) (map[string]T, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make(map[string]T, len(v.tables[table]))
	for id, raw := range v.tables[table] {
		var entity T
		if err := json.Unmarshal(raw, &entity); err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", table, id, err)
		}
		out[id] = entity
	}
	return out, nil
}

// swap atomically replaces the view contents with next, notifying
// subscribers with the diff between old and new tables. The first swap
// flips the state from Loading to Ready.
func (v *View) swap(next map[string]map[string]json.RawMessage) {
	v.mu.Lock()

	changes := ChangeSet{}
	for table, entries := range next {
		prev := v.tables[table]
		for id, raw := range entries {
			if old, ok := prev[id]; !ok || !bytes.Equal(old, raw) {
				changes[table] = append(changes[table], id)
			}
		}
	}
	for table, prev := range v.tables {
		entries := next[table]
		for id := range prev {
			if _, ok := entries[id]; !ok {
				changes[table] = append(changes[table], id)
			}
		}
	}

	v.tables = next
	first := v.state == Loading
	v.state = Ready
	subscribers := v.subscribers

	v.mu.Unlock()

	if len(changes) > 0 || first {
		for _, fn := range subscribers {
			fn(changes)
		}
	}
}

// cloneTables deep-copies the table maps. Raw values are immutable so they
// are shared.
func cloneTables(tables map[string]map[string]json.RawMessage) map[string]map[string]json.RawMessage {
	out := make(map[string]map[string]json.RawMessage, len(tables))
	for table, entries := range tables {
		copied := make(map[string]json.RawMessage, len(entries))
		for id, raw := range entries {
			copied[id] = raw
		}
		out[table] = copied
	}
	return out
}
