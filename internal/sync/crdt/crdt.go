// Package crdt implements the per-hub last-write-wins register (C9): a
// key-value store with vector-clock bookkeeping and tombstones, convergent
// under concurrent merges without coordination.
package crdt

import (
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/sha3"
)

// Operation is the kind of mutation a Change records.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// VectorClock is an author -> monotonic counter snapshot.
type VectorClock map[string]uint64

// Clone returns an independent copy.
func (c VectorClock) Clone() VectorClock {
	out := make(VectorClock, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// mergeMax updates c componentwise to the max of c and other, in place.
func (c VectorClock) mergeMax(other VectorClock) {
	for author, count := range other {
		if count > c[author] {
			c[author] = count
		}
	}
}

// ValueEntry is one key's current value plus the provenance it was written
// with. Author is carried so a later merge can apply the §4.9 tiebreak
// (equal timestamps resolve to the lexicographically greater author).
type ValueEntry struct {
	Value       any         `json:"value"`
	Timestamp   float64     `json:"timestamp"` // wall-clock seconds, sub-second precision
	VectorClock VectorClock `json:"vector_clock"`
	Author      string      `json:"author"`
}

// Change is an immutable record of one local mutation, carrying enough
// provenance for a remote replica to decide whether to apply it.
type Change struct {
	ID          string      `json:"id"`
	Timestamp   float64     `json:"timestamp"`
	Operation   Operation   `json:"operation"`
	Collection  string      `json:"collection"`
	Key         string      `json:"key"`
	Value       any         `json:"value,omitempty"`
	Author      string      `json:"author"`
	VectorClock VectorClock `json:"vector_clock"`
}

// generateChangeID hashes author+a random nonce with sha3-256 and
// truncates to 8 hex bytes, matching the original's `generate_change_id`
// (SPEC_FULL.md §C.5). The nonce (rather than the timestamp alone)
// guarantees uniqueness even when two changes land in the same
// nanosecond.
func generateChangeID(author string) string {
	h := sha3.New256()
	h.Write([]byte(author))
	h.Write([]byte(uuid.NewString()))
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:8])
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// CRDT is one hub's per-key last-write-wins register.
type CRDT struct {
	mu          sync.RWMutex
	AuthorID    string
	data        map[string]ValueEntry
	vectorClock VectorClock
	tombstones  map[string]struct{}
}

// New builds an empty CRDT for authorID.
func New(authorID string) *CRDT {
	return &CRDT{
		AuthorID:    authorID,
		data:        make(map[string]ValueEntry),
		vectorClock: make(VectorClock),
		tombstones:  make(map[string]struct{}),
	}
}

// set is the shared body of Set/Delete's "record a create/update" path.
func (c *CRDT) set(collection, key string, value any) Change {
	_, existed := c.data[key]

	c.vectorClock[c.AuthorID]++
	delete(c.tombstones, key)

	ts := nowSeconds()
	vc := c.vectorClock.Clone()
	c.data[key] = ValueEntry{Value: value, Timestamp: ts, VectorClock: vc, Author: c.AuthorID}

	op := OpUpdate
	if !existed {
		op = OpCreate
	}
	return Change{
		ID:          generateChangeID(c.AuthorID),
		Timestamp:   ts,
		Operation:   op,
		Collection:  collection,
		Key:         key,
		Value:       value,
		Author:      c.AuthorID,
		VectorClock: vc,
	}
}

// Set stores value under key as a local mutation: increments the author's
// clock, clears any tombstone, and records a fresh ValueEntry. Returns the
// Change to be logged/propagated by the caller.
func (c *CRDT) Set(collection, key string, value any) Change {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.set(collection, key, value)
}

// Delete removes key locally and marks it tombstoned, incrementing the
// author's clock first.
func (c *CRDT) Delete(collection, key string) Change {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.vectorClock[c.AuthorID]++
	delete(c.data, key)
	c.tombstones[key] = struct{}{}

	ts := nowSeconds()
	vc := c.vectorClock.Clone()

	return Change{
		ID:          generateChangeID(c.AuthorID),
		Timestamp:   ts,
		Operation:   OpDelete,
		Collection:  collection,
		Key:         key,
		Author:      c.AuthorID,
		VectorClock: vc,
	}
}

// Get returns the live value at key, or ok=false if the key is absent or
// tombstoned.
func (c *CRDT) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, dead := c.tombstones[key]; dead {
		return nil, false
	}
	e, ok := c.data[key]
	if !ok {
		return nil, false
	}
	return e.Value, true
}

// GetAll returns every live key -> value pair, used to compare replicas
// for convergence.
func (c *CRDT) GetAll() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.data))
	for k, e := range c.data {
		out[k] = e.Value
	}
	return out
}

// VectorClockSnapshot returns a copy of the current vector clock.
func (c *CRDT) VectorClockSnapshot() VectorClock {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vectorClock.Clone()
}

// MergeResult reports what happened when Merge was applied.
type MergeResult int

const (
	MergeApplied MergeResult = iota
	MergeConflictRejected
)

// Merge applies an incoming Change using the rules in §4.9: vector clock
// advances unconditionally; tombstoned keys never resurrect; deletes
// always win; creates/updates apply only if strictly newer, or equal
// timestamp with a lexicographically greater author (deterministic
// tiebreak). Merge is commutative, associative, and idempotent: applying
// the same Change twice leaves state unchanged the second time.
func (c *CRDT) Merge(change Change) MergeResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.vectorClock.mergeMax(change.VectorClock)

	if change.Operation == OpDelete {
		c.tombstones[change.Key] = struct{}{}
		delete(c.data, change.Key)
		return MergeApplied
	}

	if _, dead := c.tombstones[change.Key]; dead {
		return MergeConflictRejected
	}

	existing, exists := c.data[change.Key]
	if !exists {
		c.data[change.Key] = ValueEntry{
			Value:       change.Value,
			Timestamp:   change.Timestamp,
			VectorClock: change.VectorClock.Clone(),
			Author:      change.Author,
		}
		return MergeApplied
	}

	newer := change.Timestamp > existing.Timestamp
	tie := change.Timestamp == existing.Timestamp && change.Author > existing.Author
	if newer || tie {
		c.data[change.Key] = ValueEntry{
			Value:       change.Value,
			Timestamp:   change.Timestamp,
			VectorClock: change.VectorClock.Clone(),
			Author:      change.Author,
		}
		return MergeApplied
	}

	return MergeConflictRejected
}

// crdtSnapshot is the JSON wire shape for the durable offline data file
// (§6: offline/local_data.json).
type crdtSnapshot struct {
	Version     int                   `json:"version"`
	AuthorID    string                `json:"author_id"`
	Data        map[string]ValueEntry `json:"data"`
	VectorClock VectorClock           `json:"vector_clock"`
	Tombstones  []string              `json:"tombstones"`
	LastUpdated float64               `json:"last_updated"`
}

// MarshalJSON serializes the full CRDT state, suitable for the
// offline/local_data.json persistence format.
func (c *CRDT) MarshalJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	tomb := make([]string, 0, len(c.tombstones))
	for k := range c.tombstones {
		tomb = append(tomb, k)
	}
	return json.Marshal(crdtSnapshot{
		Version:     1,
		AuthorID:    c.AuthorID,
		Data:        c.data,
		VectorClock: c.vectorClock,
		Tombstones:  tomb,
		LastUpdated: nowSeconds(),
	})
}

func (c *CRDT) UnmarshalJSON(data []byte) error {
	var snap crdtSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.AuthorID = snap.AuthorID
	c.data = snap.Data
	if c.data == nil {
		c.data = make(map[string]ValueEntry)
	}
	c.vectorClock = snap.VectorClock
	if c.vectorClock == nil {
		c.vectorClock = make(VectorClock)
	}
	c.tombstones = make(map[string]struct{}, len(snap.Tombstones))
	for _, k := range snap.Tombstones {
		c.tombstones[k] = struct{}{}
	}
	return nil
}
