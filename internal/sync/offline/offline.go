// Package offline implements the offline sync engine (C10): a durable
// change log and pending queue layered over a crdt.CRDT, with atomic
// snapshot persistence so state survives a hub restart or crash.
package offline

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/neboloop/nebo/internal/collaberr"
	"github.com/neboloop/nebo/internal/logging"
	"github.com/neboloop/nebo/internal/sync/crdt"
)

const (
	dataFileName      = "local_data.json"
	changeLogFileName = "change_log.jsonl"
)

// Stats mirrors the original's `get_stats` (SPEC_FULL.md §C.6): running
// counters for the lifetime of this Sync instance.
type Stats struct {
	ChangesApplied int `json:"changes_applied"`
	Conflicts      int `json:"conflicts"`
	TotalMerged    int `json:"total_merged"`
}

// SyncResult is returned by ApplyRemoteChanges.
type SyncResult struct {
	Applied   int `json:"applied"`
	Conflicts int `json:"conflicts"`
	Total     int `json:"total"`
}

// Status mirrors the original's `get_sync_status` (SPEC_FULL.md §C.6).
type Status struct {
	AuthorID        string  `json:"author_id"`
	PendingChanges  int     `json:"pending_changes"`
	ChangeLogLength int     `json:"change_log_length"`
	LastSync        float64 `json:"last_sync,omitempty"`
	SyncInProgress  bool    `json:"sync_in_progress"`
}

// Sync is one hub's offline sync engine.
type Sync struct {
	mu sync.Mutex

	crdt *crdt.CRDT

	changeLog      []crdt.Change
	pendingChanges []crdt.Change

	lastSync           time.Time
	hasSynced          bool
	syncInProgress     bool
	syncIntervalSecs   float64

	stats Stats

	storageDir string
}

// New builds a Sync engine. authorID, if empty, is derived from
// hostname+timestamp, matching the original's `generate_author_id`
// (SPEC_FULL.md §C.7). storageDir may be empty to disable persistence
// (tests).
func New(authorID, storageDir string, syncIntervalSecs float64) *Sync {
	if authorID == "" {
		authorID = generateAuthorID()
	}
	return &Sync{
		crdt:             crdt.New(authorID),
		syncIntervalSecs: syncIntervalSecs,
		storageDir:       storageDir,
	}
}

func generateAuthorID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "hub"
	}
	return fmt.Sprintf("%s-%d", host, time.Now().Unix())
}

// AuthorID returns the backing CRDT's author id.
func (s *Sync) AuthorID() string {
	return s.crdt.AuthorID
}

// Set records a local mutation, appends it to the change log and the
// pending queue, and persists both.
func (s *Sync) Set(collection, key string, value any) error {
	s.mu.Lock()
	change := s.crdt.Set(collection, key, value)
	s.changeLog = append(s.changeLog, change)
	s.pendingChanges = append(s.pendingChanges, change)
	s.mu.Unlock()

	return s.persistAfterLocalChange(change)
}

// Delete records a local deletion.
func (s *Sync) Delete(collection, key string) error {
	s.mu.Lock()
	change := s.crdt.Delete(collection, key)
	s.changeLog = append(s.changeLog, change)
	s.pendingChanges = append(s.pendingChanges, change)
	s.mu.Unlock()

	return s.persistAfterLocalChange(change)
}

// Get reads the current value of key from the backing CRDT.
func (s *Sync) Get(key string) (any, bool) {
	return s.crdt.Get(key)
}

// GetPendingChanges returns a snapshot of changes not yet acknowledged by
// a sync exchange.
func (s *Sync) GetPendingChanges() []crdt.Change {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]crdt.Change(nil), s.pendingChanges...)
}

// ApplyRemoteChanges merges a batch of remote changes into the CRDT,
// records them in the change log, clears the pending queue, and updates
// last_sync. Persists a snapshot best-effort afterward.
func (s *Sync) ApplyRemoteChanges(batch []crdt.Change) (SyncResult, error) {
	s.mu.Lock()
	s.syncInProgress = true

	var result SyncResult
	for _, change := range batch {
		res := s.crdt.Merge(change)
		s.changeLog = append(s.changeLog, change)
		result.Total++
		if res == crdt.MergeApplied {
			result.Applied++
			s.stats.ChangesApplied++
		} else {
			result.Conflicts++
			s.stats.Conflicts++
		}
		s.stats.TotalMerged++
	}

	s.pendingChanges = nil
	s.lastSync = time.Now()
	s.hasSynced = true
	s.syncInProgress = false
	s.mu.Unlock()

	if err := s.persistSnapshot(); err != nil {
		logging.Warnf("offline sync: snapshot persist failed after merge: %v", err)
	}
	if err := s.appendChangeLog(batch); err != nil {
		logging.Warnf("offline sync: change log append failed after merge: %v", err)
	}
	return result, nil
}

// NeedsSync reports whether there are pending changes and either no sync
// has ever happened, or the configured interval has elapsed since the
// last one.
func (s *Sync) NeedsSync() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pendingChanges) == 0 {
		return false
	}
	if !s.hasSynced {
		return true
	}
	return time.Since(s.lastSync).Seconds() > s.syncIntervalSecs
}

// SyncStatus returns the current status snapshot.
func (s *Sync) SyncStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		AuthorID:        s.crdt.AuthorID,
		PendingChanges:  len(s.pendingChanges),
		ChangeLogLength: len(s.changeLog),
		SyncInProgress:  s.syncInProgress,
	}
	if s.hasSynced {
		st.LastSync = float64(s.lastSync.UnixNano()) / 1e9
	}
	return st
}

// Stats returns the running merge counters.
func (s *Sync) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// ChangeLog returns every change this replica has ever seen, in arrival
// order.
func (s *Sync) ChangeLog() []crdt.Change {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]crdt.Change(nil), s.changeLog...)
}

func (s *Sync) offlineDir() string {
	return filepath.Join(s.storageDir, "offline")
}

func (s *Sync) dataFilePath() string {
	return filepath.Join(s.offlineDir(), dataFileName)
}

func (s *Sync) changeLogPath() string {
	return filepath.Join(s.offlineDir(), changeLogFileName)
}

// persistAfterLocalChange persists the canonical snapshot and appends the
// durable change log, matching §4.10's "every local mutation" rule.
func (s *Sync) persistAfterLocalChange(change crdt.Change) error {
	if s.storageDir == "" {
		return nil
	}
	if err := s.persistSnapshot(); err != nil {
		logging.Warnf("offline sync: snapshot persist failed: %v", err)
	}
	return s.appendChangeLog([]crdt.Change{change})
}

// persistSnapshot writes local_data.json atomically via temp-file rename.
func (s *Sync) persistSnapshot() error {
	if s.storageDir == "" {
		return nil
	}
	if err := os.MkdirAll(s.offlineDir(), 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s.crdt, "", "  ")
	if err != nil {
		return err
	}

	dir := s.offlineDir()
	tmp, err := os.CreateTemp(dir, "local_data-*.json.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, s.dataFilePath())
}

// appendChangeLog appends one JSON line per change to change_log.jsonl.
func (s *Sync) appendChangeLog(changes []crdt.Change) error {
	if s.storageDir == "" {
		return nil
	}
	if err := os.MkdirAll(s.offlineDir(), 0o755); err != nil {
		return err
	}

	f, err := os.OpenFile(s.changeLogPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, change := range changes {
		line, err := json.Marshal(change)
		if err != nil {
			return err
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			return err
		}
	}
	return w.Flush()
}

// Load reads local_data.json into the CRDT. A missing file is treated as
// empty state, not an error; the durable change log is the authority for
// replay if the snapshot was truncated by a crash (§4.10), so a caller
// recovering from a corrupt snapshot should fall back to ReplayChangeLog.
func (s *Sync) Load() error {
	if s.storageDir == "" {
		return nil
	}

	data, err := os.ReadFile(s.dataFilePath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := json.Unmarshal(data, s.crdt); err != nil {
		return collaberr.Wrap(collaberr.InvalidResponse, "local_data.json is corrupt", err)
	}
	return nil
}

// ReplayChangeLog rebuilds CRDT state by replaying change_log.jsonl from
// scratch, for use when the snapshot is missing or corrupt. Replay is
// idempotent by construction (Merge's rules), so reapplying the full log
// onto a fresh CRDT reproduces the pre-crash state.
func (s *Sync) ReplayChangeLog() error {
	if s.storageDir == "" {
		return nil
	}

	f, err := os.Open(s.changeLogPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	s.mu.Lock()
	defer s.mu.Unlock()

	fresh := crdt.New(s.crdt.AuthorID)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var replayed []crdt.Change
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var change crdt.Change
		if err := json.Unmarshal(line, &change); err != nil {
			continue
		}
		fresh.Merge(change)
		replayed = append(replayed, change)
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	s.crdt = fresh
	s.changeLog = replayed
	return nil
}
