package offline

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neboloop/nebo/internal/sync/crdt"
)

func TestPeerDropWatcherMergesDroppedFile(t *testing.T) {
	dir := t.TempDir()
	s := New("hub-a", "", 30)

	watcher, err := WatchPeerDrops(s, dir)
	require.NoError(t, err)
	defer watcher.Close()

	change := crdt.Change{
		ID: "c1", Timestamp: 1e12, Operation: crdt.OpCreate,
		Collection: "sessions", Key: "k1", Value: "from-peer",
		Author: "hub-b", VectorClock: crdt.VectorClock{"hub-b": 1},
	}
	line, err := json.Marshal(change)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dropped.jsonl"), append(line, '\n'), 0o644))

	require.Eventually(t, func() bool {
		v, ok := s.Get("k1")
		return ok && v == "from-peer"
	}, time.Second, 10*time.Millisecond)
}

func TestPeerDropWatcherIgnoresNonJSONLFiles(t *testing.T) {
	dir := t.TempDir()
	s := New("hub-a", "", 30)

	watcher, err := WatchPeerDrops(s, dir)
	require.NoError(t, err)
	defer watcher.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hello"), 0o644))
	time.Sleep(150 * time.Millisecond)

	_, ok := s.Get("k1")
	assert.False(t, ok)
}
