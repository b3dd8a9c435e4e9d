package offline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neboloop/nebo/internal/sync/crdt"
)

func TestSetRecordsPendingAndChangeLog(t *testing.T) {
	s := New("hub-a", "", 30)
	require.NoError(t, s.Set("sessions", "k1", "v1"))

	assert.Len(t, s.GetPendingChanges(), 1)
	assert.Len(t, s.ChangeLog(), 1)

	v, ok := s.Get("k1")
	require.True(t, ok)
	assert.Equal(t, "v1", v)
}

func TestNeedsSyncWithNoPendingChanges(t *testing.T) {
	s := New("hub-a", "", 30)
	assert.False(t, s.NeedsSync())
}

func TestNeedsSyncTrueBeforeFirstSync(t *testing.T) {
	s := New("hub-a", "", 30)
	require.NoError(t, s.Set("sessions", "k1", "v1"))
	assert.True(t, s.NeedsSync())
}

func TestApplyRemoteChangesClearsPendingAndUpdatesStats(t *testing.T) {
	s := New("hub-a", "", 30)
	require.NoError(t, s.Set("sessions", "k1", "v1"))

	remote := crdt.Change{
		ID: "c1", Timestamp: 1e12, Operation: crdt.OpCreate,
		Collection: "sessions", Key: "k2", Value: "v2", Author: "hub-b",
		VectorClock: crdt.VectorClock{"hub-b": 1},
	}
	result, err := s.ApplyRemoteChanges([]crdt.Change{remote})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Applied)
	assert.Equal(t, 1, result.Total)

	assert.Empty(t, s.GetPendingChanges())
	assert.False(t, s.NeedsSync())

	stats := s.Stats()
	assert.Equal(t, 1, stats.ChangesApplied)

	v, ok := s.Get("k2")
	require.True(t, ok)
	assert.Equal(t, "v2", v)
}

func TestApplyRemoteChangesIsIdempotentAcrossCalls(t *testing.T) {
	s := New("hub-a", "", 30)
	remote := crdt.Change{
		ID: "c1", Timestamp: 1e12, Operation: crdt.OpCreate,
		Collection: "sessions", Key: "k2", Value: "v2", Author: "hub-b",
		VectorClock: crdt.VectorClock{"hub-b": 1},
	}
	_, err := s.ApplyRemoteChanges([]crdt.Change{remote})
	require.NoError(t, err)
	v1, _ := s.Get("k2")
	_, err = s.ApplyRemoteChanges([]crdt.Change{remote})
	require.NoError(t, err)

	v2, _ := s.Get("k2")
	assert.Equal(t, v1, v2)
}

func TestSnapshotAndChangeLogPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := New("hub-a", dir, 30)
	require.NoError(t, s.Set("sessions", "k1", "v1"))
	require.NoError(t, s.Set("sessions", "k2", "v2"))
	require.NoError(t, s.Delete("sessions", "k1"))

	s2 := New("hub-a", dir, 30)
	require.NoError(t, s2.Load())

	_, ok := s2.Get("k1")
	assert.False(t, ok)
	v, ok := s2.Get("k2")
	require.True(t, ok)
	assert.Equal(t, "v2", v)
}

func TestReplayChangeLogRebuildsState(t *testing.T) {
	dir := t.TempDir()
	s := New("hub-a", dir, 30)
	require.NoError(t, s.Set("sessions", "k1", "v1"))
	require.NoError(t, s.Set("sessions", "k2", "v2"))

	s2 := New("hub-a", dir, 30)
	require.NoError(t, s2.ReplayChangeLog())

	v, ok := s2.Get("k1")
	require.True(t, ok)
	assert.Equal(t, "v1", v)
}

func TestAuthorIDAutoGeneratedWhenEmpty(t *testing.T) {
	s := New("", "", 30)
	assert.NotEmpty(t, s.AuthorID())
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	s := New("hub-a", t.TempDir(), 30)
	require.NoError(t, s.Load())
}
