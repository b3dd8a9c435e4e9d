package offline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neboloop/nebo/internal/sync/crdt"
)

func TestSchedulerDrainsPendingOnTick(t *testing.T) {
	s := New("hub-a", "", 0)
	require.NoError(t, s.Set("sessions", "k1", "v1"))

	exchanged := make(chan struct{}, 1)
	sched, err := NewScheduler(s, func(ctx context.Context, pending []crdt.Change) ([]crdt.Change, error) {
		assert.Len(t, pending, 1)
		exchanged <- struct{}{}
		return nil, nil
	}, "@every 1s") // robfig/cron rounds shorter @every periods up to 1s
	require.NoError(t, err)

	sched.Start()
	defer sched.Stop()

	select {
	case <-exchanged:
	case <-time.After(3 * time.Second):
		t.Fatal("scheduler never drained the pending queue")
	}

	// Stop waits for the in-flight tick, which clears the queue after the
	// exchange returns.
	sched.Stop()
	assert.Empty(t, s.GetPendingChanges())
}

func TestSchedulerSkipsTickWithNothingPending(t *testing.T) {
	s := New("hub-a", "", 30)

	called := false
	sched, err := NewScheduler(s, func(ctx context.Context, pending []crdt.Change) ([]crdt.Change, error) {
		called = true
		return nil, nil
	}, "@every 1s")
	require.NoError(t, err)

	sched.Start()
	time.Sleep(1500 * time.Millisecond)
	sched.Stop()

	assert.False(t, called)
}
