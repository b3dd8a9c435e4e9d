package offline

import (
	"context"

	cronlib "github.com/robfig/cron/v3"

	"github.com/neboloop/nebo/internal/logging"
	"github.com/neboloop/nebo/internal/sync/crdt"
)

// PeerExchangeFunc drains a batch of pending changes against some remote
// peer and returns whatever changes the peer sent back, for ApplyRemoteChanges
// to merge. Offline.Scheduler never constructs a transport itself; the
// caller supplies the exchange (a TCP peer dial, an HTTP POST) so this
// package stays ignorant of peer transport details, matching spec.md's
// framing of peer transport as out of scope beyond what the sync engine
// requires.
type PeerExchangeFunc func(ctx context.Context, pending []crdt.Change) ([]crdt.Change, error)

// Scheduler polls a Sync's NeedsSync predicate on a cron schedule and, when
// due, drains its pending queue through exchange. This gives spec.md
// §4.10's sync_interval_seconds a concrete, exercised caller instead of
// dead configuration.
type Scheduler struct {
	cron     *cronlib.Cron
	sync     *Sync
	exchange PeerExchangeFunc
}

// NewScheduler builds a scheduler over sync, polling on spec (standard
// five-field cron syntax; "@every 30s" is also accepted by robfig/cron).
// Pass "" to use the default of "@every 30s".
func NewScheduler(sync *Sync, exchange PeerExchangeFunc, spec string) (*Scheduler, error) {
	if spec == "" {
		spec = "@every 30s"
	}
	s := &Scheduler{
		cron:     cronlib.New(),
		sync:     sync,
		exchange: exchange,
	}
	_, err := s.cron.AddFunc(spec, s.tick)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) tick() {
	if !s.sync.NeedsSync() {
		return
	}
	pending := s.sync.GetPendingChanges()
	if len(pending) == 0 {
		return
	}

	remote, err := s.exchange(context.Background(), pending)
	if err != nil {
		logging.Warnf("offline sync: scheduled peer exchange failed: %v", err)
		return
	}
	if _, err := s.sync.ApplyRemoteChanges(remote); err != nil {
		logging.Warnf("offline sync: applying remote changes after scheduled exchange failed: %v", err)
	}
}

// Start begins polling in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts polling; blocks until any in-flight tick completes.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
