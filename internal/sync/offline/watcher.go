package offline

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/neboloop/nebo/internal/logging"
	"github.com/neboloop/nebo/internal/sync/crdt"
)

// PeerDropWatcher watches a directory for externally-dropped change-log
// files — a crude peer exchange mode where another hub's change_log.jsonl
// is copied in by hand (or by a sneakernet/USB transfer) rather than
// exchanged over a live connection. Modeled on the debounced fsnotify loop
// internal/provider/models.go uses to reload models.yaml.
type PeerDropWatcher struct {
	sync    *Sync
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// WatchPeerDrops starts watching dir for *.jsonl files and merges any
// change it finds into sync. Each watched file is read in full once its
// Write/Create events have settled for 100ms (each file has its own
// debounce timer); merging is idempotent, so re-reading a partially
// re-written file and re-merging its already-applied lines is harmless.
func WatchPeerDrops(sync *Sync, dir string) (*PeerDropWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}

	pw := &PeerDropWatcher{sync: sync, watcher: w, done: make(chan struct{})}
	go pw.loop()
	return pw, nil
}

func (pw *PeerDropWatcher) loop() {
	debounce := make(map[string]*time.Timer)
	for {
		select {
		case event, ok := <-pw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Ext(event.Name) != ".jsonl" {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			name := event.Name
			if t, ok := debounce[name]; ok {
				t.Stop()
			}
			debounce[name] = time.AfterFunc(100*time.Millisecond, func() {
				pw.mergeDroppedFile(name)
			})
		case err, ok := <-pw.watcher.Errors:
			if !ok {
				return
			}
			logging.Warnf("offline sync: peer drop watcher error: %v", err)
		case <-pw.done:
			return
		}
	}
}

func (pw *PeerDropWatcher) mergeDroppedFile(path string) {
	f, err := os.Open(path)
	if err != nil {
		logging.Warnf("offline sync: cannot read dropped change log %s: %v", path, err)
		return
	}
	defer f.Close()

	var batch []crdt.Change
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var change crdt.Change
		if err := json.Unmarshal(line, &change); err != nil {
			continue
		}
		batch = append(batch, change)
	}
	if len(batch) == 0 {
		return
	}

	result, err := pw.sync.ApplyRemoteChanges(batch)
	if err != nil {
		logging.Warnf("offline sync: failed to merge dropped change log %s: %v", path, err)
		return
	}
	logging.Infof("offline sync: merged dropped change log %s (%d applied, %d conflicts)", path, result.Applied, result.Conflicts)
}

// Close stops the watcher.
func (pw *PeerDropWatcher) Close() error {
	close(pw.done)
	return pw.watcher.Close()
}
