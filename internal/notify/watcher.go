// Package notify observes the shared database file for writes made by the
// other services. The three daemons couple through the store, not RPC, so a
// file watcher is how a reader learns that new data landed.
package notify

import (
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// coalesceWindow batches bursts of writes into one notification.
const coalesceWindow = time.Second

// DBWatcher watches the database file (and its WAL sibling) and invokes the
// callback at most once per coalescing window.
type DBWatcher struct {
	dbPath   string
	callback func()
	watcher  *fsnotify.Watcher
	done     chan struct{}

	mu         sync.Mutex
	generation uint64
}

// NewDBWatcher creates a watcher for the database at dbPath.
func NewDBWatcher(dbPath string, callback func()) *DBWatcher {
	return &DBWatcher{
		dbPath:   dbPath,
		callback: callback,
		done:     make(chan struct{}),
	}
}

// Start begins watching. The parent directory is watched rather than the
// file itself so WAL checkpoint renames do not drop the watch.
func (w *DBWatcher) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(w.dbPath)); err != nil {
		_ = watcher.Close()
		return err
	}
	w.watcher = watcher

	go w.loop()
	log.Printf("notify: watching %s for changes", w.dbPath)
	return nil
}

// Stop shuts down the watcher.
func (w *DBWatcher) Stop() {
	if w.watcher != nil {
		_ = w.watcher.Close()
	}
	<-w.done
}

// Generation returns a counter that increments with every delivered
// notification. Pollers compare generations to detect staleness.
func (w *DBWatcher) Generation() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.generation
}

func (w *DBWatcher) loop() {
	defer close(w.done)

	var timer *time.Timer
	fire := make(chan struct{}, 1)

	for {
		select {
		case evt, ok := <-w.watcher.Events:
			if !ok {
				if timer != nil {
					timer.Stop()
				}
				return
			}
			if !w.relevant(evt.Name) || evt.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer == nil {
				timer = time.AfterFunc(coalesceWindow, func() {
					select {
					case fire <- struct{}{}:
					default:
					}
				})
			}
		case <-fire:
			timer = nil
			w.mu.Lock()
			w.generation++
			w.mu.Unlock()
			if w.callback != nil {
				w.callback()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("notify: watcher error: %v", err)
		}
	}
}

// relevant matches the database file and its WAL/SHM siblings.
func (w *DBWatcher) relevant(name string) bool {
	base := filepath.Base(w.dbPath)
	got := filepath.Base(name)
	return got == base || strings.HasPrefix(got, base+"-")
}
