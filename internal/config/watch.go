package config

import (
	"log"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/qterm/qterm/internal/admission"
)

// TokenWatcher keeps an admission.TokenStore in sync with a tokens file on
// disk, so operators can add or revoke access without restarting qtermd.
type TokenWatcher struct {
	path    string
	store   *admission.TokenStore
	watcher *fsnotify.Watcher
	stop    chan struct{}
}

// WatchTokens starts watching path for changes and replaces store's
// contents on every write. The initial file contents must already be
// loaded into store by the caller; WatchTokens only handles updates.
func WatchTokens(path string, store *admission.TokenStore) (*TokenWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, err
	}

	tw := &TokenWatcher{path: path, store: store, watcher: w, stop: make(chan struct{})}
	go tw.loop()
	return tw, nil
}

func (tw *TokenWatcher) loop() {
	target := filepath.Clean(tw.path)
	for {
		select {
		case <-tw.stop:
			return
		case ev, ok := <-tw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			tw.reload()
		case err, ok := <-tw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("qterm/config: token watcher error: %v", err)
		}
	}
}

func (tw *TokenWatcher) reload() {
	tokens, err := LoadTokens(tw.path)
	if err != nil {
		log.Printf("qterm/config: failed to reload tokens from %s: %v", tw.path, err)
		return
	}
	tw.store.Replace(tokens)
	log.Printf("qterm/config: reloaded %d token(s) from %s", len(tokens), tw.path)
}

// Close stops the watcher goroutine and releases its fsnotify handle.
func (tw *TokenWatcher) Close() error {
	close(tw.stop)
	return tw.watcher.Close()
}
