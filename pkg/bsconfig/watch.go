package bsconfig

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	bsshare "github.com/Loping151/BotShepherd-sub000/share"
	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the watcher waits after the last change
// before reloading; editors tend to write a file in several steps
const DefaultDebounce = 500 * time.Millisecond

// Watcher reloads a Store when files in its directory change
type Watcher struct {
	bsshare.ShutdownHelper
	store    *Store
	debounce time.Duration
	watcher  *fsnotify.Watcher

	// OnReload, if set, is called after every reload attempt
	OnReload func(err error)
}

// NewWatcher creates a watcher for store's directory. It does nothing until
// Start is called.
func NewWatcher(logger bsshare.Logger, store *Store, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	w := &Watcher{
		store:    store,
		debounce: debounce,
	}
	w.InitShutdownHelper(logger.Fork("watch"), w)
	return w
}

// Start begins watching the directory and its subdirectories. The watcher
// shuts down when ctx is done.
func (w *Watcher) Start(ctx context.Context) error {
	return w.DoOnceActivate(
		func() error {
			fw, err := fsnotify.NewWatcher()
			if err != nil {
				return w.Errorf("fsnotify: %s", err)
			}
			w.watcher = fw
			dir := w.store.Dir()
			if err := fw.Add(dir); err != nil {
				fw.Close()
				return w.Errorf("watching %s: %s", dir, err)
			}
			for _, sub := range []string{ConnectionsDir, AccountDir, GroupDir} {
				w.addDir(filepath.Join(dir, sub))
			}
			w.ShutdownOnContext(ctx)
			w.ShutdownWG().Add(1)
			go w.loop()
			w.ILogf("Watching %s for changes", dir)
			return nil
		},
		true,
	)
}

func (w *Watcher) addDir(path string) {
	if fi, err := os.Stat(path); err != nil || !fi.IsDir() {
		return
	}
	if err := w.watcher.Add(path); err != nil {
		w.WLogf("Cannot watch %s: %s", path, err)
	}
}

// HandleOnceShutdown closes the fsnotify watcher, which ends the loop
func (w *Watcher) HandleOnceShutdown(completionErr error) error {
	if w.watcher != nil {
		if err := w.watcher.Close(); err != nil {
			w.DLogf("Closing fsnotify watcher: %s", err)
		}
	}
	return completionErr
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) {
		return false
	}
	base := filepath.Base(ev.Name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	return strings.HasSuffix(base, ".json") || filepath.Dir(ev.Name) == filepath.Clean(w.store.Dir())
}

func (w *Watcher) loop() {
	defer w.ShutdownWG().Done()
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(ev) {
				continue
			}
			w.TLogf("%s", ev)
			// a subdirectory created after start
			if ev.Has(fsnotify.Create) && filepath.Dir(ev.Name) == filepath.Clean(w.store.Dir()) {
				w.addDir(ev.Name)
			}
			timer.Reset(w.debounce)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.WLogf("fsnotify: %s", err)
		case <-timer.C:
			err := w.store.Reload()
			if w.OnReload != nil {
				w.OnReload(err)
			}
		case <-w.ShutdownStartedChan():
			return
		}
	}
}
